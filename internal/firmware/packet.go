// internal/firmware/packet.go
package firmware

import "encoding/binary"

const (
	// PacketSize is the bootloader's SRAM write buffer size
	PacketSize = 4096

	// BootloaderEnd is the first flash address outside the bootloader
	BootloaderEnd uint32 = 0x2000
)

// Packet is a contiguous run of bytes written to flash in one buffer copy
type Packet struct {
	Address uint32
	Payload []byte
}

// CheckBootloaderGuard rejects images whose first data record starts below BootloaderEnd
func CheckBootloaderGuard(img *Image) error {
	var base uint32
	for _, r := range img.Records {
		switch r.Type {
		case RecordExtendedLinearAddress:
			base = uint32(binary.BigEndian.Uint16(r.Data)) << 16
		case RecordData:
			addr := base + uint32(r.Address)
			if addr < BootloaderEnd {
				return &BootloaderOverwriteError{Address: addr}
			}
			return nil
		}
	}
	return ErrEmptyImage
}

// Packetize coalesces records into packets of at most PacketSize bytes. A packet
// ends before a record that would overflow it, at every Extended Linear Address
// record and wherever the next record is not contiguous with it.
func Packetize(img *Image) []Packet {
	var (
		packets []Packet
		cur     *Packet
		base    uint32
	)

	flush := func() {
		if cur != nil && len(cur.Payload) > 0 {
			packets = append(packets, *cur)
		}
		cur = nil
	}

	for _, r := range img.Records {
		switch r.Type {
		case RecordExtendedLinearAddress:
			flush()
			base = uint32(binary.BigEndian.Uint16(r.Data)) << 16

		case RecordData:
			if len(r.Data) == 0 {
				continue
			}
			addr := base + uint32(r.Address)
			if cur != nil {
				end := cur.Address + uint32(len(cur.Payload))
				if len(cur.Payload)+len(r.Data) > PacketSize || end != addr {
					flush()
				}
			}
			if cur == nil {
				cur = &Packet{Address: addr, Payload: make([]byte, 0, PacketSize)}
			}
			cur.Payload = append(cur.Payload, r.Data...)
		}
	}
	flush()

	return packets
}
