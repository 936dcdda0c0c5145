// internal/firmware/ihex.go

// Package firmware implements the Raise bootloader transfer: Intel HEX decoding,
// packetization and the SAM-BA style command sequence that writes packets to flash.
package firmware

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// RecordType is the Intel HEX record type field
type RecordType uint8

const (
	RecordData                   RecordType = 0x00
	RecordEOF                    RecordType = 0x01
	RecordExtendedSegmentAddress RecordType = 0x02
	RecordStartSegmentAddress    RecordType = 0x03
	RecordExtendedLinearAddress  RecordType = 0x04
	RecordStartLinearAddress     RecordType = 0x05
)

// Record is one decoded line
type Record struct {
	ByteCount uint8
	Address   uint16
	Type      RecordType
	Data      []byte
}

// Image is the ordered list of records that matter for flashing: Data and
// Extended Linear Address
type Image struct {
	Records []Record
}

// TotalBytes returns the number of data bytes to be written
func (img *Image) TotalBytes() int {
	total := 0
	for _, r := range img.Records {
		if r.Type == RecordData {
			total += len(r.Data)
		}
	}
	return total
}

// Parse reads an Intel HEX file
func Parse(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open firmware file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseReader reads Intel HEX records until an EOF record or the end of input
func ParseReader(r io.Reader) (*Image, error) {
	scanner := bufio.NewScanner(r)
	img := &Image{}

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, ":") {
			return nil, &RecordError{Line: lineNum, Reason: "missing start code"}
		}

		rec, err := DecodeRecord(line[1:])
		if err != nil {
			return nil, &RecordError{Line: lineNum, Reason: err.Error()}
		}

		switch rec.Type {
		case RecordData, RecordExtendedLinearAddress:
			img.Records = append(img.Records, rec)
		case RecordEOF:
			return img, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read firmware file: %w", err)
	}
	return img, nil
}

// DecodeRecord decodes one record without its leading colon and verifies its checksum
func DecodeRecord(s string) (Record, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Record{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) < 5 {
		return Record{}, fmt.Errorf("record too short: %d bytes", len(raw))
	}

	count := int(raw[0])
	if len(raw) != count+5 {
		return Record{}, fmt.Errorf("byte count %d does not match record length %d", count, len(raw)-5)
	}

	var sum byte
	for _, b := range raw {
		sum += b
	}
	if sum != 0 {
		return Record{}, fmt.Errorf("checksum mismatch")
	}

	rec := Record{
		ByteCount: raw[0],
		Address:   uint16(raw[1])<<8 | uint16(raw[2]),
		Type:      RecordType(raw[3]),
		Data:      raw[4 : 4+count],
	}

	if rec.Type == RecordExtendedLinearAddress && count != 2 {
		return Record{}, fmt.Errorf("extended linear address record carries %d bytes", count)
	}
	return rec, nil
}
