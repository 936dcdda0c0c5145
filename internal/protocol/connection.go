// internal/protocol/connection.go
package protocol

import "time"

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	Parity      string        `json:"parity"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// DefaultSerialConfig returns the settings used for focus connections.
// USB CDC devices ignore the baud rate except for the 1200 baud reset convention.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate:    9600,
		DataBits:    8,
		Parity:      "none",
		ReadTimeout: 100 * time.Millisecond,
	}
}
