// internal/firmware/firmwaretest/hex.go

// Package firmwaretest builds Intel HEX firmware images for tests
package firmwaretest

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Record type bytes
const (
	TypeData                  byte = 0x00
	TypeEOF                   byte = 0x01
	TypeExtendedLinearAddress byte = 0x04
	TypeStartLinearAddress    byte = 0x05
)

// EOF is the end of file record
const EOF = ":00000001FF"

// Line renders one record with a leading colon and computed checksum
func Line(address uint16, recordType byte, data ...byte) string {
	raw := make([]byte, 0, len(data)+5)
	raw = append(raw, byte(len(data)), byte(address>>8), byte(address), recordType)
	raw = append(raw, data...)

	var sum byte
	for _, b := range raw {
		sum += b
	}
	raw = append(raw, -sum)

	return ":" + strings.ToUpper(hex.EncodeToString(raw))
}

// Data renders a data record
func Data(address uint16, data ...byte) string {
	return Line(address, TypeData, data...)
}

// ExtendedLinearAddress renders an ELA record setting the upper 16 address bits
func ExtendedLinearAddress(upper uint16) string {
	return Line(0, TypeExtendedLinearAddress, byte(upper>>8), byte(upper))
}

// WriteFile writes lines to name in a fresh temporary directory and returns its path
func WriteFile(t testing.TB, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write firmware: %v", err)
	}
	return path
}
