// internal/model/backup.go
package model

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"
)

// BackupLogTimeLayout is the timestamp prefix of every session log entry
const BackupLogTimeLayout = "2006-01-02 15:04:05"

// Setting is one backed up command value
type Setting struct {
	Command string `json:"command"`
	Value   string `json:"value"`
}

// BackupRecord holds the settings captured before a firmware update together with
// the session log. It is shared between the running session and status readers,
// so all access goes through its methods.
type BackupRecord struct {
	mu           sync.RWMutex
	settings     []Setting
	log          []string
	serialNumber string
	firmwareFile string
	now          func() time.Time
}

// NewBackupRecord creates an empty record for one update session
func NewBackupRecord(serialNumber, firmwareFile string) *BackupRecord {
	return &BackupRecord{
		serialNumber: serialNumber,
		firmwareFile: firmwareFile,
		now:          time.Now,
	}
}

// SetClock replaces the clock used to timestamp log entries
func (r *BackupRecord) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// AppendLog appends a timestamped entry and returns it
func (r *BackupRecord) AppendLog(message string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.now().Format(BackupLogTimeLayout) + " " + message
	r.log = append(r.log, entry)
	return entry
}

// SetSetting records a command value. Re-setting a command keeps its original position.
func (r *BackupRecord) SetSetting(command, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.settings {
		if r.settings[i].Command == command {
			r.settings[i].Value = value
			return
		}
	}
	r.settings = append(r.settings, Setting{Command: command, Value: value})
}

// Setting returns the captured value of a command
func (r *BackupRecord) Setting(command string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.settings {
		if s.Command == command {
			return s.Value, true
		}
	}
	return "", false
}

// Settings returns the captured settings in capture order
func (r *BackupRecord) Settings() []Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Setting, len(r.settings))
	copy(out, r.settings)
	return out
}

// Log returns a copy of the session log
func (r *BackupRecord) Log() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.log))
	copy(out, r.log)
	return out
}

// SerialNumber returns the serial number of the keyboard being updated
func (r *BackupRecord) SerialNumber() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.serialNumber
}

// SetSerialNumber records the keyboard serial number
func (r *BackupRecord) SetSerialNumber(serialNumber string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serialNumber = serialNumber
}

// FirmwareFile returns the firmware path, empty when none was given
func (r *BackupRecord) FirmwareFile() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.firmwareFile
}

// MarshalJSON writes the artifact shape:
// {"backup":{cmd:value,...},"log":[...],"serialNumber":"...","firmwareFile":"..."|null}
// with backup keys in capture order.
func (r *BackupRecord) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteString(`{"backup":{`)
	for i, s := range r.settings {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, s.Command); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSON(&buf, s.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteString(`},"log":`)

	log := r.log
	if log == nil {
		log = []string{}
	}
	if err := writeJSON(&buf, log); err != nil {
		return nil, err
	}

	buf.WriteString(`,"serialNumber":`)
	if err := writeJSON(&buf, r.serialNumber); err != nil {
		return nil, err
	}

	buf.WriteString(`,"firmwareFile":`)
	if r.firmwareFile == "" {
		buf.WriteString("null")
	} else if err := writeJSON(&buf, r.firmwareFile); err != nil {
		return nil, err
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
