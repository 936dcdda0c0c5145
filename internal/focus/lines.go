// internal/focus/lines.go
package focus

import "bytes"

// lineSplitter reassembles delimiter-terminated lines from a byte stream
type lineSplitter struct {
	delimiter []byte
	buf       []byte
}

func newLineSplitter(delimiter string) *lineSplitter {
	return &lineSplitter{delimiter: []byte(delimiter)}
}

// Feed appends p and returns every line completed by it, without delimiters
func (s *lineSplitter) Feed(p []byte) []string {
	s.buf = append(s.buf, p...)

	var lines []string
	for {
		i := bytes.Index(s.buf, s.delimiter)
		if i < 0 {
			break
		}
		lines = append(lines, string(s.buf[:i]))
		s.buf = s.buf[i+len(s.delimiter):]
	}

	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines
}

// Pending returns the length in bytes of the incomplete trailing line
func (s *lineSplitter) Pending() int {
	return len(s.buf)
}
