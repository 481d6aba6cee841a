package maas

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const maxEventLineBytes = 4 << 20

// event is one dispatched server-sent event.
type event struct {
	Name string
	Data string
	ID   string
}

// eventReader splits a text/event-stream body into events. Events are
// dispatched on blank lines; comment lines and unknown fields are ignored.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)
	scanner.Split(scanEventLines)
	return &eventReader{scanner: scanner}
}

// next returns the next event, io.EOF once the body is exhausted, or a
// *TransportError when the body cannot be read or a line exceeds the limit.
// A trailing event without its terminating blank line is discarded.
func (r *eventReader) next() (event, error) {
	var (
		ev      event
		data    strings.Builder
		hasData bool
		pending bool
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if !pending {
				continue
			}
			if !hasData {
				ev, pending = event{}, false
				continue
			}
			ev.Data = data.String()
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		pending = true

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			ev.Name = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				ev.ID = value
			}
		}
	}

	if err := r.scanner.Err(); err != nil {
		return event{}, &TransportError{Op: "read event stream", Err: err}
	}
	return event{}, io.EOF
}

// scanEventLines splits on \n, \r\n or a lone \r.
func scanEventLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// \r: need one more byte to tell \r\n from a lone \r.
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
