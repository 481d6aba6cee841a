package maas

import (
	"encoding/json"
	"errors"
	"io"
	"iter"
	"sync"
)

// doneSentinel is the event payload that ends a stream.
const doneSentinel = "[DONE]"

// Record is one decoded JSON object returned by the service.
type Record map[string]any

// Stream is a single-pass sequence of records read from an open event
// stream. The connection stays open until the stream is exhausted, the
// sentinel arrives, a read or decode fails, or Close is called. Callers that
// stop early must call Close (or use Records, which does it for them).
type Stream struct {
	body    io.ReadCloser
	events  *eventReader
	onClose func()

	closeOnce sync.Once
	closeErr  error
	err       error
}

func newStream(body io.ReadCloser, onClose func()) *Stream {
	return &Stream{
		body:    body,
		events:  newEventReader(body),
		onClose: onClose,
	}
}

// Next returns the next record. It returns io.EOF once the stream has ended
// normally; any other error is terminal and the connection is already closed.
func (s *Stream) Next() (Record, error) {
	if s.err != nil {
		return nil, s.err
	}

	ev, err := s.events.next()
	if err != nil {
		return nil, s.fail(err)
	}
	if ev.Data == doneSentinel {
		return nil, s.fail(io.EOF)
	}

	var rec Record
	if err := json.Unmarshal([]byte(ev.Data), &rec); err != nil {
		return nil, s.fail(&DecodeError{Data: ev.Data, Err: err})
	}
	if rec == nil {
		return nil, s.fail(&DecodeError{Data: ev.Data, Err: errors.New("event payload is not a JSON object")})
	}
	return rec, nil
}

// Records ranges over the remaining records. A non-nil error is yielded at
// most once, as the final element. The stream is closed when the loop ends,
// including on break.
func (s *Stream) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		defer s.Close()
		for {
			rec, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Close releases the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.err == nil {
			s.err = io.EOF
		}
		s.closeErr = s.body.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}

func (s *Stream) fail(err error) error {
	s.err = err
	_ = s.Close()
	return err
}
