package agent

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// Querier starts agent queries.
type Querier interface {
	// Query runs prompt with opts. Iteration stops when ctx is done or the
	// agent finishes; the returned Stream must always be closed.
	Query(ctx context.Context, prompt string, opts Options) (Stream, error)
}

// Stream yields the messages of one query in order.
//
//	for s.Next() {
//		msg := s.Current()
//	}
//	if err := s.Err(); err != nil { ... }
type Stream interface {
	Next() bool
	Current() Message
	Err() error
	Close() error
}

const (
	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 16 * 1024 * 1024
)

// lineStream decodes newline-delimited stream-json from r.
type lineStream struct {
	scanner *bufio.Scanner
	current Message
	err     error
}

func newLineStream(r io.Reader) *lineStream {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineBuffer)
	return &lineStream{scanner: scanner}
}

func (s *lineStream) Next() bool {
	if s.err != nil {
		return false
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := ParseMessage(line)
		if err != nil {
			s.err = &ProtocolError{Line: string(line), Cause: err}
			return false
		}
		s.current = msg
		return true
	}
	if err := s.scanner.Err(); err != nil {
		s.err = fmt.Errorf("agent: read output: %w", err)
	}
	return false
}

func (s *lineStream) Current() Message { return s.current }

func (s *lineStream) Err() error { return s.err }
