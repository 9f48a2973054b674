// Package agenttest provides a scripted agent.Querier for tests.
package agenttest

import (
	"context"
	"sync"

	"github.com/miguel-bm/slidechat/internal/agent"
)

// Querier replays Messages for every query, then fails with Err if set.
// When Block is true the stream waits for ctx cancellation after the
// scripted messages instead of finishing.
type Querier struct {
	Messages []agent.Message
	Err      error
	QueryErr error
	Block    bool

	mu      sync.Mutex
	calls   []Call
	streams []*Stream
}

// Call records the arguments of one Query.
type Call struct {
	Prompt  string
	Options agent.Options
}

func (q *Querier) Query(ctx context.Context, prompt string, opts agent.Options) (agent.Stream, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, Call{Prompt: prompt, Options: opts})
	if q.QueryErr != nil {
		return nil, q.QueryErr
	}
	s := &Stream{ctx: ctx, messages: q.Messages, err: q.Err, block: q.Block, index: -1}
	q.streams = append(q.streams, s)
	return s, nil
}

// Calls returns the recorded queries.
func (q *Querier) Calls() []Call {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Call(nil), q.calls...)
}

// Streams returns every stream handed out so far.
func (q *Querier) Streams() []*Stream {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Stream(nil), q.streams...)
}

type Stream struct {
	ctx      context.Context
	messages []agent.Message
	err      error
	block    bool
	index    int
	failed   error

	mu     sync.Mutex
	closed bool
}

func (s *Stream) Next() bool {
	if s.failed != nil {
		return false
	}
	if s.index+1 < len(s.messages) {
		s.index++
		return true
	}
	if s.block {
		<-s.ctx.Done()
		s.failed = s.ctx.Err()
		return false
	}
	s.failed = s.err
	return false
}

func (s *Stream) Current() agent.Message {
	if s.index < 0 || s.index >= len(s.messages) {
		return nil
	}
	return s.messages[s.index]
}

func (s *Stream) Err() error { return s.failed }

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
