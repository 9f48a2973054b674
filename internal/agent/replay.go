package agent

import (
	"context"
	"fmt"
	"os"
)

// ReplayQuerier replays a recorded stream-json transcript instead of running
// the agent. The prompt and options are ignored.
type ReplayQuerier struct {
	Path string
}

func (q ReplayQuerier) Query(ctx context.Context, _ string, _ Options) (Stream, error) {
	f, err := os.Open(q.Path)
	if err != nil {
		return nil, fmt.Errorf("agent: open transcript: %w", err)
	}
	return &replayStream{ctx: ctx, file: f, lines: newLineStream(f)}, nil
}

type replayStream struct {
	ctx   context.Context
	file  *os.File
	lines *lineStream
	err   error
}

func (s *replayStream) Next() bool {
	if s.err != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if !s.lines.Next() {
		s.err = s.lines.Err()
		return false
	}
	return true
}

func (s *replayStream) Current() Message { return s.lines.Current() }

func (s *replayStream) Err() error { return s.err }

func (s *replayStream) Close() error { return s.file.Close() }
