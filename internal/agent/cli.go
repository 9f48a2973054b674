package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miguel-bm/slidechat/internal/procattr"
)

// cliWaitDelay bounds how long Wait keeps the output pipes open after the
// process group has been killed.
const cliWaitDelay = 2 * time.Second

// CLIQuerier runs queries through the claude CLI in print mode with
// stream-json output.
type CLIQuerier struct {
	// Path is the claude executable, resolved through PATH when it has no slash.
	Path string
	// Env is appended to the inherited environment.
	Env []string
}

func NewCLIQuerier(path string) *CLIQuerier {
	if path == "" {
		path = "claude"
	}
	return &CLIQuerier{Path: path}
}

// Available reports whether the claude executable can be found.
func (q *CLIQuerier) Available() bool {
	_, err := exec.LookPath(q.Path)
	return err == nil
}

// BuildArgs returns the CLI arguments for prompt and opts.
func (q *CLIQuerier) BuildArgs(prompt string, opts Options) []string {
	args := []string{"-p", "--verbose", "--output-format", "stream-json"}
	if opts.IncludePartialMessages {
		args = append(args, "--include-partial-messages")
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	return append(args, prompt)
}

func (q *CLIQuerier) Query(ctx context.Context, prompt string, opts Options) (Stream, error) {
	cmd := exec.CommandContext(ctx, q.Path, q.BuildArgs(prompt, opts)...)
	// Tools run by claude inherit its stdout; cancellation has to reach them too.
	procattr.Bind(cmd, cliWaitDelay)
	cmd.Dir = opts.WorkDir
	if len(q.Env) > 0 {
		cmd.Env = append(cmd.Environ(), q.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}
	s := &processStream{ctx: ctx, cmd: cmd}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCLINotFound, q.Path)
		}
		return nil, fmt.Errorf("agent: start claude: %w", err)
	}
	slog.Debug("claude query started", "pid", cmd.Process.Pid, "model", opts.Model)

	s.lines = newLineStream(stdout)
	return s, nil
}

// processStream reads messages from a running claude process.
type processStream struct {
	ctx    context.Context
	cmd    *exec.Cmd
	lines  *lineStream
	stderr bytes.Buffer

	err       error
	exited    atomic.Bool
	waitOnce  sync.Once
	closeOnce sync.Once
}

func (s *processStream) Next() bool {
	if s.err != nil {
		return false
	}
	if s.lines.Next() {
		return true
	}
	if err := s.lines.Err(); err != nil {
		s.err = err
		s.kill()
		return false
	}
	s.err = s.wait()
	return false
}

func (s *processStream) Current() Message { return s.lines.Current() }

func (s *processStream) Err() error { return s.err }

// Close stops the process if it is still running.
func (s *processStream) Close() error {
	s.closeOnce.Do(s.kill)
	return nil
}

func (s *processStream) kill() {
	if !s.exited.Load() {
		_ = procattr.KillGroup(s.cmd.Process)
	}
	_ = s.wait()
}

// wait reaps the process once and translates its exit status.
func (s *processStream) wait() error {
	var err error
	s.waitOnce.Do(func() {
		waitErr := s.cmd.Wait()
		s.exited.Store(true)
		if waitErr == nil {
			return
		}
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = ctxErr
			return
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			err = &ProcessError{ExitCode: exitErr.ExitCode(), Stderr: s.stderr.String(), Cause: waitErr}
			return
		}
		err = fmt.Errorf("agent: wait for claude: %w", waitErr)
	})
	return err
}
