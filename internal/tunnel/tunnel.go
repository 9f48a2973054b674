// Package tunnel exposes the local server through a cloudflared quick tunnel,
// giving decks a public URL that external viewers can fetch.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/miguel-bm/slidechat/internal/procattr"
)

// DefaultStartTimeout bounds how long Start waits for cloudflared to report its URL.
const DefaultStartTimeout = 30 * time.Second

// ErrNoURL is returned when cloudflared exits or times out before printing a URL.
var ErrNoURL = errors.New("tunnel: cloudflared did not report a public URL")

// urlRegex matches the quick tunnel URL cloudflared prints on stderr,
// e.g. "INF | https://something.trycloudflare.com".
var urlRegex = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

// Tunnel is a running cloudflared process forwarding to a local port.
type Tunnel struct {
	URL  string
	Port int

	cmd      *exec.Cmd
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Options configures Start.
type Options struct {
	// Binary is the cloudflared executable; empty means "cloudflared".
	Binary  string
	Port    int
	Timeout time.Duration
}

// Available checks if the cloudflared binary can be found.
func Available(binary string) bool {
	if binary == "" {
		binary = "cloudflared"
	}
	_, err := exec.LookPath(binary)
	return err == nil
}

// Start launches cloudflared for opts.Port and waits until it reports the
// public URL. The tunnel lives until Stop is called or ctx is cancelled.
func Start(ctx context.Context, opts Options) (*Tunnel, error) {
	binary := opts.Binary
	if binary == "" {
		binary = "cloudflared"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, binary, "tunnel", "--no-autoupdate", "--url", fmt.Sprintf("http://localhost:%d", opts.Port))
	procattr.Bind(cmd, 5*time.Second)

	// Get stderr to capture the URL
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start cloudflared: %w", err)
	}

	t := &Tunnel{
		Port:   opts.Port,
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	urlCh := make(chan string, 1)
	go func() {
		defer close(t.done)
		scanner := bufio.NewScanner(stderr)
		found := false
		for scanner.Scan() {
			if found {
				continue
			}
			if match := urlRegex.FindString(scanner.Text()); match != "" {
				found = true
				urlCh <- match
			}
		}
		// Keep draining so cloudflared never blocks on a full pipe.
		io.Copy(io.Discard, stderr)
		if err := cmd.Wait(); err != nil && runCtx.Err() == nil {
			slog.Warn("cloudflared exited", "error", err)
		}
		close(urlCh)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case url, ok := <-urlCh:
		if !ok {
			t.Stop()
			return nil, ErrNoURL
		}
		t.URL = url
	case <-timer.C:
		t.Stop()
		return nil, fmt.Errorf("%w within %s", ErrNoURL, timeout)
	case <-ctx.Done():
		t.Stop()
		return nil, ctx.Err()
	}

	slog.Info("tunnel started", "url", t.URL, "port", t.Port)
	return t, nil
}

// Done is closed once the cloudflared process has exited.
func (t *Tunnel) Done() <-chan struct{} { return t.done }

// Stop kills cloudflared and waits for it to exit. It is safe to call more than once.
func (t *Tunnel) Stop() {
	t.stopOnce.Do(t.cancel)
	<-t.done
}
