package extractor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"cliprelay/internal/shared/logger"
	"cliprelay/proxypool/model"
)

// tailBuffer keeps only the last `limit` bytes written to it. The
// download path never needs more of stderr than the end, where the
// tool prints its final error.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Stream is a live download: the tool's stdout wired to the caller.
// Close always reaps the subprocess, so an aborted transfer never
// leaves an orphan behind. Proxy health reports happen on Close, once
// the stream's fate is known.
type Stream struct {
	r        io.ReadCloser
	cmd      *exec.Cmd
	errTail  *tailBuffer
	pool     ProxySelector
	proxyKey string

	eof       atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.EOF {
		s.eof.Store(true)
	}
	return n, err
}

// Close kills the subprocess if it is still running, reaps it, and
// files the proxy report. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd == nil {
			if s.r != nil {
				s.closeErr = s.r.Close()
			}
			return
		}
		_ = killProcessGroup(s.cmd)
		waitErr := s.cmd.Wait()
		s.report(waitErr)
	})
	return s.closeErr
}

// report credits the proxy only for a stream that reached EOF with a
// clean exit, and blames it only for proxy-shaped or throttle-shaped
// failures. A client that aborts mid-download proves nothing about the
// egress path.
func (s *Stream) report(waitErr error) {
	if s.pool == nil || s.proxyKey == "" {
		return
	}
	if s.eof.Load() && waitErr == nil {
		s.pool.ReportSuccess(s.proxyKey)
		return
	}
	tail := s.errTail.String()
	if kind := Classify(tail); kind == KindProxyError || kind == KindRateLimited {
		s.pool.ReportFailure(s.proxyKey, &Error{Kind: kind, Detail: stderrTail([]byte(tail))})
	}
}

// OpenStream launches the tool in piped-download mode. The caller owns
// the returned stream and must Close it. No wall-clock budget applies
// here: a large download legitimately outlives any fixed timeout, so
// lifetime is governed by ctx and by Close. The first impersonation
// profile is reused as-is; renegotiating the ladder for the byte
// transfer would desync it from the metadata the formats came from.
func (v *Invoker) OpenStream(ctx context.Context, url, formatID string) (*Stream, error) {
	toolPath, err := v.tool.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-o", "-",
		"--no-warnings",
		"--no-check-certificates",
		"--geo-bypass",
		"--no-playlist",
		"--quiet",
	}
	if len(v.strategies) > 0 {
		args = append(args, v.strategies[0].Args...)
	}
	if formatID != "" {
		args = append(args, "-f", formatID)
	}
	if path, ok := v.cookiePath(); ok {
		args = append(args, "--cookies", path)
	}
	var ep *model.Endpoint
	if v.bindStream && v.pool != nil {
		if ep = v.pool.Next(); ep != nil {
			args = append(args, "--proxy", ep.URL())
		}
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, toolPath, args...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	tail := newTailBuffer(4096)
	cmd.Stderr = tail

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stream pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting stream process: %w", err)
	}
	l := logger.WithComponent("Extractor")
	l.Info().
		Str("url", url).Str("format", formatID).
		Msg("Download stream started.")

	s := &Stream{
		r:       stdout,
		cmd:     cmd,
		errTail: tail,
		pool:    v.pool,
	}
	if ep != nil {
		s.proxyKey = ep.Key()
	}
	return s, nil
}
