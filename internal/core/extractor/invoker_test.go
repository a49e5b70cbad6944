package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cliprelay/internal/shared/types"
	"cliprelay/proxypool/model"
)

const sampleInfoJSON = `{"id":"dQw4w9WgXcQ","title":"Test Clip","duration":212.5,"formats":[{"format_id":"22","ext":"mp4","height":720,"vcodec":"avc1","acodec":"mp4a"}]}`

// errExit stands in for the *exec.ExitError a failing tool produces.
var errExit = errors.New("exit status 1")

type runnerResult struct {
	stdout string
	stderr string
	err    error
}

// fakeRunner replays a scripted result per call and records the args
// each invocation received.
type fakeRunner struct {
	script []runnerResult
	calls  [][]string
}

func (f *fakeRunner) Run(_ context.Context, _ string, args []string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string(nil), args...))
	i := len(f.calls) - 1
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	r := f.script[i]
	return []byte(r.stdout), []byte(r.stderr), r.err
}

type fakePool struct {
	eps       []*model.Endpoint
	picks     int
	successes []string
	failures  []string
}

func (f *fakePool) Next() *model.Endpoint {
	if len(f.eps) == 0 {
		return nil
	}
	ep := f.eps[f.picks%len(f.eps)]
	f.picks++
	return ep
}

func (f *fakePool) ReportSuccess(key string) { f.successes = append(f.successes, key) }

func (f *fakePool) ReportFailure(key string, _ error) { f.failures = append(f.failures, key) }

type fakeCookies struct{ path string }

func (f fakeCookies) Path() (string, bool) { return f.path, f.path != "" }

// setupInvoker wires an invoker against a fake tool binary so Resolve
// succeeds without touching the network.
func setupInvoker(t *testing.T, runner Runner, pool ProxySelector, cookies CookieSource, poolCfg types.PoolConf) *Invoker {
	t.Helper()
	toolPath := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(toolPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("writing fake tool: %v", err)
	}
	inv := NewInvoker(types.ExtractorConf{ToolPath: toolPath, TimeoutSec: 1}, poolCfg, pool, cookies)
	inv.runner = runner
	return inv
}

func hasArgPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func TestExtractFirstStrategySucceeds(t *testing.T) {
	runner := &fakeRunner{script: []runnerResult{{stdout: sampleInfoJSON}}}
	pool := &fakePool{eps: []*model.Endpoint{{Host: "10.0.0.1", Port: 8080, Scheme: "http"}}}
	inv := setupInvoker(t, runner, pool, nil, types.PoolConf{BindMetadata: true})

	info, err := inv.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if info.ID != "dQw4w9WgXcQ" {
		t.Errorf("info.ID = %q", info.ID)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("runner called %d times, want 1", len(runner.calls))
	}

	args := runner.calls[0]
	if !hasArg(args, "--dump-single-json") {
		t.Errorf("metadata args missing --dump-single-json: %v", args)
	}
	if !hasArgPair(args, "--extractor-args", "youtube:player_client=ios") {
		t.Errorf("first call did not use the ios profile: %v", args)
	}
	if args[len(args)-1] != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("url is not the final argument: %v", args)
	}
	if len(pool.successes) != 1 || pool.successes[0] != "10.0.0.1:8080" {
		t.Errorf("proxy success reports = %v", pool.successes)
	}
}

func TestExtractFallsThroughToNextStrategy(t *testing.T) {
	runner := &fakeRunner{script: []runnerResult{
		{stderr: "ERROR: some parsing broke", err: errExit},
		{stdout: sampleInfoJSON},
	}}
	pool := &fakePool{eps: []*model.Endpoint{{Host: "10.0.0.1", Port: 8080, Scheme: "http"}}}
	inv := setupInvoker(t, runner, pool, nil, types.PoolConf{BindMetadata: true})

	info, err := inv.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Extract failed after fallback: %v", err)
	}
	if info == nil || info.ID == "" {
		t.Fatalf("no info returned")
	}
	if len(runner.calls) != 2 {
		t.Fatalf("runner called %d times, want 2", len(runner.calls))
	}
	if !hasArgPair(runner.calls[1], "--extractor-args", "youtube:player_client=android") {
		t.Errorf("second call did not use the android profile: %v", runner.calls[1])
	}
	if len(pool.failures) != 1 || len(pool.successes) != 1 {
		t.Errorf("proxy reports: failures=%v successes=%v", pool.failures, pool.successes)
	}
}

func TestExtractTerminalKindAbortsLadder(t *testing.T) {
	runner := &fakeRunner{script: []runnerResult{
		{stderr: "ERROR: HTTP Error 429: Too Many Requests", err: errExit},
		{stdout: sampleInfoJSON},
	}}
	inv := setupInvoker(t, runner, &fakePool{}, nil, types.PoolConf{})

	_, err := inv.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err == nil {
		t.Fatalf("Extract succeeded, want rate-limit error")
	}
	if !IsRateLimited(err) {
		t.Errorf("error kind = %v, want rate_limited: %v", KindOf(err), err)
	}
	if len(runner.calls) != 1 {
		t.Errorf("ladder continued after terminal condition: %d calls", len(runner.calls))
	}
}

func TestExtractTimeoutTriesNextStrategy(t *testing.T) {
	runner := &fakeRunner{script: []runnerResult{
		{err: context.DeadlineExceeded},
		{stdout: sampleInfoJSON},
	}}
	inv := setupInvoker(t, runner, &fakePool{}, nil, types.PoolConf{})

	info, err := inv.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if info.ID == "" {
		t.Fatalf("no info returned")
	}
	if len(runner.calls) != 2 {
		t.Errorf("runner called %d times, want 2", len(runner.calls))
	}
}

func TestExtractExhaustionReturnsLastError(t *testing.T) {
	runner := &fakeRunner{script: []runnerResult{
		{stderr: "ERROR: broken pipe", err: errExit},
	}}
	inv := setupInvoker(t, runner, &fakePool{}, nil, types.PoolConf{})

	_, err := inv.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err == nil {
		t.Fatalf("Extract succeeded with every strategy failing")
	}
	if got := len(runner.calls); got != len(DefaultStrategies()) {
		t.Errorf("runner called %d times, want one per strategy (%d)", got, len(DefaultStrategies()))
	}
	if KindOf(err) != KindStrategyFailed {
		t.Errorf("error kind = %v, want strategy_failed", KindOf(err))
	}
}

func TestExtractUnusableOutputMovesOnAndBlamesProxy(t *testing.T) {
	runner := &fakeRunner{script: []runnerResult{
		{stdout: "<html>consent page</html>"},
		{stdout: sampleInfoJSON},
	}}
	pool := &fakePool{eps: []*model.Endpoint{{Host: "10.0.0.1", Port: 8080, Scheme: "http"}}}
	inv := setupInvoker(t, runner, pool, nil, types.PoolConf{BindMetadata: true})

	info, err := inv.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if info.ID == "" {
		t.Fatalf("no info returned")
	}
	if len(pool.failures) != 1 {
		t.Errorf("proxy failure reports = %v, want 1 for the consent page", pool.failures)
	}
}

func TestExtractPassesCookiesAndProxy(t *testing.T) {
	runner := &fakeRunner{script: []runnerResult{{stdout: sampleInfoJSON}}}
	pool := &fakePool{eps: []*model.Endpoint{{Host: "10.0.0.9", Port: 3128, Scheme: "http"}}}
	inv := setupInvoker(t, runner, pool, fakeCookies{path: "/tmp/jar.txt"}, types.PoolConf{BindMetadata: true})

	if _, err := inv.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ"); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	args := runner.calls[0]
	if !hasArgPair(args, "--cookies", "/tmp/jar.txt") {
		t.Errorf("cookie jar not passed: %v", args)
	}
	if !hasArgPair(args, "--proxy", "http://10.0.0.9:3128") {
		t.Errorf("proxy not passed: %v", args)
	}
}

func TestExtractSkipsProxyWhenBindingOff(t *testing.T) {
	runner := &fakeRunner{script: []runnerResult{{stdout: sampleInfoJSON}}}
	pool := &fakePool{eps: []*model.Endpoint{{Host: "10.0.0.9", Port: 3128, Scheme: "http"}}}
	inv := setupInvoker(t, runner, pool, nil, types.PoolConf{BindMetadata: false})

	if _, err := inv.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ"); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if hasArg(runner.calls[0], "--proxy") {
		t.Errorf("proxy passed with metadata binding off: %v", runner.calls[0])
	}
	if pool.picks != 0 {
		t.Errorf("pool consulted %d times with binding off, want 0", pool.picks)
	}
}

func TestExtractMissingToolFailsBeforeRunning(t *testing.T) {
	runner := &fakeRunner{script: []runnerResult{{stdout: sampleInfoJSON}}}
	inv := NewInvoker(
		types.ExtractorConf{ToolPath: filepath.Join(t.TempDir(), "missing")},
		types.PoolConf{}, &fakePool{}, nil,
	)
	inv.runner = runner

	_, err := inv.Extract(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err == nil {
		t.Fatalf("Extract succeeded without a tool")
	}
	if !HasKind(err, KindToolMissing) {
		t.Errorf("error kind = %v, want tool_missing", KindOf(err))
	}
	if len(runner.calls) != 0 {
		t.Errorf("runner invoked despite missing tool")
	}
}
