package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"cliprelay/internal/core/extractor"
	"cliprelay/internal/shared/types"
)

// setupSerializer builds a serializer with no item spacing and a short
// retry backoff so tests run in milliseconds.
func setupSerializer(t *testing.T) *Serializer {
	t.Helper()
	s := New(types.QueueConf{ItemDelaySec: 1, BaseRetryDelaySec: 1, MaxRetries: 3})
	s.baseDelay = 10 * time.Millisecond
	s.limiter = rate.NewLimiter(rate.Inf, 1)
	t.Cleanup(s.Stop)
	return s
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for an outcome")
		return Outcome{}
	}
}

func TestNonRetryableErrorRunsOnce(t *testing.T) {
	s := setupSerializer(t)

	runs := 0
	permanent := errors.New("malformed input")
	out := waitOutcome(t, s.Add("bad", func() (any, error) {
		runs++
		return nil, permanent
	}))

	if !errors.Is(out.Err, permanent) {
		t.Errorf("outcome error = %v, want the action's error", out.Err)
	}
	if runs != 1 {
		t.Errorf("non-retryable action ran %d times, want 1", runs)
	}
	if st := s.Stats(); st.Failed != 1 || st.Retried != 0 {
		t.Errorf("stats = %+v, want failed 1 retried 0", st)
	}
}

func TestTransientFailureRetriesWithGrowingBackoff(t *testing.T) {
	s := setupSerializer(t)
	s.baseDelay = 30 * time.Millisecond

	var mu sync.Mutex
	var stamps []time.Time
	out := waitOutcome(t, s.Add("flaky", func() (any, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		n := len(stamps)
		mu.Unlock()
		if n <= 2 {
			return nil, &extractor.Error{Kind: extractor.KindProxyError}
		}
		return "ok", nil
	}))

	if out.Err != nil {
		t.Fatalf("outcome error: %v", out.Err)
	}
	if out.Value != "ok" {
		t.Errorf("outcome value = %v, want ok", out.Value)
	}
	if len(stamps) != 3 {
		t.Fatalf("action ran %d times, want 3", len(stamps))
	}

	// Backoff is linear in the attempt number: base, then twice base.
	if gap := stamps[1].Sub(stamps[0]); gap < 30*time.Millisecond {
		t.Errorf("first retry waited %v, want at least 30ms", gap)
	}
	if gap := stamps[2].Sub(stamps[1]); gap < 60*time.Millisecond {
		t.Errorf("second retry waited %v, want at least 60ms", gap)
	}
	if st := s.Stats(); st.Processed != 1 || st.Retried != 2 || st.Failed != 0 {
		t.Errorf("stats = %+v, want processed 1 retried 2 failed 0", st)
	}
}

func TestRetryBudgetExhaustionSurfacesLastError(t *testing.T) {
	s := setupSerializer(t)

	runs := 0
	out := waitOutcome(t, s.AddWithRetries("hopeless", func() (any, error) {
		runs++
		return nil, &extractor.Error{Kind: extractor.KindTimeout}
	}, 2))

	if runs != 3 {
		t.Errorf("action ran %d times, want 1 + 2 retries", runs)
	}
	if extractor.KindOf(out.Err) != extractor.KindTimeout {
		t.Errorf("outcome error = %v, want the final timeout", out.Err)
	}
}

func TestItemsRunInSubmissionOrder(t *testing.T) {
	s := setupSerializer(t)

	var mu sync.Mutex
	var order []string
	record := func(label string) Action {
		return func() (any, error) {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return nil, nil
		}
	}

	chans := []<-chan Outcome{
		s.Add("a", record("a")),
		s.Add("b", record("b")),
		s.Add("c", record("c")),
	}
	for _, ch := range chans {
		waitOutcome(t, ch)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("execution order = %v, want [a b c]", order)
	}
}

func TestRetriedItemReentersAtFront(t *testing.T) {
	s := setupSerializer(t)

	var mu sync.Mutex
	var order []string
	aRuns := 0
	chA := s.Add("a", func() (any, error) {
		mu.Lock()
		order = append(order, "a")
		aRuns++
		n := aRuns
		mu.Unlock()
		if n == 1 {
			return nil, &extractor.Error{Kind: extractor.KindRateLimited}
		}
		return nil, nil
	})
	chB := s.Add("b", func() (any, error) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
		return nil, nil
	})

	waitOutcome(t, chA)
	waitOutcome(t, chB)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "a" || order[1] != "a" || order[2] != "b" {
		t.Errorf("execution order = %v, want the retry served before b", order)
	}
}

func TestItemSpacingIsEnforced(t *testing.T) {
	s := New(types.QueueConf{MaxRetries: 0})
	s.limiter = rate.NewLimiter(rate.Every(30*time.Millisecond), 1)
	t.Cleanup(s.Stop)

	noop := func() (any, error) { return nil, nil }
	start := time.Now()
	chans := []<-chan Outcome{
		s.Add("1", noop), s.Add("2", noop), s.Add("3", noop),
	}
	for _, ch := range chans {
		waitOutcome(t, ch)
	}

	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("three items finished in %v, want at least two 30ms gaps", elapsed)
	}
}

func TestStopRejectsPendingAndLetsCurrentFinish(t *testing.T) {
	s := setupSerializer(t)

	started := make(chan struct{})
	release := make(chan struct{})
	chCurrent := s.Add("current", func() (any, error) {
		close(started)
		<-release
		return "done", nil
	})
	chPending := s.Add("pending", func() (any, error) { return nil, nil })

	<-started
	stopDone := make(chan struct{})
	go func() {
		s.Stop()
		close(stopDone)
	}()

	// Wait until Stop has taken ownership of the pending items before
	// releasing the in-flight action.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().Pending == 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	close(release)
	<-stopDone

	if out := waitOutcome(t, chCurrent); out.Err != nil || out.Value != "done" {
		t.Errorf("in-flight item outcome = %+v, want it to finish", out)
	}
	if out := waitOutcome(t, chPending); !errors.Is(out.Err, ErrStopped) {
		t.Errorf("pending item error = %v, want ErrStopped", out.Err)
	}
}

func TestAddAfterStopRejectsImmediately(t *testing.T) {
	s := setupSerializer(t)
	s.Stop()

	ran := false
	out := waitOutcome(t, s.Add("late", func() (any, error) {
		ran = true
		return nil, nil
	}))
	if !errors.Is(out.Err, ErrStopped) {
		t.Errorf("outcome error = %v, want ErrStopped", out.Err)
	}
	if ran {
		t.Errorf("action ran after Stop")
	}
}

func TestTransientClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&extractor.Error{Kind: extractor.KindRateLimited}, true},
		{&extractor.Error{Kind: extractor.KindTimeout}, true},
		{&extractor.Error{Kind: extractor.KindProxyError}, true},
		{&extractor.Error{Kind: extractor.KindNotAvailable}, false},
		{&extractor.Error{Kind: extractor.KindPrivateVideo}, false},
		{&extractor.Error{Kind: extractor.KindStrategyFailed}, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("HTTP 429 Too Many Requests"), true},
		{errors.New("malformed input"), false},
	}
	for _, tc := range cases {
		if got := Transient(tc.err); got != tc.want {
			t.Errorf("Transient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
