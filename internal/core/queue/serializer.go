package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"cliprelay/internal/core/extractor"
	"cliprelay/internal/shared/logger"
	"cliprelay/internal/shared/types"
)

// ErrStopped is returned for items the serializer will never run:
// those pending at shutdown and those added after it.
var ErrStopped = errors.New("request queue stopped")

// Outcome is the result of one queued action.
type Outcome struct {
	Value any
	Err   error
}

// Action is a unit of outbound work. It takes no context on purpose: a
// queued request keeps its place and runs to completion even when the
// caller that submitted it gives up waiting.
type Action func() (any, error)

type item struct {
	id         uuid.UUID
	label      string
	action     Action
	retries    int
	maxRetries int
	outcome    chan Outcome
}

// Serializer funnels outbound work through one worker, spacing items
// apart so the remote host sees one slow client instead of a burst. A
// transiently failed item re-enters at the FRONT of the line: it
// already waited its turn once, and the callers behind it are not
// served sooner by skipping it.
type Serializer struct {
	itemDelay  time.Duration
	baseDelay  time.Duration
	maxRetries int

	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	queue   []*item
	working bool
	stopped bool
	wg      sync.WaitGroup

	processed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

// New creates a serializer from the [queue] config section. Zero or
// missing delays fall back to the stock two seconds.
func New(cfg types.QueueConf) *Serializer {
	itemDelay := cfg.ItemDelay()
	if itemDelay <= 0 {
		itemDelay = 2 * time.Second
	}
	baseDelay := cfg.BaseRetryDelay()
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Serializer{
		itemDelay:  itemDelay,
		baseDelay:  baseDelay,
		maxRetries: maxRetries,
		limiter:    rate.NewLimiter(rate.Every(itemDelay), 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Add enqueues an action with the configured retry budget and returns
// the channel its outcome will arrive on. The channel is buffered, so
// a caller that stops listening never wedges the worker.
func (s *Serializer) Add(label string, action Action) <-chan Outcome {
	return s.AddWithRetries(label, action, s.maxRetries)
}

// AddWithRetries enqueues an action with an explicit retry budget.
func (s *Serializer) AddWithRetries(label string, action Action, maxRetries int) <-chan Outcome {
	it := &item{
		id:         uuid.New(),
		label:      label,
		action:     action,
		maxRetries: maxRetries,
		outcome:    make(chan Outcome, 1),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		it.outcome <- Outcome{Err: ErrStopped}
		return it.outcome
	}
	s.queue = append(s.queue, it)
	pending := len(s.queue)
	if !s.working {
		s.working = true
		s.wg.Add(1)
		go s.work()
	}
	s.mu.Unlock()

	logger.WithComponent("Queue").Debug().
		Str("item", it.id.String()).Str("label", label).Int("pending", pending).
		Msg("Item queued.")
	return it.outcome
}

// work drains the queue one item at a time and exits when it is empty.
// Add restarts it on the next submission.
func (s *Serializer) work() {
	defer s.wg.Done()
	l := logger.WithComponent("Queue")

	for {
		s.mu.Lock()
		if s.stopped || len(s.queue) == 0 {
			s.working = false
			s.mu.Unlock()
			return
		}
		it := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.limiter.Wait(s.ctx); err != nil {
			it.outcome <- Outcome{Err: ErrStopped}
			continue
		}

		value, err := it.action()
		if err == nil {
			s.processed.Add(1)
			it.outcome <- Outcome{Value: value}
			continue
		}

		if it.retries < it.maxRetries && Transient(err) {
			it.retries++
			s.retried.Add(1)
			delay := time.Duration(it.retries) * s.baseDelay
			l.Warn().
				Str("item", it.id.String()).Str("label", it.label).
				Int("attempt", it.retries).Dur("backoff", delay).Err(err).
				Msg("Item failed, will retry.")

			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				it.outcome <- Outcome{Err: ErrStopped}
				continue
			}

			s.mu.Lock()
			if s.stopped {
				s.mu.Unlock()
				it.outcome <- Outcome{Err: ErrStopped}
				continue
			}
			s.queue = append([]*item{it}, s.queue...)
			s.mu.Unlock()
			continue
		}

		s.failed.Add(1)
		l.Warn().
			Str("item", it.id.String()).Str("label", it.label).
			Int("attempts", it.retries+1).Err(err).
			Msg("Item failed permanently.")
		it.outcome <- Outcome{Err: err}
	}
}

// transientMarkers judges untyped errors by the same throttle and
// network symptoms the extractor recognizes in tool output.
var transientMarkers = []string{
	"429", "too many requests", "rate limit",
	"403", "forbidden",
	"timeout", "timed out",
	"proxy",
	"connection refused", "connection reset",
	"network",
}

// Transient reports whether a failed item deserves another turn. Typed
// extraction errors carry their own verdict.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var xerr *extractor.Error
	if errors.As(err, &xerr) {
		return xerr.Kind.Transient()
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Stats is the queue counters view for the admin surface.
type Stats struct {
	Pending   int   `json:"pending"`
	Running   bool  `json:"running"`
	Processed int64 `json:"processed"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`
}

func (s *Serializer) Stats() Stats {
	s.mu.Lock()
	pending := len(s.queue)
	running := s.working
	s.mu.Unlock()

	return Stats{
		Pending:   pending,
		Running:   running,
		Processed: s.processed.Load(),
		Retried:   s.retried.Load(),
		Failed:    s.failed.Load(),
	}
}

// Stop drains nothing: the current item is interrupted where safe, and
// every pending item is rejected with ErrStopped so no caller is left
// waiting on a channel that will never deliver.
func (s *Serializer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	for _, it := range pending {
		it.outcome <- Outcome{Err: ErrStopped}
	}
	logger.WithComponent("Queue").Info().
		Int("rejected", len(pending)).
		Msg("Request queue stopped.")
}
