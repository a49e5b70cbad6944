package proxypool

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"cliprelay/internal/shared/logger"
	"cliprelay/internal/shared/types"
	"cliprelay/proxypool/model"
)

// Rotation policies accepted by the pool config.
const (
	RotationRoundRobin = "round-robin"
	RotationRandom     = "random"
	RotationLeastUsed  = "least-used"
)

// Stats is the aggregate view returned by Pool.Stats.
type Stats struct {
	Total     int              `json:"total"`
	Active    int              `json:"active"`
	Failed    int              `json:"failed"`
	Rotation  string           `json:"rotation"`
	Endpoints []model.Snapshot `json:"endpoints"`
}

// Pool owns the set of egress proxy endpoints and hands one out per
// outbound call according to the configured rotation policy. Failure
// reports deactivate an endpoint once they accumulate past the
// threshold; a one-shot timer reactivates it after the cooldown.
type Pool struct {
	rotation    string
	maxFailures int
	cooldown    time.Duration
	healthEvery time.Duration

	mu        sync.RWMutex
	endpoints []*model.Endpoint
	index     map[string]*model.Endpoint
	cursor    int
	timers    map[string]*time.Timer

	now func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a pool from the [pool] config section. Zero or missing
// values fall back to the stock defaults.
func New(cfg types.PoolConf) *Pool {
	rotation := cfg.Rotation
	switch rotation {
	case RotationRoundRobin, RotationRandom, RotationLeastUsed:
	default:
		rotation = RotationRoundRobin
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	cooldown := cfg.FailureCooldown()
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Pool{
		rotation:    rotation,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		healthEvery: cfg.HealthCheckInterval(),
		index:       make(map[string]*model.Endpoint),
		timers:      make(map[string]*time.Timer),
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
}

// Add appends a validated endpoint, active with a clean failure count.
// Dedup is the caller's job; the supplier filters against Keys().
func (p *Pool) Add(ep *model.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return fmt.Errorf("rejecting proxy: %w", err)
	}
	ep.Active = true
	ep.FailureCount = 0
	if ep.AddedAt.IsZero() {
		ep.AddedAt = p.now()
	}

	p.mu.Lock()
	p.endpoints = append(p.endpoints, ep)
	p.index[ep.Key()] = ep
	p.mu.Unlock()

	l := logger.WithComponent("ProxyPool")
	l.Debug().
		Str("proxy", ep.Key()).Str("scheme", ep.Scheme).Str("source", ep.Source).
		Msg("Proxy added.")
	return nil
}

// AddAll adds every valid endpoint from the slice and returns how many
// were accepted. Invalid entries are logged and skipped.
func (p *Pool) AddAll(eps []*model.Endpoint) int {
	added := 0
	for _, ep := range eps {
		if err := p.Add(ep); err != nil {
			l := logger.WithComponent("ProxyPool")
			l.Warn().Err(err).Msg("Skipping proxy.")
			continue
		}
		added++
	}
	return added
}

// Next selects the next endpoint per the rotation policy and stamps
// its LastUsedAt. Returns nil when no active endpoint exists; callers
// then proceed without a proxy.
func (p *Pool) Next() *model.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	var pick *model.Endpoint
	switch p.rotation {
	case RotationRandom:
		pick = p.pickRandomLocked()
	case RotationLeastUsed:
		pick = p.pickLeastUsedLocked()
	default:
		pick = p.pickRoundRobinLocked()
	}
	if pick != nil {
		pick.LastUsedAt = p.now()
	}
	return pick
}

func (p *Pool) pickRoundRobinLocked() *model.Endpoint {
	n := len(p.endpoints)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		ep := p.endpoints[idx]
		if ep.Active {
			p.cursor = (idx + 1) % n
			return ep
		}
	}
	return nil
}

func (p *Pool) pickRandomLocked() *model.Endpoint {
	active := make([]*model.Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if ep.Active {
			active = append(active, ep)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return active[rand.Intn(len(active))]
}

func (p *Pool) pickLeastUsedLocked() *model.Endpoint {
	var pick *model.Endpoint
	for _, ep := range p.endpoints {
		if !ep.Active {
			continue
		}
		if pick == nil || ep.LastUsedAt.Before(pick.LastUsedAt) {
			pick = ep
		}
	}
	return pick
}

// ReportSuccess lowers the failure count of the endpoint, floored at
// zero, so trust recovers gradually.
func (p *Pool) ReportSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep, ok := p.index[key]
	if !ok {
		return
	}
	if ep.FailureCount > 0 {
		ep.FailureCount--
	}
	ep.SuccessCount++
}

// ReportFailure raises the failure count. Reaching the threshold
// deactivates the endpoint and schedules its reactivation after the
// cooldown window.
func (p *Pool) ReportFailure(key string, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep, ok := p.index[key]
	if !ok {
		return
	}
	ep.FailureCount++
	l := logger.WithComponent("ProxyPool")
	l.Debug().Str("proxy", key).Int("failures", ep.FailureCount).Err(cause).Msg("Proxy failure reported.")

	if ep.FailureCount >= p.maxFailures && ep.Active {
		ep.Active = false
		p.scheduleReactivationLocked(key)
		l.Warn().
			Str("proxy", key).
			Int("failures", ep.FailureCount).
			Dur("cooldown", p.cooldown).
			Msg("Proxy deactivated, reactivation scheduled.")
	}
}

// scheduleReactivationLocked arms the one-shot cooldown timer for key.
// An existing timer is replaced. Callers hold p.mu.
func (p *Pool) scheduleReactivationLocked(key string) {
	if t, ok := p.timers[key]; ok {
		t.Stop()
	}
	p.timers[key] = time.AfterFunc(p.cooldown, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.timers, key)
		ep, ok := p.index[key]
		if !ok {
			// Pool was cleared while the timer was pending.
			return
		}
		ep.Active = true
		ep.FailureCount = 0
		l := logger.WithComponent("ProxyPool")
		l.Info().Str("proxy", key).Msg("Proxy reactivated after cooldown.")
	})
}

// Stats returns counts and a credential-free snapshot of every
// endpoint.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{
		Total:     len(p.endpoints),
		Rotation:  p.rotation,
		Endpoints: make([]model.Snapshot, 0, len(p.endpoints)),
	}
	for _, ep := range p.endpoints {
		if ep.Active {
			s.Active++
		} else {
			s.Failed++
		}
		s.Endpoints = append(s.Endpoints, ep.Snapshot())
	}
	return s
}

// ResetFailures force-reactivates every endpoint immediately and drops
// all pending cooldown timers.
func (p *Pool) ResetFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, t := range p.timers {
		t.Stop()
		delete(p.timers, key)
	}
	for _, ep := range p.endpoints {
		ep.Active = true
		ep.FailureCount = 0
	}
	l := logger.WithComponent("ProxyPool")
	l.Info().Int("count", len(p.endpoints)).Msg("All proxy failure counts reset.")
}

// Clear empties the pool and resets the rotation cursor. Pending
// reactivation timers are cancelled; a timer that already fired finds
// its key gone and does nothing.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, t := range p.timers {
		t.Stop()
		delete(p.timers, key)
	}
	n := len(p.endpoints)
	p.endpoints = nil
	p.index = make(map[string]*model.Endpoint)
	p.cursor = 0
	l := logger.WithComponent("ProxyPool")
	l.Info().Int("removed", n).Msg("Proxy pool cleared.")
}

// Keys returns the host:port set currently in the pool, active or not.
// The supplier dedups fresh candidates against it.
func (p *Pool) Keys() map[string]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make(map[string]struct{}, len(p.endpoints))
	for _, ep := range p.endpoints {
		keys[ep.Key()] = struct{}{}
	}
	return keys
}

// Snapshot returns deep copies of every endpoint, for persistence and
// for iteration that must not race pool mutation.
func (p *Pool) Snapshot() []*model.Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*model.Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, ep.Clone())
	}
	return out
}

// Rebuild replaces the whole pool with the given endpoints. The
// supplier uses it to purge inactive entries; the cursor and timers
// are reset.
func (p *Pool) Rebuild(eps []*model.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, t := range p.timers {
		t.Stop()
		delete(p.timers, key)
	}
	p.endpoints = nil
	p.index = make(map[string]*model.Endpoint)
	p.cursor = 0
	for _, ep := range eps {
		p.endpoints = append(p.endpoints, ep)
		p.index[ep.Key()] = ep
	}
}

// ActiveCount reports how many endpoints are currently selectable.
func (p *Pool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, ep := range p.endpoints {
		if ep.Active {
			n++
		}
	}
	return n
}

// StartHealthChecks begins the periodic structural re-validation of
// active endpoints. A failed check counts as a reported failure. This
// is a shape check, not a network probe; the validator package does
// live probing for the admin surface.
func (p *Pool) StartHealthChecks() {
	if p.healthEvery <= 0 {
		return
	}
	l := logger.WithComponent("ProxyPool")
	l.Info().Dur("interval", p.healthEvery).Msg("Health check scheduler started.")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.healthEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.runHealthCheck()
			case <-p.stopChan:
				return
			}
		}
	}()
}

func (p *Pool) runHealthCheck() {
	checked, failed := 0, 0
	for _, ep := range p.Snapshot() {
		if !ep.Active {
			continue
		}
		checked++
		if err := ep.Validate(); err != nil {
			failed++
			p.ReportFailure(ep.Key(), err)
		}
	}
	l := logger.WithComponent("ProxyPool")
	l.Debug().
		Int("checked", checked).Int("failed", failed).
		Msg("Health check cycle finished.")
}

// Stop halts the health check loop and cancels pending reactivation
// timers.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()

	p.mu.Lock()
	for key, t := range p.timers {
		t.Stop()
		delete(p.timers, key)
	}
	p.mu.Unlock()
}
