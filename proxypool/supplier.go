package proxypool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cliprelay/internal/shared/logger"
	"cliprelay/internal/shared/types"
	"cliprelay/proxypool/model"
	"cliprelay/proxypool/source"
	"cliprelay/proxypool/storage"
)

// SupplierStatus is the admin view of the replenishment service.
type SupplierStatus struct {
	Running         bool      `json:"running"`
	RefreshInFlight bool      `json:"refresh_in_flight"`
	LastRefreshAt   time.Time `json:"last_refresh_at"`
	LastAdded       int       `json:"last_added"`
	IntervalMinutes int       `json:"interval_minutes"`
	Sources         []string  `json:"sources"`
}

// Supplier keeps the pool stocked: every refresh interval it purges
// excess inactive entries and tops the pool up from the external list
// sources when the active count drops below the floor.
type Supplier struct {
	cfg     types.SupplierConf
	pool    *Pool
	sources []source.Source
	store   storage.Store

	refreshing    atomic.Bool
	running       atomic.Bool
	lastRefreshAt atomic.Int64 // unix seconds
	lastAdded     atomic.Int64

	// lifecycleMu guards stopChan and wg across admin start/stop calls;
	// the supplier is restartable.
	lifecycleMu sync.Mutex
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewSupplier wires a supplier to the pool it feeds. The store may be
// nil, in which case refresh results are not persisted.
func NewSupplier(cfg types.SupplierConf, pool *Pool, sources []source.Source, store storage.Store) *Supplier {
	return &Supplier{
		cfg:     cfg,
		pool:    pool,
		sources: sources,
		store:   store,
	}
}

// Start begins the periodic refresh cycle with one immediate run.
// Calling Start on a running supplier is a no-op.
func (s *Supplier) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		return
	}
	l := logger.WithComponent("ProxySupplier")
	l.Info().
		Dur("interval", s.cfg.RefreshInterval()).
		Int("min_proxies", s.cfg.MinProxies).
		Int("max_proxies", s.cfg.MaxProxies).
		Msg("Supplier starting...")

	stopChan := make(chan struct{})
	s.stopChan = stopChan

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.RefreshInterval())
		defer ticker.Stop()
		s.Refresh()
		for {
			select {
			case <-ticker.C:
				s.Refresh()
			case <-stopChan:
				return
			}
		}
	}()
}

// Stop halts the refresh cycle and waits for an in-flight run to
// finish. The supplier can be started again afterwards.
func (s *Supplier) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopChan)
	s.wg.Wait()
	l := logger.WithComponent("ProxySupplier")
	l.Info().Msg("Supplier stopped.")
}

// Refresh runs one replenishment pass. Overlapping calls are no-ops:
// a second caller logs and returns while the first is still running.
func (s *Supplier) Refresh() {
	if !s.refreshing.CompareAndSwap(false, true) {
		l := logger.WithComponent("ProxySupplier")
		l.Info().Msg("Refresh already in progress, skipping.")
		return
	}
	defer s.refreshing.Store(false)

	l := logger.WithComponent("ProxySupplier")
	l.Info().Msg("Starting proxy refresh cycle...")
	s.lastRefreshAt.Store(time.Now().Unix())
	s.lastAdded.Store(0)

	stats := s.pool.Stats()

	// Over the cap: rebuild the pool from only the active endpoints.
	if stats.Total > s.cfg.MaxProxies {
		kept := make([]*model.Endpoint, 0, stats.Active)
		for _, ep := range s.pool.Snapshot() {
			if ep.Active {
				kept = append(kept, ep)
			}
		}
		s.pool.Rebuild(kept)
		l.Info().
			Int("before", stats.Total).
			Int("after", len(kept)).
			Msg("Purged inactive proxies over pool cap.")
		stats = s.pool.Stats()
	}

	if stats.Active >= s.cfg.MinProxies && stats.Failed == 0 {
		l.Info().Int("active", stats.Active).Msg("Pool healthy, no replenishment needed.")
		return
	}

	needed := s.cfg.MinProxies - stats.Active
	if stats.Failed > needed {
		needed = stats.Failed
	}
	if needed <= 0 {
		return
	}
	l.Info().
		Int("active", stats.Active).
		Int("failed", stats.Failed).
		Int("needed", needed).
		Msg("Fetching fresh proxies...")

	added := s.fetchAndAdd(needed)
	s.lastAdded.Store(int64(added))
	l.Info().Int("added", added).Msg("Proxy refresh cycle finished.")

	if added > 0 && s.store != nil {
		if err := s.store.Save(s.pool.Snapshot()); err != nil {
			l.Error().Err(err).Msg("Failed to persist pool after refresh.")
		}
	}
}

// fetchAndAdd queries the sources in order until `needed` unique new
// endpoints have been added. Source failures are logged and skipped.
func (s *Supplier) fetchAndAdd(needed int) int {
	l := logger.WithComponent("ProxySupplier")
	existing := s.pool.Keys()
	added := 0

	for _, src := range s.sources {
		if added >= needed {
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SourceTimeout())
		candidates, err := src.Fetch(ctx)
		cancel()
		if err != nil {
			l.Warn().Err(err).Str("source", src.Name()).Msg("Source fetch failed, skipping.")
			continue
		}

		for _, ep := range candidates {
			if added >= needed {
				break
			}
			if _, dup := existing[ep.Key()]; dup {
				continue
			}
			if err := s.pool.Add(ep); err != nil {
				l.Warn().Err(err).Str("source", src.Name()).Msg("Skipping invalid candidate.")
				continue
			}
			existing[ep.Key()] = struct{}{}
			added++
		}
	}
	return added
}

// Status reports the supplier's lifecycle state for the admin surface.
func (s *Supplier) Status() SupplierStatus {
	names := make([]string, 0, len(s.sources))
	for _, src := range s.sources {
		names = append(names, src.Name())
	}
	var last time.Time
	if ts := s.lastRefreshAt.Load(); ts > 0 {
		last = time.Unix(ts, 0)
	}
	return SupplierStatus{
		Running:         s.running.Load(),
		RefreshInFlight: s.refreshing.Load(),
		LastRefreshAt:   last,
		LastAdded:       int(s.lastAdded.Load()),
		IntervalMinutes: s.cfg.RefreshIntervalMin,
		Sources:         names,
	}
}
