package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"cliprelay/internal/core/cache"
	"cliprelay/internal/core/extractor"
	"cliprelay/internal/core/queue"
	"cliprelay/internal/core/video"
	"cliprelay/internal/credentials"
	"cliprelay/internal/service/web"
	"cliprelay/internal/shared/logger"
	"cliprelay/internal/shared/types"
	"cliprelay/proxypool"
	"cliprelay/proxypool/model"
	"cliprelay/proxypool/source"
	"cliprelay/proxypool/storage"
	"cliprelay/proxypool/validator"
)

// AppServer wires the subsystems together and owns their lifecycles:
// the proxy pool and its supplier, the extraction queue, the metadata
// cache and the admin web server.
type AppServer struct {
	cfg *types.Config

	pool      *proxypool.Pool
	supplier  *proxypool.Supplier
	validator *validator.Validator
	store     storage.Store
	cookies   *credentials.CookieFile
	invoker   *extractor.Invoker
	queue     *queue.Serializer
	cache     *cache.Cache
	video     *video.Service
	hub       *web.Hub
	websrv    *http.Server

	waitGroup sync.WaitGroup
	stopChan  chan struct{}
	stopOnce  sync.Once
}

var _ web.Controller = (*AppServer)(nil)

// New builds the full object graph from the loaded configuration.
// configDir anchors relative data files, matching the -configdir flag.
func New(cfg *types.Config, configDir string) *AppServer {
	l := logger.WithComponent("AppServer")

	proxyFile := cfg.StorageConf.ProxyFile
	if proxyFile == "" {
		proxyFile = filepath.Join(configDir, "proxies.txt")
	}
	store := storage.NewFileStore(proxyFile)

	pool := proxypool.New(cfg.PoolConf)
	if endpoints, err := store.Load(); err != nil {
		l.Warn().Err(err).Msg("Failed to load persisted proxies, starting with an empty pool.")
	} else if len(endpoints) > 0 {
		pool.AddAll(endpoints)
	}

	sources := source.Defaults(cfg.SupplierConf.SourceTimeout())
	cookies := credentials.New(cfg.ExtractorConf)
	invoker := extractor.NewInvoker(cfg.ExtractorConf, cfg.PoolConf, pool, cookies)
	q := queue.New(cfg.QueueConf)
	c := cache.New(cfg.CacheConf.TTL())

	return &AppServer{
		cfg:       cfg,
		pool:      pool,
		supplier:  proxypool.NewSupplier(cfg.SupplierConf, pool, sources, store),
		validator: validator.New(10*time.Second, 5),
		store:     store,
		cookies:   cookies,
		invoker:   invoker,
		queue:     q,
		cache:     c,
		video:     video.NewService(c, q, invoker),
		hub:       web.NewHub(),
		stopChan:  make(chan struct{}),
	}
}

// Run starts every subsystem and blocks until Stop is called.
func (s *AppServer) Run() {
	l := logger.WithComponent("AppServer")

	s.pool.StartHealthChecks()
	if s.cfg.SupplierConf.Enabled {
		s.supplier.Start()
	}
	go s.hub.Run()

	s.waitGroup.Add(1)
	go s.broadcastLoop()

	s.websrv = web.StartServer(&s.waitGroup, s.cfg, s, s.hub)

	l.Info().Int("proxies", s.pool.Stats().Total).Msg("Service is running.")
	<-s.stopChan
	s.waitGroup.Wait()
	l.Info().Msg("Service stopped.")
}

// broadcastLoop pushes a stats snapshot to dashboard websockets every
// two seconds until shutdown.
func (s *AppServer) broadcastLoop() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.hub.BroadcastStats(&web.StatsPayload{
				Timestamp: time.Now(),
				Pool:      s.pool.Stats(),
				Supplier:  s.supplier.Status(),
				Queue:     s.queue.Stats(),
				Cache:     s.cache.Stats(),
			})
		case <-s.stopChan:
			return
		}
	}
}

// Stop shuts the subsystems down in dependency order and persists the
// proxy pool. Safe to call more than once.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		l := logger.WithComponent("AppServer")
		l.Info().Msg("Shutting down...")
		close(s.stopChan)

		if s.websrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.websrv.Shutdown(ctx); err != nil {
				l.Warn().Err(err).Msg("Web server shutdown was not clean.")
			}
		}

		s.supplier.Stop()
		s.pool.Stop()
		s.queue.Stop()

		if err := s.store.Save(s.pool.Snapshot()); err != nil {
			l.Warn().Err(err).Msg("Failed to persist the proxy pool.")
		}
		s.cookies.Cleanup()
		s.hub.Close()
	})
}

// --- web.Controller ---

func (s *AppServer) PoolStats() proxypool.Stats { return s.pool.Stats() }

// AddProxy admits one endpoint from the admin API. The pool leaves
// dedup to its callers, so the check lives here.
func (s *AppServer) AddProxy(ep *model.Endpoint) error {
	if _, exists := s.pool.Keys()[ep.Key()]; exists {
		return fmt.Errorf("proxy %s is already in the pool", ep.Key())
	}
	return s.pool.Add(ep)
}

func (s *AppServer) AddProxies(eps []*model.Endpoint) int {
	known := s.pool.Keys()
	fresh := make([]*model.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if _, exists := known[ep.Key()]; exists {
			continue
		}
		known[ep.Key()] = struct{}{}
		fresh = append(fresh, ep)
	}
	return s.pool.AddAll(fresh)
}

func (s *AppServer) ResetProxyFailures() { s.pool.ResetFailures() }
func (s *AppServer) ClearProxies()       { s.pool.Clear() }

func (s *AppServer) TestProxies(ctx context.Context) []validator.Result {
	return s.validator.CheckAll(ctx, s.pool.Snapshot())
}

func (s *AppServer) SupplierStatus() proxypool.SupplierStatus { return s.supplier.Status() }
func (s *AppServer) StartSupplier()                           { s.supplier.Start() }
func (s *AppServer) StopSupplier()                            { s.supplier.Stop() }

// TriggerRefresh runs one supplier cycle without blocking the request.
// Refresh itself rejects overlapping runs.
func (s *AppServer) TriggerRefresh() { go s.supplier.Refresh() }

func (s *AppServer) QueueStats() queue.Stats { return s.queue.Stats() }
func (s *AppServer) CacheStats() cache.Stats { return s.cache.Stats() }
func (s *AppServer) PurgeCache() int         { return s.cache.Purge() }

func (s *AppServer) VideoInfo(ctx context.Context, rawURL string) (*extractor.VideoInfo, error) {
	return s.video.GetVideoInfo(ctx, rawURL)
}

func (s *AppServer) VideoFormats(ctx context.Context, rawURL string) ([]video.FormatOption, error) {
	return s.video.GetFormats(ctx, rawURL)
}

func (s *AppServer) OpenDownload(ctx context.Context, rawURL, formatID string) (io.ReadCloser, string, error) {
	stream, filename, err := s.video.OpenDownload(ctx, rawURL, formatID)
	if err != nil {
		return nil, "", err
	}
	return stream, filename, nil
}
