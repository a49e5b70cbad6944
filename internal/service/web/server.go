package web

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"cliprelay/internal/shared/logger"
	"cliprelay/internal/shared/types"
)

// basicAuthMiddleware enforces HTTP Basic Authentication when both
// credentials are configured. With either one empty the wrapped
// handler is served as-is.
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	if user == "" || pass == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartServer wires the admin mux and serves it in the background. It
// returns the server handle for graceful shutdown, or nil when the
// admin surface is disabled or the port is taken.
func StartServer(wg *sync.WaitGroup, cfg *types.Config, controller Controller, hub *Hub) *http.Server {
	l := logger.WithComponent("WebServer")
	if !cfg.WebConf.Enabled || cfg.WebConf.Port <= 0 {
		l.Info().Msg("Admin web server disabled.")
		return nil
	}

	handler := NewHandler(controller)
	mux := http.NewServeMux()

	user, pass := cfg.WebConf.User, cfg.WebConf.Password
	protect := func(h http.HandlerFunc) http.Handler {
		return basicAuthMiddleware(h, user, pass)
	}

	mux.Handle("/api/proxies", protect(handler.HandleProxies))
	mux.Handle("/api/proxies/bulk", protect(handler.HandleProxiesBulk))
	mux.Handle("/api/proxies/reset", protect(handler.HandleProxiesReset))
	mux.Handle("/api/proxies/test", protect(handler.HandleProxiesTest))
	mux.Handle("/api/supplier", protect(handler.HandleSupplier))
	mux.Handle("/api/supplier/", protect(handler.HandleSupplierActions))
	mux.Handle("/api/video/info", protect(handler.HandleVideoInfo))
	mux.Handle("/api/video/formats", protect(handler.HandleVideoFormats))
	mux.Handle("/api/video/download", protect(handler.HandleDownload))
	mux.Handle("/api/cache/purge", protect(handler.HandleCachePurge))

	// Status and the dashboard socket stay public, like a health probe.
	mux.HandleFunc("/api/status", handler.HandleStatus)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.WebConf.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		l.Error().Err(err).Str("addr", addr).Msg("Failed to start admin web server.")
		return nil
	}

	srv := &http.Server{Handler: mux}
	l.Info().Msgf("Admin web server listening on http://%s", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			l.Error().Err(err).Msg("Admin web server error.")
		}
	}()
	return srv
}
