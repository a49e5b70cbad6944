package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"cliprelay/internal/core/cache"
	"cliprelay/internal/core/extractor"
	"cliprelay/internal/core/queue"
	"cliprelay/internal/core/video"
	"cliprelay/internal/shared/logger"
	"cliprelay/proxypool"
	"cliprelay/proxypool/model"
	"cliprelay/proxypool/validator"
)

// Controller is the surface the web handler drives. It decouples the
// web package from the app wiring so handler tests can run against a
// fake.
type Controller interface {
	PoolStats() proxypool.Stats
	AddProxy(ep *model.Endpoint) error
	AddProxies(eps []*model.Endpoint) int
	ResetProxyFailures()
	ClearProxies()
	TestProxies(ctx context.Context) []validator.Result

	SupplierStatus() proxypool.SupplierStatus
	StartSupplier()
	StopSupplier()
	TriggerRefresh()

	QueueStats() queue.Stats
	CacheStats() cache.Stats
	PurgeCache() int

	VideoInfo(ctx context.Context, rawURL string) (*extractor.VideoInfo, error)
	VideoFormats(ctx context.Context, rawURL string) ([]video.FormatOption, error)
	OpenDownload(ctx context.Context, rawURL, formatID string) (io.ReadCloser, string, error)
}

type Handler struct {
	controller Controller
}

func NewHandler(controller Controller) *Handler {
	return &Handler{controller: controller}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an internal failure to a status code and a JSON body
// of the shape {"error": ..., "kind": ...}.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := extractor.KindOf(err)

	var verr *video.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		kind = extractor.KindValidation
	case errors.Is(err, queue.ErrStopped):
		status = http.StatusServiceUnavailable
	default:
		switch kind {
		case extractor.KindRateLimited:
			status = http.StatusTooManyRequests
		case extractor.KindForbidden:
			status = http.StatusForbidden
		case extractor.KindNotAvailable, extractor.KindPrivateVideo:
			status = http.StatusNotFound
		case extractor.KindTimeout:
			status = http.StatusGatewayTimeout
		}
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}

type statusResponse struct {
	Pool     proxypool.Stats          `json:"pool"`
	Supplier proxypool.SupplierStatus `json:"supplier"`
	Queue    queue.Stats              `json:"queue"`
	Cache    cache.Stats              `json:"cache"`
}

// HandleStatus serves GET /api/status, the one-call overview the
// dashboard polls when the websocket is unavailable.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Pool:     h.controller.PoolStats(),
		Supplier: h.controller.SupplierStatus(),
		Queue:    h.controller.QueueStats(),
		Cache:    h.controller.CacheStats(),
	})
}

// proxyRequest is the admin-facing add shape. The pool's own Endpoint
// never serializes credentials, so admission needs its own DTO.
type proxyRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Scheme   string `json:"scheme"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Country  string `json:"country,omitempty"`
}

func (p proxyRequest) endpoint() *model.Endpoint {
	scheme := p.Scheme
	if scheme == "" {
		scheme = model.SchemeHTTP
	}
	return &model.Endpoint{
		Host:     p.Host,
		Port:     p.Port,
		Scheme:   scheme,
		Username: p.Username,
		Password: p.Password,
		Country:  p.Country,
		Source:   "admin",
	}
}

// HandleProxies serves /api/proxies: GET lists, POST adds one, DELETE
// clears the pool.
func (h *Handler) HandleProxies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.controller.PoolStats())
	case http.MethodPost:
		var req proxyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if err := h.controller.AddProxy(req.endpoint()); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"message": "proxy added"})
	case http.MethodDelete:
		h.controller.ClearProxies()
		writeJSON(w, http.StatusOK, map[string]string{"message": "pool cleared"})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleProxiesBulk serves POST /api/proxies/bulk. A JSON body carries
// {"proxies": [...]}; anything else is treated as host:port lines, one
// per line, with an optional ?scheme= override.
func (h *Handler) HandleProxiesBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var eps []*model.Endpoint
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Proxies []proxyRequest `json:"proxies"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		for _, p := range req.Proxies {
			eps = append(eps, p.endpoint())
		}
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}
		eps = parseProxyLines(string(body), r.URL.Query().Get("scheme"))
	}

	added := h.controller.AddProxies(eps)
	writeJSON(w, http.StatusOK, map[string]int{"received": len(eps), "added": added})
}

func parseProxyLines(body, scheme string) []*model.Endpoint {
	if scheme == "" {
		scheme = model.SchemeHTTP
	}
	var eps []*model.Endpoint
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ep, err := model.ParseLine(line, scheme, "admin")
		if err != nil {
			l := logger.WithComponent("WebServer")
			l.Warn().Err(err).Msg("Skipping malformed proxy line.")
			continue
		}
		eps = append(eps, ep)
	}
	return eps
}

// HandleProxiesReset serves POST /api/proxies/reset.
func (h *Handler) HandleProxiesReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.controller.ResetProxyFailures()
	writeJSON(w, http.StatusOK, map[string]string{"message": "failure counts reset"})
}

// HandleProxiesTest serves POST /api/proxies/test: a live probe of
// every endpoint, bounded by the request context.
func (h *Handler) HandleProxiesTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	results := h.controller.TestProxies(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// HandleSupplier serves GET /api/supplier.
func (h *Handler) HandleSupplier(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.SupplierStatus())
}

// HandleSupplierActions serves POST /api/supplier/{start,stop,refresh}.
func (h *Handler) HandleSupplierActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch strings.TrimPrefix(r.URL.Path, "/api/supplier/") {
	case "start":
		h.controller.StartSupplier()
		writeJSON(w, http.StatusOK, map[string]string{"message": "supplier started"})
	case "stop":
		h.controller.StopSupplier()
		writeJSON(w, http.StatusOK, map[string]string{"message": "supplier stopped"})
	case "refresh":
		h.controller.TriggerRefresh()
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "refresh triggered"})
	default:
		http.NotFound(w, r)
	}
}

// HandleVideoInfo serves GET /api/video/info?url=...
func (h *Handler) HandleVideoInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing url parameter"})
		return
	}
	info, err := h.controller.VideoInfo(r.Context(), rawURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleVideoFormats serves GET /api/video/formats?url=...
func (h *Handler) HandleVideoFormats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing url parameter"})
		return
	}
	formats, err := h.controller.VideoFormats(r.Context(), rawURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"formats": formats})
}

// HandleDownload serves GET /api/video/download?url=...&format=...
// The response streams straight from the extraction tool; an error
// after the first byte can only end the transfer, not change the
// status.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing url parameter"})
		return
	}

	stream, filename, err := h.controller.OpenDownload(r.Context(), rawURL, r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if n, err := io.Copy(w, stream); err != nil {
		logger.WithComponent("WebServer").Warn().Err(err).Int64("bytes", n).
			Msg("Download stream interrupted.")
	}
}

// HandleCachePurge serves POST /api/cache/purge.
func (h *Handler) HandleCachePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": h.controller.PurgeCache()})
}
