package validator

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"cliprelay/internal/shared/logger"
	"cliprelay/proxypool/model"
)

// Probe target must be TLS so an HTTP proxy has to CONNECT rather than
// rewrite the request.
const probeTarget = "www.youtube.com:443"

// Result reports one endpoint's live probe outcome.
type Result struct {
	Key       string `json:"key"`
	Scheme    string `json:"scheme"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Validator runs live network probes through proxy endpoints. It backs
// the admin test operation; the pool's own periodic health check stays
// structural.
type Validator struct {
	timeout     time.Duration
	concurrency int
}

func New(timeout time.Duration, concurrency int) *Validator {
	if concurrency <= 0 {
		concurrency = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Validator{
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// CheckAll probes the endpoints with bounded concurrency and returns a
// result per endpoint in completion order.
func (v *Validator) CheckAll(ctx context.Context, endpoints []*model.Endpoint) []Result {
	l := logger.WithComponent("ProxyPool/Validator")
	if len(endpoints) == 0 {
		return nil
	}

	l.Info().Int("count", len(endpoints)).Int("concurrency", v.concurrency).Msg("Starting probe batch...")

	var wg sync.WaitGroup
	resultsChan := make(chan Result, len(endpoints))
	semaphore := make(chan struct{}, v.concurrency)

	for _, ep := range endpoints {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(ep *model.Endpoint) {
			defer wg.Done()
			defer func() { <-semaphore }()

			latency, err := v.Check(ctx, ep)
			res := Result{
				Key:       ep.Key(),
				Scheme:    ep.Scheme,
				OK:        err == nil,
				LatencyMs: latency.Milliseconds(),
			}
			if err != nil {
				res.Error = err.Error()
			}
			resultsChan <- res
		}(ep)
	}

	wg.Wait()
	close(resultsChan)

	results := make([]Result, 0, len(endpoints))
	for r := range resultsChan {
		results = append(results, r)
	}

	l.Info().Msg("Probe batch finished.")
	return results
}

// Check probes a single endpoint and returns the observed latency.
func (v *Validator) Check(ctx context.Context, ep *model.Endpoint) (time.Duration, error) {
	start := time.Now()
	var err error
	switch ep.Scheme {
	case model.SchemeSOCKS4, model.SchemeSOCKS5:
		err = v.checkSocks(ctx, ep)
	default:
		err = v.checkHTTPConnect(ctx, ep)
	}
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// checkHTTPConnect issues a HEAD through the proxy against the TLS
// probe target.
func (v *Validator) checkHTTPConnect(ctx context.Context, ep *model.Endpoint) error {
	proxyURL, err := url.Parse(ep.URL())
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	dialer := &net.Dialer{
		Timeout:   v.timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		IdleConnTimeout:       v.timeout,
		TLSHandshakeTimeout:   v.timeout / 2,
		ExpectContinueTimeout: 1 * time.Second,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   v.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "https://"+probeTarget, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("received non-successful status code: %d", resp.StatusCode)
	}

	return nil
}

// checkSocks dials the probe target through the SOCKS endpoint. The
// x/net dialer only speaks SOCKS5; SOCKS4 endpoints are probed the
// same way and fail fast when the far side objects.
func (v *Validator) checkSocks(ctx context.Context, ep *model.Endpoint) error {
	var auth *proxy.Auth
	if ep.Username != "" {
		auth = &proxy.Auth{User: ep.Username, Password: ep.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", ep.Key(), auth, &net.Dialer{Timeout: v.timeout})
	if err != nil {
		return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", probeTarget)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
