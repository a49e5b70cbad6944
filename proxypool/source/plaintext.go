package source

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cliprelay/internal/shared/logger"
	"cliprelay/proxypool/model"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ProxyListDownload fetches the newline-delimited host:port list from
// proxy-list.download.
type ProxyListDownload struct {
	client *http.Client
	url    string
}

func NewProxyListDownload(timeout time.Duration) *ProxyListDownload {
	return &ProxyListDownload{
		client: &http.Client{Timeout: timeout},
		url:    "https://www.proxy-list.download/api/v1/get?type=http",
	}
}

func (s *ProxyListDownload) Name() string {
	return "proxy-list.download"
}

func (s *ProxyListDownload) Fetch(ctx context.Context) ([]*model.Endpoint, error) {
	l := logger.WithComponent("ProxySupplier/Source")
	l.Debug().Str("source", s.Name()).Msg("Fetching proxy list...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", s.Name(), err)
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode, s.Name())
	}

	var endpoints []*model.Endpoint
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ep, err := model.ParseLine(line, model.SchemeHTTP, s.Name())
		if err != nil {
			l.Warn().Str("line", line).Str("source", s.Name()).Msg("Skipping malformed proxy line.")
			continue
		}
		endpoints = append(endpoints, ep)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", s.Name(), err)
	}

	l.Info().Int("count", len(endpoints)).Str("source", s.Name()).Msg("Fetch finished.")
	return endpoints, nil
}
