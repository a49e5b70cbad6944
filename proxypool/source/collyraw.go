package source

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"cliprelay/internal/shared/logger"
	"cliprelay/proxypool/model"
)

var hostPortRe = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3}):(\d{2,5})`)

// SSLProxies pulls sslproxies.org through a colly collector and
// extracts host:port pairs from the raw page body. The listing embeds
// its proxies both in a table and in a plain-text block, so a body
// regex is more robust than a selector here.
type SSLProxies struct {
	timeout time.Duration
	url     string
}

func NewSSLProxies(timeout time.Duration) *SSLProxies {
	return &SSLProxies{
		timeout: timeout,
		url:     "https://www.sslproxies.org/",
	}
}

func (s *SSLProxies) Name() string {
	return "sslproxies.org"
}

func (s *SSLProxies) Fetch(ctx context.Context) ([]*model.Endpoint, error) {
	l := logger.WithComponent("ProxySupplier/Source")
	l.Debug().Str("source", s.Name()).Msg("Fetching proxy list...")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Fresh collector per fetch: colly remembers visited URLs, and the
	// refresh cycle hits the same page every time.
	c := colly.NewCollector(
		colly.UserAgent(browserUA),
	)
	c.SetRequestTimeout(s.timeout)

	var endpoints []*model.Endpoint
	var fetchErr error
	var mu sync.Mutex

	c.OnResponse(func(r *colly.Response) {
		matches := hostPortRe.FindAllSubmatch(r.Body, -1)
		if len(matches) == 0 {
			l.Warn().Str("url", r.Request.URL.String()).Msg("No host:port pairs found in response body.")
			return
		}

		mu.Lock()
		defer mu.Unlock()

		seen := make(map[string]bool, len(matches))
		for _, m := range matches {
			pair := string(m[0])
			if seen[pair] {
				continue
			}
			seen[pair] = true

			port, err := strconv.Atoi(string(m[2]))
			if err != nil {
				continue
			}
			ep := &model.Endpoint{
				Host:    string(m[1]),
				Port:    port,
				Scheme:  model.SchemeHTTP,
				Source:  s.Name(),
				Active:  true,
				AddedAt: time.Now(),
			}
			if ep.Validate() != nil {
				continue
			}
			endpoints = append(endpoints, ep)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		l.Error().Err(err).Int("status_code", r.StatusCode).Str("url", r.Request.URL.String()).Msg("Fetch request failed.")
		fetchErr = err
	})

	if err := c.Visit(s.url); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.Name(), err)
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}

	l.Info().Int("count", len(endpoints)).Str("source", s.Name()).Msg("Fetch finished.")
	return endpoints, nil
}
