package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"cliprelay/internal/shared/logger"
	"cliprelay/proxypool/model"
)

// FreeProxyList scrapes the HTML proxy table on free-proxy-list.net.
// Columns: IP, Port, Code, Country, Anonymity, Google, Https.
type FreeProxyList struct {
	client *http.Client
	url    string
}

func NewFreeProxyList(timeout time.Duration) *FreeProxyList {
	return &FreeProxyList{
		client: &http.Client{Timeout: timeout},
		url:    "https://free-proxy-list.net/",
	}
}

func (s *FreeProxyList) Name() string {
	return "free-proxy-list.net"
}

func (s *FreeProxyList) Fetch(ctx context.Context) ([]*model.Endpoint, error) {
	l := logger.WithComponent("ProxySupplier/Source")
	l.Debug().Str("source", s.Name()).Msg("Fetching proxy list...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", s.Name(), err)
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode, s.Name())
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for %s: %w", s.Name(), err)
	}

	var endpoints []*model.Endpoint
	doc.Find("table.table tbody tr").Each(func(i int, sel *goquery.Selection) {
		cells := sel.Find("td")
		if cells.Length() < 7 {
			return
		}
		ip := strings.TrimSpace(cells.Eq(0).Text())
		portStr := strings.TrimSpace(cells.Eq(1).Text())
		country := strings.TrimSpace(cells.Eq(3).Text())
		https := strings.EqualFold(strings.TrimSpace(cells.Eq(6).Text()), "yes")

		if ip == "" || portStr == "" {
			return
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			l.Warn().Str("ip", ip).Str("port", portStr).Str("source", s.Name()).Msg("Failed to parse port, skipping.")
			return
		}

		scheme := model.SchemeHTTP
		if https {
			scheme = model.SchemeHTTPS
		}
		ep := &model.Endpoint{
			Host:    ip,
			Port:    port,
			Scheme:  scheme,
			Source:  s.Name(),
			Country: country,
			Active:  true,
			AddedAt: time.Now(),
		}
		if ep.Validate() != nil {
			return
		}
		endpoints = append(endpoints, ep)
	})

	l.Info().Int("count", len(endpoints)).Str("source", s.Name()).Msg("Fetch finished.")
	return endpoints, nil
}
