package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cliprelay/internal/shared/logger"
	"cliprelay/proxypool/model"
)

// Geonode fetches the geonode.com free proxy API, a JSON envelope with
// a data array of {ip, port, protocols, country} objects.
type Geonode struct {
	client *http.Client
	url    string
}

func NewGeonode(timeout time.Duration) *Geonode {
	return &Geonode{
		client: &http.Client{Timeout: timeout},
		url:    "https://proxylist.geonode.com/api/proxy-list?limit=100&page=1&sort_by=lastChecked&sort_type=desc",
	}
}

func (s *Geonode) Name() string {
	return "geonode.com"
}

// flexPort tolerates the API serving ports as either numbers or
// quoted strings, which it has done both of over time.
type flexPort int

func (p *flexPort) UnmarshalJSON(b []byte) error {
	str := strings.Trim(string(b), `"`)
	v, err := strconv.Atoi(str)
	if err != nil {
		return fmt.Errorf("port %q is not numeric: %w", str, err)
	}
	*p = flexPort(v)
	return nil
}

type geonodeEntry struct {
	IP        string   `json:"ip"`
	Port      flexPort `json:"port"`
	Protocols []string `json:"protocols"`
	Country   string   `json:"country"`
}

type geonodeEnvelope struct {
	Data []geonodeEntry `json:"data"`
}

func (s *Geonode) Fetch(ctx context.Context) ([]*model.Endpoint, error) {
	l := logger.WithComponent("ProxySupplier/Source")
	l.Debug().Str("source", s.Name()).Msg("Fetching proxy list...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", s.Name(), err)
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode, s.Name())
	}

	var envelope geonodeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", s.Name(), err)
	}

	var endpoints []*model.Endpoint
	for _, entry := range envelope.Data {
		ep := &model.Endpoint{
			Host:    strings.TrimSpace(entry.IP),
			Port:    int(entry.Port),
			Scheme:  schemeFromProtocols(entry.Protocols),
			Source:  s.Name(),
			Country: entry.Country,
			Active:  true,
			AddedAt: time.Now(),
		}
		if err := ep.Validate(); err != nil {
			l.Warn().Str("ip", entry.IP).Str("source", s.Name()).Err(err).Msg("Skipping malformed entry.")
			continue
		}
		endpoints = append(endpoints, ep)
	}

	l.Info().Int("count", len(endpoints)).Str("source", s.Name()).Msg("Fetch finished.")
	return endpoints, nil
}

func schemeFromProtocols(protocols []string) string {
	for _, p := range protocols {
		switch strings.ToLower(p) {
		case model.SchemeSOCKS5:
			return model.SchemeSOCKS5
		case model.SchemeSOCKS4:
			return model.SchemeSOCKS4
		case model.SchemeHTTPS:
			return model.SchemeHTTPS
		case model.SchemeHTTP:
			return model.SchemeHTTP
		}
	}
	return model.SchemeHTTP
}
