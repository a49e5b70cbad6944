package model

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Supported egress schemes.
const (
	SchemeHTTP   = "http"
	SchemeHTTPS  = "https"
	SchemeSOCKS4 = "socks4"
	SchemeSOCKS5 = "socks5"
)

var knownSchemes = map[string]bool{
	SchemeHTTP:   true,
	SchemeHTTPS:  true,
	SchemeSOCKS4: true,
	SchemeSOCKS5: true,
}

// Endpoint describes one egress proxy. It lives in memory inside the
// pool, is serialized to JSON for the admin API (credentials excluded
// via Snapshot) and persisted as plain text by the storage layer.
type Endpoint struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Scheme string `json:"scheme"`

	// Optional credentials. Never exposed through Snapshot.
	Username string `json:"-"`
	Password string `json:"-"`

	// Metadata
	Source  string    `json:"source,omitempty"`
	Country string    `json:"country,omitempty"`
	AddedAt time.Time `json:"added_at"`

	// Health and selection state, owned by the pool.
	Active       bool      `json:"active"`
	LastUsedAt   time.Time `json:"last_used_at"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LatencyMs    int64     `json:"latency_ms"`
}

// Key returns the dedup identity of the endpoint.
func (e *Endpoint) Key() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL renders the endpoint in the scheme://[user:pass@]host:port form
// accepted by the extraction tool's --proxy flag.
func (e *Endpoint) URL() string {
	u := url.URL{
		Scheme: e.Scheme,
		Host:   e.Key(),
	}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u.String()
}

// Validate checks the structural shape of the endpoint: non-empty
// host, port in range, known scheme, credentials present as a pair.
func (e *Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("proxy host is empty")
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("proxy port %d out of range", e.Port)
	}
	if !knownSchemes[e.Scheme] {
		return fmt.Errorf("unsupported proxy scheme %q", e.Scheme)
	}
	if (e.Username == "") != (e.Password == "") {
		return fmt.Errorf("proxy credentials must include both username and password")
	}
	return nil
}

// Snapshot is the public view of an endpoint used in stats and admin
// responses.
type Snapshot struct {
	Key          string    `json:"key"`
	Scheme       string    `json:"scheme"`
	Source       string    `json:"source,omitempty"`
	Country      string    `json:"country,omitempty"`
	Active       bool      `json:"active"`
	LastUsedAt   time.Time `json:"last_used_at"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LatencyMs    int64     `json:"latency_ms"`
	HasAuth      bool      `json:"has_auth"`
}

// Snapshot returns the endpoint's public fields. Credentials are
// reported only as a presence flag.
func (e *Endpoint) Snapshot() Snapshot {
	return Snapshot{
		Key:          e.Key(),
		Scheme:       e.Scheme,
		Source:       e.Source,
		Country:      e.Country,
		Active:       e.Active,
		LastUsedAt:   e.LastUsedAt,
		FailureCount: e.FailureCount,
		SuccessCount: e.SuccessCount,
		LatencyMs:    e.LatencyMs,
		HasAuth:      e.Username != "",
	}
}

// Clone returns a deep copy. Endpoint has no reference fields, so the
// value copy is sufficient; kept as a method for call-site clarity.
func (e *Endpoint) Clone() *Endpoint {
	c := *e
	return &c
}

// ParseLine parses a "host:port" line into an Endpoint using the given
// scheme and source label. Whitespace is trimmed; malformed lines
// return an error for the caller to log and skip.
func ParseLine(line, scheme, source string) (*Endpoint, error) {
	line = strings.TrimSpace(line)
	host, portStr, err := net.SplitHostPort(line)
	if err != nil {
		return nil, fmt.Errorf("malformed proxy line %q: %w", line, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("malformed proxy port %q: %w", portStr, err)
	}
	ep := &Endpoint{
		Host:    host,
		Port:    port,
		Scheme:  scheme,
		Source:  source,
		Active:  true,
		AddedAt: time.Now(),
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	return ep, nil
}
