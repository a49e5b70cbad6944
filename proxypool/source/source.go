package source

import (
	"context"
	"time"

	"cliprelay/proxypool/model"
)

// Source fetches candidate proxy endpoints from one external list.
// Implementations only fetch and parse; validation and dedup happen in
// the pool and supplier.
type Source interface {
	// Fetch retrieves and parses the source's current list. A source
	// that returns an error is skipped for the cycle, never fatal.
	Fetch(ctx context.Context) ([]*model.Endpoint, error)

	// Name identifies the source in logs and endpoint metadata.
	Name() string
}

// Defaults returns the stock source set in query order. The timeout
// applies per HTTP request inside each source.
func Defaults(timeout time.Duration) []Source {
	return []Source{
		NewProxyListDownload(timeout),
		NewGeonode(timeout),
		NewFreeProxyList(timeout),
		NewSSLProxies(timeout),
	}
}
