// Package fetcher downloads permit data from municipal portals over HTTP or
// FTP and parses CSV and XLSX payloads.
package fetcher

import (
	"context"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Dispatcher routes a download to the HTTP or FTP fetcher by URL scheme.
type Dispatcher struct {
	HTTP Fetcher
	FTP  Fetcher
}

// Download picks a backend by scheme. Portals publish over both; the source
// config just carries the URL.
func (d *Dispatcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return d.HTTP.Download(ctx, rawURL)
	case "ftp":
		return d.FTP.Download(ctx, rawURL)
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
}
