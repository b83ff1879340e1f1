// Package fetcher downloads sample datasets over HTTP(S) and FTP.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// DownloadIfChanged fetches the URL only if the ETag has changed.
	// Returns (body, newETag, changed, error). If not changed, body is nil and changed is false.
	DownloadIfChanged(ctx context.Context, url string, etag string) (io.ReadCloser, string, bool, error)
}

// Router dispatches ftp:// URLs to an FTP fetcher and everything else to HTTP.
type Router struct {
	HTTP *HTTPFetcher
	FTP  *FTPFetcher
}

// NewRouter creates a Router from both option sets.
func NewRouter(httpOpts HTTPOptions, ftpOpts FTPOptions) *Router {
	return &Router{HTTP: NewHTTPFetcher(httpOpts), FTP: NewFTPFetcher(ftpOpts)}
}

func (r *Router) pick(rawURL string) Fetcher {
	if u, err := url.Parse(rawURL); err == nil && u.Scheme == "ftp" {
		return r.FTP
	}
	return r.HTTP
}

func (r *Router) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return r.pick(rawURL).Download(ctx, rawURL)
}

func (r *Router) DownloadToFile(ctx context.Context, rawURL, path string) (int64, error) {
	return r.pick(rawURL).DownloadToFile(ctx, rawURL, path)
}

func (r *Router) DownloadIfChanged(ctx context.Context, rawURL, etag string) (io.ReadCloser, string, bool, error) {
	return r.pick(rawURL).DownloadIfChanged(ctx, rawURL, etag)
}

// writeFile copies body to path, creating parent directories.
func writeFile(path string, body io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrap(err, "create directory")
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}
	return n, nil
}
