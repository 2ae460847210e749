// Package fetch implements the generator's HTTP download primitive: a
// retrying, redirect-policing fetch of a URL into an io.Writer or file,
// with Last-Modified tracking.
//
// It is grounded on the teacher's internal/httputil (response status
// checking) and libindex/fetcher.go's shape (a struct wrapping an
// *http.Client, used from one goroutine at a time during concurrent
// extraction — see spec §5's "thread-local downloader state" note).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/asgen/asgen/internal/httputil"

	"github.com/quay/zlog"
)

// UserAgent identifies the generator to remote archives.
const UserAgent = "asgen/1.0 (+https://github.com/asgen/asgen)"

// RemoteURLPattern matches the URL schemes the generator treats as
// "remote" rather than a local path, per spec §4.2.
var RemoteURLPattern = regexp.MustCompile(`^(https?|ftps?)://`)

// IsRemote reports whether s names a remote resource rather than a local
// path.
func IsRemote(s string) bool { return RemoteURLPattern.MatchString(s) }

// ErrInsecureRedirect is returned when an https:// request is redirected to
// a plain http:// URL.
var ErrInsecureRedirect = errors.New("fetch: refusing https -> http redirect")

// Downloader performs HTTP downloads. The zero value is not ready to use;
// construct one with New. A Downloader is meant to be used from a single
// goroutine at a time: callers running concurrent extraction tasks should
// keep one Downloader per worker.
type Downloader struct {
	client *http.Client
	caInfo string
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithCAInfo sets a path to a PEM-encoded CA bundle used to validate TLS
// connections, per the config file's CAInfo key.
func WithCAInfo(path string) Option {
	return func(d *Downloader) { d.caInfo = path }
}

// New constructs a Downloader. timeout bounds a single request/response
// exchange and should be in the 30-300s range per spec §5.
func New(timeout time.Duration, opts ...Option) (*Downloader, error) {
	d := &Downloader{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) == 0 {
					return nil
				}
				if via[0].URL.Scheme == "https" && req.URL.Scheme == "http" {
					return ErrInsecureRedirect
				}
				return nil
			},
		},
	}
	for _, o := range opts {
		o(d)
	}
	if d.caInfo != "" {
		tr, err := caBundleTransport(d.caInfo)
		if err != nil {
			return nil, err
		}
		d.client.Transport = tr
	}
	return d, nil
}

// Download fetches rawURL and copies its body to sink, retrying up to
// maxTries times on transient failure. It returns the parsed Last-Modified
// header, if any.
func (d *Downloader) Download(ctx context.Context, rawURL string, sink io.Writer, maxTries int) (lastMod time.Time, err error) {
	if maxTries < 1 {
		maxTries = 1
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch: parsing %q: %w", rawURL, err)
	}

	type rewinder interface {
		Seek(offset int64, whence int) (int64, error)
	}
	rewind, canRewind := sink.(rewinder)

	var lastErr error
	for attempt := 1; attempt <= maxTries; attempt++ {
		if attempt > 1 && canRewind {
			if _, serr := rewind.Seek(0, io.SeekStart); serr != nil {
				return time.Time{}, fmt.Errorf("fetch: rewinding sink before retry: %w", serr)
			}
		}
		lastMod, lastErr = d.attempt(ctx, u, sink)
		if lastErr == nil {
			return lastMod, nil
		}
		if errors.Is(lastErr, ErrInsecureRedirect) || ctx.Err() != nil {
			return time.Time{}, lastErr
		}
		zlog.Warn(ctx).
			Str("url", u.Redacted()).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("download attempt failed")
	}
	return time.Time{}, fmt.Errorf("fetch: %q failed after %d attempts: %w", rawURL, maxTries, lastErr)
}

func (d *Downloader) attempt(ctx context.Context, u *url.URL, sink io.Writer) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return time.Time{}, err
	}
	req.Header.Set("User-Agent", UserAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()
	if err := httputil.CheckResponse(resp, http.StatusOK); err != nil {
		return time.Time{}, fmt.Errorf("fetch: %q: %w", u.Redacted(), err)
	}
	if _, err := io.Copy(sink, resp.Body); err != nil {
		return time.Time{}, fmt.Errorf("fetch: copying body: %w", err)
	}
	var lastMod time.Time
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			lastMod = t
		}
	}
	return lastMod, nil
}

// DownloadFile fetches rawURL to dest, skipping entirely if dest already
// exists. Parent directories are created as needed. On success dest's
// mtime is set to the response's Last-Modified value, if present; on
// failure the partial file is removed.
func (d *Downloader) DownloadFile(ctx context.Context, rawURL, dest string, maxTries int) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("fetch: stat %q: %w", dest, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("fetch: preparing directory for %q: %w", dest, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("fetch: creating %q: %w", dest, err)
	}
	lastMod, err := d.Download(ctx, rawURL, f, maxTries)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return err
	}
	if !lastMod.IsZero() {
		if err := os.Chtimes(dest, lastMod, lastMod); err != nil {
			zlog.Warn(ctx).Err(err).Str("path", dest).Msg("unable to set mtime from Last-Modified")
		}
	}
	return nil
}

// DownloadBytes is a convenience wrapper returning the full response body.
func (d *Downloader) DownloadBytes(ctx context.Context, rawURL string, maxTries int) ([]byte, error) {
	var buf seekBuffer
	if _, err := d.Download(ctx, rawURL, &buf, maxTries); err != nil {
		return nil, err
	}
	return buf.b, nil
}

// DownloadText is a convenience wrapper returning the response body as a
// string.
func (d *Downloader) DownloadText(ctx context.Context, rawURL string, maxTries int) (string, error) {
	b, err := d.DownloadBytes(ctx, rawURL, maxTries)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DownloadTextLines is a convenience wrapper splitting the response body
// into lines, dropping a trailing empty line.
func (d *Downloader) DownloadTextLines(ctx context.Context, rawURL string, maxTries int) ([]string, error) {
	text, err := d.DownloadText(ctx, rawURL, maxTries)
	if err != nil {
		return nil, err
	}
	lines := splitLines(text)
	return lines, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// seekBuffer is an in-memory sink that supports the rewind-on-retry
// protocol Download uses for in-memory destinations.
type seekBuffer struct{ b []byte }

func (s *seekBuffer) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	if offset != 0 || whence != io.SeekStart {
		return 0, fmt.Errorf("fetch: seekBuffer only supports rewinding to the start")
	}
	s.b = s.b[:0]
	return 0, nil
}
