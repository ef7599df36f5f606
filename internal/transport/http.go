// Package transport fetches manifests and toolchain archives.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// DefaultMaxBytes caps a single download.
const DefaultMaxBytes int64 = 512 << 20

// ErrTooLarge is returned when a response exceeds MaxBytes.
var ErrTooLarge = errors.New("response exceeds size limit")

// StatusError reports a non-200 HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %s", e.URL, e.Status)
}

// ProgressFunc receives the running byte count of a download. total is -1
// when the server did not announce a length.
type ProgressFunc func(done, total int64)

// HTTP fetches http(s) URLs with net/http and reads file:// URLs and bare
// paths from disk. The zero value is usable.
type HTTP struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
	Progress  ProgressFunc
}

// Fetch returns the full body behind rawURL.
func (h *HTTP) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path, ok := localPath(rawURL); ok {
		return h.readFile(path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", h.userAgent())
	req.Header.Set("Accept", "application/octet-stream, application/toml, */*")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	limit := h.maxBytes()
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("GET %s: %w (%d > %d bytes)", rawURL, ErrTooLarge, resp.ContentLength, limit)
	}

	var body io.Reader = io.LimitReader(resp.Body, limit+1)
	if h.Progress != nil {
		body = &progressReader{r: body, total: resp.ContentLength, fn: h.Progress}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("GET %s: %w (%d bytes)", rawURL, ErrTooLarge, limit)
	}
	return data, nil
}

func (h *HTTP) readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > h.maxBytes() {
		return nil, fmt.Errorf("%s: %w", path, ErrTooLarge)
	}
	return os.ReadFile(path)
}

func (h *HTTP) userAgent() string {
	if h.UserAgent != "" {
		return h.UserAgent
	}
	return "crbs"
}

func (h *HTTP) maxBytes() int64 {
	if h.MaxBytes > 0 {
		return h.MaxBytes
	}
	return DefaultMaxBytes
}

// localPath reports whether rawURL names a file on disk.
func localPath(rawURL string) (string, bool) {
	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return strings.TrimPrefix(rawURL, "file://"), true
		}
		return u.Path, true
	}
	if strings.Contains(rawURL, "://") {
		return "", false
	}
	return rawURL, true
}

type progressReader struct {
	r     io.Reader
	done  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}
	return n, err
}
