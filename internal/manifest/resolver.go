// Package manifest fetches and parses the remote catalogue of installable
// toolchains.
package manifest

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"crbs/internal/logging"
	"crbs/internal/toolchain"
)

// Fetcher retrieves the raw bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger routes parse warnings to l.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) { r.logger = logging.OrDiscard(l) }
}

// WithClock overrides the time source used for Snapshot.FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// Resolver turns a manifest URL into a Snapshot. It keeps no state between
// calls: every Resolve performs a fresh fetch.
type Resolver struct {
	fetcher Fetcher
	logger  *log.Logger
	now     func() time.Time
}

// NewResolver returns a Resolver that downloads manifests through fetcher.
func NewResolver(fetcher Fetcher, opts ...Option) *Resolver {
	r := &Resolver{fetcher: fetcher, logger: logging.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches and parses the manifest at url.
func (r *Resolver) Resolve(ctx context.Context, url string) (toolchain.Snapshot, error) {
	data, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return toolchain.Snapshot{}, &toolchain.ManifestFetchError{URL: url, Err: err}
	}
	snap, unknown, err := Parse(data, url)
	for _, key := range unknown {
		r.logger.Debug("ignoring unknown manifest key", "key", key, "url", url)
	}
	if err != nil {
		return toolchain.Snapshot{}, err
	}
	snap.FetchedAt = r.now()
	r.logger.Info("manifest resolved", "url", url, "toolchains", len(snap.Toolchains))
	return snap, nil
}
