// Package snapcache keeps the last manifest snapshot per URL on disk so the
// CLI can list and install toolchains without network access.
package snapcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"crbs/internal/toolchain"
)

// Current schema version - increment when payload format changes
const schemaVersion uint16 = 1

// ErrMiss is returned by Get when no usable snapshot is cached.
var ErrMiss = errors.New("no cached manifest snapshot")

// Cache stores msgpack-encoded snapshots keyed by manifest URL.
// Thread-safe for concurrent access.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

type payload struct {
	Schema          uint16
	URL             string
	ManifestVersion string
	FetchedAt       time.Time
	Toolchains      []toolchain.Descriptor
}

// Open returns a cache rooted at dir, creating it if needed.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// Dir is the cache directory.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) pathFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, "manifests", hex.EncodeToString(sum[:])+".mp")
}

// Put writes snap, replacing any earlier snapshot of the same URL.
func (c *Cache) Put(snap toolchain.Snapshot) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(snap.Source)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	err = msgpack.NewEncoder(f).Encode(&payload{
		Schema:          schemaVersion,
		URL:             snap.Source,
		ManifestVersion: snap.ManifestVersion,
		FetchedAt:       snap.FetchedAt,
		Toolchains:      snap.Toolchains,
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot cache: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot cache: %w", err)
	}
	return nil
}

// Get returns the cached snapshot for url. Entries from another schema
// version or for a colliding URL count as misses.
func (c *Cache) Get(url string) (toolchain.Snapshot, error) {
	if c == nil {
		return toolchain.Snapshot{}, ErrMiss
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.pathFor(url))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return toolchain.Snapshot{}, ErrMiss
		}
		return toolchain.Snapshot{}, err
	}
	var p payload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return toolchain.Snapshot{}, fmt.Errorf("decode snapshot cache: %w", err)
	}
	if p.Schema != schemaVersion || p.URL != url {
		return toolchain.Snapshot{}, ErrMiss
	}
	return toolchain.Snapshot{
		ManifestVersion: p.ManifestVersion,
		Source:          p.URL,
		FetchedAt:       p.FetchedAt,
		Toolchains:      p.Toolchains,
	}, nil
}

// DropAll invalidates the cache.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.RemoveAll(filepath.Join(c.dir, "manifests"))
}
