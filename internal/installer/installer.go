// Package installer downloads, verifies and unpacks toolchains into the local
// store and records them in the registry.
package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"crbs/internal/logging"
	"crbs/internal/pipeline"
	"crbs/internal/toolchain"
)

// Fetcher downloads toolchain archives.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor unpacks archive bytes into dest.
type Extractor interface {
	Extract(data []byte, dest string) error
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(data []byte, dest string) error

func (f ExtractorFunc) Extract(data []byte, dest string) error { return f(data, dest) }

// Store is the part of the registry the installer writes to.
type Store interface {
	Get(id string) (toolchain.Installed, bool)
	Put(inst toolchain.Installed) error
	Delete(id string) error
}

// SHA256 is the default checksum: lowercase hex sha256.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Options configures a Manager.
type Options struct {
	// StorageRoot is the directory holding one subdirectory per toolchain.
	StorageRoot string
	Checksum    func([]byte) string
	Logger      *log.Logger
	Progress    pipeline.ProgressSink
	Now         func() time.Time
}

// InstallOptions tunes a single install.
type InstallOptions struct {
	// Overwrite replaces an existing installation of the same id.
	Overwrite bool
}

// Manager installs and removes toolchains. Operations are serialised; the
// registry only ever records fully verified and unpacked payloads.
type Manager struct {
	store     Store
	fetcher   Fetcher
	extractor Extractor
	root      string
	checksum  func([]byte) string
	logger    *log.Logger
	progress  pipeline.ProgressSink
	now       func() time.Time
	rename    func(oldpath, newpath string) error

	mu sync.Mutex
}

// New returns a Manager writing payloads under opts.StorageRoot.
func New(store Store, fetcher Fetcher, extractor Extractor, opts Options) *Manager {
	m := &Manager{
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		root:      opts.StorageRoot,
		checksum:  opts.Checksum,
		logger:    logging.OrDiscard(opts.Logger),
		progress:  opts.Progress,
		now:       opts.Now,
		rename:    os.Rename,
	}
	if m.checksum == nil {
		m.checksum = SHA256
	}
	if m.progress == nil {
		m.progress = pipeline.NopSink{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// InstallByID installs the descriptor named id from snap.
func (m *Manager) InstallByID(ctx context.Context, snap toolchain.Snapshot, id string, opts InstallOptions) (toolchain.Installed, error) {
	desc, ok := snap.Find(id)
	if !ok {
		return toolchain.Installed{}, &toolchain.UnknownToolchainError{ID: id, Source: snap.Source}
	}
	return m.Install(ctx, desc, opts)
}

// Install downloads desc, verifies its checksum, unpacks it and records it.
// On any failure the registry and the previous payload are left as they were.
func (m *Manager) Install(ctx context.Context, desc toolchain.Descriptor, opts InstallOptions) (toolchain.Installed, error) {
	if err := validID(desc.ID); err != nil {
		return toolchain.Installed{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.store.Get(desc.ID); ok && !opts.Overwrite {
		return toolchain.Installed{}, &toolchain.AlreadyInstalledError{ID: desc.ID, Path: prev.Path}
	}
	pipeline.Queue(m.progress, pipeline.StageDownload, desc.ID)
	if err := ctx.Err(); err != nil {
		return toolchain.Installed{}, err
	}

	logger := m.logger.With("id", desc.ID, "version", desc.Version)
	logger.Info("downloading toolchain", "url", desc.URL)
	done := pipeline.Step(m.progress, desc.ID, pipeline.StageDownload)
	data, err := m.fetcher.Fetch(ctx, desc.URL)
	if err != nil {
		err = fmt.Errorf("download %s: %w", desc.ID, err)
	}
	done(err)
	if err != nil {
		return toolchain.Installed{}, err
	}

	done = pipeline.Step(m.progress, desc.ID, pipeline.StageVerify)
	got := strings.ToLower(m.checksum(data))
	if !strings.EqualFold(got, strings.TrimSpace(desc.Checksum)) {
		err := &toolchain.IntegrityError{ID: desc.ID, Expected: strings.ToLower(desc.Checksum), Got: got}
		done(err)
		logger.Error("checksum mismatch", "expected", err.Expected, "got", got)
		return toolchain.Installed{}, err
	}
	done(nil)
	logger.Debug("checksum verified", "sha256", got)

	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return toolchain.Installed{}, fmt.Errorf("create storage root: %w", err)
	}
	done = pipeline.Step(m.progress, desc.ID, pipeline.StageExtract)
	staging, exe, err := m.stage(data, desc)
	done(err)
	if err != nil {
		return toolchain.Installed{}, err
	}
	defer os.RemoveAll(staging)

	done = pipeline.Step(m.progress, desc.ID, pipeline.StageRegister)
	inst := toolchain.Installed{
		ID:          desc.ID,
		Version:     desc.Version,
		Description: desc.Description,
		Family:      desc.Family,
		Path:        filepath.Join(m.root, desc.ID),
		Executable:  exe,
		Platforms:   desc.Platforms,
		Args:        desc.Args,
		Checksum:    got,
		InstalledAt: m.now().UTC(),
	}
	err = m.commit(staging, inst)
	done(err)
	if err != nil {
		return toolchain.Installed{}, err
	}
	logger.Info("toolchain installed", "path", inst.Path)
	return inst.Clone(), nil
}

// stage extracts data into a fresh staging directory and locates the executable.
func (m *Manager) stage(data []byte, desc toolchain.Descriptor) (string, string, error) {
	staging, err := os.MkdirTemp(m.root, ".staging-"+desc.ID+"-")
	if err != nil {
		return "", "", fmt.Errorf("create staging directory: %w", err)
	}
	if err := m.extractor.Extract(data, staging); err != nil {
		_ = os.RemoveAll(staging)
		return "", "", fmt.Errorf("extract %s: %w", desc.ID, err)
	}
	exe, err := findExecutable(staging, desc.Executable)
	if err != nil {
		_ = os.RemoveAll(staging)
		return "", "", fmt.Errorf("install %s: %w", desc.ID, err)
	}
	return staging, exe, nil
}

// commit moves staging into place and records inst. A previous payload is
// parked in a trash directory until the registry write succeeds.
func (m *Manager) commit(staging string, inst toolchain.Installed) error {
	trash, err := os.MkdirTemp(m.root, ".trash-"+inst.ID+"-")
	if err != nil {
		return fmt.Errorf("create trash directory: %w", err)
	}
	keepTrash := false
	defer func() {
		if !keepTrash {
			_ = os.RemoveAll(trash)
		}
	}()

	parked := filepath.Join(trash, "payload")
	hadPrevious := false
	if _, err := os.Lstat(inst.Path); err == nil {
		if err := m.rename(inst.Path, parked); err != nil {
			return fmt.Errorf("move previous payload aside: %w", err)
		}
		hadPrevious = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", inst.Path, err)
	}
	restore := func() {
		if !hadPrevious {
			return
		}
		if err := m.rename(parked, inst.Path); err != nil {
			keepTrash = true
			m.logger.Error("could not restore previous payload", "id", inst.ID, "path", inst.Path, "parked", parked, "err", err)
		}
	}

	if err := m.rename(staging, inst.Path); err != nil {
		restore()
		return fmt.Errorf("move payload into place: %w", err)
	}
	if err := m.store.Put(inst); err != nil {
		if rmErr := os.RemoveAll(inst.Path); rmErr != nil {
			m.logger.Warn("could not remove new payload", "path", inst.Path, "err", rmErr)
		}
		restore()
		return err
	}
	return nil
}

// Remove deletes the payload and record of id. If the payload cannot be moved
// out of the way the record is kept and the error returned.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.store.Get(id)
	if !ok {
		return &toolchain.ToolchainNotInstalledError{ID: id}
	}
	logger := m.logger.With("id", id)

	parent := filepath.Dir(inst.Path)
	var trash, parked string
	if _, err := os.Lstat(inst.Path); err == nil {
		trash, err = os.MkdirTemp(parent, ".trash-"+id+"-")
		if err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
		parked = filepath.Join(trash, "payload")
		if err := m.rename(inst.Path, parked); err != nil {
			_ = os.RemoveAll(trash)
			return fmt.Errorf("remove %s: %w", id, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		logger.Warn("payload already missing, dropping record", "path", inst.Path)
	} else {
		return fmt.Errorf("remove %s: %w", id, err)
	}

	if err := m.store.Delete(id); err != nil {
		if parked != "" {
			if rbErr := m.rename(parked, inst.Path); rbErr != nil {
				logger.Error("could not restore payload", "path", inst.Path, "parked", parked, "err", rbErr)
			} else {
				_ = os.RemoveAll(trash)
			}
		}
		return err
	}
	if trash != "" {
		if err := os.RemoveAll(trash); err != nil {
			logger.Warn("leftover payload", "path", trash, "err", err)
		}
	}
	logger.Info("toolchain removed")
	return nil
}

func validID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return errors.New("toolchain id is empty")
	case strings.ContainsAny(id, `/\`), !filepath.IsLocal(id), strings.HasPrefix(id, "."):
		return fmt.Errorf("toolchain id %q cannot be used as a directory name", id)
	}
	return nil
}

// findExecutable returns the executable path relative to dir. With no explicit
// name the archive must hold exactly one top-level .exe file.
func findExecutable(dir, name string) (string, error) {
	if name != "" {
		rel := filepath.FromSlash(name)
		if !filepath.IsLocal(rel) {
			return "", fmt.Errorf("executable %q is outside the toolchain directory", name)
		}
		info, err := os.Stat(filepath.Join(dir, rel))
		if err != nil {
			return "", fmt.Errorf("executable %q not found in archive", name)
		}
		if !info.Mode().IsRegular() {
			return "", fmt.Errorf("executable %q is not a regular file", name)
		}
		return rel, ensureExecutable(filepath.Join(dir, rel), info.Mode())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var found []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".exe") {
			found = append(found, e.Name())
		}
	}
	switch len(found) {
	case 0:
		return "", errors.New("no executable named in manifest and no top-level .exe in archive")
	case 1:
		info, err := os.Stat(filepath.Join(dir, found[0]))
		if err != nil {
			return "", err
		}
		return found[0], ensureExecutable(filepath.Join(dir, found[0]), info.Mode())
	default:
		return "", fmt.Errorf("archive has several top-level executables (%s); the manifest must name one", strings.Join(found, ", "))
	}
}

func ensureExecutable(path string, mode os.FileMode) error {
	if runtime.GOOS == "windows" || mode&0o111 != 0 {
		return nil
	}
	return os.Chmod(path, mode|0o755)
}
