// Package config loads and stores user settings for the crbs CLI and
// language server.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultManifestURL is the toolchain catalogue used when nothing is configured.
	DefaultManifestURL = "https://example.com/crbs/toolchains.toml"
	// DefaultDebounceMS is the language server quiet period.
	DefaultDebounceMS = 300
	// DefaultWorkers bounds concurrent background compiles.
	DefaultWorkers = 4

	appDir = "crbs"
)

// Environment variables that override file settings.
const (
	EnvConfig      = "CRBS_CONFIG"
	EnvManifestURL = "CRBS_MANIFEST_URL"
	EnvStorageRoot = "CRBS_STORAGE_ROOT"
	EnvCompatLayer = "CRBS_COMPAT_LAYER"
)

// Keys accepted by Settings.Set.
var Keys = []string{"manifest_url", "storage_root", "compat_layer", "lsp.debounce_ms", "lsp.workers"}

// LSP holds language server tuning.
type LSP struct {
	DebounceMS int `toml:"debounce_ms"`
	Workers    int `toml:"workers"`
}

// Settings is the decoded config.toml.
type Settings struct {
	ManifestURL string `toml:"manifest_url"`
	StorageRoot string `toml:"storage_root"`
	CompatLayer string `toml:"compat_layer"`
	LSP         LSP    `toml:"lsp"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		ManifestURL: DefaultManifestURL,
		StorageRoot: filepath.Join(DataDir(), "toolchains"),
		LSP:         LSP{DebounceMS: DefaultDebounceMS, Workers: DefaultWorkers},
	}
}

// Debounce returns the LSP debounce as a duration.
func (s Settings) Debounce() time.Duration {
	return time.Duration(s.LSP.DebounceMS) * time.Millisecond
}

// Path resolves the config file: $CRBS_CONFIG, then $XDG_CONFIG_HOME/crbs,
// then the OS user config dir.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfig)); p != "" {
		return p
	}
	return filepath.Join(baseDir("XDG_CONFIG_HOME", os.UserConfigDir, ".config"), appDir, "config.toml")
}

// DataDir is where the registry and toolchains live.
func DataDir() string {
	return filepath.Join(baseDir("XDG_DATA_HOME", nil, filepath.Join(".local", "share")), appDir)
}

// CacheDir is where the manifest snapshot cache lives.
func CacheDir() string {
	return filepath.Join(baseDir("XDG_CACHE_HOME", os.UserCacheDir, ".cache"), appDir)
}

// RegistryPath is the registry file inside the data directory.
func RegistryPath() string {
	return filepath.Join(DataDir(), "registry.toml")
}

func baseDir(env string, osDir func() (string, error), homeRel string) string {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	if osDir != nil {
		if d, err := osDir(); err == nil && d != "" {
			return d
		}
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, homeRel)
	}
	return filepath.Join(os.TempDir(), homeRel)
}

// Load reads path on top of Defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (Settings, error) {
	s, err := LoadFile(path)
	if err != nil {
		return Settings{}, err
	}
	s.applyEnv(os.Getenv)
	return s, nil
}

// LoadFile reads path on top of Defaults without consulting the environment.
func LoadFile(path string) (Settings, error) {
	s := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return Settings{}, fmt.Errorf("read config: %w", err)
	}
	meta, err := toml.Decode(string(data), &s)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Settings{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *Settings) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvManifestURL)); v != "" {
		s.ManifestURL = v
	}
	if v := strings.TrimSpace(getenv(EnvStorageRoot)); v != "" {
		s.StorageRoot = v
	}
	if v, ok := lookup(getenv, EnvCompatLayer); ok {
		s.CompatLayer = v
	}
}

func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	return strings.TrimSpace(v), v != ""
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.ManifestURL) == "" {
		return errors.New("manifest_url must not be empty")
	}
	if strings.TrimSpace(s.StorageRoot) == "" {
		return errors.New("storage_root must not be empty")
	}
	if s.LSP.DebounceMS < 0 {
		return fmt.Errorf("lsp.debounce_ms must be >= 0, got %d", s.LSP.DebounceMS)
	}
	if s.LSP.Workers < 1 {
		return fmt.Errorf("lsp.workers must be >= 1, got %d", s.LSP.Workers)
	}
	return nil
}

// Set assigns one key from its string form.
func (s *Settings) Set(key, value string) error {
	next := *s
	value = strings.TrimSpace(value)
	switch key {
	case "manifest_url":
		next.ManifestURL = value
	case "storage_root":
		next.StorageRoot = value
	case "compat_layer":
		next.CompatLayer = value
	case "lsp.debounce_ms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("lsp.debounce_ms: %w", err)
		}
		next.LSP.DebounceMS = n
	case "lsp.workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("lsp.workers: %w", err)
		}
		next.LSP.Workers = n
	default:
		return fmt.Errorf("unknown config key %q (expected one of %s)", key, strings.Join(Keys, ", "))
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*s = next
	return nil
}

// Save writes s to path via a temp file and rename.
func Save(path string, s Settings) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(buf.Bytes())
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save config: %w", errors.Join(werr, cerr))
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
