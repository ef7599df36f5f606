package toolchain

import (
	"slices"
	"strings"
	"time"
)

// Argument template placeholders. LogPlaceholder names a file the compiler
// writes its status and errors to; its contents are read back as output.
const (
	SourcePlaceholder = "{source}"
	LogPlaceholder    = "{log}"
)

// DefaultPlatform is the OS a toolchain runs on natively when the manifest says nothing.
const DefaultPlatform = "windows"

// Descriptor describes one toolchain version offered by the remote manifest.
// Descriptors are values; nothing mutates them after parsing.
type Descriptor struct {
	ID          string
	Version     string
	Description string
	Family      string
	Platforms   []string
	Arch        []string
	URL         string
	Checksum    string
	Executable  string
	Args        []string
	Extensions  []string
}

// NativeOn reports whether the toolchain executable runs directly on goos.
func (d Descriptor) NativeOn(goos string) bool {
	return nativeOn(d.Platforms, goos)
}

// Snapshot is the point-in-time content of a manifest, in manifest order.
type Snapshot struct {
	ManifestVersion string
	Source          string
	FetchedAt       time.Time
	Toolchains      []Descriptor
}

// Find returns the descriptor with the given id.
func (s Snapshot) Find(id string) (Descriptor, bool) {
	for _, d := range s.Toolchains {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Installed records a toolchain that was downloaded, verified and unpacked locally.
type Installed struct {
	ID          string    `toml:"id"`
	Version     string    `toml:"version"`
	Description string    `toml:"description,omitempty"`
	Family      string    `toml:"family,omitempty"`
	Path        string    `toml:"path"`
	Executable  string    `toml:"executable"`
	Platforms   []string  `toml:"platforms,omitempty"`
	Args        []string  `toml:"args,omitempty"`
	Checksum    string    `toml:"checksum"`
	InstalledAt time.Time `toml:"installed_at"`
}

// NativeOn reports whether the installed executable runs directly on goos.
func (i Installed) NativeOn(goos string) bool {
	return nativeOn(i.Platforms, goos)
}

// Arguments expands the argument template for source and the compiler log file.
func (i Installed) Arguments(source, logFile string) []string {
	tmpl := i.Args
	if len(tmpl) == 0 {
		tmpl = []string{SourcePlaceholder}
	}
	r := strings.NewReplacer(SourcePlaceholder, source, LogPlaceholder, logFile)
	out := make([]string, 0, len(tmpl))
	for _, arg := range tmpl {
		out = append(out, r.Replace(arg))
	}
	return out
}

// WritesLog reports whether the argument template hands the compiler a log file.
func (i Installed) WritesLog() bool {
	return slices.ContainsFunc(i.Args, func(arg string) bool {
		return strings.Contains(arg, LogPlaceholder)
	})
}

// Clone returns a deep copy so callers can't alias registry state.
func (i Installed) Clone() Installed {
	i.Platforms = slices.Clone(i.Platforms)
	i.Args = slices.Clone(i.Args)
	return i
}

func nativeOn(platforms []string, goos string) bool {
	if len(platforms) == 0 {
		platforms = []string{DefaultPlatform}
	}
	for _, p := range platforms {
		if strings.EqualFold(strings.TrimSpace(p), goos) || p == "*" {
			return true
		}
	}
	return false
}

// NormalizeExtension turns ".CR2", "cr2" and " cr2 " into "cr2".
func NormalizeExtension(ext string) (string, error) {
	cleaned := strings.ToLower(strings.TrimLeft(strings.TrimSpace(ext), "."))
	if cleaned == "" || strings.ContainsAny(cleaned, `./\`) {
		return "", &InvalidExtensionError{Extension: ext}
	}
	return cleaned, nil
}

// ExtensionOf returns the normalised extension of path, or "" if it has none.
func ExtensionOf(path string) string {
	base := path
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 || dot == len(base)-1 {
		return ""
	}
	return strings.ToLower(base[dot+1:])
}
