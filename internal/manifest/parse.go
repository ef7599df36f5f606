package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"crbs/internal/toolchain"
)

type file struct {
	ManifestVersion string  `toml:"manifest_version"`
	Toolchains      []entry `toml:"toolchain"`
}

type entry struct {
	ID          string   `toml:"id"`
	Version     string   `toml:"version"`
	Description string   `toml:"description"`
	Family      string   `toml:"family"`
	Platforms   []string `toml:"platforms"`
	Arch        []string `toml:"arch"`
	URL         string   `toml:"url"`
	SHA256      string   `toml:"sha256"`
	Executable  string   `toml:"executable"`
	Args        []string `toml:"args"`
	Extensions  []string `toml:"extensions"`
}

// Parse decodes manifest bytes. It performs no I/O; source only labels errors.
// Unknown keys are returned so callers can report them.
func Parse(data []byte, source string) (toolchain.Snapshot, []string, error) {
	var f file
	meta, err := toml.Decode(string(data), &f)
	if err != nil {
		return toolchain.Snapshot{}, nil, &toolchain.ManifestParseError{Source: source, Err: err}
	}
	var unknown []string
	for _, key := range meta.Undecoded() {
		unknown = append(unknown, key.String())
	}

	snap := toolchain.Snapshot{
		ManifestVersion: strings.TrimSpace(f.ManifestVersion),
		Source:          source,
		Toolchains:      make([]toolchain.Descriptor, 0, len(f.Toolchains)),
	}
	seen := make(map[string]int, len(f.Toolchains))
	for i, e := range f.Toolchains {
		desc, err := e.descriptor()
		if err != nil {
			var perr *toolchain.ManifestParseError
			if errors.As(err, &perr) {
				perr.Source = source
				perr.Entry = i + 1
			}
			return toolchain.Snapshot{}, unknown, err
		}
		if first, dup := seen[desc.ID]; dup {
			return toolchain.Snapshot{}, unknown, &toolchain.ManifestParseError{
				Source: source,
				Entry:  i + 1,
				ID:     desc.ID,
				Err:    fmt.Errorf("duplicate id (first defined by entry %d)", first+1),
			}
		}
		seen[desc.ID] = i
		snap.Toolchains = append(snap.Toolchains, desc)
	}
	return snap, unknown, nil
}

// descriptor validates e. The id, version and checksum are kept exactly as
// declared; the checksum format is whatever the installer's digest produces.
func (e entry) descriptor() (toolchain.Descriptor, error) {
	id := e.ID
	required := []struct {
		name  string
		value string
	}{
		{"id", id},
		{"version", e.Version},
		{"url", e.URL},
		{"sha256", e.SHA256},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return toolchain.Descriptor{}, &toolchain.ManifestParseError{ID: id, Field: r.name}
		}
	}
	exts := make([]string, 0, len(e.Extensions))
	for _, raw := range e.Extensions {
		ext, err := toolchain.NormalizeExtension(raw)
		if err != nil {
			return toolchain.Descriptor{}, &toolchain.ManifestParseError{ID: id, Field: "extensions", Err: err}
		}
		exts = append(exts, ext)
	}
	return toolchain.Descriptor{
		ID:          id,
		Version:     e.Version,
		Description: strings.TrimSpace(e.Description),
		Family:      strings.TrimSpace(e.Family),
		Platforms:   e.Platforms,
		Arch:        e.Arch,
		URL:         strings.TrimSpace(e.URL),
		Checksum:    e.SHA256,
		Executable:  strings.TrimSpace(e.Executable),
		Args:        e.Args,
		Extensions:  exts,
	}, nil
}
