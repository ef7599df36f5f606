// Package registry is the durable local record of installed toolchains and
// file extension associations.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"crbs/internal/toolchain"
)

// FileName is the registry file name inside the data directory.
const FileName = "registry.toml"

// document is the on-disk layout of registry.toml.
type document struct {
	Toolchains   []toolchain.Installed `toml:"toolchain"`
	Associations map[string]string     `toml:"associations"`
}

// Registry holds installed toolchains keyed by id and extension associations.
// Every mutation is written through to disk before it returns; readers never
// observe a state that failed to persist.
type Registry struct {
	mu           sync.RWMutex
	path         string
	installed    map[string]toolchain.Installed
	associations map[string]string
}

// NewMemory returns a registry that is never persisted.
func NewMemory() *Registry {
	return &Registry{
		installed:    make(map[string]toolchain.Installed),
		associations: make(map[string]string),
	}
}

// Open loads the registry at path. A missing file yields an empty registry.
func Open(path string) (*Registry, error) {
	r := NewMemory()
	r.path = path
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, &toolchain.RegistryIOError{Op: "read", Path: path, Err: err}
	}
	var doc document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, &toolchain.RegistryIOError{Op: "decode", Path: path, Err: err}
	}
	for _, inst := range doc.Toolchains {
		if strings.TrimSpace(inst.ID) == "" {
			return nil, &toolchain.RegistryIOError{Op: "decode", Path: path, Err: errors.New("toolchain entry without id")}
		}
		r.installed[inst.ID] = inst
	}
	for ext, id := range doc.Associations {
		norm, err := toolchain.NormalizeExtension(ext)
		if err != nil {
			return nil, &toolchain.RegistryIOError{Op: "decode", Path: path, Err: err}
		}
		r.associations[norm] = id
	}
	return r, nil
}

// Path is the backing file, or "" for memory registries.
func (r *Registry) Path() string { return r.path }

// List returns every installed toolchain sorted by id.
func (r *Registry) List() []toolchain.Installed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]toolchain.Installed, 0, len(r.installed))
	for _, inst := range r.installed {
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the installed toolchain with the given id.
func (r *Registry) Get(id string) (toolchain.Installed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.installed[id]
	if !ok {
		return toolchain.Installed{}, false
	}
	return inst.Clone(), true
}

// Put records inst, replacing any record with the same id.
func (r *Registry) Put(inst toolchain.Installed) error {
	if strings.TrimSpace(inst.ID) == "" {
		return errors.New("registry: toolchain id is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.installed[inst.ID]
	r.installed[inst.ID] = inst.Clone()
	if err := r.persistLocked(); err != nil {
		if had {
			r.installed[inst.ID] = prev
		} else {
			delete(r.installed, inst.ID)
		}
		return err
	}
	return nil
}

// Delete removes the record for id. Deleting an unknown id returns
// ToolchainNotInstalledError and changes nothing. Associations pointing at id
// are left in place.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.installed[id]
	if !ok {
		return &toolchain.ToolchainNotInstalledError{ID: id}
	}
	delete(r.installed, id)
	if err := r.persistLocked(); err != nil {
		r.installed[id] = prev
		return err
	}
	return nil
}

// SetAssociation maps ext to toolchain id. The id does not have to be installed.
func (r *Registry) SetAssociation(ext, id string) error {
	norm, err := toolchain.NormalizeExtension(ext)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("registry: toolchain id is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.associations[norm]
	r.associations[norm] = id
	if err := r.persistLocked(); err != nil {
		if had {
			r.associations[norm] = prev
		} else {
			delete(r.associations, norm)
		}
		return err
	}
	return nil
}

// UnsetAssociation removes the mapping for ext and reports whether one existed.
func (r *Registry) UnsetAssociation(ext string) (bool, error) {
	norm, err := toolchain.NormalizeExtension(ext)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.associations[norm]
	if !had {
		return false, nil
	}
	delete(r.associations, norm)
	if err := r.persistLocked(); err != nil {
		r.associations[norm] = prev
		return false, err
	}
	return true, nil
}

// ResolveAssociation returns the toolchain id mapped to ext, if any.
func (r *Registry) ResolveAssociation(ext string) (string, bool) {
	norm, err := toolchain.NormalizeExtension(ext)
	if err != nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.associations[norm]
	return id, ok
}

// Associations returns a copy of the extension map.
func (r *Registry) Associations() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.associations)
}

func (r *Registry) persistLocked() error {
	if r.path == "" {
		return nil
	}
	doc := document{
		Toolchains:   make([]toolchain.Installed, 0, len(r.installed)),
		Associations: r.associations,
	}
	for _, id := range slices.Sorted(maps.Keys(r.installed)) {
		doc.Toolchains = append(doc.Toolchains, r.installed[id])
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return &toolchain.RegistryIOError{Op: "encode", Path: r.path, Err: err}
	}
	if err := writeAtomic(r.path, buf.Bytes()); err != nil {
		return &toolchain.RegistryIOError{Op: "write", Path: r.path, Err: err}
	}
	return nil
}

// writeAtomic replaces path with data via a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.toml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
