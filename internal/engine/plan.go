package engine

import (
	"path/filepath"
	"strings"

	"crbs/internal/toolchain"
)

// Config is fixed for the lifetime of an Engine.
type Config struct {
	// GOOS is the host operating system, usually runtime.GOOS.
	GOOS string
	// CompatLayer runs non-native executables, e.g. "wine". It may carry
	// leading arguments ("flatpak run org.winehq.Wine"). Empty means none.
	CompatLayer string
}

// Invocation is a fully resolved process to start.
type Invocation struct {
	Program string
	Args    []string
	Dir     string
	Native  bool
}

// Command renders the invocation for logs.
func (inv Invocation) Command() string {
	parts := append([]string{inv.Program}, inv.Args...)
	for i, p := range parts {
		if strings.ContainsAny(p, " \t\"") {
			parts[i] = `"` + strings.ReplaceAll(p, `"`, `\"`) + `"`
		}
	}
	return strings.Join(parts, " ")
}

// Plan builds the process invocation that compiles source with inst. logFile
// fills the log placeholder of the argument template. The process runs in the
// source directory, so callers pass absolute paths. Paths are handed to a
// compatibility layer unchanged.
func Plan(inst toolchain.Installed, source, logFile string, cfg Config) (Invocation, error) {
	exe := filepath.Join(inst.Path, filepath.FromSlash(inst.Executable))
	args := inst.Arguments(source, logFile)
	inv := Invocation{Dir: filepath.Dir(source)}
	if inst.NativeOn(cfg.GOOS) {
		inv.Program = exe
		inv.Args = args
		inv.Native = true
		return inv, nil
	}
	layer := strings.Fields(cfg.CompatLayer)
	if len(layer) == 0 {
		return Invocation{}, &toolchain.CompatibilityLayerMissingError{ID: inst.ID, GOOS: cfg.GOOS}
	}
	inv.Program = layer[0]
	inv.Args = make([]string, 0, len(layer)+len(args))
	inv.Args = append(inv.Args, layer[1:]...)
	inv.Args = append(inv.Args, exe)
	inv.Args = append(inv.Args, args...)
	return inv, nil
}
