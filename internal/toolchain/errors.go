package toolchain

import (
	"errors"
	"fmt"
)

var (
	// ErrManifestFetch classifies transport failures while fetching a manifest.
	ErrManifestFetch = errors.New("manifest fetch failed")
	// ErrManifestParse classifies malformed manifests.
	ErrManifestParse = errors.New("manifest parse failed")
	// ErrIntegrity classifies checksum mismatches of downloaded archives.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrNoToolchainResolved is returned when neither an override nor an association names a toolchain.
	ErrNoToolchainResolved = errors.New("no toolchain resolved")
	// ErrNotInstalled is returned when a resolved toolchain id is absent from the registry.
	ErrNotInstalled = errors.New("toolchain not installed")
	// ErrCompatibilityLayerMissing is returned when a non-native toolchain has no compatibility layer configured.
	ErrCompatibilityLayerMissing = errors.New("compatibility layer not configured")
	// ErrProcessSpawn classifies failures to start the compiler process.
	ErrProcessSpawn = errors.New("process spawn failed")
	// ErrRegistryIO classifies registry persistence failures.
	ErrRegistryIO = errors.New("registry i/o failed")
	// ErrAlreadyInstalled is returned when installing over an existing toolchain without overwrite.
	ErrAlreadyInstalled = errors.New("toolchain already installed")
	// ErrUnknownToolchain is returned when an id is not present in the manifest.
	ErrUnknownToolchain = errors.New("toolchain not in manifest")
	// ErrInvalidExtension is returned for unusable file-extension keys.
	ErrInvalidExtension = errors.New("invalid file extension")
)

type (
	// ManifestFetchError wraps a transport failure for a manifest URL.
	ManifestFetchError struct {
		URL string
		Err error
	}

	// ManifestParseError describes why a manifest could not be used.
	// Entry is the 1-based position of the offending entry, 0 for document-level problems.
	ManifestParseError struct {
		Source string
		Entry  int
		ID     string
		Field  string
		Err    error
	}

	// IntegrityError reports a checksum mismatch for a downloaded archive.
	IntegrityError struct {
		ID       string
		Expected string
		Got      string
	}

	// NoToolchainResolvedError reports a source file with no override and no association.
	NoToolchainResolvedError struct {
		Path      string
		Extension string
	}

	// ToolchainNotInstalledError names a toolchain id missing from the registry.
	ToolchainNotInstalledError struct {
		ID string
	}

	// CompatibilityLayerMissingError reports a non-native toolchain with no compatibility layer.
	CompatibilityLayerMissingError struct {
		ID   string
		GOOS string
	}

	// ProcessSpawnError reports that the compiler process could not be started.
	ProcessSpawnError struct {
		ID         string
		Executable string
		Err        error
	}

	// RegistryIOError reports a failure reading or writing the registry file.
	RegistryIOError struct {
		Op   string
		Path string
		Err  error
	}

	// AlreadyInstalledError reports an install collision that was not confirmed as an overwrite.
	AlreadyInstalledError struct {
		ID   string
		Path string
	}

	// UnknownToolchainError reports an id absent from the manifest.
	UnknownToolchainError struct {
		ID     string
		Source string
	}

	// InvalidExtensionError reports an extension key that is empty or has inner dots.
	InvalidExtensionError struct {
		Extension string
	}
)

func (e *ManifestFetchError) Error() string {
	return fmt.Sprintf("fetching manifest %s: %v", e.URL, e.Err)
}

func (e *ManifestFetchError) Unwrap() []error { return []error{ErrManifestFetch, e.Err} }

func (e *ManifestParseError) Error() string {
	loc := e.Source
	if e.Entry > 0 {
		loc = fmt.Sprintf("%s: entry %d", loc, e.Entry)
		if e.ID != "" {
			loc = fmt.Sprintf("%s (%s)", loc, e.ID)
		}
	}
	switch {
	case e.Field != "" && e.Err == nil:
		return fmt.Sprintf("%s: missing required field %q", loc, e.Field)
	case e.Field != "":
		return fmt.Sprintf("%s: field %q: %v", loc, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", loc, e.Err)
}

func (e *ManifestParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrManifestParse}
	}
	return []error{ErrManifestParse, e.Err}
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s\nExpected: %s\nGot:      %s", e.ID, e.Expected, e.Got)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

func (e *NoToolchainResolvedError) Error() string {
	if e.Extension == "" {
		return fmt.Sprintf("no toolchain for %s: file has no extension and no --compiler was given", e.Path)
	}
	return fmt.Sprintf("no toolchain associated with extension '.%s' (file %s); set an association or pass --compiler", e.Extension, e.Path)
}

func (e *NoToolchainResolvedError) Unwrap() error { return ErrNoToolchainResolved }

func (e *ToolchainNotInstalledError) Error() string {
	return fmt.Sprintf("toolchain %q is not installed", e.ID)
}

func (e *ToolchainNotInstalledError) Unwrap() error { return ErrNotInstalled }

func (e *CompatibilityLayerMissingError) Error() string {
	return fmt.Sprintf("toolchain %q cannot run natively on %s and no compatibility layer is configured (set compat_layer)", e.ID, e.GOOS)
}

func (e *CompatibilityLayerMissingError) Unwrap() error { return ErrCompatibilityLayerMissing }

func (e *ProcessSpawnError) Error() string {
	return fmt.Sprintf("starting %s for toolchain %q: %v", e.Executable, e.ID, e.Err)
}

func (e *ProcessSpawnError) Unwrap() []error { return []error{ErrProcessSpawn, e.Err} }

func (e *RegistryIOError) Error() string {
	return fmt.Sprintf("registry %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *RegistryIOError) Unwrap() []error { return []error{ErrRegistryIO, e.Err} }

func (e *AlreadyInstalledError) Error() string {
	return fmt.Sprintf("toolchain %q is already installed at %s (use --force to overwrite)", e.ID, e.Path)
}

func (e *AlreadyInstalledError) Unwrap() error { return ErrAlreadyInstalled }

func (e *UnknownToolchainError) Error() string {
	return fmt.Sprintf("toolchain %q not found in manifest %s", e.ID, e.Source)
}

func (e *UnknownToolchainError) Unwrap() error { return ErrUnknownToolchain }

func (e *InvalidExtensionError) Error() string {
	return fmt.Sprintf("invalid file extension %q", e.Extension)
}

func (e *InvalidExtensionError) Unwrap() error { return ErrInvalidExtension }
