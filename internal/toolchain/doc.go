// Package toolchain defines the records shared by the manifest resolver, the
// installer, the registry and the execution engine: remote descriptors,
// manifest snapshots, installed toolchains, and the typed errors every
// component reports.
//
// Each error type wraps a package-level sentinel, so callers can classify
// with errors.Is and still recover the context (id, path, URL) with errors.As.
package toolchain
