// Package diag defines the diagnostic model shared by the execution engine,
// the CLI and the language server.
//
// A Diagnostic is one positioned message (severity, file, 1-based line and
// column, verbatim text). A Set is the complete result of one compilation:
// the ordered diagnostics, the exit status of the compiler process, and the
// resulting verdict. Sets are immutable once built; every compilation makes
// a new one.
//
// Package diag performs no IO and no formatting beyond the single-line
// String form; rendering for terminals lives in cmd/crbs and the LSP
// mapping lives in internal/lsp.
package diag
