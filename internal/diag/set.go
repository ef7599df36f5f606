package diag

import (
	"slices"

	"crbs/internal/observ"
)

// SetInput carries everything needed to build a Set.
type SetInput struct {
	Toolchain string
	Source    string
	Items     []Diagnostic
	ExitCode  int
	Raw       string
	Timings   observ.Report
}

// Set is the immutable outcome of one compilation attempt.
// The zero value is not useful; build sets with NewSet.
type Set struct {
	toolchain string
	source    string
	items     []Diagnostic
	exitCode  int
	raw       string
	timings   observ.Report
}

// NewSet copies in so later changes to the caller's slice can't leak into the set.
func NewSet(in SetInput) *Set {
	return &Set{
		toolchain: in.Toolchain,
		source:    in.Source,
		items:     slices.Clone(in.Items),
		exitCode:  in.ExitCode,
		raw:       in.Raw,
		timings:   in.Timings,
	}
}

// Items returns a copy of the diagnostics in compiler output order.
func (s *Set) Items() []Diagnostic {
	if s == nil {
		return nil
	}
	return slices.Clone(s.items)
}

// Len returns the number of diagnostics.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// ExitCode is the raw exit status of the compiler process.
func (s *Set) ExitCode() int { return s.exitCode }

// Toolchain is the id of the toolchain that produced the set.
func (s *Set) Toolchain() string { return s.toolchain }

// Source is the compiled file.
func (s *Set) Source() string { return s.source }

// Raw is the captured compiler output, decoded to UTF-8.
func (s *Set) Raw() string { return s.raw }

// Timings reports how long each phase of the compilation took.
func (s *Set) Timings() observ.Report { return s.timings }

// HasErrors reports whether any diagnostic has error severity.
func (s *Set) HasErrors() bool {
	return s.Count(SevError) > 0
}

// Count returns the number of diagnostics with the given severity.
func (s *Set) Count(sev Severity) int {
	if s == nil {
		return 0
	}
	n := 0
	for i := range s.items {
		if s.items[i].Severity == sev {
			n++
		}
	}
	return n
}

// Success is the compilation verdict: zero exit status and no error diagnostics.
// Warnings and infos never fail a compilation on their own.
func (s *Set) Success() bool {
	if s == nil {
		return false
	}
	return s.exitCode == 0 && !s.HasErrors()
}
