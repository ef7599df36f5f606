package testkit

import (
	"fmt"

	"crbs/internal/diag"
)

// CheckSetInvariants runs the invariants every compile result must satisfy:
// 1) Success() is exactly "exit status 0 and no error diagnostics"
// 2) line and column numbers are never negative
// 3) a column is only reported together with a line
func CheckSetInvariants(set *diag.Set) error {
	if set == nil {
		return fmt.Errorf("nil set")
	}
	want := set.ExitCode() == 0 && set.Count(diag.SevError) == 0
	if set.Success() != want {
		return fmt.Errorf("verdict %v disagrees with exit=%d errors=%d", set.Success(), set.ExitCode(), set.Count(diag.SevError))
	}
	for i, d := range set.Items() {
		if d.Line < 0 || d.Column < 0 {
			return fmt.Errorf("diagnostic %d has negative position %d:%d", i, d.Line, d.Column)
		}
		if d.Column > 0 && d.Line == 0 {
			return fmt.Errorf("diagnostic %d has a column without a line", i)
		}
	}
	return nil
}
