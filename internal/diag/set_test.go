package diag

import "testing"

func TestSetVerdict(t *testing.T) {
	cases := []struct {
		name     string
		exit     int
		items    []Diagnostic
		wantPass bool
	}{
		{name: "clean", exit: 0, wantPass: true},
		{name: "warnings only", exit: 0, items: []Diagnostic{{Severity: SevWarning, Message: "unused"}, {Severity: SevInfo, Message: "note"}}, wantPass: true},
		{name: "error diagnostic", exit: 0, items: []Diagnostic{{Severity: SevError, Line: 3, Message: "bad"}}, wantPass: false},
		{name: "nonzero exit", exit: 2, wantPass: false},
	}
	for _, tc := range cases {
		set := NewSet(SetInput{Items: tc.items, ExitCode: tc.exit})
		if got := set.Success(); got != tc.wantPass {
			t.Fatalf("%s: Success() = %v, want %v", tc.name, got, tc.wantPass)
		}
	}
}

func TestSetIsImmutable(t *testing.T) {
	items := []Diagnostic{{Severity: SevError, Message: "first"}}
	set := NewSet(SetInput{Items: items})
	items[0].Message = "changed"
	got := set.Items()
	if got[0].Message != "first" {
		t.Fatalf("set aliased caller slice: %q", got[0].Message)
	}
	got[0].Message = "mutated"
	if set.Items()[0].Message != "first" {
		t.Fatal("Items() returned internal storage")
	}
}

func TestDiagnosticString(t *testing.T) {
	cases := []struct {
		d    Diagnostic
		want string
	}{
		{Diagnostic{Severity: SevError, File: "a.cr2", Line: 4, Column: 2, Message: "x"}, "a.cr2:4:2: ERROR: x"},
		{Diagnostic{Severity: SevWarning, File: "a.cr2", Message: "file level"}, "a.cr2: WARNING: file level"},
		{Diagnostic{Severity: SevInfo, Message: "bare"}, "INFO: bare"},
	}
	for _, tc := range cases {
		if got := tc.d.String(); got != tc.want {
			t.Fatalf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestSeverityLSP(t *testing.T) {
	if SevError.LSP() != 1 || SevWarning.LSP() != 2 || SevInfo.LSP() != 3 {
		t.Fatal("unexpected LSP severity mapping")
	}
}
