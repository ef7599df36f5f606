package diagparse

import (
	"reflect"
	"testing"

	"crbs/internal/diag"
)

func TestParseCRBasic(t *testing.T) {
	raw := "CR1000X Compiler\r\n" +
		"line 12: Variable not declared: Batt_Volt\r\n" +
		"line 7: Warning: Unused variable Temp\r\n" +
		"Error: line 3: Missing EndProg\r\n" +
		"Warning: program uses 90% of memory\r\n" +
		"Status: running\r\n" +
		"Compile Failed!\r\n"
	got := Parse(raw, FamilyCRBasic)
	want := []diag.Diagnostic{
		{Severity: diag.SevError, Line: 12, Message: "Variable not declared: Batt_Volt"},
		{Severity: diag.SevWarning, Line: 7, Message: "Unused variable Temp"},
		{Severity: diag.SevError, Line: 3, Message: "Missing EndProg"},
		{Severity: diag.SevWarning, Message: "program uses 90% of memory"},
		{Severity: diag.SevError, Message: "Compile Failed!"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestParseSkipsMalformedMiddleLine(t *testing.T) {
	raw := "line 1: first problem\n@@@ not a diagnostic @@@\nline 3: second problem\n"
	got := Parse(raw, FamilyCRBasic)
	if len(got) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d: %+v", len(got), got)
	}
	if got[0].Line != 1 || got[1].Line != 3 {
		t.Fatalf("unexpected lines: %d, %d", got[0].Line, got[1].Line)
	}
}

func TestParseIsIdempotent(t *testing.T) {
	raw := "line 4: warn: shadowed\nline 9: bad token\nCompiled OK.\n"
	for _, fam := range []Family{FamilyCRBasic, FamilyGNU, FamilyMSVC} {
		first := Parse(raw, fam)
		second := Parse(raw, fam)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("%s: parse is not deterministic", fam)
		}
	}
}

func TestParseSuccessOutputHasNoDiagnostics(t *testing.T) {
	if got := Parse("Compiled OK.\r\n", FamilyCRBasic); len(got) != 0 {
		t.Fatalf("expected no diagnostics, got %+v", got)
	}
	if got := Parse("", FamilyGNU); got != nil {
		t.Fatalf("expected nil for empty output, got %+v", got)
	}
}

func TestParseGNU(t *testing.T) {
	raw := "main.c:10:5: error: expected ';'\n" +
		"C:\\src\\util.c:3: warning: unused variable 'x'\n" +
		"main.c:2:1: fatal error: foo.h: No such file\n" +
		"main.c:8: remark: loop vectorized\n" +
		"In file included from main.c:1\n"
	got := Parse(raw, FamilyGNU)
	want := []diag.Diagnostic{
		{Severity: diag.SevError, File: "main.c", Line: 10, Column: 5, Message: "expected ';'"},
		{Severity: diag.SevWarning, File: "C:\\src\\util.c", Line: 3, Message: "unused variable 'x'"},
		{Severity: diag.SevError, File: "main.c", Line: 2, Column: 1, Message: "foo.h: No such file"},
		{Severity: diag.SevInfo, File: "main.c", Line: 8, Message: "loop vectorized"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestParseMSVC(t *testing.T) {
	raw := "main.c(12,5): error C2065: 'x': undeclared identifier\r\n" +
		"main.c(3): warning C4101: 'y': unreferenced local variable\r\n" +
		"Microsoft (R) C/C++ Optimizing Compiler\r\n"
	got := Parse(raw, FamilyMSVC)
	want := []diag.Diagnostic{
		{Severity: diag.SevError, File: "main.c", Line: 12, Column: 5, Message: "'x': undeclared identifier"},
		{Severity: diag.SevWarning, File: "main.c", Line: 3, Message: "'y': unreferenced local variable"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestParseKeepsMessageVerbatim(t *testing.T) {
	got := Parse("line 5: Expected:  \"EndIf\"  ", FamilyCRBasic)
	if len(got) != 1 || got[0].Message != "Expected:  \"EndIf\"  " {
		t.Fatalf("message altered: %+v", got)
	}
}

func TestParseFamily(t *testing.T) {
	cases := map[string]Family{"": FamilyCRBasic, "CRBasic": FamilyCRBasic, "gnu": FamilyGNU, "gcc": FamilyGNU, "MSVC": FamilyMSVC}
	for in, want := range cases {
		got, err := ParseFamily(in)
		if err != nil || got != want {
			t.Fatalf("ParseFamily(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseFamily("clang-tidy"); err == nil {
		t.Fatal("expected error for unknown family")
	}
}
