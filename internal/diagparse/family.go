package diagparse

import (
	"fmt"
	"regexp"
	"strings"

	"crbs/internal/diag"
)

// Family identifies the output grammar of a toolchain.
type Family uint8

const (
	// FamilyCRBasic is the Campbell Scientific CRBasic compiler grammar ("line 12: message").
	FamilyCRBasic Family = iota
	// FamilyGNU is the file:line:col: severity: message grammar.
	FamilyGNU
	// FamilyMSVC is the file(line,col): severity CODE: message grammar.
	FamilyMSVC
)

var familyNames = [...]string{
	FamilyCRBasic: "crbasic",
	FamilyGNU:     "gnu",
	FamilyMSVC:    "msvc",
}

func (f Family) String() string {
	if int(f) < len(familyNames) {
		return familyNames[f]
	}
	return fmt.Sprintf("family(%d)", uint8(f))
}

// ParseFamily maps a manifest/registry family name to a Family. The empty string
// selects FamilyCRBasic.
func ParseFamily(name string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "crbasic":
		return FamilyCRBasic, nil
	case "gnu", "gcc":
		return FamilyGNU, nil
	case "msvc":
		return FamilyMSVC, nil
	}
	return FamilyCRBasic, fmt.Errorf("unknown toolchain family %q (expected crbasic|gnu|msvc)", name)
}

// rule is one line pattern. Named groups: file, line, col, sev, msg.
// A rule without a sev group yields sev. With knownSev set, the rule only
// matches when the captured keyword is in the grammar's keyword table; that is
// how slots that could also be message text are kept apart.
type rule struct {
	re       *regexp.Regexp
	sev      diag.Severity
	knownSev bool
}

type grammar struct {
	rules    []rule
	keywords map[string]diag.Severity
}

var commonKeywords = map[string]diag.Severity{
	"error":       diag.SevError,
	"fatal":       diag.SevError,
	"fatal error": diag.SevError,
	"warning":     diag.SevWarning,
	"warn":        diag.SevWarning,
	"info":        diag.SevInfo,
	"information": diag.SevInfo,
	"note":        diag.SevInfo,
	"hint":        diag.SevInfo,
}

var grammars = [...]grammar{
	FamilyCRBasic: {
		rules: []rule{
			{re: regexp.MustCompile(`(?i)^\s*line\s+(?P<line>\d+)\s*:\s*(?P<sev>[a-z]+)\s*:\s*(?P<msg>.*)$`), knownSev: true},
			{re: regexp.MustCompile(`(?i)^\s*(?P<sev>[a-z]+)\s*:\s*line\s+(?P<line>\d+)\s*:?\s*(?P<msg>.*)$`)},
			{re: regexp.MustCompile(`(?i)^\s*line\s+(?P<line>\d+)\s*:\s*(?P<msg>.*\S.*)$`), sev: diag.SevError},
			{re: regexp.MustCompile(`(?i)^\s*(?P<sev>[a-z]+)\s*:\s*(?P<msg>.*\S.*)$`), knownSev: true},
			{re: regexp.MustCompile(`(?i)^\s*(?P<msg>.*\bcompile failed\b.*?)\s*$`), sev: diag.SevError},
		},
		keywords: commonKeywords,
	},
	FamilyGNU: {
		rules: []rule{
			{re: regexp.MustCompile(`^(?P<file>(?:[A-Za-z]:)?[^:\n]+):(?P<line>\d+):(?:(?P<col>\d+):)?\s*(?P<sev>[A-Za-z][A-Za-z ]*?)\s*:\s*(?P<msg>.*)$`)},
			{re: regexp.MustCompile(`^(?P<file>(?:[A-Za-z]:)?[^:\s][^:\n]*):\s*(?P<sev>[A-Za-z][A-Za-z ]*?)\s*:\s*(?P<msg>.*)$`), knownSev: true},
		},
		keywords: commonKeywords,
	},
	FamilyMSVC: {
		rules: []rule{
			{re: regexp.MustCompile(`^\s*(?P<file>.+?)\((?P<line>\d+)(?:,(?P<col>\d+))?\)\s*:\s*(?P<sev>[A-Za-z][A-Za-z ]*?)(?:\s+[A-Z]+\d+)?\s*:\s*(?P<msg>.*)$`)},
			{re: regexp.MustCompile(`^\s*(?P<file>[^:(]+?)\s*:\s*(?P<sev>[A-Za-z][A-Za-z ]*?)(?:\s+[A-Z]+\d+)?\s*:\s*(?P<msg>.*)$`), knownSev: true},
		},
		keywords: commonKeywords,
	},
}

func (f Family) grammar() grammar {
	if int(f) < len(grammars) {
		return grammars[f]
	}
	return grammars[FamilyCRBasic]
}
