package diagparse

import (
	"strconv"
	"strings"

	"fortio.org/safecast"

	"crbs/internal/diag"
)

// Parse extracts diagnostics from raw compiler output using the grammar of fam.
// It is pure: the same input always yields the same slice. Lines that match no
// rule are skipped. Diagnostics keep compiler output order.
func Parse(raw string, fam Family) []diag.Diagnostic {
	g := fam.grammar()
	var out []diag.Diagnostic
	for line := range strings.SplitSeq(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if d, ok := g.match(line); ok {
			out = append(out, d)
		}
	}
	return out
}

func (g grammar) match(line string) (diag.Diagnostic, bool) {
	for _, r := range g.rules {
		m := r.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		d := diag.Diagnostic{Severity: r.sev}
		if idx := r.re.SubexpIndex("sev"); idx >= 0 {
			sev, known := g.severity(m[idx])
			if r.knownSev && !known {
				continue
			}
			d.Severity = sev
		}
		if idx := r.re.SubexpIndex("file"); idx >= 0 {
			d.File = strings.TrimSpace(m[idx])
		}
		if idx := r.re.SubexpIndex("line"); idx >= 0 {
			d.Line = number(m[idx])
		}
		if idx := r.re.SubexpIndex("col"); idx >= 0 {
			d.Column = number(m[idx])
		}
		if idx := r.re.SubexpIndex("msg"); idx >= 0 {
			d.Message = m[idx]
		}
		return d, true
	}
	return diag.Diagnostic{}, false
}

// severity maps a keyword; unknown keywords fall back to Info.
func (g grammar) severity(word string) (diag.Severity, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(word), " "))
	if sev, ok := g.keywords[key]; ok {
		return sev, true
	}
	return diag.SevInfo, false
}

// number converts a captured decimal; values that do not fit are treated as absent.
func number(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	v, err := safecast.Conv[int](n)
	if err != nil {
		return 0
	}
	return v
}
