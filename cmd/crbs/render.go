package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"crbs/internal/diag"
	"crbs/internal/observ"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	okColor      = color.New(color.FgGreen, color.Bold)
	dimColor     = color.New(color.Faint)
)

// compileResult is the outcome of one file of a compile run.
type compileResult struct {
	path string
	set  *diag.Set
	err  error
	// logErr is set when the output log could not be written; set is still valid.
	logErr error
}

func (r compileResult) failed() bool {
	return r.err == nil && !r.set.Success()
}

func severityLabel(sev diag.Severity) string {
	word := strings.ToLower(sev.String())
	switch sev {
	case diag.SevError:
		return errorColor.Sprint(word)
	case diag.SevWarning:
		return warningColor.Sprint(word)
	default:
		return infoColor.Sprint(word)
	}
}

func location(d diag.Diagnostic, fallback string) string {
	file := d.File
	if file == "" {
		file = fallback
	}
	if d.Line <= 0 {
		return file
	}
	if d.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", file, d.Line, d.Column)
	}
	return fmt.Sprintf("%s:%d", file, d.Line)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func renderPretty(w io.Writer, r compileResult, showTimings bool) {
	if r.err != nil {
		fmt.Fprintf(w, "%s %s: %v\n", errorColor.Sprint("✗"), r.path, r.err)
		return
	}
	set := r.set
	for _, d := range set.Items() {
		fmt.Fprintf(w, "%s: %s: %s\n", location(d, r.path), severityLabel(d.Severity), d.Message)
	}
	counts := fmt.Sprintf("%s, %s", plural(set.Count(diag.SevError), "error"), plural(set.Count(diag.SevWarning), "warning"))
	if set.Success() {
		fmt.Fprintf(w, "%s %s compiled with %s (%s)\n", okColor.Sprint("✓"), r.path, set.Toolchain(), counts)
	} else {
		fmt.Fprintf(w, "%s %s failed with %s (%s, exit code %d)\n", errorColor.Sprint("✗"), r.path, set.Toolchain(), counts, set.ExitCode())
		if set.Len() == 0 && strings.TrimSpace(set.Raw()) != "" {
			fmt.Fprintln(w, dimColor.Sprint("raw compiler output:"))
			for line := range strings.SplitSeq(strings.TrimRight(set.Raw(), "\r\n"), "\n") {
				fmt.Fprintf(w, "  %s\n", strings.TrimSuffix(line, "\r"))
			}
		}
	}
	if r.logErr != nil {
		fmt.Fprintf(w, "%s could not write output log: %v\n", warningColor.Sprint("!"), r.logErr)
	}
	if showTimings {
		fmt.Fprint(w, dimColor.Sprint(set.Timings().Summary()))
	}
}

type jsonResult struct {
	File        string            `json:"file"`
	Toolchain   string            `json:"toolchain,omitempty"`
	Success     bool              `json:"success"`
	ExitCode    *int              `json:"exit_code,omitempty"`
	Error       string            `json:"error,omitempty"`
	LogError    string            `json:"log_error,omitempty"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
	Timings     *observ.Report    `json:"timings,omitempty"`
}

func renderJSON(w io.Writer, results []compileResult, showTimings bool) error {
	out := make([]jsonResult, 0, len(results))
	for _, r := range results {
		jr := jsonResult{File: r.path, Diagnostics: []diag.Diagnostic{}}
		if r.err != nil {
			jr.Error = r.err.Error()
			out = append(out, jr)
			continue
		}
		code := r.set.ExitCode()
		jr.Toolchain = r.set.Toolchain()
		jr.Success = r.set.Success()
		jr.ExitCode = &code
		if items := r.set.Items(); len(items) > 0 {
			jr.Diagnostics = items
		}
		if r.logErr != nil {
			jr.LogError = r.logErr.Error()
		}
		if showTimings {
			report := r.set.Timings()
			jr.Timings = &report
		}
		out = append(out, jr)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// table renders rows with display-width aware padding.
func table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	writeRow := func(cells []string, style *color.Color) {
		var b strings.Builder
		for i, cell := range cells {
			if i == len(cells)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]+2))
		}
		line := strings.TrimRight(b.String(), " ")
		if style != nil {
			line = style.Sprint(line)
		}
		fmt.Fprintf(w, "  %s\n", line)
	}
	writeRow(header, dimColor)
	for _, row := range rows {
		writeRow(row, nil)
	}
}
