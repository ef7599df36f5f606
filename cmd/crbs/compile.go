package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"crbs/internal/engine"
	"crbs/internal/pipeline"
	"crbs/internal/ui"
)

var compileCmd = &cobra.Command{
	Use:   "compile [flags] <file>...",
	Short: "Compile CRBasic programs with the installed toolchains",
	Long: `Compile each file with the toolchain associated with its extension, or with
--compiler when given. Exits 1 when any compilation fails and 2 when a compiler
could not be resolved or started.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringP("compiler", "c", "", "toolchain id to use (overrides extension associations)")
	compileCmd.Flags().String("output-log", "", "write the raw compiler output to this file (single input only)")
	compileCmd.Flags().String("format", "pretty", "output format (pretty|json)")
	compileCmd.Flags().Int("jobs", 0, "max parallel compilations (0=auto)")
}

func runCompile(cmd *cobra.Command, args []string) error {
	compilerID, err := cmd.Flags().GetString("compiler")
	if err != nil {
		return err
	}
	outputLog, err := cmd.Flags().GetString("output-log")
	if err != nil {
		return err
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "pretty" && format != "json" {
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
	if outputLog != "" && len(args) > 1 {
		return errors.New("--output-log accepts a single input file")
	}
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	reg, err := a.openRegistry()
	if err != nil {
		return err
	}

	requests := make([]engine.Request, len(args))
	for i, path := range args {
		if _, statErr := os.Stat(path); statErr != nil {
			return fmt.Errorf("cannot read %s: %w", path, statErr)
		}
		requests[i] = engine.Request{Source: path, ToolchainID: compilerID, OutputLog: outputLog}
	}

	results := make([]compileResult, len(requests))
	work := func(sink pipeline.ProgressSink) error {
		eng := a.engine(reg, sink)
		pipeline.Queue(sink, pipeline.StageCompile, args...)
		return compileAll(cmd.Context(), eng, requests, jobs, results)
	}
	if format == "pretty" && a.ui.live() {
		err = runWithUI("crbs compile", args, ui.CompileStages, work)
	} else {
		err = work(pipeline.NopSink{})
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		if err := renderJSON(out, results, a.timings); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			renderPretty(out, r, a.timings)
		}
	}
	return compileVerdict(results)
}

func compileAll(ctx context.Context, eng *engine.Engine, requests []engine.Request, jobs int, results []compileResult) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, req := range requests {
		g.Go(func() error {
			set, err := eng.Compile(ctx, req)
			res := compileResult{path: req.Source, set: set}
			if set != nil {
				res.logErr = err
			} else {
				res.err = err
			}
			results[i] = res
			return nil
		})
	}
	return g.Wait()
}

// compileVerdict maps results to an exit status: invocation errors beat
// failed compilations.
func compileVerdict(results []compileResult) error {
	code := exitOK
	for _, r := range results {
		switch {
		case r.err != nil:
			code = exitError
		case r.failed() && code == exitOK:
			code = exitCompileFail
		}
	}
	if code == exitOK {
		return nil
	}
	return &exitCodeError{code: code}
}
