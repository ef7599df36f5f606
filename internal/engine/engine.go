// Package engine resolves the toolchain for a source file, runs it and turns
// its output into a diagnostic set.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"crbs/internal/diag"
	"crbs/internal/diagparse"
	"crbs/internal/logging"
	"crbs/internal/observ"
	"crbs/internal/pipeline"
	"crbs/internal/toolchain"
)

// Lookup is the read side of the registry.
type Lookup interface {
	Get(id string) (toolchain.Installed, bool)
	ResolveAssociation(ext string) (string, bool)
}

// Request describes one compilation.
type Request struct {
	// Source is the path of the file to compile.
	Source string
	// ToolchainID overrides the extension association when set.
	ToolchainID string
	// OutputLog, when set, receives the raw compiler output bytes.
	OutputLog string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option { return func(e *Engine) { e.runner = r } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = logging.OrDiscard(l) } }

// WithProgress routes compile and parse events to sink.
func WithProgress(sink pipeline.ProgressSink) Option {
	return func(e *Engine) { e.progress = sink }
}

// Engine compiles files. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	lookup   Lookup
	cfg      Config
	runner   Runner
	logger   *log.Logger
	progress pipeline.ProgressSink
}

// New returns an Engine reading installed toolchains from lookup.
func New(lookup Lookup, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		lookup:   lookup,
		cfg:      cfg,
		runner:   ExecRunner{},
		logger:   logging.Discard(),
		progress: pipeline.NopSink{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Resolve picks the toolchain id for req: the override first, then the
// association of the source extension.
func (e *Engine) Resolve(req Request) (string, error) {
	if req.ToolchainID != "" {
		return req.ToolchainID, nil
	}
	ext := toolchain.ExtensionOf(req.Source)
	if ext != "" {
		if id, ok := e.lookup.ResolveAssociation(ext); ok {
			return id, nil
		}
	}
	return "", &toolchain.NoToolchainResolvedError{Path: req.Source, Extension: ext}
}

// Compile runs the resolved toolchain on req.Source.
//
// Resolution and spawn failures return a nil set. A failure to write the
// output log is returned together with the complete set.
func (e *Engine) Compile(ctx context.Context, req Request) (*diag.Set, error) {
	timer := observ.NewTimer()
	idx := timer.Begin("resolve")
	id, err := e.Resolve(req)
	if err != nil {
		return nil, err
	}
	inst, ok := e.lookup.Get(id)
	if !ok {
		return nil, &toolchain.ToolchainNotInstalledError{ID: id}
	}
	source, err := filepath.Abs(req.Source)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", req.Source, err)
	}
	if inst.Path, err = filepath.Abs(inst.Path); err != nil {
		return nil, fmt.Errorf("resolve toolchain path: %w", err)
	}
	logFile, cleanup, err := e.compilerLog(inst)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	inv, err := Plan(inst, source, logFile, e.cfg)
	if err != nil {
		return nil, err
	}
	timer.End(idx, id)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := e.logger.With("toolchain", id, "source", req.Source)
	logger.Debug("running compiler", "cmd", inv.Command(), "native", inv.Native)

	idx = timer.Begin("run")
	done := pipeline.Step(e.progress, req.Source, pipeline.StageCompile)
	out, exitCode, err := e.runner.Run(ctx, inv)
	if err != nil {
		err = &toolchain.ProcessSpawnError{ID: id, Executable: inv.Program, Err: err}
		done(err)
		return nil, err
	}
	if logFile != "" {
		if out, err = appendCompilerLog(out, logFile); err != nil {
			logger.Warn("could not read compiler log", "path", logFile, "err", err)
		}
	}
	done(nil)
	timer.End(idx, fmt.Sprintf("exit %d", exitCode))

	idx = timer.Begin("parse")
	done = pipeline.Step(e.progress, req.Source, pipeline.StageParse)
	fam, famErr := diagparse.ParseFamily(inst.Family)
	if famErr != nil {
		logger.Warn("unknown family, using crbasic rules", "family", inst.Family)
	}
	text := decodeOutput(out)
	items := diagparse.Parse(text, fam)
	for i := range items {
		if items[i].File == "" {
			items[i].File = req.Source
		}
	}
	done(nil)
	timer.End(idx, fam.String())

	var logErr error
	if req.OutputLog != "" {
		if err := os.WriteFile(req.OutputLog, out, 0o644); err != nil {
			logErr = fmt.Errorf("write output log: %w", err)
			logger.Warn("could not write output log", "path", req.OutputLog, "err", err)
		}
	}

	set := diag.NewSet(diag.SetInput{
		Toolchain: id,
		Source:    req.Source,
		Items:     items,
		ExitCode:  exitCode,
		Raw:       text,
		Timings:   timer.Report(),
	})
	logger.Info("compiled", "exit", exitCode, "diagnostics", set.Len(), "ok", set.Success())
	return set, logErr
}

// compilerLog creates the file handed to the compiler through the log
// placeholder. It returns "" when the argument template has none.
func (e *Engine) compilerLog(inst toolchain.Installed) (string, func(), error) {
	if !inst.WritesLog() {
		return "", func() {}, nil
	}
	f, err := os.CreateTemp("", "crbs-"+inst.ID+"-*.log")
	if err != nil {
		return "", nil, fmt.Errorf("create compiler log: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", nil, fmt.Errorf("create compiler log: %w", err)
	}
	return name, func() { _ = os.Remove(name) }, nil
}

// appendCompilerLog appends the log file contents to the captured output.
func appendCompilerLog(out []byte, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return out, err
	}
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return append(out, data...), nil
}
