// Package pipeline describes progress events emitted by installs and compiles.
package pipeline

import "time"

// Stage describes a high-level phase of an install or compile.
type Stage string

const (
	// StageResolve is manifest or toolchain resolution.
	StageResolve Stage = "resolve"
	// StageDownload is the archive download.
	StageDownload Stage = "download"
	// StageVerify is the checksum comparison.
	StageVerify Stage = "verify"
	// StageExtract unpacks the archive into staging.
	StageExtract Stage = "extract"
	// StageRegister swaps the payload in and records it.
	StageRegister Stage = "register"
	// StageCompile runs the compiler process.
	StageCompile Stage = "compile"
	// StageParse turns compiler output into diagnostics.
	StageParse Stage = "parse"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the task is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the task is currently working.
	StatusWorking Status = "working"
	// StatusDone indicates the task is done.
	StatusDone Status = "done"
	// StatusError indicates the task encountered an error.
	StatusError Status = "error"
)

// Event reports progress for one subject: a toolchain id while installing,
// a source path while compiling. An empty Subject addresses the whole run.
type Event struct {
	Subject string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// Emit sends evt to sink, ignoring nil sinks.
func Emit(sink ProgressSink, evt Event) {
	if sink == nil {
		return
	}
	sink.OnEvent(evt)
}

// Step reports the start of stage and returns a func that reports its end.
// The returned func records err (if any) and the elapsed time.
func Step(sink ProgressSink, subject string, stage Stage) func(err error) {
	start := time.Now()
	Emit(sink, Event{Subject: subject, Stage: stage, Status: StatusWorking})
	return func(err error) {
		status := StatusDone
		if err != nil {
			status = StatusError
		}
		Emit(sink, Event{Subject: subject, Stage: stage, Status: status, Err: err, Elapsed: time.Since(start)})
	}
}

// Queue reports every subject as queued for stage.
func Queue(sink ProgressSink, stage Stage, subjects ...string) {
	for _, s := range subjects {
		Emit(sink, Event{Subject: s, Stage: stage, Status: StatusQueued})
	}
}
