package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"crbs/internal/diag"
	"crbs/internal/engine"
)

type fakeCompiler struct {
	mu       sync.Mutex
	requests []engine.Request
	contents []string
	err      error
}

func (f *fakeCompiler) Compile(_ context.Context, req engine.Request) (*diag.Set, error) {
	data, _ := os.ReadFile(req.Source)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.contents = append(f.contents, string(data))
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return diag.NewSet(diag.SetInput{
		Toolchain: "cr1000x",
		Source:    req.Source,
		ExitCode:  1,
		Items: []diag.Diagnostic{
			{Severity: diag.SevError, File: req.Source, Line: 2, Column: 3, Message: "bad token in " + req.Source},
			{Severity: diag.SevWarning, Message: "program uses 90% of memory"},
			{Severity: diag.SevError, File: "/elsewhere/other.cr1x", Line: 1, Message: "not ours"},
		},
	}), nil
}

func (f *fakeCompiler) calls() ([]engine.Request, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Request(nil), f.requests...), append([]string(nil), f.contents...)
}

type harness struct {
	t    *testing.T
	in   *io.PipeWriter
	msgs chan rpcMessage
	done chan error

	once sync.Once
	err  error
}

func startServer(t *testing.T, compiler Compiler) *harness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	srv := NewServer(inR, outW, ServerOptions{
		Compiler: compiler,
		Debounce: 10 * time.Millisecond,
		TempDir:  t.TempDir(),
	})
	h := &harness{t: t, in: inW, msgs: make(chan rpcMessage, 64), done: make(chan error, 1)}
	go func() {
		err := srv.Run(context.Background())
		_ = inR.Close()
		_ = outW.Close()
		h.done <- err
	}()
	go func() {
		r := bufio.NewReader(outR)
		for {
			payload, err := readMessage(r)
			if err != nil {
				close(h.msgs)
				return
			}
			var m rpcMessage
			if json.Unmarshal(payload, &m) == nil {
				h.msgs <- m
			}
		}
	}()
	t.Cleanup(func() {
		_ = inW.Close()
		_ = h.wait()
	})
	return h
}

func (h *harness) wait() error {
	h.once.Do(func() {
		select {
		case h.err = <-h.done:
		case <-time.After(5 * time.Second):
			h.err = errors.New("server did not stop")
		}
	})
	return h.err
}

func (h *harness) send(id any, method string, params any) {
	h.t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "method": method}
	if id != nil {
		msg["id"] = id
	}
	if params != nil {
		msg["params"] = params
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.t.Fatalf("marshal: %v", err)
	}
	if err := writeMessage(h.in, payload); err != nil {
		h.t.Fatalf("write %s: %v", method, err)
	}
}

func (h *harness) next() rpcMessage {
	h.t.Helper()
	select {
	case m, ok := <-h.msgs:
		if !ok {
			h.t.Fatal("server output closed")
		}
		return m
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for server message")
	}
	return rpcMessage{}
}

func (h *harness) publish(uri string) publishDiagnosticsParams {
	h.t.Helper()
	for {
		m := h.next()
		if m.Method != "textDocument/publishDiagnostics" {
			continue
		}
		var p publishDiagnosticsParams
		if err := json.Unmarshal(m.Params, &p); err != nil {
			h.t.Fatalf("decode publish: %v", err)
		}
		if p.URI == uri {
			return p
		}
	}
}

func (h *harness) open(uri, text string, version int) {
	h.send(nil, "textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{"uri": uri, "languageId": "crbasic", "version": version, "text": text},
	})
}

func docPath(t *testing.T) (string, string) {
	path := filepath.Join(t.TempDir(), "logger.cr1x")
	return path, pathToURI(path)
}

func TestInitializeAdvertisesSync(t *testing.T) {
	h := startServer(t, &fakeCompiler{})
	h.send(1, "initialize", map[string]any{})
	m := h.next()
	if m.Error != nil {
		t.Fatalf("initialize failed: %+v", m.Error)
	}
	var res initializeResult
	if err := json.Unmarshal(m.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !res.Capabilities.TextDocumentSync.OpenClose || res.Capabilities.TextDocumentSync.Change != 2 {
		t.Fatalf("unexpected sync options: %+v", res.Capabilities.TextDocumentSync)
	}
	if res.ServerInfo.Name != "crbs" {
		t.Fatalf("server name = %q", res.ServerInfo.Name)
	}
}

func TestDidOpenPublishesMappedDiagnostics(t *testing.T) {
	fc := &fakeCompiler{}
	h := startServer(t, fc)
	path, uri := docPath(t)
	text := "Public Temp\nBeginProg\nEndProg\n"
	h.open(uri, text, 3)

	p := h.publish(uri)
	if p.Version == nil || *p.Version != 3 {
		t.Fatalf("version = %v, want 3", p.Version)
	}
	if len(p.Diagnostics) != 2 {
		t.Fatalf("expected diagnostics for this file only, got %+v", p.Diagnostics)
	}
	first := p.Diagnostics[0]
	if first.Range.Start != (position{Line: 1, Character: 2}) || first.Range.End != (position{Line: 1, Character: 9}) {
		t.Fatalf("unexpected range: %+v", first.Range)
	}
	if first.Severity != 1 || first.Source != "cr1000x" {
		t.Fatalf("unexpected severity/source: %+v", first)
	}
	if first.Message != "bad token in "+path {
		t.Fatalf("scratch path leaked into message: %q", first.Message)
	}
	second := p.Diagnostics[1]
	if second.Range.Start != (position{}) || second.Range.End != (position{Line: 0, Character: 11}) || second.Severity != 2 {
		t.Fatalf("unexpected file-level diagnostic: %+v", second)
	}

	reqs, contents := fc.calls()
	if len(reqs) != 1 || contents[0] != text {
		t.Fatalf("compiler saw %d calls, contents %q", len(reqs), contents)
	}
	if filepath.Base(reqs[0].Source) != "logger.cr1x" || reqs[0].Source == path {
		t.Fatalf("expected scratch copy with the same name, got %q", reqs[0].Source)
	}
	if _, err := os.Stat(filepath.Dir(reqs[0].Source)); !os.IsNotExist(err) {
		t.Fatalf("scratch directory not removed: %v", err)
	}
}

func TestDidChangeCompilesEditedBuffer(t *testing.T) {
	fc := &fakeCompiler{}
	h := startServer(t, fc)
	_, uri := docPath(t)
	h.open(uri, "BeginProg\n", 1)
	h.publish(uri)
	h.send(nil, "textDocument/didChange", map[string]any{
		"textDocument": map[string]any{"uri": uri, "version": 2},
		"contentChanges": []map[string]any{{
			"range": map[string]any{"start": map[string]any{"line": 1, "character": 0}, "end": map[string]any{"line": 1, "character": 0}},
			"text":  "EndProg\n",
		}},
	})
	p := h.publish(uri)
	if p.Version == nil || *p.Version != 2 {
		t.Fatalf("version = %v, want 2", p.Version)
	}
	_, contents := fc.calls()
	if got := contents[len(contents)-1]; got != "BeginProg\nEndProg\n" {
		t.Fatalf("compiled %q", got)
	}
}

func TestDidSaveRecompilesUnchangedVersion(t *testing.T) {
	fc := &fakeCompiler{}
	h := startServer(t, fc)
	_, uri := docPath(t)
	h.open(uri, "BeginProg\n", 4)
	h.publish(uri)
	h.send(nil, "textDocument/didSave", map[string]any{"textDocument": map[string]any{"uri": uri}})
	p := h.publish(uri)
	if p.Version == nil || *p.Version != 4 {
		t.Fatalf("version = %v, want 4", p.Version)
	}
	if reqs, _ := fc.calls(); len(reqs) != 2 {
		t.Fatalf("expected a second compile after save, got %d", len(reqs))
	}
}

func TestDidCloseClearsDiagnostics(t *testing.T) {
	h := startServer(t, &fakeCompiler{})
	_, uri := docPath(t)
	h.open(uri, "BeginProg\n", 1)
	if p := h.publish(uri); len(p.Diagnostics) == 0 {
		t.Fatal("expected diagnostics before close")
	}
	h.send(nil, "textDocument/didClose", map[string]any{"textDocument": map[string]any{"uri": uri}})
	p := h.publish(uri)
	if len(p.Diagnostics) != 0 || p.Version != nil {
		t.Fatalf("expected cleared diagnostics, got %+v", p)
	}
}

func TestCompileErrorBecomesFileDiagnostic(t *testing.T) {
	fc := &fakeCompiler{err: errors.New("no toolchain associated with .cr1x")}
	h := startServer(t, fc)
	_, uri := docPath(t)
	h.open(uri, "BeginProg\n", 1)
	p := h.publish(uri)
	if len(p.Diagnostics) != 1 {
		t.Fatalf("expected one diagnostic, got %+v", p.Diagnostics)
	}
	d := p.Diagnostics[0]
	if d.Severity != 1 || d.Source != diagnosticSource || !strings.Contains(d.Message, "no toolchain associated") {
		t.Fatalf("unexpected diagnostic: %+v", d)
	}
	if d.Range.Start != (position{}) {
		t.Fatalf("expected file-level range, got %+v", d.Range)
	}
}

func TestToolchainOverrideFromInitializationOptions(t *testing.T) {
	fc := &fakeCompiler{}
	h := startServer(t, fc)
	h.send(1, "initialize", map[string]any{"initializationOptions": map[string]any{"crbs": map[string]any{"toolchain": "cr300"}}})
	h.next()
	_, uri := docPath(t)
	h.open(uri, "BeginProg\n", 1)
	h.publish(uri)
	reqs, _ := fc.calls()
	if reqs[0].ToolchainID != "cr300" {
		t.Fatalf("override = %q, want cr300", reqs[0].ToolchainID)
	}

	h.send(nil, "workspace/didChangeConfiguration", map[string]any{"settings": map[string]any{"toolchain": ""}})
	h.send(nil, "textDocument/didSave", map[string]any{"textDocument": map[string]any{"uri": uri}})
	h.publish(uri)
	reqs, _ = fc.calls()
	if got := reqs[len(reqs)-1].ToolchainID; got != "" {
		t.Fatalf("override not cleared: %q", got)
	}
}

func TestUnknownRequestReturnsMethodNotFound(t *testing.T) {
	h := startServer(t, &fakeCompiler{})
	h.send(7, "textDocument/hover", map[string]any{})
	m := h.next()
	if m.Error == nil || m.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", m)
	}
	if string(m.ID) != "7" {
		t.Fatalf("id = %s", m.ID)
	}
}

func TestShutdownThenExit(t *testing.T) {
	h := startServer(t, &fakeCompiler{})
	h.send(2, "shutdown", nil)
	if m := h.next(); m.Error != nil || string(m.ID) != "2" {
		t.Fatalf("unexpected shutdown response: %+v", m)
	}
	h.send(3, "initialize", map[string]any{})
	if m := h.next(); m.Error == nil || m.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request after shutdown, got %+v", m)
	}
	h.send(nil, "exit", nil)
	if err := h.wait(); !errors.Is(err, ErrExit) {
		t.Fatalf("expected ErrExit, got %v", err)
	}
}

func TestExitWithoutShutdown(t *testing.T) {
	h := startServer(t, &fakeCompiler{})
	h.send(nil, "exit", nil)
	if err := h.wait(); !errors.Is(err, ErrExitWithoutShutdown) {
		t.Fatalf("expected ErrExitWithoutShutdown, got %v", err)
	}
}
