// Package lsp serves CRBasic diagnostics to editors over stdio JSON-RPC.
// Every open document is compiled in the background by the real toolchain
// and the resulting diagnostics are published back to the client.
package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"fortio.org/safecast"
	"github.com/charmbracelet/log"

	"crbs/internal/diag"
	"crbs/internal/engine"
	"crbs/internal/logging"
	"crbs/internal/scheduler"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("lsp exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("lsp exit without shutdown")
)

// diagnosticSource labels diagnostics that come from crbs itself rather than
// from a compiler.
const diagnosticSource = "crbs"

// Compiler compiles one file on disk.
type Compiler interface {
	Compile(ctx context.Context, req engine.Request) (*diag.Set, error)
}

// ServerOptions configures LSP server behavior.
type ServerOptions struct {
	Compiler Compiler
	Debounce time.Duration
	Workers  int
	Logger   *log.Logger
	// TempDir is the parent of per-compile scratch directories; "" uses os.TempDir.
	TempDir string
	Version string
}

type document struct {
	path    string
	text    string
	version int
	// pending maps scheduler revisions to the client version they carry.
	pending map[int64]int
}

// Server handles stdio JSON-RPC for the crbs language server.
type Server struct {
	in     *bufio.Reader
	out    *bufio.Writer
	sendMu sync.Mutex

	compiler Compiler
	sched    *scheduler.Scheduler
	logger   *log.Logger
	tempDir  string
	version  string

	mu                sync.Mutex
	docs              map[string]*document
	revision          int64
	shutdownRequested bool
	toolchain         string
	trace             bool
}

// NewServer constructs a new LSP server.
func NewServer(in io.Reader, out io.Writer, opts ServerOptions) *Server {
	s := &Server{
		in:       bufio.NewReader(in),
		out:      bufio.NewWriter(out),
		compiler: opts.Compiler,
		logger:   logging.OrDiscard(opts.Logger),
		tempDir:  opts.TempDir,
		version:  opts.Version,
		docs:     make(map[string]*document),
	}
	s.sched = scheduler.New(s.compileDocument, s, scheduler.Options{
		Debounce: opts.Debounce,
		Workers:  opts.Workers,
		Logger:   s.logger,
	})
	return s
}

// Run serves LSP requests until exit, EOF or ctx cancellation.
func (s *Server) Run(ctx context.Context) error {
	defer s.sched.Shutdown()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Warn("failed to parse message", "err", err)
			if sendErr := s.sendError(nil, codeParseError, "parse error"); sendErr != nil {
				return sendErr
			}
			continue
		}
		if msg.Method == "" {
			continue
		}
		if err := s.handleMessage(&msg); err != nil {
			return err
		}
	}
}

func (s *Server) handleMessage(msg *rpcMessage) error {
	s.mu.Lock()
	trace := s.trace
	stopping := s.shutdownRequested
	s.mu.Unlock()
	if trace {
		s.logger.Info("lsp message", "method", msg.Method)
	}
	if stopping && msg.Method != "exit" {
		if len(msg.ID) > 0 {
			return s.sendError(msg.ID, codeInvalidRequest, "server is shutting down")
		}
		return nil
	}

	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return nil
	case "shutdown":
		return s.handleShutdown(msg)
	case "exit":
		if stopping {
			return ErrExit
		}
		return ErrExitWithoutShutdown
	case "workspace/didChangeConfiguration":
		return s.handleDidChangeConfiguration(msg)
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return s.handleDidSave(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	default:
		if len(msg.ID) > 0 {
			return s.sendError(msg.ID, codeMethodNotFound, "method not found")
		}
		return nil
	}
}

func (s *Server) handleInitialize(msg *rpcMessage) error {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.sendError(msg.ID, codeInvalidParams, "invalid params")
		}
	}
	s.applySettings(params.InitializationOptions)
	result := initializeResult{
		Capabilities: serverCapabilities{
			TextDocumentSync: textDocumentSyncOptions{
				OpenClose: true,
				Change:    2,
				Save:      saveOptions{IncludeText: true},
			},
		},
		ServerInfo: serverInfo{Name: "crbs", Version: s.version},
	}
	return s.sendResponse(msg.ID, result)
}

func (s *Server) handleShutdown(msg *rpcMessage) error {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	s.sched.Shutdown()
	return s.sendResponse(msg.ID, nil)
}

func (s *Server) handleDidOpen(msg *rpcMessage) error {
	var params didOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.mu.Lock()
	doc := &document{
		path:    uriToPath(uri),
		text:    params.TextDocument.Text,
		version: params.TextDocument.Version,
		pending: make(map[int64]int),
	}
	s.docs[uri] = doc
	rev := s.bumpLocked(doc)
	s.mu.Unlock()
	s.sched.Update(uri, rev, doc.text)
	return nil
}

func (s *Server) handleDidChange(msg *rpcMessage) error {
	var params didChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.mu.Lock()
	doc, ok := s.docs[uri]
	if !ok {
		doc = &document{path: uriToPath(uri), pending: make(map[int64]int)}
		s.docs[uri] = doc
	}
	doc.text = applyChanges(doc.text, params.ContentChanges)
	doc.version = params.TextDocument.Version
	rev := s.bumpLocked(doc)
	text := doc.text
	s.mu.Unlock()
	s.sched.Update(uri, rev, text)
	return nil
}

func (s *Server) handleDidSave(msg *rpcMessage) error {
	var params didSaveTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.mu.Lock()
	doc, ok := s.docs[uri]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if params.Text != nil {
		doc.text = *params.Text
	}
	rev := s.bumpLocked(doc)
	text := doc.text
	s.mu.Unlock()
	s.sched.Update(uri, rev, text)
	return nil
}

func (s *Server) handleDidClose(msg *rpcMessage) error {
	var params didCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	uri := canonicalURI(params.TextDocument.URI)
	if uri == "" {
		return nil
	}
	s.sched.Close(uri)
	// Clearing under s.mu orders it after any publish already under way.
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[uri]; !ok {
		return nil
	}
	delete(s.docs, uri)
	if err := s.sendPublish(uri, nil, nil); err != nil {
		s.logger.Warn("failed to clear diagnostics", "uri", uri, "err", err)
	}
	return nil
}

// bumpLocked assigns the next revision to doc. Revisions are server-wide and
// strictly increasing, so a save without edits still yields a newer one.
func (s *Server) bumpLocked(doc *document) int64 {
	s.revision++
	doc.pending[s.revision] = doc.version
	return s.revision
}

// compileDocument writes the buffer to a scratch directory under its own file
// name, so extension associations apply, and compiles it.
func (s *Server) compileDocument(ctx context.Context, doc scheduler.Document) *diag.Set {
	path := uriToPath(doc.URI)
	if path == "" {
		return failureSet(doc.URI, fmt.Errorf("unsupported document URI %q", doc.URI))
	}
	if s.compiler == nil {
		return failureSet(path, errors.New("no compiler configured"))
	}
	s.mu.Lock()
	override := s.toolchain
	s.mu.Unlock()

	dir, err := os.MkdirTemp(s.tempDir, "crbs-lsp-")
	if err != nil {
		return failureSet(path, fmt.Errorf("create scratch directory: %w", err))
	}
	defer os.RemoveAll(dir)
	scratch := filepath.Join(dir, filepath.Base(path))
	if err := os.WriteFile(scratch, []byte(doc.Content), 0o644); err != nil {
		return failureSet(path, fmt.Errorf("write scratch copy: %w", err))
	}

	set, err := s.compiler.Compile(ctx, engine.Request{Source: scratch, ToolchainID: override})
	if err != nil {
		s.logger.Debug("compile failed", "uri", doc.URI, "err", err)
		if set == nil {
			return failureSet(path, err)
		}
	}
	return remap(set, scratch, path)
}

// failureSet turns an invocation error into a single file-level diagnostic.
func failureSet(path string, err error) *diag.Set {
	return diag.NewSet(diag.SetInput{
		Source:   path,
		ExitCode: -1,
		Items: []diag.Diagnostic{{
			Severity: diag.SevError,
			File:     path,
			Message:  err.Error(),
		}},
	})
}

// remap rewrites references to the scratch copy back to the document path.
func remap(set *diag.Set, scratch, path string) *diag.Set {
	items := set.Items()
	for i := range items {
		if items[i].File == scratch {
			items[i].File = path
		}
		items[i].Message = strings.ReplaceAll(items[i].Message, scratch, path)
	}
	return diag.NewSet(diag.SetInput{
		Toolchain: set.Toolchain(),
		Source:    path,
		Items:     items,
		ExitCode:  set.ExitCode(),
		Raw:       strings.ReplaceAll(set.Raw(), scratch, path),
		Timings:   set.Timings(),
	})
}

// Publish implements scheduler.Publisher.
func (s *Server) Publish(_ context.Context, uri string, set *diag.Set, revision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	if !ok {
		return nil
	}
	version, known := doc.pending[revision]
	for r := range doc.pending {
		if r <= revision {
			delete(doc.pending, r)
		}
	}
	var vp *int
	if known {
		vp = &version
	}
	return s.sendPublish(uri, vp, toLSPDiagnostics(set, doc.path, doc.text))
}

func toLSPDiagnostics(set *diag.Set, path, text string) []lspDiagnostic {
	source := diagnosticSource
	if set.Toolchain() != "" {
		source = set.Toolchain()
	}
	items := set.Items()
	out := make([]lspDiagnostic, 0, len(items))
	for _, d := range items {
		if !belongsTo(d.File, path) {
			continue
		}
		line := zeroBased(d.Line)
		out = append(out, lspDiagnostic{
			Range: lspRange{
				Start: position{Line: line, Character: zeroBased(d.Column)},
				End:   position{Line: line, Character: lineLength(text, line)},
			},
			Severity: d.Severity.LSP(),
			Source:   source,
			Message:  d.Message,
		})
	}
	return out
}

func belongsTo(file, path string) bool {
	if file == "" || file == path {
		return true
	}
	return !filepath.IsAbs(file) && filepath.Base(file) == filepath.Base(path)
}

// zeroBased converts a 1-based compiler position; 0 (absent) stays 0.
func zeroBased(n int) uint32 {
	if n <= 0 {
		return 0
	}
	v, err := safecast.Conv[uint32](n - 1)
	if err != nil {
		return 0
	}
	return v
}

// lineLength returns the UTF-16 length of line in text, or 0 past the end.
func lineLength(text string, line uint32) uint32 {
	start := byteOffset(text, position{Line: line})
	var units uint32
	for i := start; i < len(text) && text[i] != '\n' && text[i] != '\r'; {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r > 0xFFFF {
			units += 2
		} else {
			units++
		}
		i += size
	}
	return units
}

func (s *Server) sendResponse(id json.RawMessage, result any) error {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
	return s.send(msg)
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	var rawID any = id
	if len(id) == 0 {
		rawID = nil
	}
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      rawID,
		"error":   rpcError{Code: code, Message: message},
	}
	return s.send(msg)
}

func (s *Server) sendPublish(uri string, version *int, list []lspDiagnostic) error {
	if list == nil {
		list = []lspDiagnostic{}
	}
	msg := map[string]any{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params": publishDiagnosticsParams{
			URI:         uri,
			Version:     version,
			Diagnostics: list,
		},
	}
	return s.send(msg)
}

func (s *Server) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeMessage(s.out, payload); err != nil {
		return err
	}
	return s.out.Flush()
}
