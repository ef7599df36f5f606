// Package scheduler debounces document edits and runs background compiles,
// publishing only results that still describe the latest revision.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"crbs/internal/diag"
	"crbs/internal/logging"
)

// DefaultDebounce is the quiet period after an edit before a compile starts.
const DefaultDebounce = 300 * time.Millisecond

// DefaultWorkers bounds concurrent compiles across all documents.
const DefaultWorkers = 4

// Document is an immutable snapshot of an open editor buffer.
type Document struct {
	URI      string
	Revision int64
	Content  string
}

// CompileFunc compiles a document snapshot. It should report invocation
// failures as diagnostics inside the returned set.
type CompileFunc func(ctx context.Context, doc Document) *diag.Set

// Publisher delivers a result for uri to the editor.
type Publisher interface {
	Publish(ctx context.Context, uri string, set *diag.Set, revision int64) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, uri string, set *diag.Set, revision int64) error

func (f PublisherFunc) Publish(ctx context.Context, uri string, set *diag.Set, revision int64) error {
	return f(ctx, uri, set, revision)
}

// State is the lifecycle position of one document session.
type State uint8

const (
	Idle State = iota
	Scheduled
	Compiling
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Compiling:
		return "compiling"
	default:
		return "idle"
	}
}

// Options configures a Scheduler.
type Options struct {
	Debounce time.Duration
	Workers  int
	Logger   *log.Logger
}

// Scheduler owns one session per open document. Sessions never share locks;
// the session map lock is held only for lookups.
type Scheduler struct {
	compile  CompileFunc
	pub      Publisher
	debounce time.Duration
	sem      *semaphore.Weighted
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	stopped  bool
}

type session struct {
	mu sync.Mutex

	uri     string
	state   State
	latest  int64
	content string
	closed  bool

	timer *time.Timer
	gen   uint64

	inflight bool
	rerun    bool

	hasPublished bool
	published    int64
	lastSet      *diag.Set
}

// New returns a running Scheduler.
func New(compile CompileFunc, pub Publisher, opts Options) *Scheduler {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		compile:  compile,
		pub:      pub,
		debounce: opts.Debounce,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		logger:   logging.OrDiscard(opts.Logger),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Update records a new revision of uri and (re)starts its debounce timer.
// Revisions older than the latest known one are ignored.
func (s *Scheduler) Update(uri string, revision int64, content string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	sess, ok := s.sessions[uri]
	if !ok {
		sess = &session{uri: uri, latest: revision}
		s.sessions[uri] = sess
	}
	s.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	if ok && revision < sess.latest {
		s.logger.Debug("ignoring out-of-order revision", "uri", uri, "revision", revision, "latest", sess.latest)
		return
	}
	sess.latest = revision
	sess.content = content
	// A compile in flight is now stale; the pending revision is what State reports.
	sess.state = Scheduled
	s.armLocked(sess)
}

// Close forgets uri. A compile in flight finishes but its result is dropped.
func (s *Scheduler) Close(uri string) {
	s.mu.Lock()
	sess, ok := s.sessions[uri]
	delete(s.sessions, uri)
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.closeLocked()
	sess.mu.Unlock()
}

// Shutdown stops all timers, drops pending work and waits for compiles in
// flight to return. Processes already started are not killed.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.stopped = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		sess.closeLocked()
		sess.mu.Unlock()
	}
	s.cancel()
	s.wg.Wait()
}

// State reports the lifecycle state of uri; unknown documents are Idle.
func (s *Scheduler) State(uri string) State {
	sess := s.lookup(uri)
	if sess == nil {
		return Idle
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

// Published returns the last result delivered for uri.
func (s *Scheduler) Published(uri string) (int64, *diag.Set, bool) {
	sess := s.lookup(uri)
	if sess == nil {
		return 0, nil, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.published, sess.lastSet, sess.hasPublished
}

func (s *Scheduler) lookup(uri string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[uri]
}

func (sess *session) closeLocked() {
	sess.closed = true
	sess.gen++
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	if !sess.inflight {
		sess.state = Idle
	}
}

func (s *Scheduler) armLocked(sess *session) {
	if sess.timer != nil {
		sess.timer.Stop()
	}
	sess.gen++
	gen := sess.gen
	sess.timer = time.AfterFunc(s.debounce, func() { s.fire(sess, gen) })
}

func (s *Scheduler) fire(sess *session, gen uint64) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed || gen != sess.gen {
		return
	}
	sess.timer = nil
	if sess.inflight {
		sess.rerun = true
		return
	}
	s.startLocked(sess)
}

func (s *Scheduler) startLocked(sess *session) {
	sess.inflight = true
	sess.rerun = false
	sess.state = Compiling
	doc := Document{URI: sess.uri, Revision: sess.latest, Content: sess.content}
	s.wg.Add(1)
	go s.run(sess, doc)
}

func (s *Scheduler) run(sess *session, doc Document) {
	defer s.wg.Done()
	logger := s.logger.With("uri", doc.URI, "revision", doc.Revision)

	var set *diag.Set
	compiled := false
	if err := s.sem.Acquire(s.ctx, 1); err == nil {
		start := time.Now()
		set = s.compile(s.ctx, doc)
		s.sem.Release(1)
		compiled = true
		logger.Debug("background compile finished", "elapsed", time.Since(start))
	}

	sess.mu.Lock()
	publish := compiled && !sess.closed && doc.Revision == sess.latest &&
		(!sess.hasPublished || doc.Revision > sess.published)
	if publish {
		sess.hasPublished = true
		sess.published = doc.Revision
		sess.lastSet = set
	} else if compiled {
		logger.Debug("dropping stale result", "latest", sess.latest, "closed", sess.closed)
	}
	sess.mu.Unlock()

	// inflight stays set until delivery returns so a newer result can never
	// overtake this one.
	if publish {
		if err := s.pub.Publish(s.ctx, doc.URI, set, doc.Revision); err != nil {
			logger.Warn("publish failed", "err", err)
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.inflight = false
	switch {
	case sess.closed:
		sess.state = Idle
	case sess.rerun && sess.timer == nil:
		s.startLocked(sess)
	case sess.timer != nil:
		sess.state = Scheduled
	default:
		sess.state = Idle
	}
}
