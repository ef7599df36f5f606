package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crbs/internal/diag"
)

type publication struct {
	uri      string
	revision int64
	set      *diag.Set
}

type recordingPublisher struct {
	mu   sync.Mutex
	pubs []publication
	ch   chan publication
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{ch: make(chan publication, 64)}
}

func (p *recordingPublisher) Publish(_ context.Context, uri string, set *diag.Set, revision int64) error {
	pub := publication{uri: uri, revision: revision, set: set}
	p.mu.Lock()
	p.pubs = append(p.pubs, pub)
	p.mu.Unlock()
	p.ch <- pub
	return nil
}

func (p *recordingPublisher) all() []publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publication(nil), p.pubs...)
}

func (p *recordingPublisher) wait(t *testing.T) publication {
	t.Helper()
	select {
	case pub := <-p.ch:
		return pub
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for publication")
		return publication{}
	}
}

func setFor(doc Document) *diag.Set {
	return diag.NewSet(diag.SetInput{Source: doc.URI, Raw: doc.Content})
}

const quiet = 20 * time.Millisecond

func TestEditsWithinDebounceCompileOnce(t *testing.T) {
	var calls atomic.Int32
	var compiledRev atomic.Int64
	pub := newRecordingPublisher()
	s := New(func(_ context.Context, doc Document) *diag.Set {
		calls.Add(1)
		compiledRev.Store(doc.Revision)
		return setFor(doc)
	}, pub, Options{Debounce: quiet})
	defer s.Shutdown()

	s.Update("file:///a.cr1x", 1, "first")
	s.Update("file:///a.cr1x", 2, "second")
	got := pub.wait(t)
	if got.revision != 2 || got.set.Raw() != "second" {
		t.Fatalf("published %+v, want revision 2", got)
	}
	time.Sleep(5 * quiet)
	if calls.Load() != 1 || compiledRev.Load() != 2 {
		t.Fatalf("compiles=%d last=%d, want one compile of revision 2", calls.Load(), compiledRev.Load())
	}
	if len(pub.all()) != 1 {
		t.Fatalf("expected a single publication, got %d", len(pub.all()))
	}
	if rev, _, ok := s.Published("file:///a.cr1x"); !ok || rev != 2 {
		t.Fatalf("Published = %d %v", rev, ok)
	}
}

func TestEditDuringCompileDropsStaleResult(t *testing.T) {
	started := make(chan int64, 4)
	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32
	pub := newRecordingPublisher()
	s := New(func(_ context.Context, doc Document) *diag.Set {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		started <- doc.Revision
		if doc.Revision == 1 {
			<-release
		}
		inFlight.Add(-1)
		return setFor(doc)
	}, pub, Options{Debounce: quiet})
	defer s.Shutdown()

	const uri = "file:///b.cr1x"
	s.Update(uri, 1, "v1")
	if rev := <-started; rev != 1 {
		t.Fatalf("first compile revision %d", rev)
	}
	if st := s.State(uri); st != Compiling {
		t.Fatalf("state = %s, want compiling", st)
	}
	s.Update(uri, 2, "v2")
	if st := s.State(uri); st != Scheduled {
		t.Fatalf("state after edit during compile = %s, want scheduled", st)
	}
	time.Sleep(3 * quiet)
	if st := s.State(uri); st != Scheduled {
		t.Fatalf("state with rerun queued = %s, want scheduled", st)
	}
	close(release)

	if rev := <-started; rev != 2 {
		t.Fatalf("rerun compiled revision %d", rev)
	}
	got := pub.wait(t)
	if got.revision != 2 {
		t.Fatalf("published revision %d, want 2", got.revision)
	}
	time.Sleep(3 * quiet)
	for _, p := range pub.all() {
		if p.revision == 1 {
			t.Fatal("stale revision 1 was published")
		}
	}
	if maxInFlight.Load() != 1 {
		t.Fatalf("%d compiles of one document ran at once", maxInFlight.Load())
	}
	if st := s.State(uri); st != Idle {
		t.Fatalf("state = %s, want idle", st)
	}
}

func TestCloseDuringCompilePublishesNothing(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	pub := newRecordingPublisher()
	s := New(func(_ context.Context, doc Document) *diag.Set {
		close(started)
		<-release
		return setFor(doc)
	}, pub, Options{Debounce: quiet})

	s.Update("file:///c.cr1x", 1, "x")
	<-started
	s.Close("file:///c.cr1x")
	close(release)
	s.Shutdown()
	if n := len(pub.all()); n != 0 {
		t.Fatalf("expected no publication after close, got %d", n)
	}
}

func TestWorkerBoundAcrossDocuments(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	pub := newRecordingPublisher()
	s := New(func(_ context.Context, doc Document) *diag.Set {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(quiet)
		inFlight.Add(-1)
		return setFor(doc)
	}, pub, Options{Debounce: time.Millisecond, Workers: 2})
	defer s.Shutdown()

	uris := []string{"file:///1.cr1x", "file:///2.cr1x", "file:///3.cr1x", "file:///4.cr1x", "file:///5.cr1x"}
	for _, uri := range uris {
		s.Update(uri, 1, uri)
	}
	seen := map[string]bool{}
	for range uris {
		seen[pub.wait(t).uri] = true
	}
	if len(seen) != len(uris) {
		t.Fatalf("published %d documents, want %d", len(seen), len(uris))
	}
	if maxInFlight.Load() > 2 {
		t.Fatalf("%d compiles ran concurrently with 2 workers", maxInFlight.Load())
	}
}

func TestOutOfOrderRevisionIgnored(t *testing.T) {
	pub := newRecordingPublisher()
	s := New(func(_ context.Context, doc Document) *diag.Set { return setFor(doc) }, pub, Options{Debounce: quiet})
	defer s.Shutdown()

	s.Update("file:///d.cr1x", 5, "new")
	s.Update("file:///d.cr1x", 3, "old")
	if st := s.State("file:///d.cr1x"); st != Scheduled {
		t.Fatalf("state = %s, want scheduled", st)
	}
	got := pub.wait(t)
	if got.revision != 5 || got.set.Raw() != "new" {
		t.Fatalf("published %+v", got)
	}
}

func TestUpdateAfterShutdownIsIgnored(t *testing.T) {
	pub := newRecordingPublisher()
	s := New(func(_ context.Context, doc Document) *diag.Set { return setFor(doc) }, pub, Options{Debounce: time.Millisecond})
	s.Shutdown()
	s.Update("file:///e.cr1x", 1, "x")
	time.Sleep(5 * time.Millisecond)
	if len(pub.all()) != 0 || s.State("file:///e.cr1x") != Idle {
		t.Fatal("scheduler accepted work after shutdown")
	}
}
