package pipeline

import (
	"errors"
	"testing"
)

func TestStepReportsStartAndEnd(t *testing.T) {
	rec := &Recorder{}
	done := Step(rec, "cr1000x", StageDownload)
	done(nil)
	fail := Step(rec, "cr1000x", StageVerify)
	fail(errors.New("mismatch"))

	events := rec.Events()
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	want := []Status{StatusWorking, StatusDone, StatusWorking, StatusError}
	for i, st := range want {
		if events[i].Status != st {
			t.Fatalf("event %d status = %s, want %s", i, events[i].Status, st)
		}
	}
	if events[3].Err == nil || events[3].Stage != StageVerify {
		t.Fatalf("unexpected failure event: %+v", events[3])
	}
}

func TestEmitNilSink(t *testing.T) {
	Emit(nil, Event{Stage: StageResolve})
	Step(nil, "x", StageCompile)(nil)
}

func TestChannelSink(t *testing.T) {
	ch := make(chan Event, 1)
	ChannelSink{Ch: ch}.OnEvent(Event{Subject: "a.cr2", Stage: StageCompile, Status: StatusDone})
	if evt := <-ch; evt.Subject != "a.cr2" {
		t.Fatalf("unexpected event %+v", evt)
	}
	ChannelSink{}.OnEvent(Event{})
}
