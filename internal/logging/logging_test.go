package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLevelFromVerbosity(t *testing.T) {
	cases := map[int]log.Level{-1: log.ErrorLevel, 0: log.ErrorLevel, 1: log.WarnLevel, 2: log.InfoLevel, 3: log.DebugLevel, 7: log.DebugLevel}
	for v, want := range cases {
		if got := Level(v); got != want {
			t.Fatalf("Level(%d) = %v, want %v", v, got, want)
		}
	}
}

func TestNewFiltersByVerbosity(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, 1)
	logger.Info("hidden")
	logger.Warn("shown", "id", "cr1000x")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info leaked at verbosity 1: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "cr1000x") {
		t.Fatalf("missing warning: %q", out)
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("expected a logger")
	}
}
