package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLevelsAndKeyValues(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(LevelInfo)

	SetLevel(LevelInfo)
	Debug("hidden", "k", 1)
	Info("shown", "days", 5)
	Error("failed", errors.New("boom"), "id", "primary")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line emitted at INFO level: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "days=5") {
		t.Fatalf("missing info line: %s", out)
	}
	if !strings.Contains(out, "err=boom") || !strings.Contains(out, "id=primary") {
		t.Fatalf("missing error attributes: %s", out)
	}

	buf.Reset()
	SetLevel(LevelDebug)
	Debug("visible")
	if !strings.Contains(buf.String(), "msg=visible") {
		t.Fatalf("expected debug line, got %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":  LevelDebug,
		" WARN ": LevelWarn,
		"error":  LevelError,
		"":       LevelInfo,
		"bogus":  LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
