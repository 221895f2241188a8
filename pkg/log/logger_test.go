package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newCaptureLogger(level Level, f Formatter) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(level), WithFormatter(f), WithOutput(NewWriterOutput(&buf)))
	return l, &buf
}

func TestLevelGate(t *testing.T) {
	l, buf := newCaptureLogger(WarnLevel, &TextFormatter{DisableTimestamp: true})
	l.Debug("nope")
	l.Info("nope")
	l.Warn("yes")
	out := buf.String()
	if strings.Contains(out, "nope") {
		t.Fatalf("below-level lines leaked: %q", out)
	}
	if !strings.Contains(out, "WARN yes") {
		t.Fatalf("missing warn line: %q", out)
	}
}

func TestWithFieldsAndText(t *testing.T) {
	l, buf := newCaptureLogger(DebugLevel, &TextFormatter{DisableTimestamp: true})
	l.With(Component("store"), Str("path", "/tmp/x")).Info("spawned", Int("queue", 32))
	out := buf.String()
	for _, want := range []string{"INFO spawned", "component=store", "path=/tmp/x", "queue=32"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestJSONFormatter(t *testing.T) {
	l, buf := newCaptureLogger(InfoLevel, &JSONFormatter{})
	l.Info("hello", Str("topic", "stream"), Bool("ok", true))
	var obj map[string]any
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if obj["msg"] != "hello" || obj["level"] != "INFO" || obj["topic"] != "stream" {
		t.Fatalf("unexpected object: %v", obj)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": DebugLevel, "info": InfoLevel, "warning": WarnLevel, "error": ErrorLevel, "fatal": FatalLevel, "": InfoLevel}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestFatalCallsExit(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(WithFormatter(&TextFormatter{DisableTimestamp: true}), WithOutput(NewWriterOutput(&buf))).(*BaseLogger)
	code := -1
	base.exit = func(c int) { code = c }
	base.Fatal("corrupt record")
	if code != 1 {
		t.Fatalf("expected exit(1), got %d", code)
	}
	if !strings.Contains(buf.String(), "FATAL corrupt record") {
		t.Fatalf("missing fatal line: %q", buf.String())
	}
}

func TestSlogBridge(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(DebugLevel), WithFormatter(&TextFormatter{DisableTimestamp: true}), WithOutput(NewWriterOutput(&buf)))
	sl := l.Slog()
	sl.Info("bridged", "key", "value")
	out := buf.String()
	if !strings.Contains(out, "INFO bridged") || !strings.Contains(out, "key=value") {
		t.Fatalf("bridge output missing: %q", out)
	}
}

func TestApplyConfig(t *testing.T) {
	l, err := ApplyConfig(&Config{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if l.GetLevel() != DebugLevel {
		t.Fatalf("level not applied")
	}
	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
}
