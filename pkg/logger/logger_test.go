package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestNamedPrefixesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "APP", InfoLevel)

	l.Named("Mesh").Info("sent offer to %s", "bob")

	line := buf.String()
	if !strings.Contains(line, "APP [Mesh]") {
		t.Errorf("Expected component prefix in output, got %q", line)
	}
	if !strings.Contains(line, "sent offer to bob") {
		t.Errorf("Expected formatted message in output, got %q", line)
	}
}

func TestNamedInheritsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "APP", WarnLevel)

	child := l.Named("Preview")
	child.Info("should be suppressed")
	if buf.Len() != 0 {
		t.Errorf("Expected info below warn level to be dropped, got %q", buf.String())
	}

	child.Warn("retrying audio-only")
	if !strings.Contains(buf.String(), "[Preview]") {
		t.Errorf("Expected warn to pass through with prefix, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DebugLevel,
		"Warn":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"info":    InfoLevel,
		"bogus":   InfoLevel,
	}
	for name, want := range cases {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}
