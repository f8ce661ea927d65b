package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	prevLevel := level
	log.SetOutput(&buf)
	t.Cleanup(func() {
		log.SetOutput(prev)
		level = prevLevel
	})
	return &buf
}

func TestDebugf_GatedByLevel(t *testing.T) {
	buf := captureLog(t)

	level = LevelInfo
	Debugf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Errorf("info level leaked debug output: %q", buf.String())
	}

	level = LevelDebug
	Debugf("shown %d", 2)
	if !strings.Contains(buf.String(), "shown 2") {
		t.Errorf("debug output missing: %q", buf.String())
	}
	Tracef("too fine")
	if strings.Contains(buf.String(), "too fine") {
		t.Error("trace emitted at debug level")
	}

	level = LevelTrace
	Tracef("finest %d", 3)
	if !strings.Contains(buf.String(), "finest 3") {
		t.Errorf("trace output missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"fatal", LevelFatal},
		{"error", LevelError},
		{"warn", LevelWarn},
		{"info", LevelInfo},
		{"DEBUG", LevelDebug},
		{"trace", LevelTrace},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, c := range cases {
		if got := parseLevel(c.in); got != c.want {
			t.Errorf("parseLevel(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
