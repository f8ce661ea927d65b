package shellhost

import (
	"context"
	"io"
	"testing"
)

func TestTmuxName_Prefixing(t *testing.T) {
	if got := tmuxName("ses_abc"); got != "termhub_ses_abc" {
		t.Errorf("got %q", got)
	}
	// Already-prefixed names pass through unchanged.
	if got := tmuxName("termhub_ses_abc"); got != "termhub_ses_abc" {
		t.Errorf("got %q", got)
	}
}

func TestFakeHost_SpawnAttachRoundtrip(t *testing.T) {
	h := NewFakeHost()
	ctx := context.Background()

	if err := h.Spawn(ctx, "s1", SpawnConfig{Shell: "bash", Cols: 80, Rows: 24}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := h.Spawn(ctx, "s1", SpawnConfig{}); err == nil {
		t.Error("duplicate spawn accepted")
	}

	att, err := h.Attach("s1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := att.Write([]byte("input")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := string(h.Input("s1")); got != "input" {
		t.Errorf("input = %q", got)
	}

	h.Feed("s1", []byte("output"))
	buf := make([]byte, 16)
	n, err := att.Read(buf)
	if err != nil || string(buf[:n]) != "output" {
		t.Errorf("read = %q, %v", buf[:n], err)
	}

	if err := h.Kill("s1"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if h.Alive("s1") {
		t.Error("shell alive after kill")
	}
	if _, err := att.Read(buf); err != io.EOF {
		t.Errorf("read after kill = %v, want EOF", err)
	}
}

func TestFakeHost_List(t *testing.T) {
	h := NewFakeHost()
	h.AddShell("a")
	h.AddShell("b")
	names, err := h.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("names = %v", names)
	}
}
