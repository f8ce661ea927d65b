package buffer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gluk-w/termhub/internal/database"
)

func newTestEngine(maxLines int) *Engine {
	return NewEngine(maxLines, false)
}

func TestAppend_LineSplitting(t *testing.T) {
	e := newTestEngine(100)
	e.Create("s1")

	e.Append("s1", []byte("hello "))
	e.Append("s1", []byte("world\npartial"))

	full, ok := e.GetFull("s1")
	if !ok {
		t.Fatal("buffer not found")
	}
	if full != "hello world\npartial" {
		t.Errorf("got %q", full)
	}

	stats, _ := e.GetStats("s1")
	if stats.Lines != 1 {
		t.Errorf("closed lines = %d, want 1", stats.Lines)
	}
	if stats.TotalLines != 1 {
		t.Errorf("total lines = %d, want 1", stats.TotalLines)
	}
}

func TestAppend_EvictsOldestAtCap(t *testing.T) {
	e := newTestEngine(3)
	e.Create("s1")

	for i := 1; i <= 5; i++ {
		e.Append("s1", []byte(fmt.Sprintf("line%d\n", i)))
	}

	full, _ := e.GetFull("s1")
	if full != "line3\nline4\nline5" {
		t.Errorf("got %q", full)
	}

	stats, _ := e.GetStats("s1")
	if stats.Lines != 3 {
		t.Errorf("lines = %d, want cap 3", stats.Lines)
	}
	// TotalLines keeps counting past evictions.
	if stats.TotalLines != 5 {
		t.Errorf("total lines = %d, want 5", stats.TotalLines)
	}
}

func TestAppend_UnknownSessionIsNoop(t *testing.T) {
	e := newTestEngine(10)
	e.Append("nope", []byte("data\n"))
	if _, ok := e.GetFull("nope"); ok {
		t.Error("append must not create a buffer")
	}
}

func TestCreate_Idempotent(t *testing.T) {
	e := newTestEngine(10)
	e.Create("s1")
	e.Append("s1", []byte("kept\n"))
	e.Create("s1")

	full, _ := e.GetFull("s1")
	if full != "kept" {
		t.Errorf("second Create wiped the buffer: %q", full)
	}
}

func TestSnapshot_DeltaSinceDisconnect(t *testing.T) {
	e := newTestEngine(100)
	e.Create("s1")
	e.Append("s1", []byte("before1\nbefore2\n"))

	e.MarkDisconnect("s1")
	e.Append("s1", []byte("after1\nafter2"))

	snap, ok := e.GetSnapshot("s1")
	if !ok {
		t.Fatal("no snapshot")
	}
	if snap.OutputSinceDisconnect != "after1\nafter2" {
		t.Errorf("delta = %q", snap.OutputSinceDisconnect)
	}
	if snap.DisconnectTime == nil {
		t.Error("disconnect time missing")
	}
}

func TestSnapshot_ExcludesPreDisconnectTail(t *testing.T) {
	e := newTestEngine(100)
	e.Create("s1")

	// A partial line is on screen when the client drops.
	e.Append("s1", []byte("prompt$ par"))
	e.MarkDisconnect("s1")
	e.Append("s1", []byte("tial\nafter"))

	snap, ok := e.GetSnapshot("s1")
	if !ok {
		t.Fatal("no snapshot")
	}
	if snap.OutputSinceDisconnect != "tial\nafter" {
		t.Errorf("delta = %q, leaked pre-disconnect bytes", snap.OutputSinceDisconnect)
	}

	// Tail-only growth with no newline replays just the new bytes.
	e.MarkDisconnect("s1")
	e.Append("s1", []byte("wards"))
	snap, _ = e.GetSnapshot("s1")
	if snap.OutputSinceDisconnect != "wards" {
		t.Errorf("tail delta = %q", snap.OutputSinceDisconnect)
	}

	// Nothing new since the mark replays nothing.
	e.MarkDisconnect("s1")
	snap, _ = e.GetSnapshot("s1")
	if snap.OutputSinceDisconnect != "" {
		t.Errorf("idle delta = %q", snap.OutputSinceDisconnect)
	}
}

func TestSnapshot_NoMarkerReturnsFullBuffer(t *testing.T) {
	e := newTestEngine(100)
	e.Create("s1")
	e.Append("s1", []byte("a\nb\nc"))

	snap, ok := e.GetSnapshot("s1")
	if !ok {
		t.Fatal("no snapshot")
	}
	if snap.OutputSinceDisconnect != "a\nb\nc" {
		t.Errorf("got %q", snap.OutputSinceDisconnect)
	}
	if snap.DisconnectTime != nil {
		t.Error("disconnect time should be unset")
	}
}

func TestSnapshot_ClearsMarker(t *testing.T) {
	e := newTestEngine(100)
	e.Create("s1")
	e.Append("s1", []byte("x\n"))
	e.MarkDisconnect("s1")
	e.Append("s1", []byte("delta\n"))

	first, _ := e.GetSnapshot("s1")
	if first.OutputSinceDisconnect != "delta" {
		t.Fatalf("first snapshot = %q", first.OutputSinceDisconnect)
	}

	// Marker cleared: the second snapshot falls back to the full buffer.
	second, _ := e.GetSnapshot("s1")
	if second.DisconnectTime != nil {
		t.Error("marker survived the first snapshot")
	}
	if second.OutputSinceDisconnect != "x\ndelta" {
		t.Errorf("second snapshot = %q", second.OutputSinceDisconnect)
	}
}

func TestDisconnectMarker_ReanchoredOnEviction(t *testing.T) {
	e := newTestEngine(3)
	e.Create("s1")
	e.Append("s1", []byte("a\nb\n"))
	e.MarkDisconnect("s1") // marker at index 2

	// Two more closed lines push the buffer past the cap once.
	e.Append("s1", []byte("c\nd\n"))

	snap, _ := e.GetSnapshot("s1")
	if snap.OutputSinceDisconnect != "c\nd" {
		t.Errorf("delta after eviction = %q", snap.OutputSinceDisconnect)
	}
}

func TestDisconnectMarker_EvictedPastMarker(t *testing.T) {
	e := newTestEngine(2)
	e.Create("s1")
	e.Append("s1", []byte("a\nb\n"))
	e.MarkDisconnect("s1")

	// Evict far beyond the marker: the delta degrades to the whole
	// retained window rather than losing data silently.
	e.Append("s1", []byte("c\nd\ne\nf\n"))

	snap, _ := e.GetSnapshot("s1")
	if snap.OutputSinceDisconnect != "e\nf" {
		t.Errorf("delta = %q", snap.OutputSinceDisconnect)
	}
}

func TestGetLastLines(t *testing.T) {
	e := newTestEngine(100)
	e.Create("s1")
	e.Append("s1", []byte("1\n2\n3\n4\ntail"))

	out, ok := e.GetLastLines("s1", 2)
	if !ok {
		t.Fatal("buffer not found")
	}
	if out != "3\n4" {
		t.Errorf("got %q", out)
	}
}

func TestClear(t *testing.T) {
	e := newTestEngine(100)
	e.Create("s1")
	e.Append("s1", []byte("a\nb\nc"))
	e.MarkDisconnect("s1")

	if !e.Clear("s1") {
		t.Fatal("clear failed")
	}
	full, _ := e.GetFull("s1")
	if full != "" {
		t.Errorf("buffer not empty: %q", full)
	}
	stats, _ := e.GetStats("s1")
	if stats.TotalLines != 2 {
		t.Errorf("total lines reset: %d", stats.TotalLines)
	}
	if e.Clear("missing") {
		t.Error("clear of unknown session should fail")
	}
}

func TestOnOutput_FiresWithRawBytes(t *testing.T) {
	e := newTestEngine(100)
	var got []string
	e.OnOutput = func(sessionID string, data []byte) {
		got = append(got, sessionID+":"+string(data))
	}
	e.Create("s1")
	e.Append("s1", []byte("chunk1\n"))
	e.Append("s1", []byte("chunk2"))

	want := []string{"s1:chunk1\n", "s1:chunk2"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFlushAndLoad_Roundtrip(t *testing.T) {
	if err := database.InitMemory(); err != nil {
		t.Fatalf("InitMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	e := NewEngine(100, true)
	e.Create("s1")
	e.Append("s1", []byte("persisted1\npersisted2\nopen"))

	if err := e.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// A fresh engine simulates a restart.
	e2 := NewEngine(100, true)
	if !e2.LoadBuffer("s1") {
		t.Fatal("LoadBuffer found nothing")
	}
	full, _ := e2.GetFull("s1")
	if full != "persisted1\npersisted2\nopen" {
		t.Errorf("restored = %q", full)
	}
	stats, _ := e2.GetStats("s1")
	if stats.TotalLines != 2 {
		t.Errorf("total lines = %d, want 2", stats.TotalLines)
	}

	if e2.LoadBuffer("missing") {
		t.Error("LoadBuffer invented a row")
	}
}

func TestDeleteBuffer(t *testing.T) {
	e := newTestEngine(100)
	e.Create("s1")
	e.Append("s1", []byte("x\n"))
	e.DeleteBuffer("s1")
	if _, ok := e.GetFull("s1"); ok {
		t.Error("buffer still present after delete")
	}
}
