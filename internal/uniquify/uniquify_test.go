package uniquify

import (
	"testing"
	"time"
)

func TestApplyNoCollisions(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		{ID: "1", Path: "a.pdf", LastUpdated: now},
		{ID: "2", Path: "b.pdf", LastUpdated: now},
	}
	got := Apply(entries)
	if got["1"] != "a.pdf" || got["2"] != "b.pdf" {
		t.Fatalf("expected unchanged paths, got %#v", got)
	}
}

func TestApplyCollisionKeepsNewestClean(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	entries := []Entry{
		{ID: "old", Path: "notes.pdf", LastUpdated: older},
		{ID: "new", Path: "notes.pdf", LastUpdated: newer},
	}
	got := Apply(entries)
	if got["new"] != "notes.pdf" {
		t.Fatalf("expected newest entry to keep clean path, got %q", got["new"])
	}
	if got["old"] != "notes_old.pdf" {
		t.Fatalf("expected older entry suffixed with id, got %q", got["old"])
	}
}

func TestApplyCollisionPreservesCompoundExtension(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	entries := []Entry{
		{ID: "7", Path: "archive.tar.gz", LastUpdated: older},
		{ID: "9", Path: "archive.tar.gz", LastUpdated: newer},
	}
	got := Apply(entries)
	if got["9"] != "archive.tar.gz" {
		t.Fatalf("expected newest entry unchanged, got %q", got["9"])
	}
	if got["7"] != "archive.tar_7.gz" {
		t.Fatalf("expected last-dot split to keep compound extension, got %q", got["7"])
	}
}

func TestApplyCollisionInSubdirectory(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	entries := []Entry{
		{ID: "a", Path: "week1/notes.pdf", LastUpdated: older},
		{ID: "b", Path: "week1/notes.pdf", LastUpdated: newer},
	}
	got := Apply(entries)
	if got["b"] != "week1/notes.pdf" {
		t.Fatalf("got %q", got["b"])
	}
	if got["a"] != "week1/notes_a.pdf" {
		t.Fatalf("got %q", got["a"])
	}
}

func TestApplyThreeWayCollisionAllButNewestSuffixed(t *testing.T) {
	t1 := time.Now().Add(-2 * time.Hour)
	t2 := time.Now().Add(-time.Hour)
	t3 := time.Now()
	entries := []Entry{
		{ID: "x", Path: "f.pdf", LastUpdated: t1},
		{ID: "y", Path: "f.pdf", LastUpdated: t2},
		{ID: "z", Path: "f.pdf", LastUpdated: t3},
	}
	got := Apply(entries)
	if got["z"] != "f.pdf" {
		t.Fatalf("got %q", got["z"])
	}
	if got["y"] != "f_y.pdf" {
		t.Fatalf("got %q", got["y"])
	}
	if got["x"] != "f_x.pdf" {
		t.Fatalf("got %q", got["x"])
	}
}

func TestApplyIsDeterministicAcrossInputOrder(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	forward := []Entry{
		{ID: "old", Path: "notes.pdf", LastUpdated: older},
		{ID: "new", Path: "notes.pdf", LastUpdated: newer},
	}
	backward := []Entry{forward[1], forward[0]}

	got1 := Apply(forward)
	got2 := Apply(backward)
	if got1["old"] != got2["old"] || got1["new"] != got2["new"] {
		t.Fatalf("expected order-independent result, got %#v vs %#v", got1, got2)
	}
}
