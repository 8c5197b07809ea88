package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPreparePathNewFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "notes.pdf")
	should, result, err := PreparePath(dest, Skip, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !should || result.Kind != NewFile {
		t.Fatalf("got should=%v result=%+v", should, result)
	}
}

func TestPreparePathAlreadyHave(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "notes.pdf")
	mustWriteFile(t, dest, "old")
	local := time.Now()
	if err := os.Chtimes(dest, local, local); err != nil {
		t.Fatal(err)
	}

	should, result, err := PreparePath(dest, Overwrite, local.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if should || result.Kind != AlreadyHave {
		t.Fatalf("got should=%v result=%+v", should, result)
	}
}

func TestPreparePathSkip(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "notes.pdf")
	mustWriteFile(t, dest, "old")
	local := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(dest, local, local); err != nil {
		t.Fatal(err)
	}

	should, result, err := PreparePath(dest, Skip, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if should || result.Kind != Skipped {
		t.Fatalf("got should=%v result=%+v", should, result)
	}
}

func TestPreparePathOverwrite(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "notes.pdf")
	mustWriteFile(t, dest, "old")
	local := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(dest, local, local); err != nil {
		t.Fatal(err)
	}

	should, result, err := PreparePath(dest, Overwrite, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !should || result.Kind != Overwritten {
		t.Fatalf("got should=%v result=%+v", should, result)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected old file to remain in place for Overwrite mode until the new one lands: %v", err)
	}
}

func TestPreparePathRenameMovesOldFileAside(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "notes.pdf")
	mustWriteFile(t, dest, "old")
	local := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(dest, local, local); err != nil {
		t.Fatal(err)
	}

	should, result, err := PreparePath(dest, Rename, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !should || result.Kind != Renamed {
		t.Fatalf("got should=%v result=%+v", should, result)
	}
	if _, err := os.Stat(dest); err == nil {
		t.Fatalf("expected old file moved away from dest")
	}
	if _, err := os.Stat(result.RenamedPath); err != nil {
		t.Fatalf("expected renamed file to exist at %q: %v", result.RenamedPath, err)
	}
	wantPrefix := "notes_autorename_" + local.Format("2006-01-02")
	if filepath.Base(result.RenamedPath)[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("got renamed base %q, want prefix %q", filepath.Base(result.RenamedPath), wantPrefix)
	}
}

func TestPreparePathRenameCollisionGetsNumericSuffix(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "notes.pdf")
	mustWriteFile(t, dest, "old")
	local := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(dest, local, local); err != nil {
		t.Fatal(err)
	}
	collidingName := "notes_autorename_" + local.Format("2006-01-02") + ".pdf"
	mustWriteFile(t, filepath.Join(dir, collidingName), "already taken")

	_, result, err := PreparePath(dest, Rename, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(dir, "notes_autorename_"+local.Format("2006-01-02")+"_1.pdf")
	if result.RenamedPath != want {
		t.Fatalf("got %q, want %q", result.RenamedPath, want)
	}
}

func TestPreparePathCompoundExtensionSurvivesRename(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "archive.tar.gz")
	mustWriteFile(t, dest, "old")
	local := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(dest, local, local); err != nil {
		t.Fatal(err)
	}

	_, result, err := PreparePath(dest, Rename, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(dir, "archive_autorename_"+local.Format("2006-01-02")+".tar.gz")
	if result.RenamedPath != want {
		t.Fatalf("got %q, want %q", result.RenamedPath, want)
	}
}

func mustWriteFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %q: %v", path, err)
	}
}
