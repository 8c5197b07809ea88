package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nuslumi/luminus-sync/internal/engine"
)

func TestParseUpdatedMode(t *testing.T) {
	cases := map[string]engine.OverwriteMode{
		"":          engine.Skip,
		"skip":      engine.Skip,
		"overwrite": engine.Overwrite,
		"rename":    engine.Rename,
	}
	for in, want := range cases {
		got, err := ParseUpdatedMode(in)
		if err != nil {
			t.Fatalf("ParseUpdatedMode(%q): unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseUpdatedMode(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseUpdatedMode("delete"); !errors.Is(err, ErrInvalidFlagValue) {
		t.Fatalf("expected ErrInvalidFlagValue for an unrecognized mode, got %v", err)
	}
}

func TestParseUploadableScope(t *testing.T) {
	for _, valid := range []string{"taking", "teaching", "all"} {
		if _, err := ParseUploadableScope(valid); err != nil {
			t.Fatalf("unexpected error for %q: %v", valid, err)
		}
	}
	if _, err := ParseUploadableScope("everyone"); !errors.Is(err, ErrInvalidFlagValue) {
		t.Fatalf("expected ErrInvalidFlagValue, got %v", err)
	}
}

func TestParseTerm(t *testing.T) {
	got, err := ParseTerm("2310")
	if err != nil || got != "2310" {
		t.Fatalf("got %q, %v", got, err)
	}
	if got, err := ParseTerm(""); err != nil || got != "" {
		t.Fatalf("expected empty term to mean \"no --term given\", got %q, %v", got, err)
	}
	for _, bad := range []string{"231", "23100", "abcd"} {
		if _, err := ParseTerm(bad); !errors.Is(err, ErrInvalidFlagValue) {
			t.Fatalf("ParseTerm(%q): expected ErrInvalidFlagValue, got %v", bad, err)
		}
	}
}

func TestOptionsValidateRequiresAnAction(t *testing.T) {
	opts := DefaultOptions()
	if err := opts.Validate(); !errors.Is(err, ErrNoAction) {
		t.Fatalf("expected ErrNoAction when no flag requests work, got %v", err)
	}

	opts.Files = true
	if err := opts.Validate(); err != nil {
		t.Fatalf("unexpected error once an action flag is set: %v", err)
	}
}

func TestLoadFileConfigDefaultsWithNoPath(t *testing.T) {
	fc, err := LoadFileConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.FFmpegPath != "ffmpeg" || fc.LogLevel != "info" {
		t.Fatalf("got %+v", fc)
	}
	if fc.Concurrency != DefaultConcurrencyBudgets() {
		t.Fatalf("got %+v", fc.Concurrency)
	}
}

func TestLoadFileConfigPartialOverridePreservesOtherDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.LogLevel != "debug" {
		t.Fatalf("got log level %q", fc.LogLevel)
	}
	if fc.FFmpegPath != "ffmpeg" {
		t.Fatalf("expected untouched field to keep its default, got %q", fc.FFmpegPath)
	}
	if fc.Concurrency != DefaultConcurrencyBudgets() {
		t.Fatalf("expected untouched concurrency budgets to keep defaults, got %+v", fc.Concurrency)
	}
}

func TestLoadFileConfigMissingFileErrors(t *testing.T) {
	if _, err := LoadFileConfig("/nonexistent/path/config.yaml"); !errors.Is(err, ErrConfigFile) {
		t.Fatalf("expected ErrConfigFile, got %v", err)
	}
}

func TestResolveFlagsOverrideFile(t *testing.T) {
	file := FileConfig{FFmpegPath: "/usr/bin/ffmpeg", LogLevel: "warn", LogFormat: "json", Concurrency: DefaultConcurrencyBudgets()}
	opts := DefaultOptions()
	opts.Files = true
	opts.FFmpegPath = "/opt/ffmpeg/bin/ffmpeg"
	opts.FFmpegPathSet = true

	r := Resolve(opts, file)
	if r.FFmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("expected explicit CLI flag to win, got %q", r.FFmpegPath)
	}
	if string(r.LogLevel) != "warn" {
		t.Fatalf("expected unset CLI flag to fall through to file value, got %q", r.LogLevel)
	}
}

func TestResolveFileFallsThroughToBuiltInDefaults(t *testing.T) {
	file, err := LoadFileConfig("")
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions()
	opts.Files = true

	r := Resolve(opts, file)
	if r.FFmpegPath != "ffmpeg" {
		t.Fatalf("got %q", r.FFmpegPath)
	}
	if r.Concurrency != DefaultConcurrencyBudgets() {
		t.Fatalf("got %+v", r.Concurrency)
	}
}
