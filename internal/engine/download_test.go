package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nuslumi/luminus-sync/internal/logging"
)

func discardLogger() logging.Logger {
	return logging.New(io.Discard, logging.FormatJSON, logging.LevelError)
}

func TestInfiniteRetryDownloadSucceedsAfterTransientFailures(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	temp := filepath.Join(dir, "~!out.bin")

	attempts := 0
	attempt := func(ctx context.Context, temp string) error {
		attempts++
		if attempts < 3 {
			return Retry(fmt.Errorf("simulated transient failure %d", attempts))
		}
		return os.WriteFile(temp, []byte("data"), 0o644)
	}

	if err := InfiniteRetryDownload(context.Background(), dest, temp, attempt, discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("expected dest to exist: %v", err)
	}
	if string(got) != "data" {
		t.Fatalf("got %q", got)
	}
	if _, err := os.Stat(temp); err == nil {
		t.Fatalf("expected temp file to be gone after commit")
	}
}

func TestInfiniteRetryDownloadStopsImmediatelyOnFail(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	temp := filepath.Join(dir, "~!out.bin")

	attempts := 0
	attempt := func(ctx context.Context, temp string) error {
		attempts++
		return Fail(fmt.Errorf("permanent failure"))
	}

	err := InfiniteRetryDownload(context.Background(), dest, temp, attempt, discardLogger())
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a Fail error, got %d", attempts)
	}
	if _, err := os.Stat(dest); err == nil {
		t.Fatalf("expected dest to not exist")
	}
}

func TestInfiniteRetryDownloadRemovesTempBetweenRetries(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	temp := filepath.Join(dir, "~!out.bin")

	attempts := 0
	attempt := func(ctx context.Context, temp string) error {
		attempts++
		if attempts == 1 {
			if err := os.WriteFile(temp, []byte("partial"), 0o644); err != nil {
				t.Fatal(err)
			}
			return Retry(fmt.Errorf("connection reset"))
		}
		if _, err := os.Stat(temp); err == nil {
			t.Fatalf("expected temp file from failed attempt to be cleaned up before retrying")
		}
		return os.WriteFile(temp, []byte("full"), 0o644)
	}

	if err := InfiniteRetryDownload(context.Background(), dest, temp, attempt, discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type fakeResource struct {
	id          string
	path        string
	lastUpdated time.Time
	url         string
}

func (f *fakeResource) ID() string             { return f.id }
func (f *fakeResource) Path() string           { return f.path }
func (f *fakeResource) SetPath(p string)       { f.path = p }
func (f *fakeResource) LastUpdated() time.Time { return f.lastUpdated }
func (f *fakeResource) DownloadURL(ctx context.Context) (string, error) {
	return f.url, nil
}
func (f *fakeResource) Download(ctx context.Context, client HTTPDoer, destRoot string, overwrite OverwriteMode) (OverwriteResult, error) {
	return DownloadSimple(ctx, f, client, destRoot, overwrite, discardLogger())
}

func TestDownloadSimpleEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello from server"))
	}))
	defer srv.Close()

	destRoot := t.TempDir()
	r := &fakeResource{id: "42", path: "week1/lecture.pdf", lastUpdated: time.Now(), url: srv.URL}

	result, err := r.Download(context.Background(), srv.Client(), destRoot, Overwrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != NewFile {
		t.Fatalf("got %+v", result)
	}
	got, err := os.ReadFile(filepath.Join(destRoot, "week1", "lecture.pdf"))
	if err != nil {
		t.Fatalf("expected file written: %v", err)
	}
	if string(got) != "hello from server" {
		t.Fatalf("got %q", got)
	}
}

func TestDownloadSimpleSkipsAlreadyHave(t *testing.T) {
	destRoot := t.TempDir()
	dest := filepath.Join(destRoot, "lecture.pdf")
	mustWriteFile(t, dest, "existing")
	local := time.Now()
	if err := os.Chtimes(dest, local, local); err != nil {
		t.Fatal(err)
	}

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	r := &fakeResource{id: "1", path: "lecture.pdf", lastUpdated: local.Add(-time.Hour), url: srv.URL}
	result, err := r.Download(context.Background(), srv.Client(), destRoot, Overwrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != AlreadyHave {
		t.Fatalf("got %+v", result)
	}
	if called {
		t.Fatalf("expected no HTTP request for an up-to-date file")
	}
}

func TestStreamToFileRetriesOn5xx(t *testing.T) {
	dir := t.TempDir()
	temp := filepath.Join(dir, "~!out.bin")

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
	if err != nil {
		t.Fatal(err)
	}
	client := doerFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 503, Body: http.NoBody}, nil
	})

	err = StreamToFile(context.Background(), client, req, temp)
	if err == nil {
		t.Fatalf("expected error")
	}
	var re *RetryableError
	if !asRetryable(err, &re) || !re.ShouldRetry() {
		t.Fatalf("expected a Retry error for a 5xx response, got %v", err)
	}
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func asRetryable(err error, target **RetryableError) bool {
	re, ok := err.(*RetryableError)
	if !ok {
		return false
	}
	*target = re
	return true
}
