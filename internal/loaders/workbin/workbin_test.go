package workbin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/nuslumi/luminus-sync/internal/api"
	"github.com/nuslumi/luminus-sync/internal/auth"
	"github.com/nuslumi/luminus-sync/internal/httpclient"
	"github.com/nuslumi/luminus-sync/internal/logging"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*api.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	hc, err := httpclient.New(httpclient.Config{})
	if err != nil {
		t.Fatal(err)
	}
	sess := &auth.Session{Token: "tok", HTTP: httpclient.NewClient(hc, logging.New(io.Discard, logging.FormatJSON, logging.LevelError))}
	c, err := api.New(sess)
	if err != nil {
		t.Fatal(err)
	}
	return c, srv
}

func TestLoadRecursesAndFiltersUploadable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/files/" && r.URL.Query().Get("ParentID") == "root":
			w.Write([]byte(`{"data":[
				{"id":"sub1","name":"Lectures","lastUpdatedDate":"2024-01-01T00:00:00Z"},
				{"id":"sub2","name":"Submissions","allowUpload":true,"lastUpdatedDate":"2024-01-01T00:00:00Z"}
			]}`))
		case r.URL.Path == "/files/root/file":
			w.Write([]byte(`{"data":[]}`))
		case r.URL.Path == "/files/" && r.URL.Query().Get("ParentID") == "sub1":
			w.Write([]byte(`{"data":[]}`))
		case r.URL.Path == "/files/sub1/file":
			w.Write([]byte(`{"data":[
				{"id":"f1","name":"week1.pdf","lastUpdatedDate":"2024-02-01T00:00:00Z"}
			]}`))
		case r.URL.Path == "/files/" && r.URL.Query().Get("ParentID") == "sub2":
			w.Write([]byte(`{"data":[]}`))
		case r.URL.Path == "/files/sub2/file":
			w.Write([]byte(`{"data":[
				{"id":"f2","name":"essay.docx","creatorName":"Alice","lastUpdatedDate":"2024-03-01T00:00:00Z"}
			]}`))
		default:
			t.Fatalf("unexpected path %s (query %s)", r.URL.Path, r.URL.RawQuery)
		}
	})

	c, srv := testClient(t, mux.ServeHTTP)
	defer srv.Close()
	rebase(t, c, srv.URL+"/")

	files, err := Load(context.Background(), c, "root", "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected the Submissions subtree pruned, got %d files: %+v", len(files), files)
	}
	if files[0].Path() != "Lectures/week1.pdf" {
		t.Fatalf("got path %q", files[0].Path())
	}
}

func TestLoadIncludesUploadableWithCreatorPrefix(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/files/" && r.URL.Query().Get("ParentID") == "root":
			w.Write([]byte(`{"data":[
				{"id":"sub2","name":"Submissions","allowUpload":true,"lastUpdatedDate":"2024-01-01T00:00:00Z"}
			]}`))
		case r.URL.Path == "/files/root/file":
			w.Write([]byte(`{"data":[]}`))
		case r.URL.Path == "/files/" && r.URL.Query().Get("ParentID") == "sub2":
			w.Write([]byte(`{"data":[]}`))
		case r.URL.Path == "/files/sub2/file":
			w.Write([]byte(`{"data":[
				{"id":"f2","name":"essay.docx","creatorName":"Alice","lastUpdatedDate":"2024-03-01T00:00:00Z"},
				{"id":"f3","name":"essay2.docx","lastUpdatedDate":"2024-03-01T00:00:00Z"}
			]}`))
		default:
			t.Fatalf("unexpected path %s (query %s)", r.URL.Path, r.URL.RawQuery)
		}
	})

	c, srv := testClient(t, mux.ServeHTTP)
	defer srv.Close()
	rebase(t, c, srv.URL+"/")

	files, err := Load(context.Background(), c, "root", "", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files: %+v", len(files), files)
	}
	byPath := map[string]bool{}
	for _, f := range files {
		byPath[f.Path()] = true
	}
	if !byPath["Submissions/Alice - essay.docx"] {
		t.Fatalf("expected creator-prefixed path, got %+v", files)
	}
	if !byPath["Submissions/Unknown - essay2.docx"] {
		t.Fatalf("expected Unknown fallback for missing creator, got %+v", files)
	}
}

func TestFileDownloadURLFetchesSignedURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/file/f1/downloadurl", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":"https://cdn.example.com/f1?sig=abc"}`))
	})
	c, srv := testClient(t, mux.ServeHTTP)
	defer srv.Close()
	rebase(t, c, srv.URL+"/")

	f := &File{client: c, id: "f1"}
	u, err := f.DownloadURL(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != "https://cdn.example.com/f1?sig=abc" {
		t.Fatalf("got %q", u)
	}
}

// rebase points c's private base URL at srv so tests can run against an
// httptest server without a real LumiNUS host. api_test.go in the sibling
// package pokes the same unexported field directly; workbin lives in a
// different package, so this helper goes through an exported test-only seam.
func rebase(t *testing.T, c *api.Client, rawURL string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	api.SetBaseForTesting(c, u)
}
