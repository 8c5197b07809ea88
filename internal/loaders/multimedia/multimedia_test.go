package multimedia

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/nuslumi/luminus-sync/internal/api"
	"github.com/nuslumi/luminus-sync/internal/auth"
	"github.com/nuslumi/luminus-sync/internal/ffmpeg"
	"github.com/nuslumi/luminus-sync/internal/httpclient"
	"github.com/nuslumi/luminus-sync/internal/loaders/panopto"
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

func rebase(t *testing.T, c *api.Client, rawURL string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	api.SetBaseForTesting(c, u)
}

func TestLoadSkipsMediaWithoutStreamURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/multimedia/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/multimedia/":
			w.Write([]byte(`{"data":[{"id":"c1","name":"Lectures","isExternalTool":false}]}`))
		case "/multimedia/c1/medias":
			w.Write([]byte(`{"data":[
				{"id":"m1","name":"Week 1","lastUpdatedDate":"2024-01-01T00:00:00Z","streamUrlPath":"https://cdn.example.com/w1.m3u8"},
				{"id":"m2","name":"Slides Only","lastUpdatedDate":"2024-01-01T00:00:00Z"}
			]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	c, srv := testClient(t, mux.ServeHTTP)
	defer srv.Close()
	rebase(t, c, srv.URL+"/")

	internal, external, err := Load(context.Background(), c, ffmpeg.New("ffmpeg"), "mod1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(external) != 0 {
		t.Fatalf("expected no external videos, got %+v", external)
	}
	if len(internal) != 1 || internal[0].Path() != "Lectures/Week 1.mp4" {
		t.Fatalf("got %+v", internal)
	}
}

func TestLoadRoutesExternalToolChannelThroughPanopto(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/multimedia/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"c2","name":"Panopto Channel","isExternalTool":true}]}`))
	})
	mux.HandleFunc("/lti/Launch/mediaweb", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"launchURL":"http://` + r.Host + `/relay","dataItems":[]}`))
	})
	mux.HandleFunc("/relay", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final#folderID=\"f1\"", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/Panopto/Services/Data.svc/GetSessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"d":{"results":[{"DeliveryID":"d1","SessionName":"Recording 1"}]}}`))
	})

	c, srv := testClient(t, mux.ServeHTTP)
	defer srv.Close()
	rebase(t, c, srv.URL+"/")
	defer func(orig string) { panopto.GetSessionsURL = orig }(panopto.GetSessionsURL)
	panopto.GetSessionsURL = srv.URL + "/Panopto/Services/Data.svc/GetSessions"

	internal, external, err := Load(context.Background(), c, ffmpeg.New("ffmpeg"), "mod1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(internal) != 0 {
		t.Fatalf("expected no internal videos, got %+v", internal)
	}
	if len(external) != 1 || external[0].Path() != "Panopto Channel/Recording 1.mp4" {
		t.Fatalf("got %+v", external)
	}
}
