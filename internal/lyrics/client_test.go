package lyrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookupTimedLyrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lyrics/" {
			t.Errorf("path = %q, want /lyrics/", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("artist") != "AC/DC" || q.Get("song") != "T.N.T." || q.Get("timestamps") != "true" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":{"timed_lyrics":[{"text":"line one","start_time":0},{"text":"line two","start_time":1200}],"source":"test"}}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL+"/", srv.Client()).Lookup(context.Background(), "AC/DC", "T.N.T.")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if got != "line one\nline two" {
		t.Fatalf("lyrics = %q", got)
	}
}

func TestLookupPlainLyrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"lyrics":"  plain text \n"}}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, srv.Client()).Lookup(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if got != "plain text" {
		t.Fatalf("lyrics = %q", got)
	}
}

func TestLookupNotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, srv.Client()).Lookup(context.Background(), "a", "b")
	if err != nil || got != "" {
		t.Fatalf("Lookup = (%q, %v), want empty", got, err)
	}
}

func TestLookupServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, srv.Client()).Lookup(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestLookupSkipsMissingArtist(t *testing.T) {
	got, err := NewClient("http://127.0.0.1:1", nil).Lookup(context.Background(), "", "b")
	if err != nil || got != "" {
		t.Fatalf("Lookup = (%q, %v), want empty without request", got, err)
	}
}
