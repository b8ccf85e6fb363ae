package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/chatwatch/chatwatch/classify"
)

func TestFetch_ParsesTree(t *testing.T) {
	page := `<html><body><main class="conversation"><div class="message">` + strings.Repeat("hello ", 60) + `</div></main></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing user agent")
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(page))
	}))
	defer srv.Close()

	res, err := New().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != 200 || res.ETag != `"v1"` || len(res.Hash) != 64 {
		t.Errorf("res = %+v", res)
	}
	if !res.Sufficient {
		t.Error("expected sufficient")
	}
	doc := res.Tree.Snapshot()
	if doc.URL != srv.URL {
		t.Errorf("url = %q", doc.URL)
	}
	r := classify.New(classify.DefaultTable()).Classify(context.Background(), doc)
	if len(r.Get(classify.Message)) != 1 {
		t.Errorf("messages = %d", len(r.Get(classify.Message)))
	}
}

func TestFetch_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := New().Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}
