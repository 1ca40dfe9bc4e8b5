package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPSource_Fetch(t *testing.T) {
	var gotBody queryRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/query" {
			t.Errorf("path = %s, want /query", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"content":"always cite sources","score":0.92},{"content":"prefer primary data"}]}`))
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL, server.Client())
	items, err := src.Fetch(context.Background(), "quarterly report", "proj-7", TierMandates)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].Content != "always cite sources" || items[0].Score != 0.92 {
		t.Errorf("items[0] = %+v", items[0])
	}

	if gotBody.Query != "quarterly report" {
		t.Errorf("query = %q, want %q", gotBody.Query, "quarterly report")
	}
	if gotBody.ProjectID != "proj-7" {
		t.Errorf("project_id = %q, want %q", gotBody.ProjectID, "proj-7")
	}
	if gotBody.Tier != "mandates" {
		t.Errorf("tier = %q, want %q", gotBody.Tier, "mandates")
	}
}

func TestHTTPSource_Fetch_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL, server.Client())
	if _, err := src.Fetch(context.Background(), "q", "", TierReference); err == nil {
		t.Error("Fetch() on 503 returned no error")
	}
}

func TestHTTPSource_Fetch_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	src := NewHTTPSource(server.URL, server.Client())
	if _, err := src.Fetch(context.Background(), "q", "", TierGuardrails); err == nil {
		t.Error("Fetch() on malformed body returned no error")
	}
}

func TestHTTPSource_Fetch_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewHTTPSource(server.URL, server.Client())
	if _, err := src.Fetch(ctx, "q", "", TierMandates); err == nil {
		t.Error("Fetch() with cancelled context returned no error")
	}
}

func TestStaticSource_ReturnsCopy(t *testing.T) {
	src := StaticSource{TierMandates: {{Content: "original"}}}
	items, err := src.Fetch(context.Background(), "q", "p", TierMandates)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	items[0].Content = "mutated"

	again, _ := src.Fetch(context.Background(), "q", "p", TierMandates)
	if again[0].Content != "original" {
		t.Error("caller mutation leaked into the source")
	}
}
