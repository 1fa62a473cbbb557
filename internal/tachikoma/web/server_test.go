package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStatusProvider struct {
	counts map[string]int
	err    error
}

func (f *fakeStatusProvider) Count(_ context.Context, collection string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[collection], nil
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer("", &fakeStatusProvider{}, nil, "summaries", "interactions", nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q, want ok", body.Status)
	}
	if body.Version == "" {
		t.Error("version field is empty")
	}
}

func TestStatusEndpoint(t *testing.T) {
	sp := &fakeStatusProvider{counts: map[string]int{"summaries": 4, "interactions": 17}}
	srv := NewServer("", sp, nil, "summaries", "interactions", nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Summaries != 4 || body.Interactions != 17 {
		t.Errorf("counts = %d/%d, want 4/17", body.Summaries, body.Interactions)
	}
	if body.UptimeSecs < 0 {
		t.Errorf("uptime = %v, want >= 0", body.UptimeSecs)
	}
}

func TestStatusEndpoint_StoreFailure(t *testing.T) {
	sp := &fakeStatusProvider{err: errors.New("db gone")}
	srv := NewServer("", sp, nil, "summaries", "interactions", nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
