package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestSupabase(t *testing.T, handler http.HandlerFunc) *Supabase {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := NewSupabase(srv.URL+"/", "service-key", "renders")
	s.retryBase = time.Millisecond
	return s
}

func TestSupabaseUpload(t *testing.T) {
	var gotPath, gotAuth, gotUpsert, gotType, gotBody string
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUpsert = r.Header.Get("x-upsert")
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	})

	if err := s.Upload(context.Background(), "renders/abc/rendered_video.mp4", []byte("mp4"), "video/mp4"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if gotPath != "/storage/v1/object/renders/renders/abc/rendered_video.mp4" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer service-key" {
		t.Errorf("unexpected auth %q", gotAuth)
	}
	if gotUpsert != "true" {
		t.Errorf("expected x-upsert true, got %q", gotUpsert)
	}
	if gotType != "video/mp4" {
		t.Errorf("unexpected content type %q", gotType)
	}
	if gotBody != "mp4" {
		t.Errorf("unexpected body %q", gotBody)
	}
}

func TestSupabaseUploadRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	if err := s.Upload(context.Background(), "k", []byte("x"), "text/plain"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSupabaseUploadPermanentStatus(t *testing.T) {
	var calls atomic.Int32
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bucket not found", http.StatusBadRequest)
	})

	err := s.Upload(context.Background(), "k", []byte("x"), "text/plain")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status 400") {
		t.Errorf("expected status in error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSupabaseUploadGivesUp(t *testing.T) {
	var calls atomic.Int32
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	err := s.Upload(context.Background(), "k", []byte("x"), "text/plain")
	if err == nil || !strings.Contains(err.Error(), "after 5 attempts") {
		t.Fatalf("expected exhausted retries, got %v", err)
	}
	if calls.Load() != maxRetries+1 {
		t.Errorf("expected %d attempts, got %d", maxRetries+1, calls.Load())
	}
}

func TestSupabaseDownload(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storage/v1/object/renders/a.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	data, err := s.Download(context.Background(), "a.json")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("unexpected data %q", data)
	}

	if _, err := s.Download(context.Background(), "missing.json"); err == nil {
		t.Error("expected error for missing object")
	}
}

func TestSupabaseSignedURL(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storage/v1/object/sign/renders/v.mp4" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			ExpiresIn int `json:"expiresIn"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.ExpiresIn != 3600 {
			t.Errorf("expected expiresIn 3600, got %d", body.ExpiresIn)
		}
		json.NewEncoder(w).Encode(map[string]string{"signedURL": "/object/sign/renders/v.mp4?token=t"})
	})

	url, err := s.GetSignedURL(context.Background(), "v.mp4", 3600)
	if err != nil {
		t.Fatalf("GetSignedURL failed: %v", err)
	}
	if !strings.HasSuffix(url, "/storage/v1/object/sign/renders/v.mp4?token=t") {
		t.Errorf("unexpected signed url %q", url)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	store, err := New(context.Background(), Options{
		Backend:            BackendSupabase,
		SupabaseURL:        "http://localhost",
		SupabaseServiceKey: "k",
		Bucket:             "b",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := store.(*Supabase); !ok {
		t.Errorf("expected *Supabase, got %T", store)
	}
	if store.Bucket() != "b" {
		t.Errorf("unexpected bucket %q", store.Bucket())
	}

	if _, err := New(context.Background(), Options{Backend: BackendSupabase}); err == nil {
		t.Error("expected error without supabase credentials")
	}
	if _, err := New(context.Background(), Options{Backend: BackendS3}); err == nil {
		t.Error("expected error without s3 bucket")
	}
	if _, err := New(context.Background(), Options{Backend: "ftp"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestRenderPath(t *testing.T) {
	id := uuid.MustParse("6f1c2a9e-8a55-4f57-9d3c-1f0b7f3b2c11")
	got := RenderPath(id, "rendered_video.mp4")
	want := "renders/6f1c2a9e-8a55-4f57-9d3c-1f0b7f3b2c11/rendered_video.mp4"
	if got != want {
		t.Errorf("RenderPath = %q, want %q", got, want)
	}
}

func TestRetryDelayCapped(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(baseRetryDelay, attempt)
		if d > maxRetryDelay+maxRetryDelay/4 {
			t.Errorf("attempt %d delay %v exceeds cap", attempt, d)
		}
	}
}
