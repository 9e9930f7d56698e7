package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestObjectKey(t *testing.T) {
	got := ObjectKey("alice", "42", filepath.Join("videos", "alice", "42", "42_1700000001.mp4"))
	if got != "alice/42/42_1700000001.mp4" {
		t.Errorf("ObjectKey = %q", got)
	}
}

func TestNew_InvalidEndpoint(t *testing.T) {
	if _, err := New(Options{Endpoint: "", Bucket: "b"}); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestUpload(t *testing.T) {
	var mu sync.Mutex
	var method, path string
	var size int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, size = r.Method, r.URL.Path, len(body)
		mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := New(Options{Endpoint: srv.URL, AccessKey: "ak", SecretKey: "sk", Bucket: "recordings", Region: "us-east-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	local := filepath.Join(t.TempDir(), "s1_2.mp4")
	os.WriteFile(local, []byte("movie"), 0644)

	location, err := u.Upload(context.Background(), local, "alice/s1/s1_2.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if location != "/recordings/alice/s1/s1_2.mp4" {
		t.Errorf("location = %q", location)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || !strings.HasSuffix(path, "/recordings/alice/s1/s1_2.mp4") || size == 0 {
		t.Errorf("Unexpected request: %s %s (%d bytes)", method, path, size)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	u, err := New(Options{Endpoint: "localhost:9000", Bucket: "recordings"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), "k"); err == nil {
		t.Error("Expected error for missing file")
	}
}
