package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRequestPath(t *testing.T) {
	got := RequestPath("run-42", 7)
	if got != "artifacts/llm/run-42/0007/request.json" {
		t.Errorf("RequestPath = %q", got)
	}
	if got := RequestPath("r", 1234); got != "artifacts/llm/r/1234/request.json" {
		t.Errorf("RequestPath wide = %q", got)
	}
}

func TestRecordEncodeDefaultsCreatedAt(t *testing.T) {
	rec := Record{
		RunID:      "r1",
		Provider:   "openai",
		Model:      "gpt-4o",
		Params:     map[string]any{"model": "gpt-4o", "api_key": "***"},
		PromptHash: "sha256:abc",
	}
	data, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if decoded["created_at"] == nil || decoded["created_at"] == "0001-01-01T00:00:00Z" {
		t.Errorf("created_at not defaulted: %v", decoded["created_at"])
	}
	if _, ok := decoded["instructions_hash"]; ok {
		t.Error("empty instructions_hash should be omitted")
	}
}

func TestFSStorePutWritesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	path := RequestPath("run-1", 1)
	uri, err := store.Put(context.Background(), "run-1", path, []byte(`{"ok":true}`), "application/json")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(uri, "file://") {
		t.Errorf("uri = %q", uri)
	}

	full := filepath.Join(dir, "artifacts", "llm", "run-1", "0001", "request.json")
	data, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("artifact contents = %s", data)
	}
}

func TestFSStoreRequiresRoot(t *testing.T) {
	if _, err := NewFSStore(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	store, err := NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	payload := []byte(`{"provider":"openai"}`)
	uri, err := store.Put(ctx, "run-9", RequestPath("run-9", 1), payload, "application/json")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(uri, "sql://run-9/") {
		t.Errorf("uri = %q", uri)
	}

	data, contentType, err := store.Get(ctx, "run-9", RequestPath("run-9", 1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != string(payload) || contentType != "application/json" {
		t.Errorf("Get = %s (%s)", data, contentType)
	}
}

func TestSQLiteStoreRejectsDuplicatePath(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	path := RequestPath("run-d", 1)
	if _, err := store.Put(ctx, "run-d", path, []byte("a"), "text/plain"); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if _, err := store.Put(ctx, "run-d", path, []byte("b"), "text/plain"); err == nil {
		t.Error("duplicate (run_id, path) accepted")
	}
}

func TestNopStore(t *testing.T) {
	uri, err := NopStore{}.Put(context.Background(), "r", "p", nil, "")
	if err != nil || uri == "" {
		t.Errorf("NopStore.Put = %q, %v", uri, err)
	}
}
