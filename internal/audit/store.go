// Package audit persists redacted snapshots of outbound provider
// requests. One record is written per attempt, before the provider is
// invoked, so a crash mid-call still leaves a record of what was about
// to be sent. Records never contain raw prompt text or credentials.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store receives one redacted record per attempt. Put returns an opaque
// URI for the stored artifact.
type Store interface {
	Put(ctx context.Context, runID, path string, data []byte, contentType string) (string, error)
}

// Record is the persisted request snapshot. Params must already be
// redacted by the caller.
type Record struct {
	TraceID          string         `json:"trace_id"`
	RunID            string         `json:"run_id"`
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	Params           map[string]any `json:"params"`
	PromptHash       string         `json:"prompt_hash"`
	InstructionsHash string         `json:"instructions_hash,omitempty"`
	ContextHash      string         `json:"context_hash,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Encode renders the record as indented JSON.
func (r Record) Encode() ([]byte, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return json.MarshalIndent(r, "", "  ")
}

// RequestPath returns the artifact path for an attempt's request record.
func RequestPath(runID string, sequence int) string {
	return fmt.Sprintf("artifacts/llm/%s/%04d/request.json", runID, sequence)
}

// NopStore discards all records, for embedding without persistence.
type NopStore struct{}

// Put implements Store.
func (NopStore) Put(_ context.Context, runID, path string, _ []byte, _ string) (string, error) {
	return "nop://" + runID + "/" + path, nil
}

// FSStore writes artifacts as files under a root directory.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FSStore{root: dir}, nil
}

// Put implements Store.
func (s *FSStore) Put(_ context.Context, _ string, path string, data []byte, _ string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return "file://" + full, nil
}
