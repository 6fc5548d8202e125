package redact

import (
	"strings"
	"testing"
)

func TestIsSecretKey(t *testing.T) {
	secret := []string{"api_key", "APIKey", "secret", "client_secret", "token", "access_token", "password", "db_password"}
	for _, k := range secret {
		if !IsSecretKey(k) {
			t.Errorf("IsSecretKey(%q) = false", k)
		}
	}
	plain := []string{"model", "temperature", "prompt", "provider", "max_tokens"}
	for _, k := range plain {
		if IsSecretKey(k) {
			t.Errorf("IsSecretKey(%q) = true", k)
		}
	}
}

func TestValueMasksNestedSecrets(t *testing.T) {
	in := map[string]any{
		"model":   "gpt-4o",
		"api_key": "sk-live-123",
		"extra": map[string]any{
			"auth_token": "t-456",
			"safe":       "keep",
			"list": []any{
				map[string]any{"password": "hunter2", "name": "x"},
			},
		},
	}
	out, ok := Value(in).(map[string]any)
	if !ok {
		t.Fatal("Value did not return a map")
	}
	if out["api_key"] != Mask {
		t.Errorf("api_key = %v", out["api_key"])
	}
	extra := out["extra"].(map[string]any)
	if extra["auth_token"] != Mask || extra["safe"] != "keep" {
		t.Errorf("extra = %v", extra)
	}
	nested := extra["list"].([]any)[0].(map[string]any)
	if nested["password"] != Mask || nested["name"] != "x" {
		t.Errorf("nested = %v", nested)
	}

	// The input must be untouched.
	if in["api_key"] != "sk-live-123" {
		t.Error("Value mutated its input")
	}
}

func TestHashJSONStableAcrossSecretValues(t *testing.T) {
	a := Value(map[string]any{"model": "m", "api_key": "one"})
	b := Value(map[string]any{"model": "m", "api_key": "two"})
	if HashJSON(a) != HashJSON(b) {
		t.Error("hashes differ for maps that differ only in masked secrets")
	}

	c := Value(map[string]any{"model": "other", "api_key": "one"})
	if HashJSON(a) == HashJSON(c) {
		t.Error("hashes collide for different non-secret values")
	}
}

func TestHashJSONIsDeterministic(t *testing.T) {
	v := map[string]any{"b": 2, "a": 1, "c": map[string]any{"z": true, "y": false}}
	if HashJSON(v) != HashJSON(v) {
		t.Error("HashJSON not deterministic")
	}
}

func TestHashFormats(t *testing.T) {
	for _, h := range []string{HashJSON(map[string]any{"k": "v"}), HashText("hello"), HashText("")} {
		if !strings.HasPrefix(h, "sha256:") {
			t.Errorf("hash %q missing algorithm prefix", h)
		}
		if len(h) != len("sha256:")+64 {
			t.Errorf("hash %q has unexpected length", h)
		}
	}
	if HashText("a") == HashText("b") {
		t.Error("distinct texts hash equal")
	}
}
