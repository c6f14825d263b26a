package session

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTokenFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("  tok-abc123\n"), 0600); err != nil {
		t.Fatal(err)
	}

	token, err := LoadToken("main", path)
	if err != nil {
		t.Fatalf("LoadToken() error = %v", err)
	}
	if token != "tok-abc123" {
		t.Errorf("token = %q, want tok-abc123", token)
	}
}

func TestLoadTokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnv, "tok-env")

	token, err := LoadToken("missing-session", filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("LoadToken() error = %v", err)
	}
	if token != "tok-env" {
		t.Errorf("token = %q, want tok-env", token)
	}
}

func TestLoadTokenMissing(t *testing.T) {
	t.Setenv(TokenEnv, "")

	_, err := LoadToken("nope", filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Error("LoadToken() expected error when no credential exists")
	}
}

func jwtWithPayload(t *testing.T, payload string) string {
	t.Helper()
	enc := base64.RawURLEncoding.EncodeToString
	return enc([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." + enc([]byte(payload)) + ".sig"
}

func TestTokenIdentity(t *testing.T) {
	id, err := TokenIdentity(jwtWithPayload(t, `{"id":42,"username":"alice"}`))
	if err != nil {
		t.Fatalf("TokenIdentity() error = %v", err)
	}
	if id != "42" {
		t.Errorf("id = %q, want 42", id)
	}
}

func TestTokenIdentityRejectsOpaqueTokens(t *testing.T) {
	if _, err := TokenIdentity("tok-abc123"); err == nil {
		t.Error("expected error for non-JWT token")
	}
	if _, err := TokenIdentity(jwtWithPayload(t, `{"username":"alice"}`)); err == nil {
		t.Error("expected error when id claim is missing")
	}
}
