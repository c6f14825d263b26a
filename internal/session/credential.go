package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// TokenEnv is consulted when no credential file is configured.
const TokenEnv = "CHATD_TOKEN"

// LoadToken resolves the bearer token for a session using precedence:
// 1. explicit credential file path from config
// 2. the session's default token file
// 3. the CHATD_TOKEN environment variable
//
// The token is opaque to chatd; it is minted and rotated by the
// authentication service.
func LoadToken(name, credentialPath string) (string, error) {
	paths := []string{credentialPath, TokenPath(name)}
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err == nil {
			token := strings.TrimSpace(string(data))
			if token != "" {
				return token, nil
			}
		}
	}
	if token := strings.TrimSpace(os.Getenv(TokenEnv)); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("no credential found for session %q: set %s or write %s", name, TokenEnv, TokenPath(name))
}

// TokenIdentity extracts the user id from a JWT bearer token without
// verifying it. The daemon only needs its own id to key conversations; the
// server is the one that validates the signature.
func TokenIdentity(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("credential is not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode token payload: %w", err)
	}
	var claims struct {
		ID       json.Number `json:"id"`
		Username string      `json:"username"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("parse token payload: %w", err)
	}
	if claims.ID.String() == "" {
		return "", fmt.Errorf("token payload has no id claim")
	}
	if _, err := strconv.ParseInt(claims.ID.String(), 10, 64); err != nil {
		return "", fmt.Errorf("token id claim is not numeric: %w", err)
	}
	return claims.ID.String(), nil
}
