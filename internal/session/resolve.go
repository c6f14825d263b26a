package session

import (
	"os"

	"github.com/chatchick/chatd/internal/config"
)

const DefaultSessionName = "main"

// EnvSessionName overrides the configured default session when set.
const EnvSessionName = "CHATD_SESSION"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. CHATD_SESSION environment variable
// 3. config.toml default_session
// 4. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvSessionName); env != "" {
		return env
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
