package session

import "github.com/matheus3301/wppdash/internal/config"

const DefaultSessionName = "main"

// Resolve picks the active session: the flag, then cfg.DefaultSession,
// then "main". A nil cfg is read from ConfigPath.
func Resolve(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg == nil {
		loaded, err := config.Load(ConfigPath())
		if err != nil {
			return DefaultSessionName
		}
		cfg = loaded
	}
	if cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
