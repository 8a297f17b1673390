package api

import (
	"net/http"

	"github.com/seenimoa/b3fetch/internal/config"
)

// redacted returns a copy of cfg with credentials removed.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	if out.Storage.DSN != "" {
		out.Storage.DSN = "[redacted]"
	}
	if out.Cache.Password != "" {
		out.Cache.Password = "[redacted]"
	}
	return out
}

// handleGetConfig returns the running configuration without credentials.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    redacted(s.cfg),
	})
}

// handleGetSecrets reports which credentials are set and where they came
// from, with masked values.
func (s *Server) handleGetSecrets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    config.CheckSecrets(s.cfg),
	})
}
