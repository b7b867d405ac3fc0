package api

import (
	"net/http"
	"time"

	custmw "github.com/smarter-guild/bytes-core/internal/middleware"
)

func (s *Server) handleAuthValidate(w http.ResponseWriter, r *http.Request) {
	// Reaching this handler at all means Auth middleware already accepted
	// the bearer token.
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleAuthHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := s.store.Ping(r.Context()); err != nil {
		dbStatus = "unreachable"
	}

	body := map[string]any{
		"status":    "ok",
		"version":   apiVersion,
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
		"database":  dbStatus,
	}

	// redis is omitted entirely when no REDIS_URL was configured — the
	// guild config cache falls back to TTL-only invalidation in that case.
	if s.cache != nil {
		redisStatus := "ok"
		if err := s.cache.Ping(r.Context()); err != nil {
			redisStatus = "unreachable"
		}
		body["redis"] = redisStatus
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"key_name":      string(custmw.KeyFrom(r.Context())),
		"environment":   s.cfg.Env,
		"api_version":   apiVersion,
		"timestamp":     s.clock.Now().UTC().Format(time.RFC3339),
	})
}
