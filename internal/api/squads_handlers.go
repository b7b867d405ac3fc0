package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smarter-guild/bytes-core/internal/apierr"
)

func (s *Server) handleListSquads(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	list, err := s.squads.ListSquads(r.Context(), guildID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSquad(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	squadID := chi.URLParam(r, "squadID")
	sq, err := s.squads.GetSquad(r.Context(), guildID, squadID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sq)
}

func (s *Server) handleSquadMembersPaginated(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	squadID := chi.URLParam(r, "squadID")
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	sq, err := s.squads.GetSquad(r.Context(), guildID, squadID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	members, err := s.squads.GetSquadMembers(r.Context(), guildID, squadID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	total := len(members)
	end := offset + limit
	if offset > total {
		offset = total
	}
	if end > total {
		end = total
	}
	page := members[offset:end]

	writeJSON(w, http.StatusOK, map[string]any{
		"squad":       sq,
		"members":     page,
		"total_count": total,
		"page_info": map[string]any{
			"limit":    limit,
			"offset":   offset,
			"returned": len(page),
			"has_more": end < total,
		},
	})
}

type joinSquadRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (s *Server) handleJoinSquad(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	squadID := chi.URLParam(r, "squadID")
	var req joinSquadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.squads.JoinSquad(r.Context(), guildID, req.UserID, squadID, req.Username)
	if err != nil {
		s.metrics.TrackSquadOperation("join", false)
		apierr.WriteHTTP(w, err)
		return
	}
	s.metrics.TrackSquadOperation("join", true)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetUserSquad(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	userID := chi.URLParam(r, "userID")

	sq, err := s.squads.GetUserSquad(r.Context(), guildID, userID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	if sq == nil {
		writeJSON(w, http.StatusOK, map[string]any{"squad": nil, "has_squad": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"squad": sq, "has_squad": true})
}
