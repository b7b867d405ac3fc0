package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smarter-guild/bytes-core/internal/announce"
	"github.com/smarter-guild/bytes-core/internal/apierr"
)

type beaconRequest struct {
	UserID            string `json:"user_id"`
	ChannelID         string `json:"channel_id"`
	Content           string `json:"content"`
	IdentityName      string `json:"identity_name"`
	IdentityAvatarURL string `json:"identity_avatar_url"`
	RoleID            string `json:"role_id,omitempty"`
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	var req beaconRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// Ensure the balance row exists so the cooldown column SendBeacon
	// writes to is guaranteed present.
	if _, err := s.ledger.GetBalance(r.Context(), guildID, req.UserID); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	roleMentionLen := 0
	if req.RoleID != "" {
		roleMentionLen = len(fmt.Sprintf("<@&%s> ", req.RoleID))
	}

	ack, err := s.announce.SendBeacon(r.Context(), guildID, req.UserID, req.ChannelID,
		announce.Identity{Name: req.IdentityName, AvatarURL: req.IdentityAvatarURL}, req.Content, roleMentionLen)
	if err != nil {
		s.metrics.TrackBeacon(false)
		apierr.WriteHTTP(w, err)
		return
	}
	s.metrics.TrackBeacon(true)
	writeJSON(w, http.StatusOK, ack)
}
