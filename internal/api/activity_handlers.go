package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smarter-guild/bytes-core/internal/apierr"
)

type createActivityRequest struct {
	GuildID      string         `json:"guild_id"`
	UserID       string         `json:"user_id"`
	SquadID      *string        `json:"squad_id,omitempty"`
	ActivityType string         `json:"activity_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	var req createActivityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.activity.CreateOne(r.Context(), req.GuildID, req.UserID, req.SquadID, req.ActivityType, req.Metadata); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"created": true})
}

type bulkActivityItem struct {
	UserID       string         `json:"user_id"`
	SquadID      *string        `json:"squad_id,omitempty"`
	ActivityType string         `json:"activity_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type createActivityBulkRequest struct {
	GuildID string             `json:"guild_id"`
	Items   []bulkActivityItem `json:"items"`
}

func (s *Server) handleCreateActivityBulk(w http.ResponseWriter, r *http.Request) {
	var req createActivityBulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	items := make([]struct {
		UserID       string
		SquadID      *string
		ActivityType string
		Metadata     map[string]any
	}, len(req.Items))
	for i, it := range req.Items {
		items[i].UserID = it.UserID
		items[i].SquadID = it.SquadID
		items[i].ActivityType = it.ActivityType
		items[i].Metadata = it.Metadata
	}

	if err := s.activity.CreateBulk(r.Context(), req.GuildID, items); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"created": len(items)})
}

func (s *Server) handleListGuildActivities(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	activityType := queryString(r, "activity_type", "")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	acts, err := s.activity.ListGuildActivities(r.Context(), guildID, activityType, limit, offset)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

func (s *Server) handleActivityStats(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	acts, err := s.activity.ListGuildActivities(r.Context(), guildID, "", 1000, 0)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	byType := map[string]int{}
	for _, a := range acts {
		byType[a.ActivityType]++
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(acts), "by_type": byType})
}

func (s *Server) handleActivityCount(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	activityType := queryString(r, "activity_type", "")
	acts, err := s.activity.ListGuildActivities(r.Context(), guildID, activityType, 1000, 0)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(acts)})
}

func (s *Server) handleActivityRecent(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	limit := queryInt(r, "limit", 10)
	acts, err := s.activity.ListGuildActivities(r.Context(), guildID, "", limit, 0)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

func (s *Server) handleListSquadActivities(w http.ResponseWriter, r *http.Request) {
	squadID := chi.URLParam(r, "squadID")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	acts, err := s.activity.ListSquadActivities(r.Context(), squadID, limit, offset)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

func (s *Server) handleHealthScore(w http.ResponseWriter, r *http.Request) {
	squadID := chi.URLParam(r, "squadID")
	days := queryInt(r, "days", 30)

	score, err := s.activity.HealthScore(r.Context(), squadID, days)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"squad_id": squadID, "days": days, "health_score": score})
}

func (s *Server) handleEngagementScore(w http.ResponseWriter, r *http.Request) {
	squadID := chi.URLParam(r, "squadID")
	days := queryInt(r, "days", 7)

	score, err := s.activity.EngagementScore(r.Context(), squadID, days)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"squad_id": squadID, "days": days, "engagement_score": score})
}

func (s *Server) handleHealthReport(w http.ResponseWriter, r *http.Request) {
	squadID := chi.URLParam(r, "squadID")
	days := queryInt(r, "days", 30)

	health, err := s.activity.HealthScore(r.Context(), squadID, days)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	engagement, err := s.activity.EngagementScore(r.Context(), squadID, days)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	trend, err := s.activity.Trends(r.Context(), squadID, days)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"squad_id":         squadID,
		"days":             days,
		"health_score":     health,
		"engagement_score": engagement,
		"trend":            trend,
	})
}

func (s *Server) handleHealthTrends(w http.ResponseWriter, r *http.Request) {
	squadID := chi.URLParam(r, "squadID")
	days := queryInt(r, "days", 30)

	trend, err := s.activity.Trends(r.Context(), squadID, days)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (s *Server) handleHealthPatterns(w http.ResponseWriter, r *http.Request) {
	squadID := chi.URLParam(r, "squadID")
	kind := queryString(r, "kind", "weekly")

	pattern, err := s.activity.Patterns(r.Context(), squadID, kind)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pattern)
}
