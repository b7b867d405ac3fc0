package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smarter-guild/bytes-core/internal/apierr"
	"github.com/smarter-guild/bytes-core/internal/guildconfig"
)

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	userID := chi.URLParam(r, "userID")

	bal, err := s.ledger.GetBalance(r.Context(), guildID, userID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

type dailyClaimRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (s *Server) handleClaimDaily(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	var req dailyClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.ledger.ClaimDaily(r.Context(), guildID, req.UserID, req.Username)
	if err != nil {
		s.metrics.TrackLedgerOperation("daily_claim", false)
		apierr.WriteHTTP(w, err)
		return
	}
	s.metrics.TrackLedgerOperation("daily_claim", true)
	writeJSON(w, http.StatusOK, result)
}

type transferRequest struct {
	GiverID          string `json:"giver_id"`
	GiverUsername    string `json:"giver_username"`
	ReceiverID       string `json:"receiver_id"`
	ReceiverUsername string `json:"receiver_username"`
	Amount           int64  `json:"amount"`
	Reason           string `json:"reason,omitempty"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.ledger.Transfer(r.Context(), guildID, req.GiverID, req.GiverUsername,
		req.ReceiverID, req.ReceiverUsername, req.Amount, req.Reason)
	if err != nil {
		s.metrics.TrackLedgerOperation("transfer", false)
		apierr.WriteHTTP(w, err)
		return
	}
	s.metrics.TrackLedgerOperation("transfer", true)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	limit := queryInt(r, "limit", 10)

	entries, err := s.ledger.GetLeaderboard(r.Context(), guildID, limit)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	userID := queryString(r, "user_id", "")
	limit := queryInt(r, "limit", 20)

	txs, err := s.ledger.GetTransactionHistory(r.Context(), guildID, userID, limit)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleGetGuildConfig(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	cfg, err := s.guildcfg.Get(r.Context(), guildID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type guildConfigPatchRequest struct {
	StartingBalance       *int64         `json:"starting_balance,omitempty"`
	DailyAmount           *int64         `json:"daily_amount,omitempty"`
	MaxTransfer           *int64         `json:"max_transfer,omitempty"`
	TransferCooldownHours *int           `json:"transfer_cooldown_hours,omitempty"`
	StreakBonuses         map[int]int      `json:"streak_bonuses,omitempty"`
	RoleRewards           map[string]int64 `json:"role_rewards,omitempty"`
	CampaignActive        *bool            `json:"campaign_active,omitempty"`
}

func (s *Server) handleUpdateGuildConfig(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	var req guildConfigPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cfg, err := s.guildcfg.Update(r.Context(), guildID, guildconfig.Patch{
		StartingBalance:       req.StartingBalance,
		DailyAmount:           req.DailyAmount,
		MaxTransfer:           req.MaxTransfer,
		TransferCooldownHours: req.TransferCooldownHours,
		StreakBonuses:         req.StreakBonuses,
		RoleRewards:           req.RoleRewards,
		CampaignActive:        req.CampaignActive,
	})
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
