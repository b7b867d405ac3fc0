// Package api wires the HTTP surface a chat gateway talks to: bearer
// auth, the bytes ledger, squads, activity/health analytics, and the
// beacon, behind the middleware pipeline assembled in NewRouter.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/smarter-guild/bytes-core/internal/activity"
	"github.com/smarter-guild/bytes-core/internal/announce"
	"github.com/smarter-guild/bytes-core/internal/appconfig"
	"github.com/smarter-guild/bytes-core/internal/cache"
	"github.com/smarter-guild/bytes-core/internal/clockid"
	"github.com/smarter-guild/bytes-core/internal/guildconfig"
	"github.com/smarter-guild/bytes-core/internal/ledger"
	custmw "github.com/smarter-guild/bytes-core/internal/middleware"
	"github.com/smarter-guild/bytes-core/internal/observability"
	"github.com/smarter-guild/bytes-core/internal/squads"
	"github.com/smarter-guild/bytes-core/internal/store"
)

// apiVersion is reported by /auth/status and the health endpoint.
const apiVersion = "1.0"

// Server holds every component the HTTP layer dispatches to.
type Server struct {
	cfg *appconfig.Config

	store     *store.Store
	guildcfg  *guildconfig.Store
	ledger    *ledger.Ledger
	squads    *squads.Squads
	activity  *activity.Activities
	announce  *announce.Announce
	metrics   *observability.Metrics
	cache     *cache.Client
	clock     clockid.Clock
	log       zerolog.Logger
	rateLimit *custmw.RateLimiter
}

// NewServer constructs a Server from already-initialized components. rdb
// may be nil when no REDIS_URL was configured; handleAuthHealth reports
// that as an absent "redis" field rather than an error.
func NewServer(
	cfg *appconfig.Config,
	st *store.Store,
	gc *guildconfig.Store,
	ldg *ledger.Ledger,
	sq *squads.Squads,
	act *activity.Activities,
	ann *announce.Announce,
	metrics *observability.Metrics,
	rdb *cache.Client,
	clock clockid.Clock,
	log zerolog.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		guildcfg:  gc,
		ledger:    ldg,
		squads:    sq,
		activity:  act,
		announce:  ann,
		metrics:   metrics,
		cache:     rdb,
		clock:     clock,
		log:       log,
		rateLimit: custmw.NewRateLimiter(cfg.RateLimitEnabled, cfg.RateLimitRPM),
	}
}

// NewRouter assembles the full middleware pipeline and route table.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(custmw.CORS([]string{"*"}))
	r.Use(custmw.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custmw.RequestLogger(s.log))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := s.clock.Now()
			ww := chimw.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			route := chi.RouteContext(req.Context()).RoutePattern()
			s.metrics.TrackRequest(route, ww.Status(), s.clock.Now().Sub(start).Seconds()*1000)
		})
	})
	r.Use(custmw.MaxBodyBytes(s.cfg.MaxBodyBytes))

	r.Get("/healthz", s.handleLiveness)
	r.Get("/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(custmw.Auth(s.cfg.BotAPIKey, s.cfg.AdminAPIKey))
		r.Use(s.rateLimit.Handler)
		r.Use(custmw.Timeout(s.cfg.DefaultTimeout))

		r.Post("/auth/validate", s.handleAuthValidate)
		r.Get("/auth/health", s.handleAuthHealth)
		r.Get("/auth/status", s.handleAuthStatus)

		r.Route("/guilds/{guildID}", func(r chi.Router) {
			r.Get("/bytes/balance/{userID}", s.handleGetBalance)
			r.Post("/bytes/daily", s.handleClaimDaily)
			r.Post("/bytes/transfer", s.handleTransfer)
			r.Get("/bytes/leaderboard", s.handleLeaderboard)
			r.Get("/bytes/transactions", s.handleTransactions)
			r.Get("/bytes/config", s.handleGetGuildConfig)
			r.With(custmw.RequireAdmin).Put("/bytes/config", s.handleUpdateGuildConfig)

			r.Get("/squads", s.handleListSquads)
			r.Get("/squads/{squadID}", s.handleGetSquad)
			r.Get("/squads/{squadID}/members/paginated", s.handleSquadMembersPaginated)
			r.Post("/squads/{squadID}/join", s.handleJoinSquad)
			r.Get("/users/{userID}/squad", s.handleGetUserSquad)

			r.Get("/activities", s.handleListGuildActivities)
			r.With(custmw.Timeout(s.cfg.AnalyticsTimeout)).Get("/activities/stats", s.handleActivityStats)
			r.With(custmw.Timeout(s.cfg.AnalyticsTimeout)).Get("/activities/count", s.handleActivityCount)
			r.With(custmw.Timeout(s.cfg.AnalyticsTimeout)).Get("/activities/recent", s.handleActivityRecent)

			r.Post("/beacon", s.handleBeacon)
		})

		r.Post("/squads/activities", s.handleCreateActivity)
		r.Post("/squads/activities/bulk", s.handleCreateActivityBulk)

		r.Route("/squads/{squadID}/activities", func(r chi.Router) {
			r.Use(custmw.Timeout(s.cfg.AnalyticsTimeout))
			r.Get("/", s.handleListSquadActivities)
			r.Get("/health/score", s.handleHealthScore)
			r.Get("/health/engagement", s.handleEngagementScore)
			r.Get("/health/report", s.handleHealthReport)
			r.Get("/health/trends", s.handleHealthTrends)
			r.Get("/health/patterns", s.handleHealthPatterns)
		})
	})

	return r
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
