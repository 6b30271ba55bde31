package main

import (
	"context"
	"net/http"

	"github.com/HammerMeetNail/bingohall/internal/config"
	"github.com/HammerMeetNail/bingohall/internal/handlers"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/middleware"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

type pinger interface {
	Health(ctx context.Context) error
}

// gameService is everything the HTTP layer and the credential layer need
// from the engine.
type gameService interface {
	handlers.GameService
	services.AccountStore
}

type authService interface {
	handlers.AuthServiceInterface
	middleware.Authenticator
}

// rateLimits groups the limiters by route class. A nil limiter lets
// everything through.
type rateLimits struct {
	login   *middleware.RateLimiter
	actions *middleware.RateLimiter
	money   *middleware.RateLimiter
}

func newRateLimits(redis middleware.Evaluator, cfg config.RateLimitConfig) rateLimits {
	return rateLimits{
		login:   middleware.NewRateLimiter(redis, int64(cfg.Login), cfg.Window, "ratelimit:login:", middleware.GetClientIP, true),
		actions: middleware.NewRateLimiter(redis, int64(cfg.Actions), cfg.Window, "ratelimit:actions:", middleware.UserOrIPKey, true),
		money:   middleware.NewRateLimiter(redis, int64(cfg.Actions), cfg.Window, "ratelimit:money:", middleware.UserOrIPKey, false),
	}
}

type routerDeps struct {
	games  gameService
	auth   authService
	hub    *realtime.Hub
	db     pinger
	redis  pinger
	limits rateLimits
	logger *logging.Logger
}

func newRouter(d routerDeps) http.Handler {
	healthHandler := handlers.NewHealthHandler(d.db, d.redis)
	authHandler := handlers.NewAuthHandler(d.auth)
	cardHandler := handlers.NewCardHandler(d.games)
	gameHandler := handlers.NewGameHandler(d.games)
	walletHandler := handlers.NewWalletHandler(d.games)

	authMiddleware := middleware.NewAuthMiddleware(d.auth)
	requireAuth := authMiddleware.RequireAuth
	requestLogger := middleware.NewRequestLogger(d.logger)

	mux := http.NewServeMux()

	// Health endpoints (no auth, no rate limit)
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("GET /ready", healthHandler.Ready)
	mux.HandleFunc("GET /live", healthHandler.Live)

	// Auth endpoints
	mux.HandleFunc("POST /api/auth/login", d.limits.login.Wrap(authHandler.Login))
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /api/auth/me", requireAuth(authHandler.Me))

	// Card endpoints
	mux.HandleFunc("GET /api/cards", cardHandler.List)
	mux.HandleFunc("GET /api/cards/{number}", cardHandler.Get)
	mux.HandleFunc("GET /api/cards/{number}/image", cardHandler.Image)

	// Game endpoints
	mux.HandleFunc("POST /api/games/select", requireAuth(d.limits.money.Wrap(gameHandler.SelectCard)))
	mux.HandleFunc("GET /api/games", gameHandler.List)
	mux.HandleFunc("GET /api/games/{room}", gameHandler.Get)
	mux.HandleFunc("POST /api/games/{room}/start", requireAuth(gameHandler.Start))
	mux.HandleFunc("POST /api/games/{room}/draw", requireAuth(d.limits.actions.Wrap(gameHandler.Draw)))
	mux.HandleFunc("POST /api/games/{room}/mark", requireAuth(d.limits.actions.Wrap(gameHandler.Mark)))
	mux.HandleFunc("POST /api/games/{room}/abandon", requireAuth(d.limits.money.Wrap(gameHandler.Abandon)))

	// Wallet endpoints
	mux.HandleFunc("GET /api/wallet", requireAuth(walletHandler.Balance))
	mux.HandleFunc("GET /api/wallet/history", requireAuth(walletHandler.History))
	mux.HandleFunc("POST /api/wallet/deposit", requireAuth(d.limits.money.Wrap(walletHandler.Deposit)))
	mux.HandleFunc("POST /api/wallet/withdraw", requireAuth(d.limits.money.Wrap(walletHandler.Withdraw)))

	// Room event stream; browsers pass the credential as ?token=
	mux.HandleFunc("GET /ws/games/{room}", requireAuth(d.hub.ServeWS))

	// Build middleware chain (order matters: outermost first). The logger
	// sits inside auth so it can record the user.
	var handler http.Handler = mux
	handler = requestLogger.Apply(handler)
	handler = authMiddleware.Authenticate(handler)
	return handler
}
