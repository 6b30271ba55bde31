package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/HammerMeetNail/bingohall/internal/config"
	"github.com/HammerMeetNail/bingohall/internal/database"
	"github.com/HammerMeetNail/bingohall/internal/game"
	"github.com/HammerMeetNail/bingohall/internal/logging"
	"github.com/HammerMeetNail/bingohall/internal/models"
	"github.com/HammerMeetNail/bingohall/internal/realtime"
	"github.com/HammerMeetNail/bingohall/internal/services"
)

func main() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Could not load .env file", map[string]interface{}{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:   "bingohall",
		Usage:  "multiplayer bingo server",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP and websocket server (default)",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations and exit",
				Action: migrate,
			},
			{
				Name:  "deck",
				Usage: "manage the card deck",
				Commands: []*cli.Command{
					{
						Name:  "generate",
						Usage: "build the deck; refuses while any room is open",
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "force",
								Usage: "replace an existing deck",
							},
						},
						Action: generateDeck,
					},
				},
			},
		},
	}
}

// setup loads and validates configuration and builds the process logger.
func setup() (*config.Config, *logging.Logger, error) {
	logger := logging.New()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Server.Debug {
		logger.SetLevel(logging.LevelDebug)
		logging.SetDefaultLevel(logging.LevelDebug)
		logger.Debug("Debug logging enabled", map[string]interface{}{"env": cfg.Server.Environment})
	}
	return cfg, logger, nil
}

// openStore returns the configured state store. For postgres it also runs
// migrations and returns the pool so callers can health-check and close it.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (game.StateStore, *database.PostgresDB, error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("Using in-memory store; state is lost on restart")
		return game.NewMemoryStore(), nil, nil
	}

	logger.Info("Connecting to PostgreSQL", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
	})
	db, err := database.NewPostgresDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := runMigrations(cfg, logger); err != nil {
		db.Close()
		return nil, nil, err
	}
	return services.NewGameStore(services.NewPoolAdapter(db.Pool)), db, nil
}

func runMigrations(cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Running database migrations...", map[string]interface{}{"path": cfg.Store.Migrations})
	migrator, err := database.NewMigrator(cfg.Database.DSN(), cfg.Store.Migrations)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer func() { _ = migrator.Close() }()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if version, dirty, err := migrator.Version(); err == nil {
		logger.Info("Migrations completed", map[string]interface{}{"version": version, "dirty": dirty})
	}
	return nil
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("migrate needs STORE_DRIVER=postgres, got %q", cfg.Store.Driver)
	}
	return runMigrations(cfg, logger)
}

func generateDeck(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	rules, err := cfg.Game.Rules()
	if err != nil {
		return err
	}
	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	cards, err := game.RebuildDeck(ctx, rules, store, cmd.Bool("force"), game.Options{Logger: logger})
	if errors.Is(err, game.ErrDeckInUse) {
		return errors.New("rooms are still open; finish or retire them before rebuilding the deck")
	}
	if err != nil {
		return err
	}
	logger.Info("Deck ready", map[string]interface{}{"cards": len(cards)})
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	rules, err := cfg.Game.Rules()
	if err != nil {
		return err
	}
	logger.Info("Starting bingo hall server...", map[string]interface{}{"store": cfg.Store.Driver})

	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	var dbPinger, redisPinger pinger
	if db != nil {
		defer db.Close()
		dbPinger = db
	}

	var (
		redisClient services.RedisClient
		publisher   *services.RedisEventPublisher
		limits      rateLimits
	)
	if cfg.Redis.Enabled {
		logger.Info("Connecting to Redis", map[string]interface{}{"addr": cfg.Redis.Addr()})
		redisDB, err := database.NewRedisDB(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() { _ = redisDB.Close() }()
		redisPinger = redisDB
		redisClient = services.NewRedisAdapter(redisDB.Client)
		publisher = services.NewRedisEventPublisher(redisClient, cfg.Redis.EventChannel, 0, logger)
		defer publisher.Close()
		if cfg.RateLimit.Enabled {
			limits = newRateLimits(redisDB.Client, cfg.RateLimit)
		}
	} else {
		logger.Warn("Redis disabled; login, event fan-out and rate limiting are off")
	}

	// The hub needs the service to resolve rooms, and the service needs
	// somewhere to send events, so events reach the hub through a forwarder.
	var hub *realtime.Hub
	notifiers := game.Notifiers{game.NotifierFunc(func(ev models.Event) { hub.Publish(ev) })}
	if publisher != nil {
		notifiers = append(notifiers, publisher)
	}

	svc, err := game.Open(ctx, rules, store, game.Options{Notifier: notifiers, Logger: logger})
	if err != nil {
		return fmt.Errorf("opening game: %w", err)
	}
	hub = realtime.NewHub(svc, cfg.Server.AllowedOrigins, logger)

	secret := cfg.Auth.JWTSecret
	if redisClient == nil || secret == "" {
		logger.Warn("Login disabled: AUTH_JWT_SECRET and redis are both required")
		secret = ""
	}
	authService := services.NewAuthService(svc, redisClient, secret, cfg.Auth.Issuer, cfg.Auth.SessionTTL)

	handler := newRouter(routerDeps{
		games:  svc,
		auth:   authService,
		hub:    hub,
		db:     dbPinger,
		redis:  redisPinger,
		limits: limits,
		logger: logger,
	})

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go hub.Run(bgCtx)
	go retireLoop(bgCtx, svc, cfg.Game.RetireInterval, cfg.Game.RoomRetention, time.Now)

	addr := cfg.Server.Addr()
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", map[string]interface{}{"addr": addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Server is shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	server.SetKeepAlivesEnabled(false)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Could not gracefully shutdown the server", map[string]interface{}{
			"error": err.Error(),
		})
	}
	bgCancel()
	logger.Info("Server stopped")
	return nil
}

type retirer interface {
	Retire(before time.Time) int
}

// retireLoop drops rooms that finished more than retention ago, once per
// interval, until ctx is cancelled.
func retireLoop(ctx context.Context, svc retirer, interval, retention time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.Retire(now().Add(-retention))
		}
	}
}
