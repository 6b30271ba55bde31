package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/HammerMeetNail/bingohall/internal/game"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Game      GameConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	Environment     string        `env:"APP_ENV" envDefault:"development"` // "development", "production", "test"
	Debug           bool          `env:"DEBUG" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	// Origins allowed to open WebSocket connections; empty means same host.
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
}

// StoreConfig picks where game state lives: "postgres" or "memory".
type StoreConfig struct {
	Driver     string `env:"STORE_DRIVER" envDefault:"postgres"`
	Migrations string `env:"MIGRATIONS_PATH" envDefault:"migrations"`
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"bingo"`
	Password string `env:"DB_PASSWORD" envDefault:"bingo"`
	DBName   string `env:"DB_NAME" envDefault:"bingohall"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns int32  `env:"DB_MIN_CONNS" envDefault:"5"`
}

type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	// Channel prefix for room events fanned out to other processes.
	EventChannel string `env:"REDIS_EVENT_CHANNEL" envDefault:"bingo:room"`
}

type AuthConfig struct {
	JWTSecret  string        `env:"AUTH_JWT_SECRET"`
	Issuer     string        `env:"AUTH_ISSUER" envDefault:"bingohall"`
	SessionTTL time.Duration `env:"AUTH_SESSION_TTL" envDefault:"24h"`
}

type GameConfig struct {
	CardPrice          decimal.Decimal `env:"GAME_CARD_PRICE" envDefault:"5.00"`
	PrizePoolShare     decimal.Decimal `env:"GAME_PRIZE_POOL_SHARE" envDefault:"0.80"`
	DeckSize           int             `env:"GAME_DECK_SIZE" envDefault:"400"`
	MinPlayersToStart  int             `env:"GAME_MIN_PLAYERS" envDefault:"2"`
	MaxPlayers         int             `env:"GAME_MAX_PLAYERS" envDefault:"100"`
	ColumnSize         int             `env:"GAME_COLUMN_SIZE" envDefault:"15"`
	WinPatterns        []string        `env:"GAME_WIN_PATTERNS" envDefault:"rows,columns,diagonals" envSeparator:","`
	GenerationAttempts int             `env:"GAME_GENERATION_ATTEMPTS" envDefault:"100"`
	DepositMin         decimal.Decimal `env:"GAME_DEPOSIT_MIN" envDefault:"10.00"`
	WithdrawalMin      decimal.Decimal `env:"GAME_WITHDRAWAL_MIN" envDefault:"20.00"`
	WelcomeBonus       decimal.Decimal `env:"GAME_WELCOME_BONUS" envDefault:"10.00"`
	RequireDrawnToMark bool            `env:"GAME_REQUIRE_DRAWN_TO_MARK" envDefault:"false"`
	RoomRetention      time.Duration   `env:"GAME_ROOM_RETENTION" envDefault:"6h"`
	RetireInterval     time.Duration   `env:"GAME_RETIRE_INTERVAL" envDefault:"10m"`
}

type RateLimitConfig struct {
	Enabled bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	Login   int           `env:"RATE_LIMIT_LOGIN" envDefault:"10"`
	Actions int           `env:"RATE_LIMIT_ACTIONS" envDefault:"120"`
	Window  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// Rules converts the game settings into engine rules.
func (g GameConfig) Rules() (game.Rules, error) {
	patterns, err := game.ParsePatterns(g.WinPatterns)
	if err != nil {
		return game.Rules{}, err
	}
	return game.Rules{
		CardPrice:          g.CardPrice,
		PrizePoolShare:     g.PrizePoolShare,
		DeckSize:           g.DeckSize,
		MinPlayersToStart:  g.MinPlayersToStart,
		MaxPlayers:         g.MaxPlayers,
		ColumnSize:         g.ColumnSize,
		Patterns:           patterns,
		GenerationAttempts: g.GenerationAttempts,
		DepositMin:         g.DepositMin,
		WithdrawalMin:      g.WithdrawalMin,
		WelcomeBonus:       g.WelcomeBonus,
		RequireDrawnToMark: g.RequireDrawnToMark,
	}, nil
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	rules, err := c.Game.Rules()
	if err == nil {
		err = rules.Validate()
	}
	if err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Auth.JWTSecret == "" && c.Server.IsProduction() {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required in production"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("AUTH_SESSION_TTL must be positive"))
	}
	if c.Game.RoomRetention <= 0 || c.Game.RetireInterval <= 0 {
		errs = append(errs, errors.New("room retention and retire interval must be positive"))
	}
	return errors.Join(errs...)
}
