package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HammerMeetNail/bingohall/internal/game"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Store.Driver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.Store.Driver)
	}
	if !cfg.Game.CardPrice.Equal(decimal.RequireFromString("5")) || cfg.Game.DeckSize != 400 {
		t.Fatalf("unexpected game defaults: %+v", cfg.Game)
	}
	if cfg.Auth.SessionTTL != 24*time.Hour {
		t.Fatalf("expected 24h session ttl, got %s", cfg.Auth.SessionTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	rules, err := cfg.Game.Rules()
	if err != nil {
		t.Fatalf("Rules error: %v", err)
	}
	if rules.Patterns != game.DefaultPatterns || rules.MaxNumber() != 75 {
		t.Fatalf("unexpected rules: %+v", rules)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_DRIVER", " Memory ")
	t.Setenv("GAME_CARD_PRICE", "2.50")
	t.Setenv("GAME_WIN_PATTERNS", "rows,corners")
	t.Setenv("GAME_REQUIRE_DRAWN_TO_MARK", "true")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("DB_HOST", "db")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Store.Driver != "memory" {
		t.Fatalf("unexpected config: %+v %+v", cfg.Server, cfg.Store)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Fatalf("expected two origins, got %v", cfg.Server.AllowedOrigins)
	}
	if !strings.Contains(cfg.Database.DSN(), "@db:5432/") {
		t.Fatalf("unexpected DSN %q", cfg.Database.DSN())
	}
	if cfg.Redis.Addr() != "localhost:6380" {
		t.Fatalf("unexpected redis addr %q", cfg.Redis.Addr())
	}

	rules, err := cfg.Game.Rules()
	if err != nil {
		t.Fatalf("Rules error: %v", err)
	}
	if !rules.CardPrice.Equal(decimal.RequireFromString("2.5")) || !rules.RequireDrawnToMark {
		t.Fatalf("unexpected rules: %+v", rules)
	}
	if !rules.Patterns.Has(game.PatternCorners) || rules.Patterns.Has(game.PatternColumns) {
		t.Fatalf("unexpected patterns %s", rules.Patterns)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("GAME_CARD_PRICE", "five")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error for bad decimal")
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	bad := *cfg
	bad.Game.WinPatterns = []string{"spiral"}
	if err := bad.Validate(); !errors.Is(err, game.ErrInvalidInput) {
		t.Fatalf("expected invalid pattern error, got %v", err)
	}

	bad = *cfg
	bad.Game.MinPlayersToStart = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected invalid rules error")
	}

	bad = *cfg
	bad.Server.Environment = "production"
	bad.Auth.JWTSecret = ""
	if err := bad.Validate(); err == nil || !strings.Contains(err.Error(), "AUTH_JWT_SECRET") {
		t.Fatalf("expected missing secret error, got %v", err)
	}

	bad = *cfg
	bad.Store.Driver = "sqlite"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
