package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrSessionExpired = errors.New("session expired")
	ErrAuthDisabled   = errors.New("auth secret not configured")
)

const sessionKeyPrefix = "session:"

// AccountStore is the slice of the game service the credential layer needs.
type AccountStore interface {
	OpenAccount(ctx context.Context, params models.OpenAccountParams) (models.User, bool, error)
	Account(userID uuid.UUID) (models.User, error)
}

type AuthService struct {
	accounts AccountStore
	redis    RedisClient
	secret   []byte
	issuer   string
	ttl      time.Duration
	now      func() time.Time
}

func NewAuthService(accounts AccountStore, redis RedisClient, secret, issuer string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{
		accounts: accounts,
		redis:    redis,
		secret:   []byte(secret),
		issuer:   issuer,
		ttl:      ttl,
		now:      time.Now,
	}
}

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
	Created   bool        `json:"created"`
}

// Login opens (or reuses) the account for an already-verified Telegram
// identity and issues a session token bound to a revocable redis key.
func (s *AuthService) Login(ctx context.Context, params models.OpenAccountParams) (*LoginResult, error) {
	if len(s.secret) == 0 {
		return nil, ErrAuthDisabled
	}
	user, created, err := s.accounts.OpenAccount(ctx, params)
	if err != nil {
		return nil, err
	}

	sid := uuid.New().String()
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	if err := s.redis.Set(ctx, sessionKeyPrefix+sid, user.ID.String(), s.ttl); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	claims := sessionClaims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	return &LoginResult{Token: token, ExpiresAt: expires, User: user, Created: created}, nil
}

// Authenticate resolves a bearer token to its user. The token must carry a
// valid signature, be unexpired, and still have its redis session.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}

	stored, err := s.redis.Get(ctx, sessionKeyPrefix+claims.SessionID)
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if stored != claims.Subject {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := s.accounts.Account(userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout revokes the session behind token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	if err := s.redis.Del(ctx, sessionKeyPrefix+claims.SessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *AuthService) parse(token string) (*sessionClaims, error) {
	if len(s.secret) == 0 {
		return nil, ErrAuthDisabled
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	var claims sessionClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrSessionExpired
	}
	if err != nil || claims.SessionID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
