package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
)

type Claims struct {
	Email    string    `json:"email,omitempty"`
	Username string    `json:"username,omitempty"`
	Role     string    `json:"role,omitempty"`
	Kind     TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenService подписывает access и refresh токены разными секретами.
type TokenService interface {
	IssueAccessToken(accountID, email, username, role string) (IssuedToken, error)
	IssueRefreshToken(accountID string) (IssuedToken, error)
	Verify(token string, kind TokenKind) (*Claims, error)
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
}

type tokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clock         Clock
}

func NewTokenService(cfg TokenConfig, clock Clock) (TokenService, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token secrets must be set")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &tokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		clock:         clock,
	}, nil
}

func (s *tokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *tokenService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *tokenService) IssueAccessToken(accountID, email, username, role string) (IssuedToken, error) {
	claims := &Claims{Email: email, Username: username, Role: role, Kind: TokenAccess}
	return s.sign(claims, accountID, s.accessTTL, s.accessSecret)
}

// IssueRefreshToken: в refresh-токене только id аккаунта.
func (s *tokenService) IssueRefreshToken(accountID string) (IssuedToken, error) {
	return s.sign(&Claims{Kind: TokenRefresh}, accountID, s.refreshTTL, s.refreshSecret)
}

func (s *tokenService) sign(claims *Claims, subject string, ttl time.Duration, secret []byte) (IssuedToken, error) {
	now := s.clock.Now()
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign %s token: %w", claims.Kind, err)
	}
	return IssuedToken{Value: signed, ExpiresAt: exp}, nil
}

func (s *tokenService) Verify(token string, kind TokenKind) (*Claims, error) {
	secret := s.accessSecret
	if kind == TokenRefresh {
		secret = s.refreshSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		// защита: принимаем только HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !parsed.Valid || claims.Kind != kind || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
