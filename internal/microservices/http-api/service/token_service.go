package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"panelbridge/internal/config"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidPanelName = errors.New("invalid panel name")
	ErrTokensDisabled   = errors.New("panel tokens are not configured")
)

const panelTokenType = "panel"

// PanelClaims identify one touch panel
type PanelClaims struct {
	Panel string `json:"panel"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

type TokenService interface {
	IssuePanelToken(panel string) (token string, expiresAt time.Time, err error)
	ValidateToken(tokenString string) (*PanelClaims, error)
	// AuthenticatePanel satisfies relay.PanelAuthenticator
	AuthenticatePanel(tokenString string) (string, error)
}

type tokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(cfg *config.Config) TokenService {
	return &tokenService{
		secret: []byte(cfg.PanelJWTSecret),
		ttl:    cfg.PanelTokenTTL,
		now:    time.Now,
	}
}

func (s *tokenService) IssuePanelToken(panel string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrTokensDisabled
	}
	panel = strings.TrimSpace(panel)
	if panel == "" || len(panel) > 64 {
		return "", time.Time{}, ErrInvalidPanelName
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := PanelClaims{
		Panel: panel,
		Type:  panelTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   panel,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign panel token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *tokenService) ValidateToken(tokenString string) (*PanelClaims, error) {
	if len(s.secret) == 0 {
		return nil, ErrTokensDisabled
	}
	claims := &PanelClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Type != panelTokenType || claims.Panel == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *tokenService) AuthenticatePanel(tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Panel, nil
}
