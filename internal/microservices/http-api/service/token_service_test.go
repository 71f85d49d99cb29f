package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panelbridge/internal/config"
)

func newTestTokenService(secret string) *tokenService {
	return NewTokenService(&config.Config{
		PanelJWTSecret: secret,
		PanelTokenTTL:  time.Hour,
	}).(*tokenService)
}

func TestTokenService_IssueAndValidate(t *testing.T) {
	svc := newTestTokenService("test-secret")

	token, expiresAt, err := svc.IssuePanelToken("  lobby-panel ")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "lobby-panel", claims.Panel)
	assert.Equal(t, "lobby-panel", claims.Subject)

	panel, err := svc.AuthenticatePanel(token)
	require.NoError(t, err)
	assert.Equal(t, "lobby-panel", panel)
}

func TestTokenService_RejectsBadTokens(t *testing.T) {
	svc := newTestTokenService("test-secret")
	other := newTestTokenService("other-secret")

	token, _, err := other.IssuePanelToken("lobby")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// right signature, wrong token type
	wrongType := jwt.NewWithClaims(jwt.SigningMethodHS256, PanelClaims{Panel: "lobby", Type: "access"})
	signed, err := wrongType.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_Expired(t *testing.T) {
	svc := newTestTokenService("test-secret")
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := svc.IssuePanelToken("lobby")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenService_Disabled(t *testing.T) {
	svc := newTestTokenService("")

	_, _, err := svc.IssuePanelToken("lobby")
	assert.ErrorIs(t, err, ErrTokensDisabled)
	_, err = svc.ValidateToken("x")
	assert.ErrorIs(t, err, ErrTokensDisabled)
}

func TestTokenService_InvalidPanelName(t *testing.T) {
	svc := newTestTokenService("test-secret")
	_, _, err := svc.IssuePanelToken(" ")
	assert.ErrorIs(t, err, ErrInvalidPanelName)
}
