package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5620, cfg.HTTPPort)
	assert.Equal(t, "/app", cfg.WSPath)
	assert.Equal(t, int64(42), cfg.CounterDefault)
	assert.True(t, cfg.DisplayDefaultPower)
	assert.Equal(t, []DisplayConfig{
		{ID: "display_1", Name: "Left Display"},
		{ID: "display_2", Name: "Right Display"},
	}, cfg.Displays)
	assert.Equal(t, "origin", cfg.EchoMode)
	assert.Equal(t, "drop", cfg.UnknownPolicy)
	assert.Equal(t, 30*24*time.Hour, cfg.PanelTokenTTL)
	assert.False(t, cfg.AdminEnabled())
	assert.Empty(t, cfg.TCPListenAddr())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("WS_PATH", "panel")
	t.Setenv("DISPLAYS", "lobby:Lobby, stage")
	t.Setenv("COUNTER_DEFAULT", "-3")
	t.Setenv("ECHO_MODE", "all")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_URL", "redis://cache:6380")
	t.Setenv("TCP_PORT", "41794")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, "/panel", cfg.WSPath)
	assert.Equal(t, []DisplayConfig{{ID: "lobby", Name: "Lobby"}, {ID: "stage", Name: "stage"}}, cfg.Displays)
	assert.Equal(t, int64(-3), cfg.CounterDefault)
	assert.Equal(t, "all", cfg.EchoMode)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "cache:6380", cfg.RedisAddr())
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr())
	assert.Equal(t, "0.0.0.0:41794", cfg.TCPListenAddr())
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"HTTP_PORT":             "nope",
		"TCP_PORT":              "x",
		"COUNTER_DEFAULT":       "1.5",
		"DISPLAY_DEFAULT_POWER": "maybe",
		"PANEL_TOKEN_TTL":       "forever",
		"DISPLAYS":              "a,a",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	cfg.HTTPPort = 0
	cfg.TCPPort = 70000
	cfg.EchoMode = "some"
	cfg.PanelJWTSecret = "short"
	cfg.AdminUser = "admin"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_PORT")
	assert.Contains(t, err.Error(), "TCP_PORT")
	assert.Contains(t, err.Error(), "ECHO_MODE")
	assert.Contains(t, err.Error(), "PANEL_JWT_SECRET")
	assert.Contains(t, err.Error(), "ADMIN_PASSWORD_HASH")
}

func TestParseDisplays(t *testing.T) {
	displays, err := ParseDisplays("display_1:Left Display,display_2")
	require.NoError(t, err)
	assert.Len(t, displays, 2)
	assert.Equal(t, "display_2", displays[1].Name)

	_, err = ParseDisplays("bad|id:Nope")
	assert.Error(t, err)

	_, err = ParseDisplays(":Nameless")
	assert.Error(t, err)
}
