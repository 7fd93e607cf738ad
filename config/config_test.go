package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Empty(t, cfg.Server.AllowedOrigins)
	assert.Empty(t, cfg.Server.TrustedProxies)
	assert.Equal(t, 15, cfg.JWT.AccessTokenExpiry)
	assert.Equal(t, 50, cfg.Chat.PageSize)
	assert.Equal(t, time.Second, cfg.Chat.SendEvery)
	assert.Equal(t, 30*time.Second, cfg.Chat.MembershipTTL)
	assert.Empty(t, cfg.Email.ResendAPIKey)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SERVER_PORT", "8081")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("CHAT_SEND_EVERY", "250ms")
	t.Setenv("APP_URL", "https://casedesk.example/")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.Chat.SendEvery)
	assert.Equal(t, "https://casedesk.example", cfg.Email.AppURL)
	require.Len(t, cfg.Server.TrustedProxies, 2)
	assert.Equal(t, "10.0.0.0/8", cfg.Server.TrustedProxies[0].String())
}

func TestLoadErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "x")
	t.Setenv("SERVER_PORT", "nope")
	_, err = Load()
	assert.ErrorContains(t, err, "SERVER_PORT")

	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("TRUSTED_PROXIES", "proxy.internal")
	_, err = Load()
	assert.ErrorContains(t, err, "TRUSTED_PROXIES")

	t.Setenv("TRUSTED_PROXIES", "")
	t.Setenv("CHAT_PAGE_SIZE", "500")
	_, err = Load()
	assert.ErrorContains(t, err, "CHAT_PAGE_SIZE")
}
