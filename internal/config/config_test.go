package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_URL", "CONNECT_TIMEOUT", "RECONNECT_DELAY", "HEALTH_INTERVAL", "PAGE_SIZE", "DATABASE_URL", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "http://localhost:8002", cfg.API.BaseURL)
	assert.Equal(t, DefaultSync(), cfg.Sync)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_URL", "https://chat.example.com/")
	t.Setenv("CONNECT_TIMEOUT", "2s")
	t.Setenv("RECONNECT_DELAY", "500ms")
	t.Setenv("PAGE_SIZE", "50")
	t.Setenv("CHAT_TOKEN", "abc")

	cfg := Load()

	assert.Equal(t, "https://chat.example.com/", cfg.API.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Sync.ConnectTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.ReconnectDelay)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, "abc", cfg.Session.Token)
}
