package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHANNEL_CAP", "")
	t.Setenv("POS_TIMEOUT", "")
	t.Setenv("DB_DRIVER", "")

	cfg := Load()

	assert.Equal(t, 20, cfg.ChannelCap)
	assert.Equal(t, 30*time.Second, cfg.POSTimeout)
	assert.Equal(t, 50*time.Second, cfg.AdminPingInterval)
	assert.Equal(t, 12*time.Second, cfg.AdminPongGrace)
	assert.Equal(t, 3*time.Hour, cfg.SessionTokenTTL)
	assert.Equal(t, "sqlite", cfg.DBDriver)
}

func TestLoadOverridesAndBadValues(t *testing.T) {
	t.Setenv("CHANNEL_CAP", "5")
	t.Setenv("SESSION_IDLE_TTL", "90m")
	t.Setenv("BCRYPT_COST", "lots")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg := Load()

	assert.Equal(t, 5, cfg.ChannelCap)
	assert.Equal(t, 90*time.Minute, cfg.SessionIdleTTL)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestInitDBRejectsUnknownDriver(t *testing.T) {
	_, err := InitDB(Config{DBDriver: "oracle"})
	assert.Error(t, err)
}

func TestNewRedisClientDisabled(t *testing.T) {
	assert.Nil(t, NewRedisClient(Config{}))
}
