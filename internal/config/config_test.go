package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "chat.events", cfg.Exchange)
	assert.Equal(t, 256, cfg.SessionBuffer)
	assert.False(t, cfg.BroadcastReadReceipts)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE", "Postgres")
	t.Setenv("DB_DSN", "postgres://localhost/chat")
	t.Setenv("BROADCAST_READ_RECEIPTS", "true")
	t.Setenv("WS_SESSION_BUFFER", "32")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.True(t, cfg.BroadcastReadReceipts)
	assert.Equal(t, 32, cfg.SessionBuffer)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "x")
	t.Setenv("STORE", "postgres")
	t.Setenv("DB_DSN", "")
	_, err = FromEnv()
	assert.Error(t, err)

	t.Setenv("STORE", "memory")
	t.Setenv("BROADCAST_READ_RECEIPTS", "maybe")
	_, err = FromEnv()
	assert.Error(t, err)
}
