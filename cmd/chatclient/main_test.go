package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdRequiresChatAndUser(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--url", "ws://127.0.0.1:1/ws"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"chat"`)
	assert.Contains(t, err.Error(), `"user"`)
}

func TestRootCmdDefaults(t *testing.T) {
	t.Setenv("CHAT_TOKEN", "from-env")
	cmd := newRootCmd()

	token, err := cmd.Flags().GetString("token")
	require.NoError(t, err)
	assert.Equal(t, "from-env", token)

	attempts, err := cmd.Flags().GetInt("max-attempts")
	require.NoError(t, err)
	assert.Equal(t, 10, attempts)
	assert.Equal(t, "ws://localhost:8083/ws", cmd.Flag("url").DefValue)
}
