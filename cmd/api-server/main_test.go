package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-queue/internal/config"
	"github.com/hackgods/clinic-queue/internal/messaging"
)

func TestNewSessionWithoutBridgeIsDisabled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Config{Env: "prod"}
	cfg.Messaging.CredentialStore = "redis"
	cfg.Messaging.CredentialKey = "test:creds"

	session := newSession(cfg, rdb, zerolog.Nop())
	t.Cleanup(session.Close)

	assert.ErrorIs(t, session.Connect(), messaging.ErrNotConfigured)
	err := session.Send(context.Background(), "9876543210", "hello")
	assert.ErrorIs(t, err, messaging.ErrNotConnected)
	assert.Equal(t, messaging.StateUnpaired, session.State())
}

func TestNewSessionWithBridgeDials(t *testing.T) {
	cfg := config.Config{Env: "prod"}
	cfg.Messaging.CredentialStore = "file"
	cfg.Messaging.CredentialFile = t.TempDir() + "/session.json"
	cfg.Messaging.BridgeURL = "ws://127.0.0.1:1/session"

	session := newSession(cfg, nil, zerolog.Nop())
	t.Cleanup(session.Close)

	require.NoError(t, session.Connect())
}
