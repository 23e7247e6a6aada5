package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShutdownContext_SignalCancels(t *testing.T) {
	parent, cancel := context.WithCancel(t.Context())
	defer cancel()

	ctx := shutdownContext(parent, discardLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("SIGTERM did not cancel the context")
	}
}

func TestShutdownContext_FollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(t.Context())
	ctx := shutdownContext(parent, discardLogger())

	assert.NoError(t, ctx.Err())
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("parent cancel did not reach the derived context")
	}
}
