// File: cmd/watch_test.go
package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TestDrainServersSurfacesListenerFailure verifies that a server goroutine
// failing, a port already in use for instance, is returned to the caller
// instead of being swallowed by the group-context cancellation.
func TestDrainServersSurfacesListenerFailure(t *testing.T) {
	g, _ := errgroup.WithContext(context.Background())
	boom := errors.New("listen tcp 127.0.0.1:7877: address already in use")
	g.Go(func() error { return boom })

	var stopped bool
	shutdowns := []func(context.Context) error{
		func(context.Context) error { stopped = true; return nil },
	}

	err := drainServers(g, shutdowns, zap.NewNop())
	require.ErrorIs(t, err, boom)
	assert.True(t, stopped, "listeners are shut down before the wait")
}

func TestDrainServersCleanShutdown(t *testing.T) {
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error { return nil })

	err := drainServers(g, nil, zap.NewNop())
	assert.NoError(t, err)
}
