// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package broadcast

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRegistry_AcquireIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	tr := NewMemoryTransport()
	reg := NewRegistry(tr)

	a, err := reg.Acquire(ctx, "s1", RoleHost)
	require.NoError(t, err)
	b, err := reg.Acquire(ctx, "s1", RoleHost)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1, tr.Subscribers(TopicFor("s1")))

	require.NoError(t, reg.Release(a))
	assert.Equal(t, 1, reg.Len(), "one holder remains")

	require.NoError(t, reg.Release(b))
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, tr.Subscribers(TopicFor("s1")))

	_, err = a.SendCommand(ctx, ActionPlay, nil)
	assert.ErrorIs(t, err, ErrChannelClosed)
	require.NoError(t, reg.Release(a), "extra release is harmless")
}

func TestRegistry_ConcurrentAcquireSharesInstance(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewMemoryTransport())
	defer reg.Close()

	var wg sync.WaitGroup
	chans := make([]*Channel, 16)
	for i := range chans {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, err := reg.Acquire(ctx, "s1", RolePresentation)
			assert.NoError(t, err)
			chans[i] = ch
		}(i)
	}
	wg.Wait()
	for _, ch := range chans {
		assert.Same(t, chans[0], ch)
	}
}

func TestRegistry_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewMemoryTransport())
	defer reg.Close()

	_, err := reg.Acquire(ctx, "  ", RoleHost)
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = reg.Acquire(ctx, "s1", Role("admin"))
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestRegistry_CloseTearsDownAll(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	reg := NewRegistry(NewMemoryTransport())

	_, _ = reg.Acquire(ctx, "s1", RoleHost)
	_, _ = reg.Acquire(ctx, "s1", RoleHost)
	_, _ = reg.Acquire(ctx, "s2", RoleTeam)

	require.NoError(t, reg.Close())
	assert.Equal(t, 0, reg.Len())
	_, err := reg.Acquire(ctx, "s1", RoleHost)
	assert.ErrorIs(t, err, ErrChannelClosed)
}
