package flushctl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	p := New(1)
	ctx := context.Background()

	assert.NoError(t, p.Acquire(ctx))
	assert.Equal(t, 1, p.InUse())

	p.Release()
	assert.Equal(t, 0, p.InUse())
}

func TestAcquireBlocksUntilCancelled(t *testing.T) {
	p := New(1)
	require := assert.New(t)

	ctx := context.Background()
	require.NoError(p.Acquire(ctx))

	blockedCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Acquire(blockedCtx)
	require.ErrorIs(err, context.DeadlineExceeded)
}
