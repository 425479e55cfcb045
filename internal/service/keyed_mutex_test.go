package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, "a")
	require.NoError(t, err)

	// Other keys are independent.
	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(waitCtx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		unlock, err := k.Lock(ctx, "a")
		if err == nil {
			unlock()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(10 * time.Millisecond):
	}

	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not handed over")
	}

	assert.Equal(t, 0, k.size())
}
