package responder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownSignal_FireOnce(t *testing.T) {
	s := NewShutdownSignal()
	assert.False(t, s.Fired())

	var wg sync.WaitGroup
	var mu sync.Mutex
	fired := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Fire() {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fired)
	assert.True(t, s.Fired())
	assert.False(t, s.Fire())
}

func TestShutdownSignal_Wait(t *testing.T) {
	s := NewShutdownSignal()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	// 多个等待者都会被唤醒
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Wait(context.Background()))
		}()
	}
	s.Fire()
	wg.Wait()
}

func TestShutdownSignal_FireOnDone(t *testing.T) {
	s := NewShutdownSignal()
	ctx, cancel := context.WithCancel(context.Background())
	s.FireOnDone(ctx)

	assert.False(t, s.Fired())
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		require.Fail(t, "signal not fired after context cancel")
	}
}
