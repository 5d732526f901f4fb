package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_PreservesOrder(t *testing.T) {
	inputs := []int{5, 1, 4, 2, 3}
	results, err := Map(context.Background(), DefaultPoolConfig(), inputs, func(ctx context.Context, input int) (int, error) {
		// Later inputs finish first.
		time.Sleep(time.Duration(input) * time.Millisecond)
		return input * 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 2, 8, 4, 6}, results)
}

func TestMap_Empty(t *testing.T) {
	results, err := Map(context.Background(), DefaultPoolConfig(), []int{}, func(ctx context.Context, input int) (int, error) {
		return input, nil
	})
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestMap_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	inputs := make([]int, 20)

	_, err := Map(context.Background(), DefaultPoolConfig().WithWorkers(3), inputs, func(ctx context.Context, _ int) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return 0, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestMap_FirstErrorCancels(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32

	inputs := make([]int, 100)
	for i := range inputs {
		inputs[i] = i
	}
	_, err := Map(context.Background(), DefaultPoolConfig().WithWorkers(1), inputs, func(ctx context.Context, input int) (int, error) {
		calls.Add(1)
		if input == 2 {
			return 0, boom
		}
		return input, nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Less(t, calls.Load(), int32(100))
}

func TestMap_Timeout(t *testing.T) {
	inputs := make([]int, 4)
	_, err := Map(context.Background(), DefaultPoolConfig().WithTimeout(20*time.Millisecond), inputs, func(ctx context.Context, input int) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Second):
			return input, nil
		}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	assert.GreaterOrEqual(t, cfg.MaxWorkers, 2)
	assert.LessOrEqual(t, cfg.MaxWorkers, 8)
	assert.Zero(t, cfg.Timeout)

	assert.Equal(t, 4, cfg.WithWorkers(4).MaxWorkers)
	assert.Equal(t, time.Second, cfg.WithTimeout(time.Second).Timeout)
}
