// Package parallel provides bounded, ordered fan-out over a slice of inputs.
package parallel

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// PoolConfig configures the worker pool behavior.
type PoolConfig struct {
	// MaxWorkers is the maximum number of concurrent workers.
	// Default: min(runtime.NumCPU(), 8)
	MaxWorkers int

	// Timeout is the maximum time for the entire operation.
	// Default: 0 (no timeout)
	Timeout time.Duration
}

// DefaultPoolConfig returns a default pool configuration.
func DefaultPoolConfig() PoolConfig {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8 // Cap at 8 to avoid excessive overhead
	}
	if workers < 2 {
		workers = 2
	}
	return PoolConfig{MaxWorkers: workers}
}

// WithWorkers returns a new config with the specified number of workers.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	c.MaxWorkers = n
	return c
}

// WithTimeout returns a new config with the specified timeout.
func (c PoolConfig) WithTimeout(d time.Duration) PoolConfig {
	c.Timeout = d
	return c
}

// Map applies fn to every input with at most MaxWorkers calls in flight and
// returns the results in input order. The first error cancels the context
// handed to the remaining calls and is returned.
func Map[T any, R any](ctx context.Context, config PoolConfig, inputs []T, fn func(ctx context.Context, input T) (R, error)) ([]R, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultPoolConfig().MaxWorkers
	}
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	results := make([]R, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.MaxWorkers)

	for i, input := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := fn(gctx, input)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A deadline that fired between submissions leaves inputs unprocessed.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
