package bvh

import "github.com/Carmen-Shannon/automation/tools/worker"

// BuilderOption is a functional option applied to a builder during construction via NewBuilder.
type BuilderOption func(*builder)

// WithMinLeafItems sets the item count at or below which a work list becomes a leaf.
//
// Parameters:
//   - n: the leaf size threshold, at least 1
//
// Returns:
//   - BuilderOption: a function that applies the option to a builder
func WithMinLeafItems(n int) BuilderOption {
	return func(b *builder) {
		if n > 0 {
			b.minLeafItems = n
		}
	}
}

// WithWorkers sets the size of the builder-owned worker pool.
//
// Parameters:
//   - n: the number of workers used for split scoring
//
// Returns:
//   - BuilderOption: a function that applies the option to a builder
func WithWorkers(n int) BuilderOption {
	return func(b *builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithPool makes the builder score splits on an existing pool. The pool is not stopped
// by Release. It must not be the pool the caller itself runs on.
//
// Parameters:
//   - pool: the worker pool to submit scoring tasks to
//
// Returns:
//   - BuilderOption: a function that applies the option to a builder
func WithPool(pool worker.DynamicWorkerPool) BuilderOption {
	return func(b *builder) {
		b.pool = pool
	}
}

// WithScoreStrategy replaces the surface area heuristic.
//
// Parameters:
//   - s: the scoring strategy
//
// Returns:
//   - BuilderOption: a function that applies the option to a builder
func WithScoreStrategy(s ScoreStrategy) BuilderOption {
	return func(b *builder) {
		if s != nil {
			b.scoreStrategy = s
		}
	}
}
