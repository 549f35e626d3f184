package loader

import (
	"github.com/Carmen-Shannon/automation/tools/worker"
)

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithWorkers sets the size of the pool the loader creates for LoadAll.
//
// Parameters:
//   - n: the number of workers, ignored when < 1
//
// Returns:
//   - LoaderBuilderOption: a function that applies the option to a loader
func WithWorkers(n int) LoaderBuilderOption {
	return func(l *loader) {
		if n >= 1 {
			l.workers = n
		}
	}
}

// WithPool shares an existing worker pool. The loader never stops a shared pool.
//
// Parameters:
//   - pool: the pool to run parses on
//
// Returns:
//   - LoaderBuilderOption: a function that applies the option to a loader
func WithPool(pool worker.DynamicWorkerPool) LoaderBuilderOption {
	return func(l *loader) {
		l.pool = pool
	}
}
