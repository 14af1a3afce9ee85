// Package utils holds the concurrency primitives shared by the ingestion
// pipeline: a semaphore-bounded executor and a generic worker pool with panic
// recovery.
package utils

import (
	"context"
	"runtime"
	"sync"
)

// defaultConcurrency bounds pools created without an explicit limit.
func defaultConcurrency() int {
	n := runtime.GOMAXPROCS(0)
	if n < 2 {
		n = 2
	}
	return n
}

// ConcurrentExecutor runs independent functions concurrently under a
// semaphore.
type ConcurrentExecutor struct {
	semaphore chan struct{}
}

// NewConcurrentExecutor creates an executor allowing maxConcurrency functions
// in flight at once.
func NewConcurrentExecutor(maxConcurrency int) *ConcurrentExecutor {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultConcurrency()
	}
	return &ConcurrentExecutor{semaphore: make(chan struct{}, maxConcurrency)}
}

// Execute runs the functions concurrently and returns one error slot per
// function, index-aligned. Panics are recovered and reported as PanicError.
func (e *ConcurrentExecutor) Execute(ctx context.Context, functions ...func() error) []error {
	if len(functions) == 0 {
		return nil
	}

	results := make([]error, len(functions))
	var wg sync.WaitGroup

	for i, fn := range functions {
		wg.Add(1)
		go func(index int, function func() error) {
			defer wg.Done()
			defer RecoverWithCallback(func(err error) {
				results[index] = err
			})

			select {
			case e.semaphore <- struct{}{}:
				defer func() { <-e.semaphore }()
			case <-ctx.Done():
				results[index] = ctx.Err()
				return
			}

			results[index] = function()
		}(i, fn)
	}

	wg.Wait()
	return results
}

// Worker processes one item.
type Worker[T any, R any] func(ctx context.Context, item T) (R, error)

// WorkerPool fans a slice of items out over a fixed number of worker
// goroutines. Chunk extraction during ingestion runs through this: chunks are
// independent, so only the pool size bounds the parallelism.
type WorkerPool[T any, R any] struct {
	numWorkers int
	worker     Worker[T, R]
}

// NewWorkerPool creates a pool of numWorkers workers.
func NewWorkerPool[T any, R any](numWorkers int, worker Worker[T, R]) *WorkerPool[T, R] {
	if numWorkers <= 0 {
		numWorkers = defaultConcurrency()
	}
	return &WorkerPool[T, R]{numWorkers: numWorkers, worker: worker}
}

// ProcessItems runs every item through the pool and returns index-aligned
// results and errors. It blocks until all workers finish; cancelling the
// context stops workers from picking up further items, and items never picked
// up carry the context error so no slot is left with neither a result nor an
// error. Panics in workers are recovered and recorded as that item's error.
func (wp *WorkerPool[T, R]) ProcessItems(ctx context.Context, items []T) ([]R, []error) {
	if len(items) == 0 {
		return nil, nil
	}

	type indexed struct {
		item  T
		index int
	}
	itemsChan := make(chan indexed, len(items))
	for i, item := range items {
		itemsChan <- indexed{item: item, index: i}
	}
	close(itemsChan)

	results := make([]R, len(items))
	errors := make([]error, len(items))
	processed := make([]bool, len(items))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < wp.numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case item, ok := <-itemsChan:
					if !ok {
						return
					}
					func() {
						defer RecoverWithCallback(func(err error) {
							mu.Lock()
							errors[item.index] = err
							mu.Unlock()
						})
						results[item.index], errors[item.index] = wp.worker(ctx, item.item)
					}()
					processed[item.index] = true
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		for i := range processed {
			if !processed[i] && errors[i] == nil {
				errors[i] = err
			}
		}
	}
	return results, errors
}
