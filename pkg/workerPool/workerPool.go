package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

var ErrBatchFull = errors.New("workerpool: batch is full")

// WorkerPool runs submitted jobs on a fixed set of goroutines.
type WorkerPool struct {
	config    Config
	taskQueue chan func()
	closeOnce sync.Once
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

func NewWorkerPool(config Config) *WorkerPool { // A
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU()
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = config.WorkerCount * 4
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan func(), config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	for run := range wp.taskQueue {
		run()
	}
}

// Close stops the workers once queued jobs have drained. Submitting after
// Close panics.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() { close(wp.taskQueue) })
}

// Batch collects the results of related jobs in submission order.
type Batch[T any] struct {
	wp      *WorkerPool
	results []T
	next    int
	wg      sync.WaitGroup
}

// NewBatch prepares a batch for up to size jobs on wp.
func NewBatch[T any](wp *WorkerPool, size int) *Batch[T] { // A
	return &Batch[T]{wp: wp, results: make([]T, size)}
}

// Submit queues job, waiting for a free slot in the global buffer. It
// returns ctx.Err() if ctx ends first; the job is then not run. Submit is
// not safe for concurrent use.
func (b *Batch[T]) Submit(ctx context.Context, job func() T) error { // A
	if b.next == len(b.results) {
		return ErrBatchFull
	}
	i := b.next
	b.wg.Add(1)

	task := func() {
		defer b.wg.Done()
		b.results[i] = job()
	}

	select {
	case b.wp.taskQueue <- task:
		b.next++
		return nil
	case <-ctx.Done():
		b.wg.Done()
		return ctx.Err()
	}
}

// Collect waits for every submitted job and returns their results in the
// order they were submitted.
func (b *Batch[T]) Collect() []T { // A
	b.wg.Wait()
	return b.results[:b.next]
}
