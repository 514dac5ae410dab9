// Package pool runs a fixed set of independent tasks with bounded
// concurrency and folds per-task outcomes into a deterministic aggregate.
// It is the execution substrate units reach for when a stage fans work out
// over many items.
package pool

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of a single task. A task that recorded no errors
// counts as successful regardless of warnings.
type Result struct {
	Processed int64
	Warnings  []string
	Errors    []string
	Payload   any
}

// Failed reports whether the task recorded any errors.
func (r Result) Failed() bool { return len(r.Errors) > 0 }

// Aggregate combines the results of a task set. Results preserves task
// submission order regardless of which worker ran each task, so aggregates
// from parallel and sequential runs over the same tasks are identical.
type Aggregate struct {
	Processed int64
	Warnings  []string
	Errors    []string
	Results   []Result
}

// Success reports whether no task recorded an error.
func (a Aggregate) Success() bool { return len(a.Errors) == 0 }

// Merge folds other into a, preserving order.
func (a *Aggregate) Merge(other Aggregate) {
	a.Processed += other.Processed
	a.Warnings = append(a.Warnings, other.Warnings...)
	a.Errors = append(a.Errors, other.Errors...)
	a.Results = append(a.Results, other.Results...)
}

// Run executes worker over every task using at most maxWorkers goroutines.
// Tasks are dispatched in contiguous batches of batchSize to reduce channel
// traffic for cheap tasks. A panicking task is contained: it yields a single
// failed Result and the remaining tasks still run. Non-positive maxWorkers
// or batchSize are treated as 1.
//
// Example:
//
//	agg := pool.Run(paths, func(p string) pool.Result {
//	    if err := convert(p); err != nil {
//	        return pool.Result{Errors: []string{err.Error()}}
//	    }
//	    return pool.Result{Processed: 1}
//	}, 4, 16)
func Run[T any](tasks []T, worker func(T) Result, maxWorkers, batchSize int) Aggregate {
	if len(tasks) == 0 {
		return Aggregate{}
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}

	type batch struct {
		start int
		items []T
	}

	// Each task owns one slot, so workers write without coordination and the
	// output order matches the input order.
	results := make([]Result, len(tasks))
	batches := make(chan batch, maxWorkers)

	var group errgroup.Group
	for range maxWorkers {
		group.Go(func() error {
			for b := range batches {
				for i, task := range b.items {
					results[b.start+i] = runTask(task, worker)
				}
			}
			return nil
		})
	}

	for start := 0; start < len(tasks); start += batchSize {
		end := min(start+batchSize, len(tasks))
		batches <- batch{start: start, items: tasks[start:end]}
	}
	close(batches)

	// Workers never return errors; task failures land in their result slots.
	_ = group.Wait()

	return collect(results)
}

// RunSequential executes worker over every task on the calling goroutine.
// It produces the same aggregate Run would for the same tasks.
func RunSequential[T any](tasks []T, worker func(T) Result) Aggregate {
	if len(tasks) == 0 {
		return Aggregate{}
	}
	results := make([]Result, len(tasks))
	for i, task := range tasks {
		results[i] = runTask(task, worker)
	}
	return collect(results)
}

func runTask[T any](task T, worker func(T) Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Errors: []string{fmt.Sprintf("task panic: %v", r)}}
		}
	}()
	return worker(task)
}

func collect(results []Result) Aggregate {
	agg := Aggregate{Results: results}
	for _, r := range results {
		agg.Processed += r.Processed
		agg.Warnings = append(agg.Warnings, r.Warnings...)
		agg.Errors = append(agg.Errors, r.Errors...)
	}
	return agg
}
