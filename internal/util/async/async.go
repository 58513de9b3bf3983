// Package async runs named tasks concurrently and reports per-task outcomes.
//
// Unlike a plain errgroup, RunAll never discards failures: every task's result
// is returned so callers can report each node or resource independently. This
// matters during bootstrap and teardown, where one node failing must not mask
// what happened to its siblings.
package async

import (
	"context"
	"errors"
	"fmt"
)

// Task is a named unit of concurrent work.
type Task struct {
	Name string
	Func func(context.Context) error
}

// Result is the outcome of one task.
type Result struct {
	Name string
	Err  error
}

// RunAll starts every task in its own goroutine and waits for all of them.
// The returned slice holds one Result per task, in task order.
func RunAll(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	type indexed struct {
		i   int
		err error
	}

	ch := make(chan indexed, len(tasks))
	for i, task := range tasks {
		go func() {
			ch <- indexed{i: i, err: task.Func(ctx)}
		}()
	}

	results := make([]Result, len(tasks))
	for range tasks {
		r := <-ch
		results[r.i] = Result{Name: tasks[r.i].Name, Err: r.err}
	}
	return results
}

// FirstError returns the first failed result wrapped with its task name,
// or nil when every task succeeded.
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%s: %w", r.Name, r.Err)
		}
	}
	return nil
}

// Join combines every failure into a single error, or returns nil when every
// task succeeded. Each failure keeps its task name.
func Join(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}
