package converge

import (
	"context"
	"fmt"
)

// Reporter receives each step's result as it completes. Used to feed
// observers and progress displays; may be nil.
type Reporter func(TaskResult)

// RunSteps executes a node's task list in order.
//
// Guard evaluation happens against the results accumulated so far: a step
// whose guard declines is recorded as skipped and the list continues. A step
// returning an error is recorded as failed and aborts the remaining steps
// for this node; the caller decides whether the error was transient and the
// whole list is worth re-running (re-running a converged prefix is free by
// construction).
//
// The returned ResultSet always covers every step that was reached.
func RunSteps(ctx context.Context, r Runner, steps []Step, report Reporter) (*ResultSet, error) {
	rs := NewResultSet()

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return rs, fmt.Errorf("converge interrupted before %s: %w", step.Name, err)
		}

		if step.When != nil {
			if run, reason := step.When(rs); !run {
				res := TaskResult{Step: step.Name, Status: StatusSkipped, Detail: reason}
				rs.add(res)
				emit(report, res)
				continue
			}
		}

		res, err := step.Run(ctx, r)
		if res.Step == "" {
			res.Step = step.Name
		}
		if err != nil {
			res.Status = StatusFailed
			res.Err = err
			rs.add(res)
			emit(report, res)
			return rs, fmt.Errorf("step %s: %w", step.Name, err)
		}
		rs.add(res)
		emit(report, res)
	}

	return rs, nil
}

func emit(report Reporter, res TaskResult) {
	if report != nil {
		report(res)
	}
}
