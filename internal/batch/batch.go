// Package batch runs a function over a slice with bounded concurrency while
// preserving input order in the results.
package batch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the concurrency limit used when a caller passes 0.
// Imports of many pages at once run disk and image work per item; a small
// fixed pool keeps file handles and memory bounded.
const DefaultWorkers = 4

// Run executes fn once per item with at most workers concurrent calls.
//
// results[i] always corresponds to items[i], regardless of completion order.
// Failures do not abort the batch: every item is attempted, failed indices
// hold the zero value, and the joined per-index errors are returned alongside
// the results. Callers that need atomicity must check the error and discard
// the partial results themselves.
func Run[T, R any](ctx context.Context, items []T, workers int, fn func(ctx context.Context, item T, index int) (R, error)) ([]R, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(workers)

	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			res, err := fn(ctx, item, i)
			if err != nil {
				errs[i] = fmt.Errorf("item %d: %w", i, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}
