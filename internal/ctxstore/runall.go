package ctxstore

import (
	"context"
	"sync"
)

// Op is one unit of fan-out work.
type Op func(ctx context.Context) (any, error)

// RunAll runs every op concurrently with scope active, collecting results
// in input order. The first failure cancels the remaining ops' context and
// is returned; later failures are dropped, matching fail-fast fan-out
// semantics.
func RunAll(ctx context.Context, store Store, scope *Scope, ops []Op) ([]any, error) {
	if len(ops) == 0 {
		return []any{}, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]any, len(ops))
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

	for i, op := range ops {
		wg.Add(1)
		go func(i int, op Op) {
			defer wg.Done()
			err := store.Run(runCtx, scope, func(c context.Context) error {
				res, err := op(c)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
			if err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(i, op)
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
