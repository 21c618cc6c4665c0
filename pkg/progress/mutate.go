package progress

import "context"

// Mutation describes an optimistic-update-then-reconcile operation.
//
// Optimistic applies the local guess, Persist performs the authoritative
// write, Adopt installs what persistence returned and Rollback restores the
// state captured before Optimistic ran. Optimistic, Adopt and Rollback may be nil.
type Mutation[T any] struct {
	Optimistic func()
	Persist    func(ctx context.Context) (T, error)
	Adopt      func(T)
	Rollback   func()
}

// Mutate runs m. Persist runs on a context that is not cancelled with ctx:
// once the optimistic update is applied the write completes even if the
// caller has gone away. On error the rollback runs and the zero T is returned.
func Mutate[T any](ctx context.Context, m Mutation[T]) (T, error) {
	if m.Optimistic != nil {
		m.Optimistic()
	}

	result, err := m.Persist(context.WithoutCancel(ctx))
	if err != nil {
		if m.Rollback != nil {
			m.Rollback()
		}
		var zero T
		return zero, err
	}

	if m.Adopt != nil {
		m.Adopt(result)
	}
	return result, nil
}
