package services

import "context"

// noopUnitOfWork executes the function directly when no transactional
// boundary is configured.
type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
