package service

import (
	"context"
)

// AuthStoreTx provides a transactional boundary for auth-related store mutations.
// Implementations may wrap a database transaction and carry it in ctx; stores
// pick it up from there.
type AuthStoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InProcessTx runs fn directly. Memory and Redis stores are atomic per call
// and have no multi-key transaction to join.
type InProcessTx struct{}

func (InProcessTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
