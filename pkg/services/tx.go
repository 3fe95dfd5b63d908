package services

import "context"

// TxRunner runs fn inside one database transaction. *database.DB implements it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoTx runs fn directly. Used by tests and callers without a database.
type NoTx struct{}

func (NoTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
