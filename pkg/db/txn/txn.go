// Package txn carries a unit of work on the context so several services can take part
// in one database transaction.
package txn

import (
	"context"

	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/smallbiznis/congregate/pkg/db"
	"github.com/smallbiznis/congregate/pkg/rls"
	"gorm.io/gorm"
)

type txKey struct{}

// WithTx attaches a caller-owned transaction to ctx.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// FromContext returns the transaction attached to ctx, if any.
func FromContext(ctx context.Context) (*gorm.DB, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// DB returns the ambient transaction when present, otherwise base.
func DB(ctx context.Context, base *gorm.DB) *gorm.DB {
	if tx, ok := FromContext(ctx); ok {
		return tx.WithContext(ctx)
	}
	return base.WithContext(ctx)
}

// Run executes fn inside a transaction. When ctx already carries one, fn joins it and the
// owner decides on commit; otherwise a new transaction is opened and committed when fn
// returns nil.
func Run(ctx context.Context, base *gorm.DB, fn func(ctx context.Context, tx *gorm.DB) error) error {
	if tx, ok := FromContext(ctx); ok {
		return fn(ctx, tx.WithContext(ctx))
	}

	return base.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if db.IsPostgres(tx) {
			if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok {
				if err := rls.WithTenant(tx, orgID.Int64()); err != nil {
					return err
				}
			}
		}
		return fn(WithTx(ctx, tx), tx)
	})
}

// Scoped runs fn on the ambient transaction or on base. A postgres call that carries an
// organization but no transaction is given one, so row-level security sees the tenant.
func Scoped(ctx context.Context, base *gorm.DB, fn func(ctx context.Context, db *gorm.DB) error) error {
	if _, ok := FromContext(ctx); !ok && tenantScoped(ctx, base) {
		return Run(ctx, base, fn)
	}
	return fn(ctx, DB(ctx, base))
}

// Query is Scoped for reads producing a value.
func Query[T any](ctx context.Context, base *gorm.DB, fn func(ctx context.Context, db *gorm.DB) (T, error)) (T, error) {
	var out T
	err := Scoped(ctx, base, func(ctx context.Context, db *gorm.DB) error {
		v, err := fn(ctx, db)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func tenantScoped(ctx context.Context, base *gorm.DB) bool {
	if !db.IsPostgres(base) {
		return false
	}
	_, ok := orgcontext.OrgIDFromContext(ctx)
	return ok
}

// Do is Run for functions producing a value.
func Do[T any](ctx context.Context, base *gorm.DB, fn func(ctx context.Context, tx *gorm.DB) (T, error)) (T, error) {
	var out T
	err := Run(ctx, base, func(ctx context.Context, tx *gorm.DB) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
