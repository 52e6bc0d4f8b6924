package currency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/port"
	"github.com/bibbank/reconciliation/pkg/money"
	pgutil "github.com/bibbank/reconciliation/pkg/postgres"
)

var _ port.CurrencyRegistry = (*PostgresRegistry)(nil)

// PostgresRegistry reads currencies from the currencies table.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

func (r *PostgresRegistry) Lookup(ctx context.Context, id money.CurrencyID) (money.Currency, error) {
	var (
		code   string
		digits int16
	)
	err := pgutil.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT code, digits FROM currencies WHERE id = $1`, int64(id),
	).Scan(&code, &digits)
	if errors.Is(err, pgx.ErrNoRows) {
		return money.Currency{}, fmt.Errorf("currency %d: %w", id, model.ErrCurrencyNotFound)
	}
	if err != nil {
		return money.Currency{}, fmt.Errorf("query currency %d: %w", id, err)
	}
	return money.NewCurrency(id, code, uint8(digits))
}

// Seed upserts the given currencies, keeping existing rows for other IDs.
func (r *PostgresRegistry) Seed(ctx context.Context, currencies []money.Currency) error {
	return pgutil.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
		for _, c := range currencies {
			_, err := tx.Exec(ctx, `
				INSERT INTO currencies (id, code, digits)
				VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, digits = EXCLUDED.digits
			`, int64(c.ID()), c.Code(), int16(c.Digits()))
			if err != nil {
				return fmt.Errorf("seed currency %s: %w", c.Code(), err)
			}
		}
		return nil
	})
}
