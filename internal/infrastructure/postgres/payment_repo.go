package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/port"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/money"
	pgutil "github.com/bibbank/reconciliation/pkg/postgres"
)

// Compile-time interface check.
var _ port.PaymentRepository = (*PaymentRepo)(nil)

// PaymentRepo implements PaymentRepository using PostgreSQL.
type PaymentRepo struct {
	pool   *pgxpool.Pool
	kind   valueobject.PayableKind
	tables tables
}

func NewPaymentRepo(pool *pgxpool.Pool, kind valueobject.PayableKind) *PaymentRepo {
	return &PaymentRepo{pool: pool, kind: kind, tables: tablesFor(kind)}
}

func (r *PaymentRepo) Create(ctx context.Context, p model.Payment) error {
	_, err := pgutil.Conn(ctx, r.pool).Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, currency_id, amount, fee, conversion_rate, reference,
			paid_at, deleted, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.tables.payments),
		p.ID(), int64(p.Currency().ID()), p.Amount().Minor(), p.Fee().Minor(), p.ConversionRate(),
		p.Reference(), p.PaidAt(), p.Deleted(), p.Version(), p.CreatedAt(), p.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.kind.PaymentAggregate(), err)
	}
	return nil
}

func (r *PaymentRepo) Update(ctx context.Context, p model.Payment) error {
	tag, err := pgutil.Conn(ctx, r.pool).Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET amount = $2, fee = $3, conversion_rate = $4, reference = $5,
			deleted = $6, version = $7, updated_at = $8
		WHERE id = $1 AND version = $9
	`, r.tables.payments),
		p.ID(), p.Amount().Minor(), p.Fee().Minor(), p.ConversionRate(), p.Reference(),
		p.Deleted(), p.Version(), p.UpdatedAt(), p.Version()-1,
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", r.kind.PaymentAggregate(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s at version %d: %w", r.kind.PaymentAggregate(), p.ID(), p.Version()-1, model.ErrConcurrentModification)
	}
	return nil
}

func (r *PaymentRepo) FindByID(ctx context.Context, id uuid.UUID) (model.Payment, error) {
	var (
		cur                  currencyRow
		amount, fee          int64
		conversionRate       decimal.Decimal
		reference            string
		paidAt               time.Time
		deleted              bool
		version              int
		createdAt, updatedAt time.Time
	)
	err := pgutil.Conn(ctx, r.pool).QueryRow(ctx, fmt.Sprintf(`
		SELECT c.id, c.code, c.digits, p.amount, p.fee, p.conversion_rate, p.reference,
			p.paid_at, p.deleted, p.version, p.created_at, p.updated_at
		FROM %s p
		JOIN currencies c ON c.id = p.currency_id
		WHERE p.id = $1
	`, r.tables.payments), id).Scan(
		&cur.id, &cur.code, &cur.digits, &amount, &fee, &conversionRate, &reference,
		&paidAt, &deleted, &version, &createdAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Payment{}, fmt.Errorf("%s %s: %w", r.kind.PaymentAggregate(), id, model.ErrPaymentNotFound)
	}
	if err != nil {
		return model.Payment{}, fmt.Errorf("query %s: %w", r.kind.PaymentAggregate(), err)
	}

	currency, err := cur.currency()
	if err != nil {
		return model.Payment{}, err
	}
	return model.ReconstructPayment(
		id, r.kind,
		money.FromMinor(amount, currency), money.FromMinor(fee, currency),
		conversionRate, reference, paidAt, deleted, version, createdAt, updatedAt,
	), nil
}
