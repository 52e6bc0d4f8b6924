package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/port"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/money"
	pgutil "github.com/bibbank/reconciliation/pkg/postgres"
)

// Compile-time interface check.
var _ port.AllocationEntryRepository = (*EntryRepo)(nil)

// EntryRepo implements AllocationEntryRepository using PostgreSQL.
type EntryRepo struct {
	pool   *pgxpool.Pool
	kind   valueobject.PayableKind
	tables tables
}

func NewEntryRepo(pool *pgxpool.Pool, kind valueobject.PayableKind) *EntryRepo {
	return &EntryRepo{pool: pool, kind: kind, tables: tablesFor(kind)}
}

func (r *EntryRepo) Create(ctx context.Context, e model.AllocationEntry) error {
	_, err := pgutil.Conn(ctx, r.pool).Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, payment_id, payable_id, amount, original_amount, original_currency_id,
			exchange_rate, minor_unit_digits, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.tables.entries),
		e.ID(), e.PaymentID(), e.PayableID(), e.Amount().Minor(), e.OriginalAmount().Minor(),
		int64(e.OriginalCurrencyID()), e.ExchangeRate().Rate(), int16(e.MinorUnitDigits()),
		e.Active(), e.CreatedAt(), e.UpdatedAt(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("allocate payment %s to %s: %w", e.PaymentID(), e.PayableID(), model.ErrDuplicateAllocation)
	}
	if err != nil {
		return fmt.Errorf("insert allocation entry: %w", err)
	}
	return nil
}

func (r *EntryRepo) Update(ctx context.Context, e model.AllocationEntry) error {
	tag, err := pgutil.Conn(ctx, r.pool).Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET amount = $2, original_amount = $3, exchange_rate = $4, active = $5, updated_at = $6
		WHERE id = $1
	`, r.tables.entries),
		e.ID(), e.Amount().Minor(), e.OriginalAmount().Minor(), e.ExchangeRate().Rate(),
		e.Active(), e.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("update allocation entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("allocation entry %s: %w", e.ID(), model.ErrEntryNotFound)
	}
	return nil
}

func (r *EntryRepo) FindByID(ctx context.Context, id uuid.UUID) (model.AllocationEntry, error) {
	rows, err := pgutil.Conn(ctx, r.pool).Query(ctx, r.selectSQL("a.id = $1"), id)
	if err != nil {
		return model.AllocationEntry{}, fmt.Errorf("query allocation entry: %w", err)
	}
	entries, err := r.collect(rows)
	if err != nil {
		return model.AllocationEntry{}, err
	}
	if len(entries) == 0 {
		return model.AllocationEntry{}, fmt.Errorf("allocation entry %s: %w", id, model.ErrEntryNotFound)
	}
	return entries[0], nil
}

func (r *EntryRepo) ListActiveByPayment(ctx context.Context, paymentID uuid.UUID) ([]model.AllocationEntry, error) {
	rows, err := pgutil.Conn(ctx, r.pool).Query(ctx, r.selectSQL("a.payment_id = $1 AND a.active"), paymentID)
	if err != nil {
		return nil, fmt.Errorf("query allocation entries of payment: %w", err)
	}
	return r.collect(rows)
}

func (r *EntryRepo) ListByPayable(ctx context.Context, payableID uuid.UUID, includeInactive bool) ([]model.AllocationEntry, error) {
	where := "a.payable_id = $1 AND a.active"
	if includeInactive {
		where = "a.payable_id = $1"
	}
	rows, err := pgutil.Conn(ctx, r.pool).Query(ctx, r.selectSQL(where), payableID)
	if err != nil {
		return nil, fmt.Errorf("query allocation entries of payable: %w", err)
	}
	return r.collect(rows)
}

// selectSQL joins both currencies an entry is expressed in.
func (r *EntryRepo) selectSQL(where string) string {
	return fmt.Sprintf(`
		SELECT a.id, a.payment_id, a.payable_id,
			a.amount, pc.id, pc.code, pc.digits,
			a.original_amount, oc.id, oc.code, oc.digits,
			a.exchange_rate, a.active, a.created_at, a.updated_at
		FROM %s a
		JOIN %s p ON p.id = a.payable_id
		JOIN currencies pc ON pc.id = p.currency_id
		JOIN currencies oc ON oc.id = a.original_currency_id
		WHERE %s
		ORDER BY a.created_at, a.id
	`, r.tables.entries, r.tables.payables, where)
}

func (r *EntryRepo) collect(rows pgx.Rows) ([]model.AllocationEntry, error) {
	defer rows.Close()

	var entries []model.AllocationEntry
	for rows.Next() {
		var (
			id, paymentID, payableID uuid.UUID
			amount, original         int64
			payableCur, originalCur  currencyRow
			rate                     decimal.Decimal
			active                   bool
			createdAt, updatedAt     time.Time
		)
		if err := rows.Scan(
			&id, &paymentID, &payableID,
			&amount, &payableCur.id, &payableCur.code, &payableCur.digits,
			&original, &originalCur.id, &originalCur.code, &originalCur.digits,
			&rate, &active, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan allocation entry: %w", err)
		}

		pc, err := payableCur.currency()
		if err != nil {
			return nil, err
		}
		oc, err := originalCur.currency()
		if err != nil {
			return nil, err
		}
		exchangeRate, err := valueobject.NewExchangeRate(rate)
		if err != nil {
			return nil, fmt.Errorf("allocation entry %s: %w", id, err)
		}
		entries = append(entries, model.ReconstructAllocationEntry(
			id, r.kind, paymentID, payableID,
			money.FromMinor(amount, pc), money.FromMinor(original, oc),
			exchangeRate, active, createdAt, updatedAt,
		))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocation entries: %w", err)
	}
	return entries, nil
}
