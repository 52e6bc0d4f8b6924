package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/port"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/money"
	pgutil "github.com/bibbank/reconciliation/pkg/postgres"
)

// Compile-time interface check.
var _ port.PayableRepository = (*PayableRepo)(nil)

// PayableRepo implements PayableRepository using PostgreSQL.
type PayableRepo struct {
	pool    *pgxpool.Pool
	kind    valueobject.PayableKind
	tables  tables
	entries *EntryRepo
}

func NewPayableRepo(pool *pgxpool.Pool, kind valueobject.PayableKind) *PayableRepo {
	return &PayableRepo{
		pool:    pool,
		kind:    kind,
		tables:  tablesFor(kind),
		entries: NewEntryRepo(pool, kind),
	}
}

func (r *PayableRepo) Register(ctx context.Context, payable model.Payable) error {
	_, err := pgutil.Conn(ctx, r.pool).Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, currency_id, total, tax_withholding, amount_paid, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, r.tables.payables),
		payable.ID(), int64(payable.Currency().ID()), payable.Total().Minor(), payable.TaxWithholding().Minor(),
		payable.AmountPaid().Minor(), payable.Status().String(), payable.Version(),
		payable.CreatedAt(), payable.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.kind.PayableAggregate(), err)
	}
	return nil
}

// LoadForAllocation locks the payable row for the rest of the caller's
// transaction and loads its active entries.
func (r *PayableRepo) LoadForAllocation(ctx context.Context, id uuid.UUID) (model.PayableLedger, error) {
	var (
		cur                    currencyRow
		total, tax, amountPaid int64
		statusStr              string
		version                int
		createdAt, updatedAt   time.Time
	)
	err := pgutil.Conn(ctx, r.pool).QueryRow(ctx, fmt.Sprintf(`
		SELECT c.id, c.code, c.digits, p.total, p.tax_withholding, p.amount_paid,
			p.status, p.version, p.created_at, p.updated_at
		FROM %s p
		JOIN currencies c ON c.id = p.currency_id
		WHERE p.id = $1
		FOR UPDATE OF p
	`, r.tables.payables), id).Scan(
		&cur.id, &cur.code, &cur.digits, &total, &tax, &amountPaid,
		&statusStr, &version, &createdAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PayableLedger{}, fmt.Errorf("%s %s: %w", r.kind.PayableAggregate(), id, model.ErrPayableNotFound)
	}
	if err != nil {
		return model.PayableLedger{}, fmt.Errorf("query %s: %w", r.kind.PayableAggregate(), err)
	}

	currency, err := cur.currency()
	if err != nil {
		return model.PayableLedger{}, err
	}
	status, err := valueobject.NewPayableStatus(statusStr)
	if err != nil {
		return model.PayableLedger{}, fmt.Errorf("%s %s: %w", r.kind.PayableAggregate(), id, err)
	}
	payable := model.ReconstructPayable(
		id, r.kind,
		money.FromMinor(total, currency), money.FromMinor(tax, currency), money.FromMinor(amountPaid, currency),
		status, version, createdAt, updatedAt,
	)

	entries, err := r.entries.ListByPayable(ctx, id, false)
	if err != nil {
		return model.PayableLedger{}, err
	}
	return model.PayableLedger{Payable: payable, Entries: entries}, nil
}

func (r *PayableRepo) ApplySettlement(ctx context.Context, payable model.Payable) error {
	tag, err := pgutil.Conn(ctx, r.pool).Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET amount_paid = $2, status = $3, version = $4, updated_at = $5
		WHERE id = $1 AND version = $6
	`, r.tables.payables),
		payable.ID(), payable.AmountPaid().Minor(), payable.Status().String(),
		payable.Version(), payable.UpdatedAt(), payable.Version()-1,
	)
	if err != nil {
		return fmt.Errorf("update %s settlement: %w", r.kind.PayableAggregate(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s at version %d: %w", r.kind.PayableAggregate(), payable.ID(), payable.Version()-1, model.ErrConcurrentModification)
	}
	return nil
}
