package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/pkg/events"
	"github.com/bibbank/reconciliation/pkg/money"
)

// PayableRepository defines persistence operations for one kind of payable.
type PayableRepository interface {
	// Register inserts a payable announced by the invoicing side. Registering an
	// existing ID is a no-op.
	Register(ctx context.Context, payable model.Payable) error
	// LoadForAllocation retrieves a payable with its active allocation entries.
	LoadForAllocation(ctx context.Context, id uuid.UUID) (model.PayableLedger, error)
	// ApplySettlement stores the payable's amountPaid and status. It fails with
	// model.ErrConcurrentModification unless the stored version is payable.Version()-1.
	ApplySettlement(ctx context.Context, payable model.Payable) error
}

// AllocationEntryRepository defines persistence operations for allocation entries.
type AllocationEntryRepository interface {
	// Create inserts a new entry.
	Create(ctx context.Context, entry model.AllocationEntry) error
	// Update overwrites an entry's amounts, rate and active flag.
	Update(ctx context.Context, entry model.AllocationEntry) error
	// FindByID retrieves an entry, active or not.
	FindByID(ctx context.Context, id uuid.UUID) (model.AllocationEntry, error)
	// ListActiveByPayment returns the active entries of a payment.
	ListActiveByPayment(ctx context.Context, paymentID uuid.UUID) ([]model.AllocationEntry, error)
	// ListByPayable returns the entries of a payable, optionally including reversed ones.
	ListByPayable(ctx context.Context, payableID uuid.UUID, includeInactive bool) ([]model.AllocationEntry, error)
}

// PaymentRepository defines persistence operations for one kind of payment.
type PaymentRepository interface {
	// Create inserts a new payment.
	Create(ctx context.Context, payment model.Payment) error
	// Update stores a changed payment. It fails with model.ErrConcurrentModification
	// unless the stored version is payment.Version()-1.
	Update(ctx context.Context, payment model.Payment) error
	// FindByID retrieves a payment by its unique identifier, deleted or not.
	FindByID(ctx context.Context, id uuid.UUID) (model.Payment, error)
}

// CurrencyRegistry resolves currency reference data.
type CurrencyRegistry interface {
	// Lookup returns the currency with the given ID or model.ErrCurrencyNotFound.
	Lookup(ctx context.Context, id money.CurrencyID) (money.Currency, error)
}

// TxRunner runs a function atomically. Calls nested inside fn run in a nested
// transaction whose failure rolls back only its own writes.
type TxRunner interface {
	RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// OutboxWriter stores events for later publication, inside the caller's transaction.
type OutboxWriter interface {
	Store(ctx context.Context, entries []events.OutboxEntry) error
}
