// Package memory holds an in-process implementation of the persistence ports,
// used for local development and use-case tests. Transactions are serialized
// behind one lock; nested transactions snapshot the state and restore it on
// failure.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/port"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/events"
)

var (
	_ port.TxRunner           = (*Store)(nil)
	_ port.OutboxWriter       = (*Store)(nil)
	_ events.OutboxRepository = (*Store)(nil)
)

type state struct {
	payables map[uuid.UUID]model.Payable
	entries  map[uuid.UUID]model.AllocationEntry
	payments map[uuid.UUID]model.Payment
	outbox   []events.OutboxEntry
}

func newState() *state {
	return &state{
		payables: make(map[uuid.UUID]model.Payable),
		entries:  make(map[uuid.UUID]model.AllocationEntry),
		payments: make(map[uuid.UUID]model.Payment),
	}
}

func (s *state) clone() *state {
	c := &state{
		payables: make(map[uuid.UUID]model.Payable, len(s.payables)),
		entries:  make(map[uuid.UUID]model.AllocationEntry, len(s.entries)),
		payments: make(map[uuid.UUID]model.Payment, len(s.payments)),
		outbox:   append([]events.OutboxEntry(nil), s.outbox...),
	}
	for k, v := range s.payables {
		c.payables[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

type txKey struct{}

// Store keeps payables, payments, entries and the outbox of both payable kinds.
type Store struct {
	mu    sync.Mutex
	state *state
}

func NewStore() *Store {
	return &Store{state: newState()}
}

// RunAtomic runs fn with exclusive access to the store. When ctx already
// carries a transaction of this store, fn runs as a nested transaction.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		snapshot := s.state.clone()
		if err := fn(ctx); err != nil {
			s.state = snapshot
			return err
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// with runs fn against the current state, taking the lock unless ctx is
// inside one of this store's transactions.
func (s *Store) with(ctx context.Context, fn func(st *state) error) error {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return fn(s.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// Payables returns the payable repository of one kind.
func (s *Store) Payables(kind valueobject.PayableKind) *PayableRepo {
	return &PayableRepo{store: s, kind: kind}
}

// Entries returns the allocation entry repository of one kind.
func (s *Store) Entries(kind valueobject.PayableKind) *EntryRepo {
	return &EntryRepo{store: s, kind: kind}
}

// Payments returns the payment repository of one kind.
func (s *Store) Payments(kind valueobject.PayableKind) *PaymentRepo {
	return &PaymentRepo{store: s, kind: kind}
}

// Store appends entries to the outbox.
func (s *Store) Store(ctx context.Context, entries []events.OutboxEntry) error {
	return s.with(ctx, func(st *state) error {
		st.outbox = append(st.outbox, entries...)
		return nil
	})
}

// FetchUnpublished returns up to batchSize unpublished entries, oldest first.
func (s *Store) FetchUnpublished(ctx context.Context, batchSize int) ([]events.OutboxEntry, error) {
	var out []events.OutboxEntry
	err := s.with(ctx, func(st *state) error {
		for _, e := range st.outbox {
			if e.PublishedAt != nil {
				continue
			}
			out = append(out, e)
			if len(out) == batchSize {
				break
			}
		}
		return nil
	})
	return out, err
}

// MarkPublished stamps the given entries as published.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	marked := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		marked[id] = struct{}{}
	}
	now := time.Now().UTC()
	return s.with(ctx, func(st *state) error {
		for i := range st.outbox {
			if _, ok := marked[st.outbox[i].ID]; ok && st.outbox[i].PublishedAt == nil {
				st.outbox[i].PublishedAt = &now
			}
		}
		return nil
	})
}

// Outbox returns a copy of every stored outbox entry.
func (s *Store) Outbox() []events.OutboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.OutboxEntry(nil), s.state.outbox...)
}

// PayableRepo implements port.PayableRepository for one kind.
type PayableRepo struct {
	store *Store
	kind  valueobject.PayableKind
}

var _ port.PayableRepository = (*PayableRepo)(nil)

func (r *PayableRepo) Register(ctx context.Context, payable model.Payable) error {
	return r.store.with(ctx, func(st *state) error {
		if _, ok := st.payables[payable.ID()]; ok {
			return nil
		}
		st.payables[payable.ID()] = payable.ClearDomainEvents()
		return nil
	})
}

func (r *PayableRepo) LoadForAllocation(ctx context.Context, id uuid.UUID) (model.PayableLedger, error) {
	var ledger model.PayableLedger
	err := r.store.with(ctx, func(st *state) error {
		p, ok := st.payables[id]
		if !ok || p.Kind() != r.kind {
			return fmt.Errorf("%s %s: %w", r.kind.PayableAggregate(), id, model.ErrPayableNotFound)
		}
		ledger.Payable = p
		for _, e := range sortedEntries(st, func(e model.AllocationEntry) bool {
			return e.Active() && e.PayableID() == id && e.Kind() == r.kind
		}) {
			ledger.Entries = append(ledger.Entries, e)
		}
		return nil
	})
	return ledger, err
}

func (r *PayableRepo) ApplySettlement(ctx context.Context, payable model.Payable) error {
	return r.store.with(ctx, func(st *state) error {
		stored, ok := st.payables[payable.ID()]
		if !ok || stored.Kind() != r.kind {
			return fmt.Errorf("%s %s: %w", r.kind.PayableAggregate(), payable.ID(), model.ErrPayableNotFound)
		}
		if stored.Version() != payable.Version()-1 {
			return fmt.Errorf("%s %s at version %d: %w", r.kind.PayableAggregate(), payable.ID(), stored.Version(), model.ErrConcurrentModification)
		}
		st.payables[payable.ID()] = payable.ClearDomainEvents()
		return nil
	})
}

// EntryRepo implements port.AllocationEntryRepository for one kind.
type EntryRepo struct {
	store *Store
	kind  valueobject.PayableKind
}

var _ port.AllocationEntryRepository = (*EntryRepo)(nil)

func (r *EntryRepo) Create(ctx context.Context, entry model.AllocationEntry) error {
	return r.store.with(ctx, func(st *state) error {
		if _, ok := st.entries[entry.ID()]; ok {
			return fmt.Errorf("allocation entry %s already exists", entry.ID())
		}
		st.entries[entry.ID()] = entry.ClearDomainEvents()
		return nil
	})
}

func (r *EntryRepo) Update(ctx context.Context, entry model.AllocationEntry) error {
	return r.store.with(ctx, func(st *state) error {
		stored, ok := st.entries[entry.ID()]
		if !ok || stored.Kind() != r.kind {
			return fmt.Errorf("allocation entry %s: %w", entry.ID(), model.ErrEntryNotFound)
		}
		st.entries[entry.ID()] = entry.ClearDomainEvents()
		return nil
	})
}

func (r *EntryRepo) FindByID(ctx context.Context, id uuid.UUID) (model.AllocationEntry, error) {
	var entry model.AllocationEntry
	err := r.store.with(ctx, func(st *state) error {
		e, ok := st.entries[id]
		if !ok || e.Kind() != r.kind {
			return fmt.Errorf("allocation entry %s: %w", id, model.ErrEntryNotFound)
		}
		entry = e
		return nil
	})
	return entry, err
}

func (r *EntryRepo) ListActiveByPayment(ctx context.Context, paymentID uuid.UUID) ([]model.AllocationEntry, error) {
	var out []model.AllocationEntry
	err := r.store.with(ctx, func(st *state) error {
		out = sortedEntries(st, func(e model.AllocationEntry) bool {
			return e.Active() && e.PaymentID() == paymentID && e.Kind() == r.kind
		})
		return nil
	})
	return out, err
}

func (r *EntryRepo) ListByPayable(ctx context.Context, payableID uuid.UUID, includeInactive bool) ([]model.AllocationEntry, error) {
	var out []model.AllocationEntry
	err := r.store.with(ctx, func(st *state) error {
		out = sortedEntries(st, func(e model.AllocationEntry) bool {
			return (includeInactive || e.Active()) && e.PayableID() == payableID && e.Kind() == r.kind
		})
		return nil
	})
	return out, err
}

// sortedEntries returns the matching entries ordered by creation time then ID.
func sortedEntries(st *state, match func(model.AllocationEntry) bool) []model.AllocationEntry {
	var out []model.AllocationEntry
	for _, e := range st.entries {
		if match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].CreatedAt().Before(out[j].CreatedAt())
		}
		return out[i].ID().String() < out[j].ID().String()
	})
	return out
}

// PaymentRepo implements port.PaymentRepository for one kind.
type PaymentRepo struct {
	store *Store
	kind  valueobject.PayableKind
}

var _ port.PaymentRepository = (*PaymentRepo)(nil)

func (r *PaymentRepo) Create(ctx context.Context, payment model.Payment) error {
	return r.store.with(ctx, func(st *state) error {
		if _, ok := st.payments[payment.ID()]; ok {
			return fmt.Errorf("payment %s already exists", payment.ID())
		}
		st.payments[payment.ID()] = payment.ClearDomainEvents()
		return nil
	})
}

func (r *PaymentRepo) Update(ctx context.Context, payment model.Payment) error {
	return r.store.with(ctx, func(st *state) error {
		stored, ok := st.payments[payment.ID()]
		if !ok || stored.Kind() != r.kind {
			return fmt.Errorf("payment %s: %w", payment.ID(), model.ErrPaymentNotFound)
		}
		if stored.Version() != payment.Version()-1 {
			return fmt.Errorf("payment %s at version %d: %w", payment.ID(), stored.Version(), model.ErrConcurrentModification)
		}
		st.payments[payment.ID()] = payment.ClearDomainEvents()
		return nil
	})
}

func (r *PaymentRepo) FindByID(ctx context.Context, id uuid.UUID) (model.Payment, error) {
	var payment model.Payment
	err := r.store.with(ctx, func(st *state) error {
		p, ok := st.payments[id]
		if !ok || p.Kind() != r.kind {
			return fmt.Errorf("payment %s: %w", id, model.ErrPaymentNotFound)
		}
		payment = p
		return nil
	})
	return payment, err
}
