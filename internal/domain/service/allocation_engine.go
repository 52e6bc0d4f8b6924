// Package service holds the pure allocation rules shared by invoices and
// expense invoices. Nothing here touches storage; the application layer loads
// ledgers, asks the engine for a plan and persists the plan atomically.
package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/money"
)

// AllocationRequest asks for part of a payment to be applied to a payable.
// Amount is in the payment currency and is not yet rounded.
type AllocationRequest struct {
	PaymentID       uuid.UUID
	PaymentCurrency money.Currency
	Amount          decimal.Decimal
	// ExchangeRate is required when the currencies differ and ignored otherwise.
	ExchangeRate *valueobject.ExchangeRate
}

// EditRequest asks for an entry's amount to be overwritten. A nil ExchangeRate
// keeps the entry's current rate.
type EditRequest struct {
	Amount       decimal.Decimal
	ExchangeRate *valueobject.ExchangeRate
}

// AllocationPlan is the outcome of a create, edit or reverse: the settled
// payable and the new state of the entry, to be persisted together.
type AllocationPlan struct {
	Payable model.Payable
	Entry   model.AllocationEntry
	// Snapped is set when the requested amount was moved onto the payable's
	// remaining balance to absorb a sub-unit difference.
	Snapped bool
}

// ApplyTo returns the ledger as it reads once the plan is persisted, so that
// several plans against one payable can be chained inside a transaction.
func (p AllocationPlan) ApplyTo(ledger model.PayableLedger) model.PayableLedger {
	out := model.PayableLedger{Payable: p.Payable, Entries: make([]model.AllocationEntry, 0, len(ledger.Entries)+1)}
	replaced := false
	for _, e := range ledger.Entries {
		if e.ID() != p.Entry.ID() {
			out.Entries = append(out.Entries, e)
			continue
		}
		replaced = true
		if p.Entry.Active() {
			out.Entries = append(out.Entries, p.Entry)
		}
	}
	if !replaced && p.Entry.Active() {
		out.Entries = append(out.Entries, p.Entry)
	}
	return out
}

// AllocationEngine validates allocations against a payable's remaining
// balance and derives the resulting paid amount and status.
type AllocationEngine struct {
	now func() time.Time
}

// NewAllocationEngine creates an engine stamping changes with the current UTC time.
func NewAllocationEngine() *AllocationEngine {
	return &AllocationEngine{now: func() time.Time { return time.Now().UTC() }}
}

// NewAllocationEngineWithClock creates an engine with a fixed time source.
func NewAllocationEngineWithClock(now func() time.Time) *AllocationEngine {
	return &AllocationEngine{now: now}
}

// quote is a validated amount expressed in both currencies.
type quote struct {
	payable  money.Money
	original money.Money
	rate     valueobject.ExchangeRate
	snapped  bool
}

// PlanAllocation validates a new allocation and computes the settled payable.
func (e *AllocationEngine) PlanAllocation(ledger model.PayableLedger, req AllocationRequest) (AllocationPlan, error) {
	payable := ledger.Payable
	if _, dup := ledger.ActiveEntryFor(req.PaymentID); dup {
		return AllocationPlan{}, fmt.Errorf("allocate payment %s to payable %s: %w", req.PaymentID, payable.ID(), model.ErrDuplicateAllocation)
	}

	rate, err := resolveRate(payable.Currency(), req.PaymentCurrency, req.ExchangeRate, nil)
	if err != nil {
		return AllocationPlan{}, err
	}

	existing, err := ledger.PaidExcluding(uuid.Nil)
	if err != nil {
		return AllocationPlan{}, err
	}

	q, err := e.quote(payable, existing, req.Amount, req.PaymentCurrency, rate)
	if err != nil {
		return AllocationPlan{}, err
	}

	now := e.now()
	entry, err := model.NewAllocationEntry(payable.Kind(), req.PaymentID, payable.ID(), q.payable, q.original, q.rate, now)
	if err != nil {
		return AllocationPlan{}, err
	}

	newPaid, err := existing.Add(q.payable)
	if err != nil {
		return AllocationPlan{}, err
	}
	settled, err := payable.Settle(newPaid, now)
	if err != nil {
		return AllocationPlan{}, err
	}

	return AllocationPlan{Payable: settled, Entry: entry, Snapped: q.snapped}, nil
}

// PlanEdit re-validates an entry with a new amount as if it were created
// again, excluding its current amount from the paid total, and overwrites it.
func (e *AllocationEngine) PlanEdit(ledger model.PayableLedger, entry model.AllocationEntry, req EditRequest) (AllocationPlan, error) {
	payable := ledger.Payable
	if entry.PayableID() != payable.ID() {
		return AllocationPlan{}, fmt.Errorf("entry %s does not belong to payable %s: %w", entry.ID(), payable.ID(), model.ErrEntryNotFound)
	}
	if !entry.Active() {
		return AllocationPlan{}, fmt.Errorf("edit entry %s: %w", entry.ID(), model.ErrEntryInactive)
	}

	current := entry.ExchangeRate()
	paymentCurrency := entry.OriginalAmount().Currency()
	rate, err := resolveRate(payable.Currency(), paymentCurrency, req.ExchangeRate, &current)
	if err != nil {
		return AllocationPlan{}, err
	}

	existing, err := ledger.PaidExcluding(entry.ID())
	if err != nil {
		return AllocationPlan{}, err
	}

	q, err := e.quote(payable, existing, req.Amount, paymentCurrency, rate)
	if err != nil {
		return AllocationPlan{}, err
	}

	now := e.now()
	revised, err := entry.Revise(q.payable, q.original, q.rate, now)
	if err != nil {
		return AllocationPlan{}, err
	}

	newPaid, err := existing.Add(q.payable)
	if err != nil {
		return AllocationPlan{}, err
	}
	settled, err := payable.Settle(newPaid, now)
	if err != nil {
		return AllocationPlan{}, err
	}

	return AllocationPlan{Payable: settled, Entry: revised, Snapped: q.snapped}, nil
}

// PlanReversal deactivates an entry and lowers the payable's paid amount,
// never below zero.
func (e *AllocationEngine) PlanReversal(ledger model.PayableLedger, entry model.AllocationEntry) (AllocationPlan, error) {
	payable := ledger.Payable
	if entry.PayableID() != payable.ID() {
		return AllocationPlan{}, fmt.Errorf("entry %s does not belong to payable %s: %w", entry.ID(), payable.ID(), model.ErrEntryNotFound)
	}

	now := e.now()
	reversed, err := entry.Deactivate(now)
	if err != nil {
		return AllocationPlan{}, err
	}

	newPaid, err := ledger.PaidExcluding(entry.ID())
	if err != nil {
		return AllocationPlan{}, err
	}
	if newPaid.IsNegative() {
		newPaid = money.Zero(payable.Currency())
	}

	settled, err := payable.Settle(newPaid, now)
	if err != nil {
		return AllocationPlan{}, err
	}

	return AllocationPlan{Payable: settled, Entry: reversed}, nil
}

// quote converts and bounds a requested amount. The bound is the payable's
// remaining balance expressed exactly in the payment currency (remaining/rate).
// A request less than one payment minor unit below the bound snaps up to it,
// one up to one minor unit above it clamps down to it, and anything further
// above fails.
func (e *AllocationEngine) quote(
	payable model.Payable,
	existing money.Money,
	requested decimal.Decimal,
	paymentCurrency money.Currency,
	rate valueobject.ExchangeRate,
) (quote, error) {
	if !requested.IsPositive() {
		return quote{}, fmt.Errorf("%w: requested amount must be positive, got %s", model.ErrInvalidAmount, requested.String())
	}

	remaining, err := payable.Remaining(existing)
	if err != nil {
		return quote{}, err
	}

	maxExact := rate.Invert(remaining.Decimal())
	unit := paymentCurrency.MinorUnit()
	gap := maxExact.Sub(requested)

	exceeds := func() error {
		req, _ := money.FromDecimal(requested, paymentCurrency)
		maxAllowed, _ := money.FromDecimal(decimal.Max(maxExact, decimal.Zero), paymentCurrency)
		return &model.AllocationExceedsBalanceError{
			PayableID:  payable.ID(),
			Requested:  req,
			MaxAllowed: maxAllowed,
		}
	}

	if gap.LessThan(unit.Neg()) {
		return quote{}, exceeds()
	}

	if gap.LessThan(unit) {
		// Within one unit of the bound: settle the balance exactly.
		original, err := money.FromDecimal(maxExact, paymentCurrency)
		if err != nil {
			return quote{}, err
		}
		if !remaining.IsPositive() || !original.IsPositive() {
			return quote{}, exceeds()
		}
		return quote{payable: remaining, original: original, rate: rate, snapped: !gap.IsZero()}, nil
	}

	original, err := money.FromDecimal(requested, paymentCurrency)
	if err != nil {
		return quote{}, err
	}
	converted, err := rate.Convert(original, payable.Currency())
	if err != nil {
		return quote{}, err
	}
	if !original.IsPositive() || !converted.IsPositive() {
		return quote{}, fmt.Errorf("%w: %s rounds to zero in %s", model.ErrInvalidAmount, requested.String(), payable.Currency())
	}
	return quote{payable: converted, original: original, rate: rate}, nil
}

// resolveRate picks the rate for an allocation: identity for same-currency
// pairs, otherwise the supplied rate or the fallback.
func resolveRate(payableCurrency, paymentCurrency money.Currency, supplied, fallback *valueobject.ExchangeRate) (valueobject.ExchangeRate, error) {
	if payableCurrency == paymentCurrency {
		return valueobject.IdentityRate, nil
	}
	if payableCurrency.Code() == paymentCurrency.Code() {
		return valueobject.ExchangeRate{}, fmt.Errorf("payable and payment currency %s disagree on precision: %w", payableCurrency, money.ErrScaleMismatch)
	}
	rate := supplied
	if rate == nil {
		rate = fallback
	}
	if rate == nil || !rate.Rate().IsPositive() {
		return valueobject.ExchangeRate{}, fmt.Errorf("%w: a positive rate is required to allocate %s to a %s payable",
			model.ErrInvalidExchangeRate, paymentCurrency, payableCurrency)
	}
	return *rate, nil
}
