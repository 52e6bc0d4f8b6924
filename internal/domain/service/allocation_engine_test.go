package service_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/service"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/money"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine() *service.AllocationEngine {
	return service.NewAllocationEngineWithClock(func() time.Time { return fixedNow })
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mustMoney(t *testing.T, amount string, c money.Currency) money.Money {
	t.Helper()
	m, err := money.Parse(amount, c)
	require.NoError(t, err)
	return m
}

func rate(t *testing.T, s string) *valueobject.ExchangeRate {
	t.Helper()
	r, err := valueobject.NewExchangeRate(dec(s))
	require.NoError(t, err)
	return &r
}

func newLedger(t *testing.T, total, tax string, c money.Currency) model.PayableLedger {
	t.Helper()
	p, err := model.NewPayable(uuid.New(), valueobject.PayableKindInvoice, mustMoney(t, total, c), mustMoney(t, tax, c))
	require.NoError(t, err)
	return model.PayableLedger{Payable: p}
}

func apply(ledger model.PayableLedger, plan service.AllocationPlan) model.PayableLedger {
	return plan.ApplyTo(ledger)
}

func allocate(t *testing.T, ledger model.PayableLedger, amount string, c money.Currency, r *valueobject.ExchangeRate) (model.PayableLedger, service.AllocationPlan) {
	t.Helper()
	plan, err := newEngine().PlanAllocation(ledger, service.AllocationRequest{
		PaymentID:       uuid.New(),
		PaymentCurrency: c,
		Amount:          dec(amount),
		ExchangeRate:    r,
	})
	require.NoError(t, err)
	return apply(ledger, plan), plan
}

// assertSumInvariant checks amountPaid equals the sum of active entry amounts
// and never exceeds total - tax by more than one minor unit.
func assertSumInvariant(t *testing.T, ledger model.PayableLedger) {
	t.Helper()
	sum, err := ledger.PaidExcluding(uuid.Nil)
	require.NoError(t, err)
	assert.True(t, sum.Equal(ledger.Payable.AmountPaid()), "amountPaid %s != sum of entries %s", ledger.Payable.AmountPaid(), sum)

	covered, err := ledger.Payable.AmountPaid().Add(ledger.Payable.TaxWithholding())
	require.NoError(t, err)
	over, err := covered.GreaterThan(ledger.Payable.Total(), ledger.Payable.Total().Tolerance())
	require.NoError(t, err)
	assert.False(t, over, "paid %s + tax exceeds total %s", ledger.Payable.AmountPaid(), ledger.Payable.Total())
}

// ---------------------------------------------------------------------------
// Allocate and reverse
// ---------------------------------------------------------------------------

func TestPlanAllocation_SameCurrencyPartialThenPaid(t *testing.T) {
	ledger := newLedger(t, "150.00", "0", money.USD)

	ledger, _ = allocate(t, ledger, "100.00", money.USD, nil)
	assert.Equal(t, int64(10000), ledger.Payable.AmountPaid().Minor())
	assert.Equal(t, valueobject.PayableStatusPartiallyPaid, ledger.Payable.Status())
	assertSumInvariant(t, ledger)

	ledger, _ = allocate(t, ledger, "50.00", money.USD, nil)
	assert.Equal(t, int64(15000), ledger.Payable.AmountPaid().Minor())
	assert.Equal(t, valueobject.PayableStatusPaid, ledger.Payable.Status())
	assertSumInvariant(t, ledger)
}

func TestPlanAllocation_CrossCurrencyPartialThenPaid(t *testing.T) {
	ledger := newLedger(t, "300.000", "0", money.TND)

	ledger, plan := allocate(t, ledger, "2500.00", money.USD, rate(t, "0.1"))

	assert.Equal(t, "250.000 TND", ledger.Payable.AmountPaid().String())
	assert.Equal(t, valueobject.PayableStatusPartiallyPaid, ledger.Payable.Status())
	assert.Equal(t, "250.000 TND", plan.Entry.Amount().String())
	assert.Equal(t, "2500.00 USD", plan.Entry.OriginalAmount().String())
	assert.Equal(t, money.USD.ID(), plan.Entry.OriginalCurrencyID())
	assert.Equal(t, uint8(2), plan.Entry.MinorUnitDigits())
	assert.Equal(t, "0.1", plan.Entry.ExchangeRate().String())

	// The remaining balance in USD is (300.000-250.000)/0.1 = 500.00.
	_, err := newEngine().PlanAllocation(ledger, service.AllocationRequest{
		PaymentID:       uuid.New(),
		PaymentCurrency: money.USD,
		Amount:          dec("500.02"),
		ExchangeRate:    rate(t, "0.1"),
	})
	var exceeded *model.AllocationExceedsBalanceError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "500.00 USD", exceeded.MaxAllowed.String())

	ledger, _ = allocate(t, ledger, "500.00", money.USD, rate(t, "0.1"))
	assert.Equal(t, valueobject.PayableStatusPaid, ledger.Payable.Status())
	assertSumInvariant(t, ledger)
}

func TestPlanReversal_WithTaxWithholdingReturnsToUnpaid(t *testing.T) {
	ledger := newLedger(t, "100.00", "10.00", money.USD)

	ledger, plan := allocate(t, ledger, "90.00", money.USD, nil)
	assert.Equal(t, valueobject.PayableStatusPaid, ledger.Payable.Status())

	reversal, err := newEngine().PlanReversal(ledger, plan.Entry)
	require.NoError(t, err)
	ledger = apply(ledger, reversal)

	assert.True(t, ledger.Payable.AmountPaid().IsZero())
	assert.Equal(t, valueobject.PayableStatusUnpaid, ledger.Payable.Status())
	assert.False(t, reversal.Entry.Active())
	assertSumInvariant(t, ledger)
}

// ---------------------------------------------------------------------------
// Boundaries and snapping
// ---------------------------------------------------------------------------

func TestPlanAllocation_Boundaries(t *testing.T) {
	tests := []struct {
		name        string
		amount      string
		wantErr     bool
		wantPaid    int64
		wantSnapped bool
	}{
		{"exactly remaining", "50.00", false, 15000, false},
		{"half a unit over snaps down", "50.005", false, 15000, true},
		{"one unit over clamps", "50.01", false, 15000, true},
		{"two units over fails", "50.02", true, 0, false},
		{"half a unit under snaps up", "49.995", false, 15000, true},
		{"one unit under is kept", "49.99", false, 14999, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newLedger(t, "150.00", "0", money.USD)
			ledger, _ = allocate(t, ledger, "100.00", money.USD, nil)

			plan, err := newEngine().PlanAllocation(ledger, service.AllocationRequest{
				PaymentID:       uuid.New(),
				PaymentCurrency: money.USD,
				Amount:          dec(tt.amount),
			})
			if tt.wantErr {
				require.ErrorIs(t, err, model.ErrAllocationExceedsBalance)
				var exceeded *model.AllocationExceedsBalanceError
				require.ErrorAs(t, err, &exceeded)
				assert.Equal(t, "50.00 USD", exceeded.MaxAllowed.String())
				assert.Equal(t, ledger.Payable.ID(), exceeded.PayableID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPaid, plan.Payable.AmountPaid().Minor())
			assert.Equal(t, tt.wantSnapped, plan.Snapped)
			assert.Equal(t, valueobject.PayableStatusPaid, plan.Payable.Status())
			assertSumInvariant(t, apply(ledger, plan))
		})
	}
}

func TestPlanAllocation_CrossCurrencySnapSettlesBalanceExactly(t *testing.T) {
	// At 3.3 USD per TND the bound is 30.30303... TND, which has no exact
	// representation in TND minor units.
	ledger := newLedger(t, "100.00", "0", money.USD)

	plan, err := newEngine().PlanAllocation(ledger, service.AllocationRequest{
		PaymentID:       uuid.New(),
		PaymentCurrency: money.TND,
		Amount:          dec("30.303"),
		ExchangeRate:    rate(t, "3.3"),
	})

	require.NoError(t, err)
	assert.True(t, plan.Snapped)
	assert.Equal(t, "100.00 USD", plan.Entry.Amount().String())
	assert.Equal(t, "30.303 TND", plan.Entry.OriginalAmount().String())
	assert.Equal(t, valueobject.PayableStatusPaid, plan.Payable.Status())
}

func TestPlanAllocation_FullyPaidRejectsTinyAmount(t *testing.T) {
	ledger := newLedger(t, "10.00", "0", money.USD)
	ledger, _ = allocate(t, ledger, "10.00", money.USD, nil)

	_, err := newEngine().PlanAllocation(ledger, service.AllocationRequest{
		PaymentID:       uuid.New(),
		PaymentCurrency: money.USD,
		Amount:          dec("0.01"),
	})

	assert.ErrorIs(t, err, model.ErrAllocationExceedsBalance)
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestPlanAllocation_Rejections(t *testing.T) {
	ledger := newLedger(t, "300.000", "0", money.TND)
	zero := valueobject.ExchangeRate{}

	tests := []struct {
		name     string
		currency money.Currency
		amount   string
		rate     *valueobject.ExchangeRate
		wantErr  error
	}{
		{"cross currency without rate", money.USD, "10.00", nil, model.ErrInvalidExchangeRate},
		{"cross currency with zero rate", money.USD, "10.00", &zero, model.ErrInvalidExchangeRate},
		{"zero amount", money.TND, "0", nil, model.ErrInvalidAmount},
		{"negative amount", money.TND, "-5", nil, model.ErrInvalidAmount},
		{"same code different precision", money.MustCurrency(money.TND.ID(), "TND", 2), "5", rate(t, "1"), money.ErrScaleMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newEngine().PlanAllocation(ledger, service.AllocationRequest{
				PaymentID:       uuid.New(),
				PaymentCurrency: tt.currency,
				Amount:          dec(tt.amount),
				ExchangeRate:    tt.rate,
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPlanAllocation_SameCurrencyIgnoresSuppliedRate(t *testing.T) {
	ledger := newLedger(t, "150.00", "0", money.USD)

	_, plan := allocate(t, ledger, "20.00", money.USD, rate(t, "4"))

	assert.Equal(t, "20.00 USD", plan.Entry.Amount().String())
	assert.True(t, plan.Entry.ExchangeRate().Equal(valueobject.IdentityRate))
}

func TestPlanAllocation_DuplicatePaymentRejected(t *testing.T) {
	ledger := newLedger(t, "150.00", "0", money.USD)
	paymentID := uuid.New()
	req := service.AllocationRequest{PaymentID: paymentID, PaymentCurrency: money.USD, Amount: dec("10")}

	plan, err := newEngine().PlanAllocation(ledger, req)
	require.NoError(t, err)
	ledger = apply(ledger, plan)

	_, err = newEngine().PlanAllocation(ledger, req)
	assert.ErrorIs(t, err, model.ErrDuplicateAllocation)
}

// ---------------------------------------------------------------------------
// Edit and reverse
// ---------------------------------------------------------------------------

func TestPlanEdit_OverwritesAmount(t *testing.T) {
	ledger := newLedger(t, "150.00", "0", money.USD)
	ledger, first := allocate(t, ledger, "100.00", money.USD, nil)
	ledger, _ = allocate(t, ledger, "20.00", money.USD, nil)

	plan, err := newEngine().PlanEdit(ledger, first.Entry, service.EditRequest{Amount: dec("60.00")})
	require.NoError(t, err)
	ledger = apply(ledger, plan)

	assert.Equal(t, "60.00 USD", plan.Entry.Amount().String())
	assert.Equal(t, "60.00 USD", plan.Entry.OriginalAmount().String())
	assert.Equal(t, int64(8000), ledger.Payable.AmountPaid().Minor())
	assertSumInvariant(t, ledger)
}

func TestPlanEdit_ExcludesOwnAmountFromBalance(t *testing.T) {
	ledger := newLedger(t, "150.00", "0", money.USD)
	ledger, first := allocate(t, ledger, "100.00", money.USD, nil)

	// 150.00 is only valid if the entry's current 100.00 is not counted.
	plan, err := newEngine().PlanEdit(ledger, first.Entry, service.EditRequest{Amount: dec("150.00")})
	require.NoError(t, err)
	assert.Equal(t, valueobject.PayableStatusPaid, plan.Payable.Status())

	_, err = newEngine().PlanEdit(ledger, first.Entry, service.EditRequest{Amount: dec("150.02")})
	assert.ErrorIs(t, err, model.ErrAllocationExceedsBalance)
}

func TestPlanEdit_KeepsCurrentRateByDefault(t *testing.T) {
	ledger := newLedger(t, "300.000", "0", money.TND)
	ledger, first := allocate(t, ledger, "1000.00", money.USD, rate(t, "0.1"))

	plan, err := newEngine().PlanEdit(ledger, first.Entry, service.EditRequest{Amount: dec("2000.00")})
	require.NoError(t, err)
	assert.Equal(t, "200.000 TND", plan.Entry.Amount().String())
	assert.Equal(t, "0.1", plan.Entry.ExchangeRate().String())

	plan, err = newEngine().PlanEdit(ledger, first.Entry, service.EditRequest{Amount: dec("2000.00"), ExchangeRate: rate(t, "0.12")})
	require.NoError(t, err)
	assert.Equal(t, "240.000 TND", plan.Entry.Amount().String())
	assert.Equal(t, "0.12", plan.Entry.ExchangeRate().String())
}

func TestPlanEdit_InactiveEntry(t *testing.T) {
	ledger := newLedger(t, "150.00", "0", money.USD)
	ledger, first := allocate(t, ledger, "100.00", money.USD, nil)
	reversal, err := newEngine().PlanReversal(ledger, first.Entry)
	require.NoError(t, err)
	ledger = apply(ledger, reversal)

	_, err = newEngine().PlanEdit(ledger, reversal.Entry, service.EditRequest{Amount: dec("10")})
	assert.ErrorIs(t, err, model.ErrEntryInactive)

	_, err = newEngine().PlanReversal(ledger, reversal.Entry)
	assert.ErrorIs(t, err, model.ErrEntryInactive)
}

func TestPlanReversal_EntryOfOtherPayable(t *testing.T) {
	a := newLedger(t, "150.00", "0", money.USD)
	b := newLedger(t, "150.00", "0", money.USD)
	_, plan := allocate(t, a, "10.00", money.USD, nil)

	_, err := newEngine().PlanReversal(b, plan.Entry)
	assert.ErrorIs(t, err, model.ErrEntryNotFound)
}

func TestAllocateThenReverse_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		total    string
		tax      string
		currency money.Currency
		prior    string
		amount   string
		payment  money.Currency
		rate     string
	}{
		{"same currency from zero", "150.00", "0", money.USD, "", "40.00", money.USD, ""},
		{"same currency on partial", "150.00", "5.00", money.USD, "30.00", "40.00", money.USD, ""},
		{"cross currency", "300.000", "0", money.TND, "100.000", "700.00", money.USD, "0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newLedger(t, tt.total, tt.tax, tt.currency)
			if tt.prior != "" {
				ledger, _ = allocate(t, ledger, tt.prior, tt.currency, nil)
			}
			before := ledger.Payable

			var r *valueobject.ExchangeRate
			if tt.rate != "" {
				r = rate(t, tt.rate)
			}
			ledger, plan := allocate(t, ledger, tt.amount, tt.payment, r)

			reversal, err := newEngine().PlanReversal(ledger, plan.Entry)
			require.NoError(t, err)
			ledger = apply(ledger, reversal)

			assert.True(t, before.AmountPaid().Equal(ledger.Payable.AmountPaid()))
			assert.Equal(t, before.Status(), ledger.Payable.Status())
			assertSumInvariant(t, ledger)
		})
	}
}

func TestPlans_RecordEvents(t *testing.T) {
	ledger := newLedger(t, "150.00", "0", money.USD)
	_, plan := allocate(t, ledger, "10.00", money.USD, nil)

	require.Len(t, plan.Entry.DomainEvents(), 1)
	assert.Equal(t, "allocation.created", plan.Entry.DomainEvents()[0].EventType())
	require.Len(t, plan.Payable.DomainEvents(), 1)
	assert.Equal(t, "payable.settlement.changed", plan.Payable.DomainEvents()[0].EventType())
	assert.Equal(t, fixedNow, plan.Entry.CreatedAt())
	assert.Equal(t, 2, plan.Payable.Version())
}
