package usecase_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibbank/reconciliation/internal/application/dto"
	"github.com/bibbank/reconciliation/internal/application/usecase"
	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/port"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/internal/infrastructure/currency"
	"github.com/bibbank/reconciliation/internal/infrastructure/memory"
	"github.com/bibbank/reconciliation/pkg/testutil"
)

const (
	usdID int64 = 1
	tndID int64 = 3
)

// --- Fakes ---

type fakeMetrics struct {
	mu        sync.Mutex
	applied   map[string]int
	rejected  map[string]int
	conflicts int
	skipped   int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{applied: map[string]int{}, rejected: map[string]int{}}
}

func (m *fakeMetrics) AllocationApplied(_ context.Context, _, operation string, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied[operation]++
}

func (m *fakeMetrics) AllocationRejected(_ context.Context, _, operation string, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[operation]++
}

func (m *fakeMetrics) ConflictRetried(context.Context, string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *fakeMetrics) PaymentsSkipped(_ context.Context, _ string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped += count
}

// flakyPayments loses the version check on its first Update calls.
type flakyPayments struct {
	port.PaymentRepository
	mu       sync.Mutex
	failures int
}

func (f *flakyPayments) Update(ctx context.Context, payment model.Payment) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return fmt.Errorf("payment %s: %w", payment.ID(), model.ErrConcurrentModification)
	}
	f.mu.Unlock()
	return f.PaymentRepository.Update(ctx, payment)
}

// --- Harness ---

type harness struct {
	store   *memory.Store
	set     *usecase.Set
	metrics *fakeMetrics
}

func newHarness(t *testing.T, kind valueobject.PayableKind, wrap func(port.PaymentRepository) port.PaymentRepository) *harness {
	t.Helper()
	store := memory.NewStore()
	metrics := newFakeMetrics()

	var payments port.PaymentRepository = store.Payments(kind)
	if wrap != nil {
		payments = wrap(payments)
	}
	core := usecase.NewCore(usecase.Stores{
		Kind:     kind,
		Payables: store.Payables(kind),
		Entries:  store.Entries(kind),
		Payments: payments,
	}, currency.Default(), store, store,
		usecase.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		usecase.WithMetrics(metrics),
		usecase.WithRetryPolicy(usecase.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}),
	)
	return &harness{store: store, set: usecase.NewSet(core), metrics: metrics}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func rate(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func (h *harness) payable(t *testing.T, currencyID int64, total, tax string) uuid.UUID {
	t.Helper()
	resp, err := h.set.RegisterPayable.Execute(context.Background(), dto.RegisterPayableRequest{
		ID:             uuid.New(),
		CurrencyID:     currencyID,
		Total:          dec(total),
		TaxWithholding: dec(tax),
	})
	require.NoError(t, err)
	return resp.ID
}

func (h *harness) payment(t *testing.T, currencyID int64, conversionRate string, items ...dto.AllocationItem) dto.PaymentResponse {
	t.Helper()
	resp, err := h.set.CreatePayment.Execute(context.Background(), dto.CreatePaymentRequest{
		CurrencyID:     currencyID,
		ConversionRate: dec(conversionRate),
		Reference:      "TRX-1",
		Allocations:    items,
	})
	require.NoError(t, err)
	return resp
}

func (h *harness) state(t *testing.T, payableID uuid.UUID) dto.PayableResponse {
	t.Helper()
	resp, err := h.set.ListPayableAllocations.Execute(context.Background(), dto.ListPayableAllocationsRequest{PayableID: payableID})
	require.NoError(t, err)
	return resp.Payable
}

func item(payableID uuid.UUID, amount string) dto.AllocationItem {
	return dto.AllocationItem{PayableID: payableID, Amount: dec(amount)}
}

// --- RegisterPayable ---

func TestRegisterPayable(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	ctx := context.Background()
	id := uuid.New()

	resp, err := h.set.RegisterPayable.Execute(ctx, dto.RegisterPayableRequest{ID: id, CurrencyID: tndID, Total: dec("250.5"), TaxWithholding: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, "INVOICE", resp.Kind)
	assert.Equal(t, "TND", resp.Currency)
	assert.Equal(t, "UNPAID", resp.Status)
	testutil.AssertDecimalEqual(t, "250.5", resp.Total)

	again, err := h.set.RegisterPayable.Execute(ctx, dto.RegisterPayableRequest{ID: id, CurrencyID: tndID, Total: dec("999")})
	require.NoError(t, err)
	testutil.AssertDecimalEqual(t, "250.5", again.Total)
}

func TestRegisterPayable_Invalid(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)

	tests := []struct {
		name string
		req  dto.RegisterPayableRequest
		want error
	}{
		{"unknown currency", dto.RegisterPayableRequest{ID: uuid.New(), CurrencyID: 99, Total: dec("10")}, model.ErrCurrencyNotFound},
		{"zero total", dto.RegisterPayableRequest{ID: uuid.New(), CurrencyID: usdID, Total: dec("0")}, model.ErrInvalidAmount},
		{"withholding above total", dto.RegisterPayableRequest{ID: uuid.New(), CurrencyID: usdID, Total: dec("10"), TaxWithholding: dec("11")}, model.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.set.RegisterPayable.Execute(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestKindsAreSeparate(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindExpenseInvoice, nil)
	id := h.payable(t, usdID, "100", "0")

	invoices := usecase.NewSet(usecase.NewCore(usecase.Stores{
		Kind:     valueobject.PayableKindInvoice,
		Payables: h.store.Payables(valueobject.PayableKindInvoice),
		Entries:  h.store.Entries(valueobject.PayableKindInvoice),
		Payments: h.store.Payments(valueobject.PayableKindInvoice),
	}, currency.Default(), h.store, h.store))

	_, err := invoices.ListPayableAllocations.Execute(context.Background(), dto.ListPayableAllocationsRequest{PayableID: id})
	assert.ErrorIs(t, err, model.ErrPayableNotFound)
}

// --- AllocateToPayable ---

func TestAllocateToPayable(t *testing.T) {
	tests := []struct {
		name       string
		payableCur int64
		total      string
		tax        string
		paymentCur int64
		amount     string
		rate       *decimal.Decimal
		wantPaid   string
		wantStatus string
		wantSnap   bool
		wantErr    error
	}{
		{name: "partial", payableCur: usdID, total: "100", tax: "0", paymentCur: usdID, amount: "40", wantPaid: "40", wantStatus: "PARTIALLY_PAID"},
		{name: "full with withholding", payableCur: usdID, total: "100", tax: "10", paymentCur: usdID, amount: "90", wantPaid: "90", wantStatus: "PAID"},
		{name: "cross currency", payableCur: tndID, total: "300", tax: "0", paymentCur: usdID, amount: "100", rate: rate("3"), wantPaid: "300", wantStatus: "PAID"},
		{name: "snaps sub-unit gap", payableCur: usdID, total: "100", tax: "0", paymentCur: usdID, amount: "99.995", wantPaid: "100", wantStatus: "PAID", wantSnap: true},
		{name: "clamps one unit over", payableCur: usdID, total: "100", tax: "0", paymentCur: usdID, amount: "100.01", wantPaid: "100", wantStatus: "PAID", wantSnap: true},
		{name: "exceeds balance", payableCur: usdID, total: "100", tax: "0", paymentCur: usdID, amount: "100.02", wantErr: model.ErrAllocationExceedsBalance},
		{name: "missing rate", payableCur: tndID, total: "300", tax: "0", paymentCur: usdID, amount: "10", wantErr: model.ErrInvalidExchangeRate},
		{name: "negative rate", payableCur: tndID, total: "300", tax: "0", paymentCur: usdID, amount: "10", rate: rate("-1"), wantErr: model.ErrInvalidExchangeRate},
		{name: "rate beyond stored precision", payableCur: tndID, total: "300", tax: "0", paymentCur: usdID, amount: "10", rate: rate("0.1000000000001"), wantErr: model.ErrInvalidExchangeRate},
		{name: "non-positive amount", payableCur: usdID, total: "100", tax: "0", paymentCur: usdID, amount: "0", wantErr: model.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, valueobject.PayableKindInvoice, nil)
			payableID := h.payable(t, tt.payableCur, tt.total, tt.tax)
			payment := h.payment(t, tt.paymentCur, "0")

			resp, err := h.set.AllocateToPayable.Execute(context.Background(), dto.AllocateRequest{
				PaymentID:    payment.ID,
				PayableID:    payableID,
				Amount:       dec(tt.amount),
				ExchangeRate: tt.rate,
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "UNPAID", h.state(t, payableID).Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.PayableStatus)
			assert.Equal(t, tt.wantSnap, resp.Snapped)
			testutil.AssertDecimalEqual(t, tt.wantPaid, resp.PayableAmountPaid)

			state := h.state(t, payableID)
			assert.Equal(t, tt.wantStatus, state.Status)
			testutil.AssertDecimalEqual(t, tt.wantPaid, state.AmountPaid)
		})
	}
}

func TestAllocateToPayable_UpdatesPaymentAmount(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	ctx := context.Background()
	a := h.payable(t, tndID, "300", "0")
	b := h.payable(t, usdID, "50", "0")
	payment := h.payment(t, usdID, "3")

	_, err := h.set.AllocateToPayable.Execute(ctx, dto.AllocateRequest{PaymentID: payment.ID, PayableID: a, Amount: dec("20")})
	require.NoError(t, err, "payment conversion rate is the default rate")
	_, err = h.set.AllocateToPayable.Execute(ctx, dto.AllocateRequest{PaymentID: payment.ID, PayableID: b, Amount: dec("15")})
	require.NoError(t, err)

	got, err := h.set.GetPayment.Execute(ctx, dto.GetPaymentRequest{PaymentID: payment.ID})
	require.NoError(t, err)
	testutil.AssertDecimalEqual(t, "35", got.Amount)
	assert.Len(t, got.Allocations, 2)
	testutil.AssertDecimalEqual(t, "60", h.state(t, a).AmountPaid)
}

func TestAllocateToPayable_Duplicate(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	payableID := h.payable(t, usdID, "100", "0")
	payment := h.payment(t, usdID, "0", item(payableID, "10"))

	_, err := h.set.AllocateToPayable.Execute(context.Background(), dto.AllocateRequest{PaymentID: payment.ID, PayableID: payableID, Amount: dec("5")})
	assert.ErrorIs(t, err, model.ErrDuplicateAllocation)
	assert.Equal(t, 1, h.metrics.rejected["allocate"])
}

// --- EditAllocation ---

func TestEditAllocation(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	ctx := context.Background()
	payableID := h.payable(t, usdID, "100", "0")
	payment := h.payment(t, usdID, "0", item(payableID, "40"))
	entryID := payment.Allocations[0].ID

	resp, err := h.set.EditAllocation.Execute(ctx, dto.EditAllocationRequest{EntryID: entryID, Amount: dec("100")})
	require.NoError(t, err, "the entry's own amount does not count against the balance")
	assert.Equal(t, "PAID", resp.PayableStatus)

	got, err := h.set.GetPayment.Execute(ctx, dto.GetPaymentRequest{PaymentID: payment.ID})
	require.NoError(t, err)
	testutil.AssertDecimalEqual(t, "100", got.Amount)

	_, err = h.set.EditAllocation.Execute(ctx, dto.EditAllocationRequest{EntryID: entryID, Amount: dec("101")})
	assert.ErrorIs(t, err, model.ErrAllocationExceedsBalance)

	_, err = h.set.EditAllocation.Execute(ctx, dto.EditAllocationRequest{EntryID: uuid.New(), Amount: dec("1")})
	assert.ErrorIs(t, err, model.ErrEntryNotFound)
}

func TestEditAllocation_KeepsRate(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	payableID := h.payable(t, tndID, "900", "0")
	payment := h.payment(t, usdID, "0", dto.AllocationItem{PayableID: payableID, Amount: dec("100"), ExchangeRate: rate("3")})

	resp, err := h.set.EditAllocation.Execute(context.Background(), dto.EditAllocationRequest{EntryID: payment.Allocations[0].ID, Amount: dec("200")})
	require.NoError(t, err)
	testutil.AssertDecimalEqual(t, "600", resp.Amount)
	testutil.AssertDecimalEqual(t, "3", resp.ExchangeRate)
}

// --- ReverseAllocation ---

func TestReverseAllocation(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	ctx := context.Background()
	payableID := h.payable(t, usdID, "100", "0")
	payment := h.payment(t, usdID, "0", item(payableID, "100"))
	entryID := payment.Allocations[0].ID

	require.NoError(t, h.set.ReverseAllocation.Execute(ctx, dto.ReverseAllocationRequest{EntryID: entryID}))

	list, err := h.set.ListPayableAllocations.Execute(ctx, dto.ListPayableAllocationsRequest{PayableID: payableID})
	require.NoError(t, err)
	assert.Equal(t, "UNPAID", list.Payable.Status)
	assert.Empty(t, list.Entries)

	list, err = h.set.ListPayableAllocations.Execute(ctx, dto.ListPayableAllocationsRequest{PayableID: payableID, IncludeReversed: true})
	require.NoError(t, err)
	require.Len(t, list.Entries, 1)
	assert.False(t, list.Entries[0].Active)

	got, err := h.set.GetPayment.Execute(ctx, dto.GetPaymentRequest{PaymentID: payment.ID})
	require.NoError(t, err)
	assert.True(t, got.Amount.IsZero())

	err = h.set.ReverseAllocation.Execute(ctx, dto.ReverseAllocationRequest{EntryID: entryID})
	assert.ErrorIs(t, err, model.ErrEntryInactive)
}

// --- ReversePayableAllocations ---

func TestReversePayableAllocations(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	ctx := context.Background()
	a := h.payable(t, usdID, "100", "0")
	b := h.payable(t, usdID, "100", "0")
	first := h.payment(t, usdID, "0", item(a, "30"), item(b, "20"))
	second := h.payment(t, usdID, "0", item(a, "50"))

	resp, err := h.set.ReversePayableAllocations.Execute(ctx, dto.ReversePayablesRequest{PayableIDs: []uuid.UUID{a, a}})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ReversedEntries)
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, resp.AffectedPayments)

	assert.Equal(t, "UNPAID", h.state(t, a).Status)
	assert.Equal(t, "PARTIALLY_PAID", h.state(t, b).Status)

	got, err := h.set.GetPayment.Execute(ctx, dto.GetPaymentRequest{PaymentID: first.ID})
	require.NoError(t, err)
	testutil.AssertDecimalEqual(t, "20", got.Amount)
}

func TestReversePayableAllocations_UnknownPayable(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	a := h.payable(t, usdID, "100", "0")
	h.payment(t, usdID, "0", item(a, "30"))

	_, err := h.set.ReversePayableAllocations.Execute(context.Background(), dto.ReversePayablesRequest{PayableIDs: []uuid.UUID{a, uuid.New()}})
	require.ErrorIs(t, err, model.ErrPayableNotFound)
	assert.Equal(t, "PARTIALLY_PAID", h.state(t, a).Status, "the whole request rolls back")
}

// --- CreatePayment ---

func TestCreatePayment(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindExpenseInvoice, nil)
	a := h.payable(t, usdID, "100", "0")
	b := h.payable(t, tndID, "30", "0")

	resp := h.payment(t, usdID, "0", item(a, "60"), dto.AllocationItem{PayableID: b, Amount: dec("10"), ExchangeRate: rate("3")})
	assert.Equal(t, "EXPENSE_INVOICE", resp.Kind)
	testutil.AssertDecimalEqual(t, "70", resp.Amount)
	require.Len(t, resp.Allocations, 2)
	assert.Equal(t, "PAID", h.state(t, b).Status)
	assert.NotEmpty(t, h.store.Outbox())
}

func TestCreatePayment_AllOrNothing(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	a := h.payable(t, usdID, "100", "0")
	b := h.payable(t, usdID, "10", "0")

	_, err := h.set.CreatePayment.Execute(context.Background(), dto.CreatePaymentRequest{
		CurrencyID:  usdID,
		Allocations: []dto.AllocationItem{item(a, "50"), item(b, "20")},
	})
	require.ErrorIs(t, err, model.ErrAllocationExceedsBalance)

	assert.Equal(t, "UNPAID", h.state(t, a).Status)
	assert.Empty(t, h.store.Outbox())
}

func TestCreatePayment_Rejected(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	a := h.payable(t, usdID, "100", "0")

	tests := []struct {
		name string
		req  dto.CreatePaymentRequest
		want error
	}{
		{"unknown currency", dto.CreatePaymentRequest{CurrencyID: 99}, model.ErrCurrencyNotFound},
		{"unknown payable", dto.CreatePaymentRequest{CurrencyID: usdID, Allocations: []dto.AllocationItem{item(uuid.New(), "1")}}, model.ErrPayableNotFound},
		{"payable listed twice", dto.CreatePaymentRequest{CurrencyID: usdID, Allocations: []dto.AllocationItem{item(a, "1"), item(a, "2")}}, model.ErrDuplicateAllocation},
		{"negative fee", dto.CreatePaymentRequest{CurrencyID: usdID, Fee: dec("-1")}, model.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.set.CreatePayment.Execute(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// --- ImportPayments ---

func TestImportPayments(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	a := h.payable(t, usdID, "100", "0")
	missing := uuid.New()

	resp, err := h.set.ImportPayments.Execute(context.Background(), dto.ImportPaymentsRequest{
		Payments: []dto.CreatePaymentRequest{
			{CurrencyID: usdID, Allocations: []dto.AllocationItem{item(a, "40"), item(missing, "10")}},
			{CurrencyID: usdID, Allocations: []dto.AllocationItem{item(missing, "5")}},
			{CurrencyID: 99, Allocations: []dto.AllocationItem{item(a, "5")}},
			{CurrencyID: usdID, Allocations: []dto.AllocationItem{item(a, "70")}},
		},
	})
	require.NoError(t, err)

	require.Len(t, resp.Imported, 1)
	testutil.AssertDecimalEqual(t, "40", resp.Imported[0].Amount)

	want := []struct {
		index   int
		payable uuid.UUID
	}{
		{0, missing},
		{1, missing},
		{1, uuid.Nil},
		{2, uuid.Nil},
		{3, a},
		{3, uuid.Nil},
	}
	require.Len(t, resp.Skipped, len(want))
	for i, w := range want {
		assert.Equal(t, w.index, resp.Skipped[i].PaymentIndex, "skipped[%d]", i)
		assert.Equal(t, w.payable, resp.Skipped[i].PayableID, "skipped[%d]", i)
	}
	assert.Equal(t, 3, h.metrics.skipped)

	state := h.state(t, a)
	testutil.AssertDecimalEqual(t, "40", state.AmountPaid)
}

func TestImportPayments_ReportsEveryRejectedAllocation(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	small := h.payable(t, usdID, "10", "0")
	missing := uuid.New()

	resp, err := h.set.ImportPayments.Execute(context.Background(), dto.ImportPaymentsRequest{
		Payments: []dto.CreatePaymentRequest{
			{CurrencyID: usdID, Allocations: []dto.AllocationItem{item(small, "50"), item(missing, "1")}},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Imported)

	require.Len(t, resp.Skipped, 3)
	assert.Equal(t, small, resp.Skipped[0].PayableID)
	assert.Contains(t, resp.Skipped[0].Reason, "exceeds balance")
	assert.Equal(t, missing, resp.Skipped[1].PayableID)
	assert.Contains(t, resp.Skipped[1].Reason, "payable not found")
	assert.Equal(t, uuid.Nil, resp.Skipped[2].PayableID)
	assert.Contains(t, resp.Skipped[2].Reason, "none of the allocations could be applied")
	for _, s := range resp.Skipped {
		assert.Zero(t, s.PaymentIndex)
	}
	assert.Equal(t, 1, h.metrics.skipped)
	assert.Equal(t, "UNPAID", h.state(t, small).Status)
}

func TestImportPayments_StopsOnCancel(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.set.ImportPayments.Execute(ctx, dto.ImportPaymentsRequest{
		Payments: []dto.CreatePaymentRequest{{CurrencyID: usdID}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// --- UpdatePayment ---

func TestUpdatePayment_ReconcilesAllocations(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	ctx := context.Background()
	a := h.payable(t, usdID, "100", "0")
	b := h.payable(t, usdID, "100", "0")
	c := h.payable(t, usdID, "100", "0")
	payment := h.payment(t, usdID, "0", item(a, "40"), item(b, "30"))

	resp, err := h.set.UpdatePayment.Execute(ctx, dto.UpdatePaymentRequest{
		PaymentID:   payment.ID,
		Reference:   "TRX-2",
		Fee:         dec("1.5"),
		Allocations: []dto.AllocationItem{item(a, "50"), item(c, "20")},
	})
	require.NoError(t, err)
	assert.Equal(t, "TRX-2", resp.Reference)
	testutil.AssertDecimalEqual(t, "1.5", resp.Fee)
	testutil.AssertDecimalEqual(t, "70", resp.Amount)
	assert.Len(t, resp.Allocations, 2)

	testutil.AssertDecimalEqual(t, "50", h.state(t, a).AmountPaid)
	assert.Equal(t, "UNPAID", h.state(t, b).Status)
	testutil.AssertDecimalEqual(t, "20", h.state(t, c).AmountPaid)
}

func TestUpdatePayment_CarriesChangedRate(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	a := h.payable(t, tndID, "600", "0")
	payment := h.payment(t, usdID, "3", item(a, "100"))
	testutil.AssertDecimalEqual(t, "300", h.state(t, a).AmountPaid)

	_, err := h.set.UpdatePayment.Execute(context.Background(), dto.UpdatePaymentRequest{
		PaymentID:      payment.ID,
		ConversionRate: dec("2"),
		Allocations:    []dto.AllocationItem{item(a, "100")},
	})
	require.NoError(t, err)
	testutil.AssertDecimalEqual(t, "200", h.state(t, a).AmountPaid)
}

func TestUpdatePayment_RollsBack(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	a := h.payable(t, usdID, "100", "0")
	payment := h.payment(t, usdID, "0", item(a, "40"))

	_, err := h.set.UpdatePayment.Execute(context.Background(), dto.UpdatePaymentRequest{
		PaymentID:   payment.ID,
		Reference:   "changed",
		Allocations: []dto.AllocationItem{item(a, "500")},
	})
	require.ErrorIs(t, err, model.ErrAllocationExceedsBalance)

	got, err := h.set.GetPayment.Execute(context.Background(), dto.GetPaymentRequest{PaymentID: payment.ID})
	require.NoError(t, err)
	assert.Equal(t, "TRX-1", got.Reference)
	testutil.AssertDecimalEqual(t, "40", got.Amount)
}

// --- DeletePayment / GetPayment ---

func TestDeletePayment(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	ctx := context.Background()
	a := h.payable(t, usdID, "100", "0")
	payment := h.payment(t, usdID, "0", item(a, "100"))

	require.NoError(t, h.set.DeletePayment.Execute(ctx, dto.DeletePaymentRequest{PaymentID: payment.ID}))
	assert.Equal(t, "UNPAID", h.state(t, a).Status)

	got, err := h.set.GetPayment.Execute(ctx, dto.GetPaymentRequest{PaymentID: payment.ID})
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Empty(t, got.Allocations)

	err = h.set.DeletePayment.Execute(ctx, dto.DeletePaymentRequest{PaymentID: payment.ID})
	assert.ErrorIs(t, err, model.ErrPaymentDeleted)

	_, err = h.set.AllocateToPayable.Execute(ctx, dto.AllocateRequest{PaymentID: payment.ID, PayableID: a, Amount: dec("1")})
	assert.ErrorIs(t, err, model.ErrPaymentDeleted)
}

func TestGetPayment_NotFound(t *testing.T) {
	h := newHarness(t, valueobject.PayableKindInvoice, nil)
	_, err := h.set.GetPayment.Execute(context.Background(), dto.GetPaymentRequest{PaymentID: uuid.New()})
	assert.ErrorIs(t, err, model.ErrPaymentNotFound)
}

// --- Conflict retry ---

func TestConflictIsRetried(t *testing.T) {
	var flaky *flakyPayments
	h := newHarness(t, valueobject.PayableKindInvoice, func(r port.PaymentRepository) port.PaymentRepository {
		flaky = &flakyPayments{PaymentRepository: r}
		return flaky
	})
	a := h.payable(t, usdID, "100", "0")
	payment := h.payment(t, usdID, "0")
	flaky.failures = 1

	_, err := h.set.AllocateToPayable.Execute(context.Background(), dto.AllocateRequest{PaymentID: payment.ID, PayableID: a, Amount: dec("25")})
	require.NoError(t, err)
	assert.Equal(t, 1, h.metrics.conflicts)
	testutil.AssertDecimalEqual(t, "25", h.state(t, a).AmountPaid)
}

func TestConflictRetriesAreBounded(t *testing.T) {
	var flaky *flakyPayments
	h := newHarness(t, valueobject.PayableKindInvoice, func(r port.PaymentRepository) port.PaymentRepository {
		flaky = &flakyPayments{PaymentRepository: r}
		return flaky
	})
	a := h.payable(t, usdID, "100", "0")
	payment := h.payment(t, usdID, "0")
	flaky.failures = 10

	_, err := h.set.AllocateToPayable.Execute(context.Background(), dto.AllocateRequest{PaymentID: payment.ID, PayableID: a, Amount: dec("25")})
	require.ErrorIs(t, err, model.ErrConcurrentModification)
	assert.Equal(t, 2, h.metrics.conflicts)
	assert.Equal(t, "UNPAID", h.state(t, a).Status)
}
