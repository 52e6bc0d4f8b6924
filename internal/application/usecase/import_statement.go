package usecase

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/bibbank/reconciliation/internal/application/dto"
	"github.com/bibbank/reconciliation/pkg/money"
	"github.com/bibbank/reconciliation/pkg/mt950"
)

var payableRefRe = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// ImportStatement turns the credit lines of an MT950 statement into payments.
// A line is matched to a payable by the first payable ID found in its
// reference or details; the whole line amount is allocated to it.
type ImportStatement struct {
	core    *Core
	imports *ImportPayments
}

func NewImportStatement(core *Core, imports *ImportPayments) *ImportStatement {
	return &ImportStatement{core: core, imports: imports}
}

func (uc *ImportStatement) Execute(ctx context.Context, req dto.ImportStatementRequest) (dto.ImportStatementResponse, error) {
	st, err := mt950.Parse(req.Statement)
	if err != nil {
		return dto.ImportStatementResponse{}, fmt.Errorf("import statement: %w", err)
	}
	if err := st.Verify(); err != nil {
		return dto.ImportStatementResponse{}, fmt.Errorf("import statement %s: %w", st.Reference, err)
	}
	currency, err := uc.core.currencies.Lookup(ctx, money.CurrencyID(req.CurrencyID))
	if err != nil {
		return dto.ImportStatementResponse{}, fmt.Errorf("import statement %s: %w", st.Reference, err)
	}
	if currency.Code() != st.Currency() {
		return dto.ImportStatementResponse{}, fmt.Errorf("import statement %s: %w: statement in %s, currency %d is %s",
			st.Reference, money.ErrCurrencyMismatch, st.Currency(), req.CurrencyID, currency.Code())
	}

	resp := dto.ImportStatementResponse{StatementReference: st.Reference, Account: st.Account}

	var (
		payments []dto.CreatePaymentRequest
		lineOf   []int
	)
	for i, line := range st.Lines {
		if !line.IsCredit() {
			resp.IgnoredLines++
			continue
		}
		payableID, ok := payableReference(line)
		if !ok {
			resp.Skipped = append(resp.Skipped, dto.SkippedItem{PaymentIndex: i, Reason: "no payable reference"})
			continue
		}
		reference := line.Reference
		if reference == "" {
			reference = fmt.Sprintf("%s/%d", st.Reference, i+1)
		}
		payments = append(payments, dto.CreatePaymentRequest{
			CurrencyID: req.CurrencyID,
			Reference:  reference,
			PaidAt:     line.ValueDate,
			Allocations: []dto.AllocationItem{
				{PayableID: payableID, Amount: line.Amount},
			},
		})
		lineOf = append(lineOf, i)
	}

	result, err := uc.imports.Execute(ctx, dto.ImportPaymentsRequest{Payments: payments})
	resp.Imported = result.Imported
	for _, s := range result.Skipped {
		s.PaymentIndex = lineOf[s.PaymentIndex]
		resp.Skipped = append(resp.Skipped, s)
	}
	if err != nil {
		return resp, fmt.Errorf("import statement %s: %w", st.Reference, err)
	}

	uc.core.logger.Info("statement imported",
		"statement", st.Reference,
		"account", st.Account,
		"lines", len(st.Lines),
		"imported", len(resp.Imported),
		"skipped", len(resp.Skipped),
	)
	return resp, nil
}

func payableReference(line mt950.Line) (uuid.UUID, bool) {
	for _, text := range []string{line.Reference, line.Details} {
		if m := payableRefRe.FindString(text); m != "" {
			if id, err := uuid.Parse(m); err == nil {
				return id, true
			}
		}
	}
	return uuid.Nil, false
}
