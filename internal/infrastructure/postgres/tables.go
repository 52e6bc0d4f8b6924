package postgres

import (
	"fmt"

	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/money"
)

// uniqueViolation is the SQLSTATE raised when a unique index rejects a row.
const uniqueViolation = "23505"

// tables names the tables holding one payable kind.
type tables struct {
	payables string
	payments string
	entries  string
}

func tablesFor(kind valueobject.PayableKind) tables {
	if kind == valueobject.PayableKindExpenseInvoice {
		return tables{payables: "expense_invoices", payments: "expense_payments", entries: "expense_invoice_allocations"}
	}
	return tables{payables: "invoices", payments: "payments", entries: "invoice_allocations"}
}

// currencyRow is a currencies row joined into another query.
type currencyRow struct {
	id     int64
	code   string
	digits int16
}

func (c currencyRow) currency() (money.Currency, error) {
	cur, err := money.NewCurrency(money.CurrencyID(c.id), c.code, uint8(c.digits))
	if err != nil {
		return money.Currency{}, fmt.Errorf("currency row %d: %w", c.id, err)
	}
	return cur, nil
}
