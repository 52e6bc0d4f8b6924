package valueobject

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bibbank/reconciliation/pkg/money"
)

// ExchangeRate converts an amount in the payment currency into the payable
// currency: payableAmount = paymentAmount * rate. The rate is always positive.
type ExchangeRate struct {
	rate decimal.Decimal
}

// MaxRateDecimals is the number of decimal places a rate may carry; the
// stored column has the same scale.
const MaxRateDecimals = 12

// IdentityRate is the rate used when payment and payable share a currency.
var IdentityRate = ExchangeRate{rate: decimal.NewFromInt(1)}

// NewExchangeRate creates an ExchangeRate after validating the rate is
// positive and fits MaxRateDecimals.
func NewExchangeRate(rate decimal.Decimal) (ExchangeRate, error) {
	if !rate.IsPositive() {
		return ExchangeRate{}, fmt.Errorf("exchange rate must be positive, got %s", rate.String())
	}
	if !rate.Truncate(MaxRateDecimals).Equal(rate) {
		return ExchangeRate{}, fmt.Errorf("exchange rate %s has more than %d decimal places", rate.String(), MaxRateDecimals)
	}
	return ExchangeRate{rate: rate}, nil
}

// NewExchangeRateFromFloat accepts a rate supplied as a float at the boundary.
func NewExchangeRateFromFloat(f float64) (ExchangeRate, error) {
	return NewExchangeRate(decimal.NewFromFloat(f))
}

// Rate returns the underlying decimal rate value.
func (r ExchangeRate) Rate() decimal.Decimal {
	return r.rate
}

// Convert expresses amount in target, rounding to the target's minor unit.
func (r ExchangeRate) Convert(amount money.Money, target money.Currency) (money.Money, error) {
	return amount.Convert(r.rate, target)
}

// Invert divides a payable-currency amount by the rate, giving the exact
// payment-currency equivalent before any rounding.
func (r ExchangeRate) Invert(amount decimal.Decimal) decimal.Decimal {
	return amount.Div(r.rate)
}

// String returns the rate in its shortest decimal form.
func (r ExchangeRate) String() string {
	return r.rate.String()
}

// Equal returns true if both rates are numerically equal.
func (r ExchangeRate) Equal(other ExchangeRate) bool {
	return r.rate.Equal(other.rate)
}

// IsZero returns true if the rate is the zero value (uninitialised).
func (r ExchangeRate) IsZero() bool {
	return r.rate.IsZero()
}
