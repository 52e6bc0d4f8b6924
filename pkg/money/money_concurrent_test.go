package money

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

// TestMoney_ConcurrentArithmetic runs arithmetic on shared Money values across
// goroutines. Money is an immutable value type, so the shared operands must be
// unchanged afterwards and every goroutine must observe the same results.
func TestMoney_ConcurrentArithmetic(t *testing.T) {
	base := FromMinor(100000, USD)
	addend := FromMinor(5000, USD)
	subtrahend := FromMinor(2500, USD)
	rate := decimal.RequireFromString("0.1")

	const goroutines = 100

	type result struct {
		sum       Money
		sumErr    error
		diff      Money
		diffErr   error
		converted Money
		convErr   error
	}

	results := make([]result, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(idx int) {
			defer wg.Done()
			r := &results[idx]
			r.sum, r.sumErr = base.Add(addend)
			r.diff, r.diffErr = base.Subtract(subtrahend)
			r.converted, r.convErr = base.Convert(rate, TND)
		}(i)
	}

	wg.Wait()

	if base.Minor() != 100000 || base.Currency() != USD {
		t.Errorf("original base mutated: got %s", base)
	}

	for i, r := range results {
		if r.sumErr != nil || r.diffErr != nil || r.convErr != nil {
			t.Fatalf("goroutine %d: unexpected errors %v %v %v", i, r.sumErr, r.diffErr, r.convErr)
		}
		if r.sum.Minor() != 105000 {
			t.Errorf("goroutine %d: sum = %s, want 1050.00 USD", i, r.sum)
		}
		if r.diff.Minor() != 97500 {
			t.Errorf("goroutine %d: diff = %s, want 975.00 USD", i, r.diff)
		}
		if r.converted.Minor() != 100000 || r.converted.Currency() != TND {
			t.Errorf("goroutine %d: converted = %s, want 100.000 TND", i, r.converted)
		}
	}
}
