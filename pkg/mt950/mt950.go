// Package mt950 parses SWIFT MT950 account statements, the format banks use
// to report the movements booked on an account.
package mt950

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformed is returned when the message does not follow the MT950 layout.
	ErrMalformed = errors.New("malformed MT950 statement")
	// ErrUnbalanced is returned by Verify when the lines do not account for the
	// move from the opening to the closing balance.
	ErrUnbalanced = errors.New("statement does not balance")
)

// Mark is the debit/credit mark of a balance or statement line.
type Mark string

const (
	Credit         Mark = "C"
	Debit          Mark = "D"
	ReversalCredit Mark = "RC"
	ReversalDebit  Mark = "RD"
)

// Statement is a parsed MT950 message.
type Statement struct {
	Reference string // :20:
	Account   string // :25:
	Number    string // :28C:
	Opening   Balance
	Closing   Balance
	Lines     []Line
}

// Balance is an opening (:60F:) or closing (:62F:) balance.
type Balance struct {
	Date     time.Time
	Mark     Mark
	Currency string
	Amount   decimal.Decimal
}

// Signed returns the balance with debits negative.
func (b Balance) Signed() decimal.Decimal {
	if b.Mark == Debit {
		return b.Amount.Neg()
	}
	return b.Amount
}

// Line is one booked movement (:61:) with its free-text details (:86:).
type Line struct {
	ValueDate   time.Time
	BookingDate time.Time
	Mark        Mark
	Amount      decimal.Decimal
	TypeCode    string
	Reference   string
	Details     string
}

// IsCredit reports whether the line brings money into the account.
func (l Line) IsCredit() bool {
	return l.Mark == Credit
}

// Signed returns the movement with outgoing amounts negative. A reversal of a
// credit takes money out; a reversal of a debit brings it back.
func (l Line) Signed() decimal.Decimal {
	switch l.Mark {
	case Debit, ReversalCredit:
		return l.Amount.Neg()
	default:
		return l.Amount
	}
}

// Parse reads a statement. Fields before :20: (basic and application headers)
// and unknown tags are ignored; continuation lines extend the :86: details of
// the preceding statement line.
func Parse(raw string) (Statement, error) {
	var (
		st      Statement
		current *Line
		tag     string
		seen    = map[string]bool{}
	)
	flush := func() {
		if current != nil {
			st.Lines = append(st.Lines, *current)
			current = nil
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\r ")
		if text == "" || text == "-}" || text == "-" {
			continue
		}

		t, value, ok := splitTag(text)
		if !ok {
			if tag == "86" && current != nil {
				current.Details += " " + strings.TrimSpace(text)
			}
			continue
		}
		tag = t
		seen[tag] = true

		var err error
		switch tag {
		case "20":
			st.Reference = value
		case "25":
			st.Account = value
		case "28C":
			st.Number = value
		case "60F", "60M":
			st.Opening, err = parseBalance(value)
		case "61":
			flush()
			var line Line
			if line, err = parseLine(value); err == nil {
				current = &line
			}
		case "86":
			if current != nil {
				current.Details = strings.TrimSpace(value)
			}
		case "62F", "62M":
			flush()
			st.Closing, err = parseBalance(value)
		}
		if err != nil {
			return Statement{}, fmt.Errorf("field :%s:: %w", tag, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Statement{}, fmt.Errorf("read statement: %w", err)
	}
	flush()

	for _, required := range []string{"20", "25"} {
		if !seen[required] {
			return Statement{}, fmt.Errorf("%w: missing field :%s:", ErrMalformed, required)
		}
	}
	if st.Opening.Currency == "" || st.Closing.Currency == "" {
		return Statement{}, fmt.Errorf("%w: missing opening or closing balance", ErrMalformed)
	}
	if st.Opening.Currency != st.Closing.Currency {
		return Statement{}, fmt.Errorf("%w: opening balance in %s, closing in %s", ErrMalformed, st.Opening.Currency, st.Closing.Currency)
	}
	return st, nil
}

// Currency returns the account currency.
func (s Statement) Currency() string {
	return s.Opening.Currency
}

// Verify checks that the opening balance plus the lines equals the closing balance.
func (s Statement) Verify() error {
	total := s.Opening.Signed()
	for _, l := range s.Lines {
		total = total.Add(l.Signed())
	}
	if !total.Equal(s.Closing.Signed()) {
		return fmt.Errorf("%w: lines lead to %s, closing balance is %s", ErrUnbalanced, total, s.Closing.Signed())
	}
	return nil
}

func splitTag(text string) (tag, value string, ok bool) {
	if !strings.HasPrefix(text, ":") {
		return "", "", false
	}
	end := strings.Index(text[1:], ":")
	if end <= 0 {
		return "", "", false
	}
	return text[1 : end+1], text[end+2:], true
}

// parseBalance reads Mark(1) Date(6) Currency(3) Amount, e.g. "C230115USD1234,56".
func parseBalance(s string) (Balance, error) {
	if len(s) < 11 {
		return Balance{}, fmt.Errorf("%w: balance %q too short", ErrMalformed, s)
	}
	mark := Mark(s[:1])
	if mark != Credit && mark != Debit {
		return Balance{}, fmt.Errorf("%w: balance mark %q", ErrMalformed, mark)
	}
	date, err := parseDate(s[1:7])
	if err != nil {
		return Balance{}, err
	}
	amount, err := parseAmount(s[10:])
	if err != nil {
		return Balance{}, err
	}
	return Balance{Date: date, Mark: mark, Currency: s[7:10], Amount: amount}, nil
}

// parseLine reads ValueDate(6) [BookingDate(4)] Mark(1-2) [FundsCode(1)]
// Amount TypeCode(4) Reference, e.g. "2301150116C500,00NTRFINV-42".
func parseLine(s string) (Line, error) {
	if len(s) < 12 {
		return Line{}, fmt.Errorf("%w: statement line %q too short", ErrMalformed, s)
	}
	valueDate, err := parseDate(s[:6])
	if err != nil {
		return Line{}, err
	}
	line := Line{ValueDate: valueDate, BookingDate: valueDate}
	rest := s[6:]

	if len(rest) >= 4 && isDigits(rest[:4]) {
		booking, err := time.Parse("060102", s[:2]+rest[:4])
		if err != nil {
			return Line{}, fmt.Errorf("%w: booking date %q", ErrMalformed, rest[:4])
		}
		// A booking in January for a December value date belongs to the next year.
		if booking.Before(valueDate.AddDate(0, -6, 0)) {
			booking = booking.AddDate(1, 0, 0)
		}
		line.BookingDate = booking
		rest = rest[4:]
	}

	switch {
	case strings.HasPrefix(rest, "RC"), strings.HasPrefix(rest, "RD"):
		line.Mark, rest = Mark(rest[:2]), rest[2:]
	case strings.HasPrefix(rest, "C"), strings.HasPrefix(rest, "D"):
		line.Mark, rest = Mark(rest[:1]), rest[1:]
	default:
		return Line{}, fmt.Errorf("%w: statement line mark in %q", ErrMalformed, s)
	}
	// Optional funds code: the third character of the currency code.
	if rest != "" && rest[0] >= 'A' && rest[0] <= 'Z' {
		rest = rest[1:]
	}

	end := strings.IndexFunc(rest, func(r rune) bool { return (r < '0' || r > '9') && r != ',' })
	if end < 0 {
		end = len(rest)
	}
	if line.Amount, err = parseAmount(rest[:end]); err != nil {
		return Line{}, err
	}
	rest = rest[end:]

	if len(rest) >= 4 {
		line.TypeCode, rest = rest[:4], rest[4:]
	}
	// Reference for the account owner, then "//" and the servicing bank's reference.
	if i := strings.Index(rest, "//"); i >= 0 {
		rest = rest[:i]
	}
	line.Reference = strings.TrimSpace(rest)
	return line, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" || strings.Count(s, ",") > 1 {
		return decimal.Zero, fmt.Errorf("%w: amount %q", ErrMalformed, s)
	}
	s = strings.TrimSuffix(s, ",")
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q", ErrMalformed, s)
	}
	return d, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("060102", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformed, s)
	}
	return t, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
