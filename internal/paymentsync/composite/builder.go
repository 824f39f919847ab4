package composite

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/andyvauliln/paysync/internal/payment/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/shopspring/decimal"
)

const (
	notesSeparator = " | "

	// DateLayout is the civil date format used on the wire.
	DateLayout = "2006-01-02"
)

// Normalize converts posted rows into typed file payments.
func Normalize(inputs []domain.FilePaymentInput) ([]domain.FilePayment, error) {
	if len(inputs) == 0 {
		return nil, domain.NewSelectionError("empty_selection", "selected_file_payments", "selection is empty")
	}

	out := make([]domain.FilePayment, 0, len(inputs))
	for i, in := range inputs {
		field := fmt.Sprintf("selected_file_payments[%d]", i)

		amount, err := parseAmount(in.Amount)
		if err != nil {
			return nil, domain.NewSelectionError("invalid_amount", field+".amount", "amount must be numeric")
		}

		rawDate := strings.TrimSpace(in.PaymentDate)
		if rawDate == "" {
			rawDate = strings.TrimSpace(in.Date)
		}
		date, err := ParseDate(rawDate)
		if err != nil {
			return nil, domain.NewSelectionError("invalid_date", field+".payment_date", "payment_date must be YYYY-MM-DD")
		}

		direction, ok := paymentdomain.ParseDirection(in.Direction)
		if !ok {
			return nil, domain.NewSelectionError("invalid_direction", field+".direction", "direction must be In or Out")
		}

		out = append(out, domain.FilePayment{
			ID:                      strings.TrimSpace(in.ID),
			Amount:                  amount,
			PaymentDate:             date,
			Notes:                   strings.TrimSpace(in.Notes),
			ApartmentName:           strings.TrimSpace(in.ApartmentName),
			PaymentMethodName:       strings.TrimSpace(in.PaymentMethodName),
			BankName:                strings.TrimSpace(in.BankName),
			Direction:               direction,
			ApartmentCandidates:     in.ApartmentCandidates,
			TenantCandidates:        in.TenantCandidates,
			PaymentMethodCandidates: in.PaymentMethodCandidates,
		})
	}
	return out, nil
}

// Build collapses a selection into one composite. It is deterministic and
// independent of the sign convention used for amounts in the file.
func Build(selection []domain.FilePayment) (domain.Composite, error) {
	if len(selection) == 0 {
		return domain.Composite{}, domain.NewSelectionError("empty_selection", "selected_file_payments", "selection is empty")
	}

	var (
		total      = decimal.Zero
		from, to   time.Time
		direction  paymentdomain.Direction
		apartments = newDistinct()
		aptHints   = newDistinct()
		methods    = newDistinct()
		methodHint = newDistinct()
		banks      = newDistinct()
		tenants    = newDistinct()
		notes      = make([]string, 0, len(selection))
	)

	for i, row := range selection {
		if row.PaymentDate.IsZero() {
			return domain.Composite{}, domain.NewSelectionError("invalid_date", fmt.Sprintf("selected_file_payments[%d].payment_date", i), "payment_date is required")
		}
		if row.Direction == "" {
			return domain.Composite{}, domain.NewSelectionError("invalid_direction", fmt.Sprintf("selected_file_payments[%d].direction", i), "direction is required")
		}
		if direction == "" {
			direction = row.Direction
		} else if row.Direction != direction {
			return domain.Composite{}, domain.NewSelectionError("mixed_direction", "selected_file_payments",
				fmt.Sprintf("selection mixes directions %s and %s", direction, row.Direction))
		}

		total = total.Add(row.Amount.Abs())

		date := truncateDay(row.PaymentDate)
		if from.IsZero() || date.Before(from) {
			from = date
		}
		if to.IsZero() || date.After(to) {
			to = date
		}

		apartments.add(row.ApartmentName)
		aptHints.addAll(row.ApartmentCandidates)
		methods.add(row.PaymentMethodName)
		methodHint.addAll(row.PaymentMethodCandidates)
		banks.add(row.BankName)
		tenants.addAll(row.TenantCandidates)

		if strings.TrimSpace(row.Notes) != "" {
			notes = append(notes, strings.TrimSpace(row.Notes))
		}
	}

	return domain.Composite{
		AmountTotal:             total,
		DateFrom:                from,
		DateTo:                  to,
		Direction:               direction,
		ApartmentName:           apartments.unique(),
		ApartmentCandidates:     apartments.merge(aptHints).values,
		PaymentMethodName:       methods.unique(),
		PaymentMethodCandidates: methods.merge(methodHint).values,
		BankName:                banks.unique(),
		BankCandidates:          banks.values,
		NotesCombined:           strings.Join(notes, notesSeparator),
		TenantCandidates:        tenants.values,
		SelectedCount:           len(selection),
	}, nil
}

// ParseDate accepts a civil date, optionally followed by a time part that
// starts with 'T' or a space. The time part is ignored.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < len(DateLayout) {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	if rest := raw[len(DateLayout):]; rest != "" && !isTimePart(rest) {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	parsed, err := time.Parse(DateLayout, raw[:len(DateLayout)])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return parsed, nil
}

func isTimePart(rest string) bool {
	if len(rest) < 2 || (rest[0] != 'T' && rest[0] != ' ') {
		return false
	}
	return rest[1] >= '0' && rest[1] <= '9'
}

func parseAmount(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case decimal.Decimal:
		return v, nil
	case string:
		cleaned := strings.NewReplacer(",", "", "$", "", " ", "").Replace(strings.TrimSpace(v))
		return decimal.NewFromString(cleaned)
	case interface{ String() string }:
		return decimal.NewFromString(v.String())
	default:
		return decimal.Zero, strconv.ErrSyntax
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// distinct keeps first-seen spellings of case-insensitively unique values.
type distinct struct {
	seen   map[string]struct{}
	values []string
}

func newDistinct() *distinct {
	return &distinct{seen: map[string]struct{}{}, values: []string{}}
}

func (d *distinct) add(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	key := strings.ToLower(value)
	if _, ok := d.seen[key]; ok {
		return
	}
	d.seen[key] = struct{}{}
	d.values = append(d.values, value)
}

func (d *distinct) addAll(values []string) {
	for _, v := range values {
		d.add(v)
	}
}

func (d *distinct) unique() string {
	if len(d.values) == 1 {
		return d.values[0]
	}
	return ""
}

func (d *distinct) merge(other *distinct) *distinct {
	out := newDistinct()
	out.addAll(d.values)
	out.addAll(other.values)
	return out
}
