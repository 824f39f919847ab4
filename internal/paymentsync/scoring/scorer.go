// Package scoring ranks DB payment candidates against a composite with
// tunable heuristic weights. Scoring is a pure function of its inputs.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	paymentdomain "github.com/andyvauliln/paysync/internal/payment/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/shopspring/decimal"
)

const (
	fuzzyMinLen      = 5
	fuzzyMaxDistance = 1
	criteriaSep      = ", "
)

// Params carry the request knobs that shape one scoring pass.
type Params struct {
	AmountDelta    decimal.Decimal
	SelectionCount int
	DaysBefore     int
	DaysAfter      int
	// ToleranceFloor is the minimum multiplier applied to AmountDelta.
	// Operator scoring uses 1. The AI prefilter relaxes it to 3.
	ToleranceFloor int
}

// Tolerance is amount_delta * max(floor, selection_count).
func (p Params) Tolerance() decimal.Decimal {
	floor := p.ToleranceFloor
	if floor < 1 {
		floor = 1
	}
	n := p.SelectionCount
	if n < floor {
		n = floor
	}
	return p.AmountDelta.Mul(decimal.NewFromInt(int64(n)))
}

type Result struct {
	Total     float64
	MatchType domain.MatchType
	Criteria  string
	Breakdown domain.Breakdown
}

type Scorer struct {
	w Weights
}

func New(w Weights) Scorer {
	return Scorer{w: w}
}

func (s Scorer) Weights() Weights { return s.w }

// Score returns nil when a hard filter rejects the candidate: a direction
// mismatch or an amount difference beyond tolerance. Any other candidate is
// scored, even when the total is not positive.
func (s Scorer) Score(c paymentdomain.Candidate, comp domain.Composite, p Params) *Result {
	if c.Direction != comp.Direction {
		return nil
	}

	diff := c.Amount.Abs().Sub(comp.AmountTotal.Abs()).Abs()
	tolerance := p.Tolerance()
	if diff.GreaterThan(tolerance) {
		return nil
	}

	var (
		b       domain.Breakdown
		reasons []string
	)

	b.AmountDiff = diff.StringFixed(2)
	b.Amount = s.amountScore(diff, tolerance)
	if diff.IsZero() {
		reasons = append(reasons, "amount exact")
	} else {
		reasons = append(reasons, "amount off by "+b.AmountDiff)
	}

	dist, horizon := dayDistance(c.PaymentDate, comp.DateFrom, comp.DateTo, p)
	b.DateDistanceDays = dist
	b.Date = s.dateScore(dist, horizon)
	if dist == 0 {
		reasons = append(reasons, "date in range")
	} else {
		reasons = append(reasons, fmt.Sprintf("date %dd away", dist))
	}

	if score, reason := s.apartmentScore(c, comp); reason != "" {
		b.Apartment = score
		reasons = append(reasons, reason)
	}
	if score, reason := s.tenantScore(c, comp); reason != "" {
		b.Tenant = score
		reasons = append(reasons, reason)
	}
	if score, reason := s.methodScore(c, comp); reason != "" {
		b.Method = score
		reasons = append(reasons, reason)
	}
	if score, reason := s.bankScore(c, comp); reason != "" {
		b.Bank = score
		reasons = append(reasons, reason)
	}
	if score, n := s.keywordScore(c, comp); n > 0 {
		b.Keywords = score
		reasons = append(reasons, fmt.Sprintf("%d keywords", n))
	}
	if c.PaymentStatus == paymentdomain.StatusMerged {
		b.Status = s.w.MergedPenalty
		reasons = append(reasons, "already merged")
	}

	total := round2(b.Amount + b.Date + b.Apartment + b.Tenant + b.Method + b.Bank + b.Keywords + b.Status)
	return &Result{
		Total:     total,
		MatchType: s.classify(total),
		Criteria:  strings.Join(reasons, criteriaSep),
		Breakdown: b,
	}
}

func (s Scorer) classify(total float64) domain.MatchType {
	switch {
	case total >= s.w.ExactThreshold:
		return domain.MatchTypeExact
	case total >= s.w.StrongThreshold:
		return domain.MatchTypeStrong
	default:
		return domain.MatchTypeWeak
	}
}

func (s Scorer) amountScore(diff, tolerance decimal.Decimal) float64 {
	if diff.IsZero() {
		return s.w.AmountMax
	}
	if !tolerance.IsPositive() {
		return 0
	}
	ratio, _ := diff.Div(tolerance).Float64()
	return round2(s.w.AmountMax * math.Max(0, 1-ratio))
}

func (s Scorer) dateScore(dist, horizon int) float64 {
	if dist == 0 {
		return s.w.DateMax
	}
	if horizon <= 0 || dist >= horizon {
		return 0
	}
	return round2(s.w.DateMax * (1 - float64(dist)/float64(horizon)))
}

// dayDistance measures how far date sits outside [from, to] and returns the
// window side that applies to it.
func dayDistance(date, from, to time.Time, p Params) (int, int) {
	d := civil(date)
	switch {
	case d.Before(civil(from)):
		return int(civil(from).Sub(d).Hours() / 24), p.DaysBefore
	case d.After(civil(to)):
		return int(d.Sub(civil(to)).Hours() / 24), p.DaysAfter
	default:
		return 0, 0
	}
}

func (s Scorer) apartmentScore(c paymentdomain.Candidate, comp domain.Composite) (float64, string) {
	name := strings.TrimSpace(c.ApartmentName)
	if name == "" {
		return 0, ""
	}
	switch {
	case sameName(name, comp.ApartmentName):
		return s.w.ApartmentExact, "apartment match"
	case containsName(comp.ApartmentCandidates, name):
		return s.w.ApartmentCandidate, "apartment candidate"
	case strings.TrimSpace(comp.ApartmentName) != "" || len(comp.ApartmentCandidates) > 0:
		return s.w.ApartmentMismatch, "apartment mismatch"
	}
	return 0, ""
}

func (s Scorer) tenantScore(c paymentdomain.Candidate, comp domain.Composite) (float64, string) {
	name := strings.TrimSpace(c.TenantName)
	if name == "" {
		return 0, ""
	}
	if containsName(comp.TenantCandidates, name) {
		return s.w.TenantExact, "tenant listed"
	}

	notes := wordSet(comp.NotesCombined)
	if len(notes) == 0 {
		return 0, ""
	}
	tenant := words(name)
	for _, tok := range tenant {
		if notes.has(tok) {
			return s.w.TenantToken, "tenant in notes"
		}
	}
	for _, tok := range tenant {
		if utf8.RuneCountInString(tok) < fuzzyMinLen {
			continue
		}
		for word := range notes {
			if utf8.RuneCountInString(word) < fuzzyMinLen {
				continue
			}
			if levenshtein.ComputeDistance(tok, word) <= fuzzyMaxDistance {
				return s.w.TenantFuzzy, "tenant near notes"
			}
		}
	}
	return 0, ""
}

func (s Scorer) methodScore(c paymentdomain.Candidate, comp domain.Composite) (float64, string) {
	name := strings.TrimSpace(c.PaymentMethodName)
	if name == "" {
		return 0, ""
	}
	switch {
	case sameName(name, comp.PaymentMethodName):
		return s.w.MethodExact, "method match"
	case containsName(comp.PaymentMethodCandidates, name):
		return s.w.MethodCandidate, "method candidate"
	}
	return 0, ""
}

func (s Scorer) bankScore(c paymentdomain.Candidate, comp domain.Composite) (float64, string) {
	name := strings.TrimSpace(c.BankName)
	if name == "" {
		return 0, ""
	}
	switch {
	case sameName(name, comp.BankName):
		return s.w.BankExact, "bank match"
	case containsName(comp.BankCandidates, name):
		return s.w.BankCandidate, "bank candidate"
	case strings.TrimSpace(comp.BankName) != "":
		return s.w.BankMismatch, "bank mismatch"
	}
	return 0, ""
}

func (s Scorer) keywordScore(c paymentdomain.Candidate, comp domain.Composite) (float64, int) {
	notes := keywordSet(comp.NotesCombined)
	if len(notes) == 0 {
		return 0, 0
	}
	db := keywordSet(c.Keywords, c.Notes, c.PaymentTypeKeywords, c.ApartmentKeywords)
	n := notes.overlap(db)
	if n == 0 {
		return 0, 0
	}
	return math.Min(float64(n)*s.w.KeywordPerToken, s.w.KeywordCap), n
}

func civil(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
