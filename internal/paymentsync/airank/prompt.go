package airank

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
)

const (
	snippetLen = 200
	dateLayout = "2006-01-02"
)

const DefaultBasePrompt = `You reconcile bank file payments against internal payment records.
You receive one composite file payment and a list of candidate DB payments.
Return ONLY a JSON array. Each element must be an object with keys:
db_id (integer, one of the candidate ids), score (number 0-100),
match_type ("exact", "strong" or "weak") and criteria (short reason).
Omit candidates that clearly do not match. Do not add prose or code fences.`

// Completion is one chat-completions call.
type Completion struct {
	Model       string
	System      string
	User        string
	Temperature float64
}

type compositeView struct {
	AmountTotal             string   `json:"amount_total"`
	DateFrom                string   `json:"date_from"`
	DateTo                  string   `json:"date_to"`
	Direction               string   `json:"direction"`
	ApartmentName           string   `json:"apartment_name,omitempty"`
	ApartmentCandidates     []string `json:"apartment_candidates,omitempty"`
	PaymentMethodName       string   `json:"payment_method_name,omitempty"`
	PaymentMethodCandidates []string `json:"payment_method_candidates,omitempty"`
	BankName                string   `json:"bank_name,omitempty"`
	TenantCandidates        []string `json:"tenant_candidates,omitempty"`
	Notes                   string   `json:"notes,omitempty"`
	SelectedCount           int      `json:"selected_count"`
}

type candidateView struct {
	ID          int64  `json:"id"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
	Apartment   string `json:"apartment,omitempty"`
	Tenant      string `json:"tenant,omitempty"`
	Method      string `json:"method,omitempty"`
	Bank        string `json:"bank,omitempty"`
	PaymentType string `json:"payment_type"`
	Direction   string `json:"direction"`
	Status      string `json:"status"`
	Notes       string `json:"notes,omitempty"`
}

type promptBody struct {
	Composite  compositeView   `json:"composite"`
	Candidates []candidateView `json:"candidates"`
}

// BuildPrompt assembles the system and user messages. The user message is
// minified JSON so identical inputs produce identical prompts.
func BuildPrompt(model, basePrompt, customPrompt string, comp domain.Composite, candidates []Scored) (Completion, error) {
	base := strings.TrimSpace(basePrompt)
	if base == "" {
		base = DefaultBasePrompt
	}
	system := base
	if custom := strings.TrimSpace(customPrompt); custom != "" {
		system = base + "\n\n" + custom
	}

	body := promptBody{
		Composite: compositeView{
			AmountTotal:             comp.AmountTotal.StringFixed(2),
			DateFrom:                comp.DateFrom.Format(dateLayout),
			DateTo:                  comp.DateTo.Format(dateLayout),
			Direction:               string(comp.Direction),
			ApartmentName:           comp.ApartmentName,
			ApartmentCandidates:     comp.ApartmentCandidates,
			PaymentMethodName:       comp.PaymentMethodName,
			PaymentMethodCandidates: comp.PaymentMethodCandidates,
			BankName:                comp.BankName,
			TenantCandidates:        comp.TenantCandidates,
			Notes:                   snippet(comp.NotesCombined),
			SelectedCount:           comp.SelectedCount,
		},
		Candidates: make([]candidateView, 0, len(candidates)),
	}
	for _, item := range candidates {
		c := item.Candidate
		body.Candidates = append(body.Candidates, candidateView{
			ID:          c.ID,
			Amount:      c.Amount.StringFixed(2),
			Date:        c.PaymentDate.Format(dateLayout),
			Apartment:   c.ApartmentName,
			Tenant:      c.TenantName,
			Method:      c.PaymentMethodName,
			Bank:        c.BankName,
			PaymentType: c.PaymentTypeName,
			Direction:   string(c.Direction),
			Status:      string(c.PaymentStatus),
			Notes:       snippet(strings.TrimSpace(c.Notes + " " + c.Keywords)),
		})
	}

	user, err := json.Marshal(body)
	if err != nil {
		return Completion{}, err
	}
	return Completion{Model: model, System: system, User: string(user)}, nil
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= snippetLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:snippetLen])
}
