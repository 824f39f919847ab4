package scoring

import "errors"

var ErrInvalidWeights = errors.New("invalid_scoring_weights")

// Weights are the per-component contributions of the heuristic scorer.
// Bonuses are positive and penalties are zero or negative.
type Weights struct {
	AmountMax float64 `mapstructure:"amount_max" json:"amount_max"`
	DateMax   float64 `mapstructure:"date_max" json:"date_max"`

	ApartmentExact     float64 `mapstructure:"apartment_exact" json:"apartment_exact"`
	ApartmentCandidate float64 `mapstructure:"apartment_candidate" json:"apartment_candidate"`
	ApartmentMismatch  float64 `mapstructure:"apartment_mismatch" json:"apartment_mismatch"`

	TenantExact float64 `mapstructure:"tenant_exact" json:"tenant_exact"`
	TenantToken float64 `mapstructure:"tenant_token" json:"tenant_token"`
	TenantFuzzy float64 `mapstructure:"tenant_fuzzy" json:"tenant_fuzzy"`

	MethodExact     float64 `mapstructure:"method_exact" json:"method_exact"`
	MethodCandidate float64 `mapstructure:"method_candidate" json:"method_candidate"`

	BankExact     float64 `mapstructure:"bank_exact" json:"bank_exact"`
	BankCandidate float64 `mapstructure:"bank_candidate" json:"bank_candidate"`
	BankMismatch  float64 `mapstructure:"bank_mismatch" json:"bank_mismatch"`

	KeywordPerToken float64 `mapstructure:"keyword_per_token" json:"keyword_per_token"`
	KeywordCap      float64 `mapstructure:"keyword_cap" json:"keyword_cap"`

	MergedPenalty float64 `mapstructure:"merged_penalty" json:"merged_penalty"`

	ExactThreshold  float64 `mapstructure:"exact_threshold" json:"exact_threshold"`
	StrongThreshold float64 `mapstructure:"strong_threshold" json:"strong_threshold"`
}

func DefaultWeights() Weights {
	return Weights{
		AmountMax:          40,
		DateMax:            20,
		ApartmentExact:     30,
		ApartmentCandidate: 15,
		ApartmentMismatch:  -40,
		TenantExact:        25,
		TenantToken:        10,
		TenantFuzzy:        5,
		MethodExact:        10,
		MethodCandidate:    5,
		BankExact:          8,
		BankCandidate:      4,
		BankMismatch:       -5,
		KeywordPerToken:    3,
		KeywordCap:         15,
		MergedPenalty:      -100,
		ExactThreshold:     85,
		StrongThreshold:    55,
	}
}

func (w Weights) Validate() error {
	bonuses := []float64{
		w.AmountMax, w.DateMax,
		w.ApartmentExact, w.ApartmentCandidate,
		w.TenantExact, w.TenantToken, w.TenantFuzzy,
		w.MethodExact, w.MethodCandidate,
		w.BankExact, w.BankCandidate,
		w.KeywordPerToken, w.KeywordCap,
	}
	for _, v := range bonuses {
		if v < 0 {
			return ErrInvalidWeights
		}
	}
	if w.ApartmentMismatch > 0 || w.BankMismatch > 0 || w.MergedPenalty > 0 {
		return ErrInvalidWeights
	}
	if w.StrongThreshold > w.ExactThreshold {
		return ErrInvalidWeights
	}
	return nil
}
