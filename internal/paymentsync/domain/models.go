package domain

import (
	"strings"
	"time"

	paymentdomain "github.com/andyvauliln/paysync/internal/payment/domain"
	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeManual Mode = "manual"
	ModeAI     Mode = "ai"
	ModeBoth   Mode = "both"
)

func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeManual:
		return ModeManual, true
	case ModeAI:
		return ModeAI, true
	case ModeBoth:
		return ModeBoth, true
	default:
		return "", false
	}
}

func (m Mode) IncludesManual() bool { return m == ModeManual || m == ModeBoth }
func (m Mode) IncludesAI() bool     { return m == ModeAI || m == ModeBoth }

type Source string

const (
	SourceManual Source = "manual"
	SourceAI     Source = "ai"
)

type MatchType string

const (
	MatchTypeExact  MatchType = "exact"
	MatchTypeStrong MatchType = "strong"
	MatchTypeWeak   MatchType = "weak"
)

// FilePaymentInput is a file row as posted by the client. Amount may be a
// JSON number or a string.
type FilePaymentInput struct {
	ID                      string   `json:"id"`
	Amount                  any      `json:"amount"`
	PaymentDate             string   `json:"payment_date"`
	Date                    string   `json:"date"`
	Notes                   string   `json:"notes"`
	ApartmentName           string   `json:"apartment_name"`
	PaymentMethodName       string   `json:"payment_method_name"`
	BankName                string   `json:"bank_name"`
	Direction               string   `json:"direction"`
	ApartmentCandidates     []string `json:"apartment_candidates"`
	TenantCandidates        []string `json:"tenant_candidates"`
	PaymentMethodCandidates []string `json:"payment_method_candidates"`
}

// FilePayment is an externally observed bank row. It is request scoped.
type FilePayment struct {
	ID                      string
	Amount                  decimal.Decimal
	PaymentDate             time.Time
	Notes                   string
	ApartmentName           string
	PaymentMethodName       string
	BankName                string
	Direction               paymentdomain.Direction
	ApartmentCandidates     []string
	TenantCandidates        []string
	PaymentMethodCandidates []string
}

// Composite is a single description synthesized from a selection.
type Composite struct {
	AmountTotal             decimal.Decimal         `json:"amount_total"`
	DateFrom                time.Time               `json:"date_from"`
	DateTo                  time.Time               `json:"date_to"`
	Direction               paymentdomain.Direction `json:"direction"`
	ApartmentName           string                  `json:"apartment_name"`
	ApartmentCandidates     []string                `json:"apartment_candidates"`
	PaymentMethodName       string                  `json:"payment_method_name"`
	PaymentMethodCandidates []string                `json:"payment_method_candidates"`
	BankName                string                  `json:"bank_name"`
	BankCandidates          []string                `json:"bank_candidates"`
	NotesCombined           string                  `json:"notes_combined"`
	TenantCandidates        []string                `json:"tenant_candidates"`
	SelectedCount           int                     `json:"selected_count"`
}

type MatchRequest struct {
	Mode                 string
	SelectedFileIDs      []string
	SelectedFilePayments []FilePaymentInput
	WithConfirmed        bool
	IncludeMerged        bool
	AmountDelta          int
	DateDelta            int
	DBDaysBefore         int
	DBDaysAfter          int
	TopN                 int
	AIModel              string
	AIBasePrompt         string
	AICustomPrompt       string
	Actor                Actor
}

// Breakdown is the per-component contribution of a heuristic score.
type Breakdown struct {
	Amount           float64 `json:"amount"`
	Date             float64 `json:"date"`
	Apartment        float64 `json:"apartment"`
	Tenant           float64 `json:"tenant"`
	Method           float64 `json:"method"`
	Bank             float64 `json:"bank"`
	Keywords         float64 `json:"keywords"`
	Status           float64 `json:"status"`
	AmountDiff       string  `json:"amount_diff"`
	DateDistanceDays int     `json:"date_distance_days"`
}

type MatchedPayment struct {
	Source    Source                  `json:"source"`
	DBPayment paymentdomain.Candidate `json:"db_payment"`
	Score     float64                 `json:"score"`
	MatchType MatchType               `json:"match_type"`
	Criteria  string                  `json:"criteria"`
	Breakdown *Breakdown              `json:"breakdown,omitempty"`
}

type MatchResult struct {
	RID              string            `json:"rid"`
	SelectedKey      string            `json:"selected_key"`
	MergedPaymentKey string            `json:"merged_payment_key"`
	FileKeys         map[string]string `json:"file_keys"`
	Composite        Composite         `json:"composite"`
	MatchedPayments  []MatchedPayment  `json:"matched_payments"`
	AIError          string            `json:"ai_error,omitempty"`
}

// MergeUpdate is one operator-confirmed merge.
type MergeUpdate struct {
	DBPaymentID      int64           `json:"db_payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentDate      string          `json:"payment_date"`
	Notes            string          `json:"notes"`
	PaymentMethodID  *int64          `json:"payment_method_id"`
	BankID           *int64          `json:"bank_id"`
	ApartmentID      *int64          `json:"apartment_id"`
	MergedPaymentKey string          `json:"merged_payment_key"`
}

const (
	ReasonNotFound                 = "not_found"
	ReasonCompleted                = "completed"
	ReasonConflict                 = "conflict"
	ReasonApartmentBookingMismatch = "apartment_booking_mismatch"
	ReasonUnknownPaymentMethod     = "unknown_payment_method"
	ReasonUnknownBank              = "unknown_bank"
	ReasonUnknownApartment         = "unknown_apartment"
)

type CommitFailure struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

type CommitReport struct {
	RID       string          `json:"rid"`
	Committed []int64         `json:"committed"`
	Unchanged []int64         `json:"unchanged"`
	Failed    []CommitFailure `json:"failed"`
}

// CommittedPayment is handed to post-commit hooks.
type CommittedPayment struct {
	ID     int64
	Key    string
	Before paymentdomain.Payment
	After  paymentdomain.Payment
}

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// Actor is who asked for a match or commit. It is passed explicitly.
type Actor struct {
	Type ActorType
	ID   string
	Role string
}

func (a Actor) Subject() string {
	if a.Type == ActorTypeSystem {
		return string(ActorTypeSystem)
	}
	return string(a.Type) + ":" + a.ID
}

func (a Actor) Valid() bool {
	switch a.Type {
	case ActorTypeSystem:
		return true
	case ActorTypeUser:
		return strings.TrimSpace(a.ID) != ""
	default:
		return false
	}
}

func SystemActor() Actor {
	return Actor{Type: ActorTypeSystem, Role: "system"}
}
