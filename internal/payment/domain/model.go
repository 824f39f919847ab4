package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionIn  Direction = "In"
	DirectionOut Direction = "Out"
)

// ParseDirection accepts any casing of In/Out and returns the canonical value.
func ParseDirection(raw string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "in":
		return DirectionIn, true
	case "out":
		return DirectionOut, true
	default:
		return "", false
	}
}

type Status string

const (
	StatusPending   Status = "Pending"
	StatusCompleted Status = "Completed"
	StatusMerged    Status = "Merged"
)

type PaymentType struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"type:text;not null"`
	Direction Direction `json:"direction" gorm:"type:text;not null"`
	Keywords  string    `json:"keywords" gorm:"type:text;not null;default:''"`
}

func (PaymentType) TableName() string { return "payment_types" }

type PaymentMethod struct {
	ID   int64  `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"type:text;not null;uniqueIndex"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

type Bank struct {
	ID   int64  `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"type:text;not null"`
}

func (Bank) TableName() string { return "banks" }

type Apartment struct {
	ID       int64  `json:"id" gorm:"primaryKey"`
	Name     string `json:"name" gorm:"type:text;not null"`
	Keywords string `json:"keywords" gorm:"type:text;not null;default:''"`
}

func (Apartment) TableName() string { return "apartments" }

type Tenant struct {
	ID       int64  `json:"id" gorm:"primaryKey"`
	FullName string `json:"full_name" gorm:"type:text;not null"`
}

func (Tenant) TableName() string { return "tenants" }

type Booking struct {
	ID          int64  `json:"id" gorm:"primaryKey"`
	ApartmentID int64  `json:"apartment_id" gorm:"not null;index"`
	TenantID    *int64 `json:"tenant_id"`
}

func (Booking) TableName() string { return "bookings" }

// Payment is the canonical internal payment record.
type Payment struct {
	ID               int64           `json:"id" gorm:"primaryKey"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	PaymentDate      time.Time       `json:"payment_date" gorm:"type:date;not null;index"`
	PaymentTypeID    int64           `json:"payment_type_id" gorm:"not null"`
	PaymentStatus    Status          `json:"payment_status" gorm:"type:text;not null;index"`
	PaymentMethodID  *int64          `json:"payment_method_id"`
	BankID           *int64          `json:"bank_id"`
	Notes            string          `json:"notes" gorm:"type:text;not null;default:''"`
	TenantNotes      string          `json:"tenant_notes" gorm:"type:text;not null;default:''"`
	Keywords         string          `json:"keywords" gorm:"type:text;not null;default:''"`
	MergedPaymentKey *string         `json:"merged_payment_key" gorm:"type:text"`
	BookingID        *int64          `json:"booking_id"`
	ApartmentID      *int64          `json:"apartment_id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// Candidate is a payment joined with the reference names the matcher needs.
type Candidate struct {
	Payment
	PaymentTypeName     string    `json:"payment_type_name"`
	Direction           Direction `json:"direction"`
	PaymentTypeKeywords string    `json:"-"`
	PaymentMethodName   string    `json:"payment_method_name"`
	BankName            string    `json:"bank_name"`
	ApartmentName       string    `json:"apartment_name"`
	ApartmentKeywords   string    `json:"-"`
	TenantName          string    `json:"tenant_name"`
	BookingApartmentID  *int64    `json:"booking_apartment_id,omitempty"`
}

// MergeFields are the values the committer writes onto a merged payment.
type MergeFields struct {
	Amount           decimal.Decimal
	PaymentDate      time.Time
	Notes            string
	PaymentMethodID  *int64
	BankID           *int64
	ApartmentID      *int64
	MergedPaymentKey string
	UpdatedAt        time.Time
}
