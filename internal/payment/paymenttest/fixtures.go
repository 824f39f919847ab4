// Package paymenttest seeds an in-memory payment store for tests.
package paymenttest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andyvauliln/paysync/internal/payment/domain"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// OpenDB returns an isolated in-memory database with the payment schema.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.PaymentType{},
		&domain.PaymentMethod{},
		&domain.Bank{},
		&domain.Apartment{},
		&domain.Tenant{},
		&domain.Booking{},
		&domain.Payment{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Store seeds reference rows and payments with fixed ids.
type Store struct {
	t  testing.TB
	db *gorm.DB

	TypeIn  int64
	TypeOut int64
}

const (
	TypeInID  int64 = 1
	TypeOutID int64 = 2
)

func NewStore(t testing.TB, db *gorm.DB) *Store {
	t.Helper()
	s := &Store{t: t, db: db, TypeIn: TypeInID, TypeOut: TypeOutID}
	s.mustCreate(&domain.PaymentType{ID: TypeInID, Name: "Rent", Direction: domain.DirectionIn, Keywords: "rent"})
	s.mustCreate(&domain.PaymentType{ID: TypeOutID, Name: "Cleaning", Direction: domain.DirectionOut, Keywords: "cleaning"})
	return s
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Apartment(id int64, name string) int64 {
	s.mustCreate(&domain.Apartment{ID: id, Name: name})
	return id
}

func (s *Store) Method(id int64, name string) int64 {
	s.mustCreate(&domain.PaymentMethod{ID: id, Name: name})
	return id
}

func (s *Store) Bank(id int64, name string) int64 {
	s.mustCreate(&domain.Bank{ID: id, Name: name})
	return id
}

func (s *Store) Booking(id, apartmentID int64, tenantID *int64) int64 {
	s.mustCreate(&domain.Booking{ID: id, ApartmentID: apartmentID, TenantID: tenantID})
	return id
}

func (s *Store) Tenant(id int64, name string) int64 {
	s.mustCreate(&domain.Tenant{ID: id, FullName: name})
	return id
}

// PaymentSpec describes a seeded payment. Zero values fall back to a
// Pending incoming payment.
type PaymentSpec struct {
	ID          int64
	Amount      string
	Date        string
	TypeID      int64
	Status      domain.Status
	MethodID    *int64
	BankID      *int64
	ApartmentID *int64
	BookingID   *int64
	Notes       string
	Keywords    string
	Key         *string
}

func (s *Store) Payment(spec PaymentSpec) domain.Payment {
	s.t.Helper()
	if spec.TypeID == 0 {
		spec.TypeID = s.TypeIn
	}
	if spec.Status == "" {
		spec.Status = domain.StatusPending
	}
	date, err := time.Parse("2006-01-02", spec.Date)
	if err != nil {
		s.t.Fatalf("payment date: %v", err)
	}
	now := time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)
	p := domain.Payment{
		ID:               spec.ID,
		Amount:           decimal.RequireFromString(spec.Amount),
		PaymentDate:      date,
		PaymentTypeID:    spec.TypeID,
		PaymentStatus:    spec.Status,
		PaymentMethodID:  spec.MethodID,
		BankID:           spec.BankID,
		ApartmentID:      spec.ApartmentID,
		BookingID:        spec.BookingID,
		Notes:            spec.Notes,
		Keywords:         spec.Keywords,
		MergedPaymentKey: spec.Key,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.mustCreate(&p)
	return p
}

// Get reloads a payment by id.
func (s *Store) Get(id int64) domain.Payment {
	s.t.Helper()
	var p domain.Payment
	if err := s.db.Where("id = ?", id).Take(&p).Error; err != nil {
		s.t.Fatalf("load payment %d: %v", id, err)
	}
	return p
}

func (s *Store) mustCreate(value any) {
	s.t.Helper()
	if err := s.db.Create(value).Error; err != nil {
		s.t.Fatalf("seed %T: %v", value, err)
	}
}

func Ptr[T any](v T) *T { return &v }
