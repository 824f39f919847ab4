package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type WindowFilter struct {
	From     time.Time
	To       time.Time
	Statuses []Status
}

type Repository interface {
	FindWindow(ctx context.Context, db *gorm.DB, filter WindowFilter) ([]Candidate, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id int64) (*Payment, error)
	ApplyMerge(ctx context.Context, db *gorm.DB, id int64, fields MergeFields) error
	BookingApartmentID(ctx context.Context, db *gorm.DB, bookingID int64) (*int64, error)
	ApartmentExists(ctx context.Context, db *gorm.DB, id int64) (bool, error)
	PaymentMethodExists(ctx context.Context, db *gorm.DB, id int64) (bool, error)
	BankExists(ctx context.Context, db *gorm.DB, id int64) (bool, error)
}

var (
	ErrInvalidWindow = errors.New("invalid_window")
)
