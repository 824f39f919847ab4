package repository

import (
	"context"
	"errors"

	"github.com/andyvauliln/paysync/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const windowQuery = `SELECT p.id, p.amount, p.payment_date, p.payment_type_id, p.payment_status,
	p.payment_method_id, p.bank_id, p.notes, p.tenant_notes, p.keywords, p.merged_payment_key,
	p.booking_id, p.apartment_id, p.created_at, p.updated_at,
	pt.name AS payment_type_name,
	pt.direction AS direction,
	COALESCE(pt.keywords, '') AS payment_type_keywords,
	COALESCE(pm.name, '') AS payment_method_name,
	COALESCE(b.name, '') AS bank_name,
	COALESCE(a.name, '') AS apartment_name,
	COALESCE(a.keywords, '') AS apartment_keywords,
	COALESCE(t.full_name, '') AS tenant_name,
	bk.apartment_id AS booking_apartment_id
 FROM payments p
 JOIN payment_types pt ON pt.id = p.payment_type_id
 LEFT JOIN payment_methods pm ON pm.id = p.payment_method_id
 LEFT JOIN banks b ON b.id = p.bank_id
 LEFT JOIN bookings bk ON bk.id = p.booking_id
 LEFT JOIN apartments a ON a.id = COALESCE(p.apartment_id, bk.apartment_id)
 LEFT JOIN tenants t ON t.id = bk.tenant_id
 WHERE p.payment_date >= ? AND p.payment_date <= ?
   AND p.payment_status IN ?
 ORDER BY p.payment_date ASC, p.id ASC`

func (r *repo) FindWindow(ctx context.Context, db *gorm.DB, filter domain.WindowFilter) ([]domain.Candidate, error) {
	if filter.To.Before(filter.From) || len(filter.Statuses) == 0 {
		return nil, domain.ErrInvalidWindow
	}

	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}

	var items []domain.Candidate
	err := db.WithContext(ctx).Raw(windowQuery,
		filter.From.UTC(),
		filter.To.UTC(),
		statuses,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id int64) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ApplyMerge(ctx context.Context, db *gorm.DB, id int64, fields domain.MergeFields) error {
	updates := map[string]any{
		"amount":             fields.Amount,
		"payment_date":       fields.PaymentDate.UTC(),
		"notes":              fields.Notes,
		"payment_status":     string(domain.StatusMerged),
		"merged_payment_key": fields.MergedPaymentKey,
		"updated_at":         fields.UpdatedAt.UTC(),
	}
	if fields.PaymentMethodID != nil {
		updates["payment_method_id"] = *fields.PaymentMethodID
	}
	if fields.BankID != nil {
		updates["bank_id"] = *fields.BankID
	}
	if fields.ApartmentID != nil {
		updates["apartment_id"] = *fields.ApartmentID
	}

	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repo) BookingApartmentID(ctx context.Context, db *gorm.DB, bookingID int64) (*int64, error) {
	var row struct {
		ApartmentID int64 `gorm:"column:apartment_id"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT apartment_id
		 FROM bookings
		 WHERE id = ?
		 LIMIT 1`,
		bookingID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ApartmentID == 0 {
		return nil, nil
	}
	return &row.ApartmentID, nil
}

func (r *repo) ApartmentExists(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	return exists(ctx, db, "apartments", id)
}

func (r *repo) PaymentMethodExists(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	return exists(ctx, db, "payment_methods", id)
}

func (r *repo) BankExists(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	return exists(ctx, db, "banks", id)
}

func exists(ctx context.Context, db *gorm.DB, table string, id int64) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Table(table).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
