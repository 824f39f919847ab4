package seed

import (
	"context"
	"errors"

	paymentdomain "github.com/andyvauliln/paysync/internal/payment/domain"
	"gorm.io/gorm"
)

var defaultPaymentMethods = []string{"Wire", "Zelle", "Check", "ACH", "Cash"}

var defaultPaymentTypes = []paymentdomain.PaymentType{
	{Name: "Rent", Direction: paymentdomain.DirectionIn, Keywords: "rent lease monthly"},
	{Name: "Deposit", Direction: paymentdomain.DirectionIn, Keywords: "deposit security"},
	{Name: "Refund", Direction: paymentdomain.DirectionOut, Keywords: "refund return"},
	{Name: "Cleaning", Direction: paymentdomain.DirectionOut, Keywords: "cleaning maid turnover"},
	{Name: "Utilities", Direction: paymentdomain.DirectionOut, Keywords: "electric water gas internet utility"},
}

// EnsureReferenceData inserts the base payment methods and types. Existing
// rows are matched by name and left untouched.
func EnsureReferenceData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, name := range defaultPaymentMethods {
			method := paymentdomain.PaymentMethod{Name: name}
			if err := tx.Where("name = ?", name).FirstOrCreate(&method).Error; err != nil {
				return err
			}
		}
		for _, pt := range defaultPaymentTypes {
			row := pt
			if err := tx.Where("name = ?", pt.Name).FirstOrCreate(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
