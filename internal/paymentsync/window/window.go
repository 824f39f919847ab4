package window

import (
	"context"
	"time"

	paymentdomain "github.com/andyvauliln/paysync/internal/payment/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"gorm.io/gorm"
)

type Options struct {
	WithConfirmed bool
	DaysBefore    int
	DaysAfter     int
	// IncludeMerged is a diagnostics switch. Operator views never set it.
	IncludeMerged bool
}

// Range returns the inclusive date window around the composite.
func Range(c domain.Composite, opts Options) (time.Time, time.Time) {
	from := c.DateFrom.AddDate(0, 0, -opts.DaysBefore)
	to := c.DateTo.AddDate(0, 0, opts.DaysAfter)
	return from, to
}

// Statuses lists the payment statuses admitted into the pool.
func Statuses(opts Options) []paymentdomain.Status {
	statuses := []paymentdomain.Status{paymentdomain.StatusPending}
	if opts.WithConfirmed {
		statuses = append(statuses, paymentdomain.StatusCompleted)
	}
	if opts.IncludeMerged {
		statuses = append(statuses, paymentdomain.StatusMerged)
	}
	return statuses
}

type Selector struct {
	repo paymentdomain.Repository
}

func NewSelector(repo paymentdomain.Repository) *Selector {
	return &Selector{repo: repo}
}

// Select loads the candidate pool for a composite. Ordering is not
// significant to callers.
func (s *Selector) Select(ctx context.Context, db *gorm.DB, c domain.Composite, opts Options) ([]paymentdomain.Candidate, error) {
	if opts.DaysBefore < 0 || opts.DaysAfter < 0 {
		return nil, domain.ErrInvalidDays
	}
	from, to := Range(c, opts)
	return s.repo.FindWindow(ctx, db, paymentdomain.WindowFilter{
		From:     from,
		To:       to,
		Statuses: Statuses(opts),
	})
}
