package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	obscontext "github.com/andyvauliln/paysync/internal/observability/context"
	"github.com/andyvauliln/paysync/internal/observability/metrics"
	paymentdomain "github.com/andyvauliln/paysync/internal/payment/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/composite"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/mergekey"
	"github.com/andyvauliln/paysync/internal/tracelog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type itemOutcome struct {
	id        int64
	reason    string
	unchanged bool
	committed *domain.CommittedPayment
}

// CommitMerges applies operator-confirmed merges in one transaction.
// Per-item conflicts are reported in the result and do not roll back the
// batch. Invariant violations reject the whole batch before any write, and
// storage errors roll it back.
func (s *Service) CommitMerges(ctx context.Context, actor domain.Actor, updates []domain.MergeUpdate) (*domain.CommitReport, error) {
	if !actor.Valid() {
		return nil, domain.ErrInvalidActor
	}
	if len(updates) == 0 {
		return nil, domain.ErrEmptyUpdates
	}

	rid := s.newRID()
	ctx = obscontext.WithRID(ctx, rid)
	ctx, span := s.tracer.Start(ctx, "paymentsync.CommitMerges")
	defer span.End()
	span.SetAttributes(attribute.String("paysync.rid", rid), attribute.Int("paysync.commit.items", len(updates)))

	ids := make([]int64, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.DBPaymentID)
	}
	s.step(ctx, rid, tracelog.StepCommitRequest, actor, map[string]any{
		"count": len(updates),
		"ids":   ids,
	}, nil)

	dates, err := prevalidate(updates)
	if err != nil {
		s.metrics.AddCommitItems(metrics.OutcomeRejected, len(updates))
		span.SetStatus(codes.Error, "invariant violation")
		s.step(ctx, rid, tracelog.StepCommitDone, actor, nil, err)
		return nil, err
	}

	now := s.clock.Now().UTC()
	outcomes := make([]itemOutcome, 0, len(updates))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, u := range updates {
			outcome, err := s.commitOne(ctx, tx, u, dates[i], now)
			if err != nil {
				return err
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		s.metrics.IncDBError("commit_merges", err)
		s.metrics.AddCommitItems(metrics.OutcomeRejected, len(updates))
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		s.step(ctx, rid, tracelog.StepCommitDone, actor, nil, err)
		s.log.Error("commit merges rolled back", zap.String("rid", rid), zap.Error(err))
		return nil, &domain.InfrastructureError{Op: "commit_merges", Retryable: metrics.IsRetryableDB(err), Err: err}
	}

	report := &domain.CommitReport{
		RID:       rid,
		Committed: []int64{},
		Unchanged: []int64{},
		Failed:    []domain.CommitFailure{},
	}
	committed := make([]domain.CommittedPayment, 0, len(outcomes))
	for _, o := range outcomes {
		payload := map[string]any{"id": o.id}
		switch {
		case o.reason != "":
			report.Failed = append(report.Failed, domain.CommitFailure{ID: o.id, Reason: o.reason})
			payload["reason"] = o.reason
		case o.unchanged:
			report.Unchanged = append(report.Unchanged, o.id)
			payload["unchanged"] = true
		default:
			report.Committed = append(report.Committed, o.id)
			committed = append(committed, *o.committed)
			payload["merged_payment_key"] = o.committed.Key
		}
		s.step(ctx, rid, tracelog.StepCommitItem, actor, payload, nil)
	}

	s.metrics.AddCommitItems(metrics.OutcomeCommitted, len(report.Committed))
	s.metrics.AddCommitItems(metrics.OutcomeUnchanged, len(report.Unchanged))
	s.metrics.AddCommitItems(metrics.OutcomeFailed, len(report.Failed))

	if len(committed) > 0 {
		s.runHooks(ctx, actor, rid, committed)
	}

	s.step(ctx, rid, tracelog.StepCommitDone, actor, map[string]any{
		"committed": report.Committed,
		"unchanged": report.Unchanged,
		"failed":    report.Failed,
	}, nil)
	return report, nil
}

func prevalidate(updates []domain.MergeUpdate) ([]time.Time, error) {
	dates := make([]time.Time, len(updates))
	for i, u := range updates {
		if u.DBPaymentID <= 0 {
			return nil, &domain.InvariantError{Code: "missing_db_payment_id", DBPaymentID: u.DBPaymentID, Message: fmt.Sprintf("updates[%d] has no db_payment_id", i)}
		}
		if u.Amount.IsZero() {
			return nil, &domain.InvariantError{Code: "zero_amount", DBPaymentID: u.DBPaymentID, Message: "amount must be non-zero"}
		}
		if err := mergekey.Validate(u.MergedPaymentKey); err != nil {
			return nil, &domain.InvariantError{Code: "invalid_merged_payment_key", DBPaymentID: u.DBPaymentID, Message: err.Error()}
		}
		date, err := composite.ParseDate(u.PaymentDate)
		if err != nil {
			return nil, &domain.InvariantError{Code: "invalid_payment_date", DBPaymentID: u.DBPaymentID, Message: err.Error()}
		}
		dates[i] = date
	}
	return dates, nil
}

func (s *Service) commitOne(ctx context.Context, tx *gorm.DB, u domain.MergeUpdate, date, now time.Time) (itemOutcome, error) {
	out := itemOutcome{id: u.DBPaymentID}
	key := strings.TrimSpace(u.MergedPaymentKey)

	current, err := s.repo.FindByIDForUpdate(ctx, tx, u.DBPaymentID)
	if err != nil {
		return out, fmt.Errorf("load payment %d: %w", u.DBPaymentID, err)
	}
	if current == nil {
		out.reason = domain.ReasonNotFound
		return out, nil
	}

	switch current.PaymentStatus {
	case paymentdomain.StatusCompleted:
		out.reason = domain.ReasonCompleted
		return out, nil
	case paymentdomain.StatusMerged:
		if current.MergedPaymentKey != nil && *current.MergedPaymentKey == key {
			out.unchanged = true
		} else {
			out.reason = domain.ReasonConflict
		}
		return out, nil
	}

	if reason, err := s.checkReferences(ctx, tx, current, u); err != nil || reason != "" {
		out.reason = reason
		return out, err
	}

	fields := paymentdomain.MergeFields{
		Amount:           u.Amount,
		PaymentDate:      date,
		Notes:            strings.TrimSpace(u.Notes),
		PaymentMethodID:  u.PaymentMethodID,
		BankID:           u.BankID,
		ApartmentID:      u.ApartmentID,
		MergedPaymentKey: key,
		UpdatedAt:        now,
	}
	if err := s.repo.ApplyMerge(ctx, tx, current.ID, fields); err != nil {
		return out, fmt.Errorf("apply merge %d: %w", current.ID, err)
	}

	out.committed = &domain.CommittedPayment{
		ID:     current.ID,
		Key:    key,
		Before: *current,
		After:  applied(*current, fields),
	}
	return out, nil
}

// checkReferences returns a failure reason for references that do not
// resolve or disagree with the payment's booking.
func (s *Service) checkReferences(ctx context.Context, tx *gorm.DB, p *paymentdomain.Payment, u domain.MergeUpdate) (string, error) {
	apartmentID := u.ApartmentID
	if apartmentID == nil {
		apartmentID = p.ApartmentID
	}
	if apartmentID != nil && p.BookingID != nil {
		bookingApartment, err := s.repo.BookingApartmentID(ctx, tx, *p.BookingID)
		if err != nil {
			return "", fmt.Errorf("load booking %d: %w", *p.BookingID, err)
		}
		if bookingApartment != nil && *bookingApartment != *apartmentID {
			return domain.ReasonApartmentBookingMismatch, nil
		}
	}

	checks := []struct {
		id     *int64
		exists func(context.Context, *gorm.DB, int64) (bool, error)
		reason string
	}{
		{u.PaymentMethodID, s.repo.PaymentMethodExists, domain.ReasonUnknownPaymentMethod},
		{u.BankID, s.repo.BankExists, domain.ReasonUnknownBank},
		{u.ApartmentID, s.repo.ApartmentExists, domain.ReasonUnknownApartment},
	}
	for _, check := range checks {
		if check.id == nil {
			continue
		}
		ok, err := check.exists(ctx, tx, *check.id)
		if err != nil {
			return "", err
		}
		if !ok {
			return check.reason, nil
		}
	}
	return "", nil
}

func applied(p paymentdomain.Payment, f paymentdomain.MergeFields) paymentdomain.Payment {
	p.Amount = f.Amount
	p.PaymentDate = f.PaymentDate
	p.Notes = f.Notes
	if f.PaymentMethodID != nil {
		p.PaymentMethodID = f.PaymentMethodID
	}
	if f.BankID != nil {
		p.BankID = f.BankID
	}
	if f.ApartmentID != nil {
		p.ApartmentID = f.ApartmentID
	}
	key := f.MergedPaymentKey
	p.MergedPaymentKey = &key
	p.PaymentStatus = paymentdomain.StatusMerged
	p.UpdatedAt = f.UpdatedAt
	return p
}

func (s *Service) runHooks(ctx context.Context, actor domain.Actor, rid string, committed []domain.CommittedPayment) {
	for _, hook := range s.hooks {
		if hook == nil {
			continue
		}
		if err := hook.AfterCommit(ctx, actor, rid, committed); err != nil {
			s.otel.RecordHookFailure(ctx, hook.Name())
			s.log.Warn("commit hook failed",
				zap.String("rid", rid),
				zap.String("hook", hook.Name()),
				zap.Error(err),
			)
		}
	}
}
