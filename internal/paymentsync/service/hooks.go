package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	auditdomain "github.com/andyvauliln/paysync/internal/audit/domain"
	"github.com/andyvauliln/paysync/internal/config"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/andyvauliln/paysync/internal/providers/notify"
	"go.uber.org/fx"
)

const (
	AuditEntityPayment = "payment"
	AuditActionMerge   = "payment_sync.merge"
)

// AuditHook records one audit entry per committed payment.
type AuditHook struct {
	audit auditdomain.Service
}

func NewAuditHook(svc auditdomain.Service) *AuditHook {
	return &AuditHook{audit: svc}
}

func (h *AuditHook) Name() string { return "audit" }

func (h *AuditHook) AfterCommit(ctx context.Context, actor domain.Actor, _ string, committed []domain.CommittedPayment) error {
	if h == nil || h.audit == nil {
		return nil
	}
	auditActor := auditdomain.Actor{Type: string(actor.Type), ID: actor.ID}
	var errs []error
	for _, c := range committed {
		if err := h.audit.Record(ctx, AuditEntityPayment, AuditActionMerge, c.Before, c.After, auditActor); err != nil {
			errs = append(errs, fmt.Errorf("payment %d: %w", c.ID, err))
		}
	}
	return errors.Join(errs...)
}

// NotifyHook posts one summary message per committed batch.
type NotifyHook struct {
	provider notify.Provider
	channel  string
}

func NewNotifyHook(provider notify.Provider, channel string) *NotifyHook {
	return &NotifyHook{provider: provider, channel: strings.TrimSpace(channel)}
}

func (h *NotifyHook) Name() string { return "notify" }

func (h *NotifyHook) AfterCommit(ctx context.Context, actor domain.Actor, rid string, committed []domain.CommittedPayment) error {
	if h == nil || h.provider == nil || h.channel == "" {
		return nil
	}
	return h.provider.Notify(ctx, h.channel, mergeMessage(actor, rid, committed))
}

func mergeMessage(actor domain.Actor, rid string, committed []domain.CommittedPayment) string {
	ids := make([]string, 0, len(committed))
	for _, c := range committed {
		ids = append(ids, strconv.FormatInt(c.ID, 10))
	}
	noun := "payments"
	if len(committed) == 1 {
		noun = "payment"
	}
	return fmt.Sprintf("Payment sync %s: %d %s merged by %s (%s)", rid, len(committed), noun, actor.Subject(), strings.Join(ids, ", "))
}

type HookParams struct {
	fx.In

	Config config.Config
	Audit  auditdomain.Service `optional:"true"`
	Notify notify.Provider     `optional:"true"`
}

// NewCommitHooks returns the post-commit hooks in the order they run.
func NewCommitHooks(p HookParams) []domain.CommitHook {
	hooks := make([]domain.CommitHook, 0, 2)
	if p.Audit != nil {
		hooks = append(hooks, NewAuditHook(p.Audit))
	}
	if p.Notify != nil {
		hooks = append(hooks, NewNotifyHook(p.Notify, p.Config.Notify.Channel))
	}
	return hooks
}
