package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	auditdomain "github.com/andyvauliln/paysync/internal/audit/domain"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, subject, role, object, action string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := resolveRole(subject, role)
	if err != nil {
		s.auditDenied(ctx, subject, object, action)
		return err
	}
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("role", roleName),
			zap.String("action", action),
		)
		s.auditDenied(ctx, subject, object, action)
		return ErrForbidden
	}
	return nil
}

// resolveRole pins the system subject to role:system regardless of the
// claimed role.
func resolveRole(subject, role string) (string, error) {
	if subject == RoleSystem {
		return "role:" + RoleSystem, nil
	}
	if !strings.HasPrefix(subject, "user:") || strings.TrimPrefix(subject, "user:") == "" {
		return "", ErrInvalidActor
	}
	switch role = strings.ToLower(strings.TrimSpace(role)); role {
	case RoleViewer, RoleOperator, RoleAdmin:
		return "role:" + role, nil
	case "":
		return "", ErrInvalidRole
	default:
		return "", ErrForbidden
	}
}

// ensureGrouping keeps exactly one role link per subject. The role is
// asserted per request by the gateway, so a changed role replaces the old
// link.
func (s *ServiceImpl) ensureGrouping(subject, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]any, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, subject, object, action string) {
	if s.auditSvc == nil {
		return
	}
	actorType, actorID := splitSubject(subject)
	targetID := action
	err := s.auditSvc.AuditLog(ctx, actorType, actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"subject": subject,
	})
	if err != nil {
		s.log.Warn("audit authorization denial failed", zap.String("subject", subject), zap.Error(err))
	}
}

func splitSubject(subject string) (string, *string) {
	kind, id, ok := strings.Cut(subject, ":")
	if !ok || id == "" {
		return kind, nil
	}
	return kind, &id
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:viewer", ObjectPaymentSync, ActionPaymentSyncMatch},

		{"role:operator", ObjectPaymentSync, ActionPaymentSyncMatch},
		{"role:operator", ObjectPaymentSync, ActionPaymentSyncCommit},

		{"role:admin", ObjectPaymentSync, ActionPaymentSyncMatch},
		{"role:admin", ObjectPaymentSync, ActionPaymentSyncCommit},
		{"role:admin", ObjectPaymentSync, ActionPaymentSyncTrace},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},

		{"role:system", "*", "*"},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return fmt.Errorf("seed policy %v: %w", policy, err)
		}
	}
	return nil
}
