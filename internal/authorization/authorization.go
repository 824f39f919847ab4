package authorization

import (
	"context"
	"errors"
)

const (
	ObjectPaymentSync = "payment_sync"
	ObjectAuditLog    = "audit_log"
)

const (
	ActionPaymentSyncMatch  = "payment_sync.match"
	ActionPaymentSyncCommit = "payment_sync.commit"
	ActionPaymentSyncTrace  = "payment_sync.trace"

	ActionAuditLogView = "audit_log.view"
)

const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

// Service decides whether subject, acting in role, may perform action on
// object. Subjects are "system" or "user:<id>".
type Service interface {
	Authorize(ctx context.Context, subject, role, object, action string) error
}
