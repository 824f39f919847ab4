package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andyvauliln/paysync/internal/audit/domain"
	"github.com/andyvauliln/paysync/internal/auditcontext"
	"github.com/andyvauliln/paysync/internal/clock"
	"github.com/andyvauliln/paysync/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Record(ctx context.Context, entity, action string, old, new any, actor domain.Actor) error {
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return domain.ErrInvalidEntity
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return domain.ErrInvalidAction
	}

	oldValues, err := toJSONMap(old)
	if err != nil {
		return err
	}
	newValues, err := toJSONMap(new)
	if err != nil {
		return err
	}

	entry := s.newEntry(ctx, actor.Type, normalize(actor.ID), action, entity, targetID(newValues, oldValues), nil)
	entry.OldValues = oldValues
	entry.NewValues = newValues
	return s.insert(ctx, entry)
}

func (s *Service) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return domain.ErrInvalidAction
	}
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}
	id := ""
	if actorID != nil {
		id = *actorID
	}
	entry := s.newEntry(ctx, actorType, normalize(id), action, targetType, normalizePointer(targetID), metadata)
	return s.insert(ctx, entry)
}

func (s *Service) List(ctx context.Context, req domain.ListAuditLogRequest) (domain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return domain.ListAuditLogResponse{}, domain.ErrInvalidTimeRange
	}

	var cursor *domain.AuditCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListAuditLogResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListAuditLogResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListAuditLogResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.AuditCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return domain.ListAuditLogResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *domain.AuditLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	logs := make([]domain.AuditLog, 0, len(items))
	for _, item := range items {
		if item != nil {
			logs = append(logs, *item)
		}
	}

	return domain.ListAuditLogResponse{AuditLogs: logs, PageInfo: pageInfo}, nil
}

func (s *Service) newEntry(ctx context.Context, actorType string, actorID *string, action, targetType string, targetID *string, metadata map[string]any) *domain.AuditLog {
	actorType = strings.TrimSpace(actorType)
	if actorType == "" {
		if ctxType, ctxID := auditcontext.ActorFromContext(ctx); ctxType != "" {
			actorType = ctxType
			if actorID == nil {
				actorID = normalize(ctxID)
			}
		}
	}
	if actorType == "" {
		actorType = string(domain.ActorTypeSystem)
	}

	payload := map[string]any{}
	for key, value := range metadata {
		if key != "" {
			payload[key] = value
		}
	}

	entry := &domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if len(payload) > 0 {
		entry.Metadata = datatypes.JSONMap(payload)
	}
	entry.IPAddress = normalize(auditcontext.IPAddressFromContext(ctx))
	entry.UserAgent = normalize(auditcontext.UserAgentFromContext(ctx))
	entry.RequestID = normalize(auditcontext.RequestIDFromContext(ctx))
	return entry
}

func (s *Service) insert(ctx context.Context, entry *domain.AuditLog) error {
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", entry.Action), zap.Error(err))
		return err
	}
	return nil
}

func toJSONMap(value any) (datatypes.JSONMap, error) {
	if value == nil {
		return nil, nil
	}
	if m, ok := value.(map[string]any); ok {
		return datatypes.JSONMap(m), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("audit snapshot: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("audit snapshot must be an object: %w", err)
	}
	return datatypes.JSONMap(out), nil
}

func targetID(snapshots ...datatypes.JSONMap) *string {
	for _, snap := range snapshots {
		if snap == nil {
			continue
		}
		switch id := snap["id"].(type) {
		case string:
			return normalize(id)
		case json.Number:
			return normalize(id.String())
		}
	}
	return nil
}

func normalize(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	return normalize(*value)
}
