package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/andyvauliln/paysync/internal/audit/domain"
	"github.com/andyvauliln/paysync/internal/authorization"
	"github.com/andyvauliln/paysync/internal/observability"
	paymentsyncdomain "github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/andyvauliln/paysync/internal/tracelog"
	"github.com/andyvauliln/paysync/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSyncService struct {
	matchReq    paymentsyncdomain.MatchRequest
	matchErr    error
	commitActor paymentsyncdomain.Actor
	updates     []paymentsyncdomain.MergeUpdate
	commitErr   error
}

func (f *fakeSyncService) Match(_ context.Context, req paymentsyncdomain.MatchRequest) (*paymentsyncdomain.MatchResult, error) {
	f.matchReq = req
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	return &paymentsyncdomain.MatchResult{
		RID:              "rid-1",
		SelectedKey:      "a~b",
		MergedPaymentKey: "a~b",
		MatchedPayments:  []paymentsyncdomain.MatchedPayment{},
		AIError:          "timeout",
	}, nil
}

func (f *fakeSyncService) CommitMerges(_ context.Context, actor paymentsyncdomain.Actor, updates []paymentsyncdomain.MergeUpdate) (*paymentsyncdomain.CommitReport, error) {
	f.commitActor = actor
	f.updates = updates
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	return &paymentsyncdomain.CommitReport{
		RID:       "rid-2",
		Committed: []int64{5530},
		Unchanged: []int64{},
		Failed:    []paymentsyncdomain.CommitFailure{{ID: 5531, Reason: paymentsyncdomain.ReasonConflict}},
	}, nil
}

type fakeAuthz struct {
	allow   map[string]bool
	subject string
	role    string
}

func (f *fakeAuthz) Authorize(_ context.Context, subject, role, _, action string) error {
	f.subject, f.role = subject, role
	if f.allow[action] {
		return nil
	}
	return authorization.ErrForbidden
}

type fakeAuditService struct {
	domain.Service
	req domain.ListAuditLogRequest
}

func (f *fakeAuditService) List(_ context.Context, req domain.ListAuditLogRequest) (domain.ListAuditLogResponse, error) {
	f.req = req
	if req.PageToken == "bad" {
		return domain.ListAuditLogResponse{}, domain.ErrInvalidPageToken
	}
	return domain.ListAuditLogResponse{
		AuditLogs: []domain.AuditLog{{Action: "payment.merge", TargetType: "payment"}},
		PageInfo:  pagination.PageInfo{HasMore: false},
	}, nil
}

type testServer struct {
	*Server
	sync  *fakeSyncService
	authz *fakeAuthz
	audit *fakeAuditService
}

func newTestServer(t *testing.T, trace *tracelog.Writer) *testServer {
	t.Helper()

	ts := &testServer{
		sync: &fakeSyncService{},
		authz: &fakeAuthz{allow: map[string]bool{
			authorization.ActionPaymentSyncMatch:  true,
			authorization.ActionPaymentSyncCommit: true,
			authorization.ActionPaymentSyncTrace:  true,
			authorization.ActionAuditLogView:      true,
		}},
		audit: &fakeAuditService{},
	}
	ts.Server = NewServer(ServerParams{
		Gin:      NewEngine(observability.Config{Environment: "test"}, nil),
		Log:      zap.NewNop(),
		AuthzSvc: ts.authz,
		AuditSvc: ts.audit,
		SyncSvc:  ts.sync,
		Trace:    trace,
	})
	return ts
}

func (ts *testServer) do(method, path, actor string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			_ = json.NewEncoder(&buf).Encode(v)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(HeaderActorID, actor)
		req.Header.Set(HeaderActorRole, "Operator")
	}
	rec := httptest.NewRecorder()
	ts.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestMatchSelectionRequiresActor(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/payments-sync-v2/match-selection/", "", map[string]any{"mode": "manual"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
}

func TestMatchSelectionForbidden(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.authz.allow[authorization.ActionPaymentSyncMatch] = false

	rec := ts.do(http.MethodPost, "/payments-sync-v2/match-selection/", "7", map[string]any{"mode": "manual"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "user:7", ts.authz.subject)
	assert.Equal(t, "operator", ts.authz.role)
}

func TestMatchSelectionDecodesRequest(t *testing.T) {
	ts := newTestServer(t, nil)

	body := `{
		"mode": "both",
		"selected_file_ids": ["a", "b"],
		"selected_file_payments": [
			{"id": "a", "amount": 3300.10, "payment_date": "2025-12-01", "direction": "in"},
			{"id": "b", "amount": "200", "date": "12/02/2025"}
		],
		"amount_delta": 100,
		"db_days_before": 3,
		"db_days_after": 3,
		"top_n": 5,
		"ai_model": " gpt-4o-mini "
	}`
	rec := ts.do(http.MethodPost, "/payments-sync-v2/match-selection/", "7", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	req := ts.sync.matchReq
	assert.Equal(t, "both", req.Mode)
	assert.Equal(t, []string{"a", "b"}, req.SelectedFileIDs)
	require.Len(t, req.SelectedFilePayments, 2)
	assert.Equal(t, json.Number("3300.10"), req.SelectedFilePayments[0].Amount)
	assert.Equal(t, "200", req.SelectedFilePayments[1].Amount)
	assert.Equal(t, "gpt-4o-mini", req.AIModel)
	assert.Equal(t, 5, req.TopN)
	assert.Equal(t, paymentsyncdomain.Actor{Type: paymentsyncdomain.ActorTypeUser, ID: "7", Role: "operator"}, req.Actor)

	var result paymentsyncdomain.MatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "rid-1", result.RID)
	assert.Equal(t, "timeout", result.AIError)
	assert.Equal(t, "rid-1", rec.Header().Get("X-Request-RID"))
}

func TestMatchSelectionSystemActor(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/payments-sync-v2/match-selection/", "system", map[string]any{"mode": "manual"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "system", ts.authz.subject)
	assert.Equal(t, paymentsyncdomain.SystemActor(), ts.sync.matchReq.Actor)
}

func TestMatchSelectionMalformedBody(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/payments-sync-v2/match-selection/", "7", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Code)
}

func TestMatchSelectionErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		errType  string
		errCode  string
		hasField string
	}{
		{
			name:     "selection",
			err:      paymentsyncdomain.NewSelectionError("unknown_file_id", "selected_file_ids", "file id c is not in the payload"),
			status:   http.StatusBadRequest,
			errType:  "validation_error",
			errCode:  "unknown_file_id",
			hasField: "selected_file_ids",
		},
		{
			name:     "invalid days",
			err:      paymentsyncdomain.ErrInvalidDays,
			status:   http.StatusBadRequest,
			errType:  "validation_error",
			errCode:  "invalid_db_days",
			hasField: "db_days_before",
		},
		{
			name:    "retryable storage",
			err:     &paymentsyncdomain.InfrastructureError{Op: "load_candidates", Retryable: true, Err: errors.New("serialization failure")},
			status:  http.StatusServiceUnavailable,
			errType: "service_unavailable",
			errCode: "load_candidates",
		},
		{
			name:    "storage",
			err:     &paymentsyncdomain.InfrastructureError{Op: "load_candidates", Err: errors.New("relation missing")},
			status:  http.StatusInternalServerError,
			errType: "internal_error",
			errCode: "load_candidates",
		},
		{
			name:    "unknown",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			errType: "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.sync.matchErr = tt.err

			rec := ts.do(http.MethodPost, "/payments-sync-v2/match-selection/", "7", map[string]any{"mode": "manual"})

			assert.Equal(t, tt.status, rec.Code)
			payload := decodeError(t, rec)
			assert.Equal(t, tt.errType, payload.Type)
			assert.Equal(t, tt.errCode, payload.Code)
			if tt.hasField != "" {
				require.Len(t, payload.Errors, 1)
				assert.Equal(t, tt.hasField, payload.Errors[0].Field)
			}
		})
	}
}

func TestCommitMerges(t *testing.T) {
	ts := newTestServer(t, nil)

	body := `{"updates": [{"db_payment_id": 5530, "amount": "3300.10", "payment_date": "2025-12-01", "merged_payment_key": "a~b"}]}`
	rec := ts.do(http.MethodPost, "/payments-sync-v2/update/", "7", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, ts.sync.updates, 1)
	assert.Equal(t, int64(5530), ts.sync.updates[0].DBPaymentID)
	assert.True(t, decimal.RequireFromString("3300.10").Equal(ts.sync.updates[0].Amount))
	assert.Equal(t, "7", ts.sync.commitActor.ID)

	var report paymentsyncdomain.CommitReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, []int64{5530}, report.Committed)
	assert.Equal(t, paymentsyncdomain.ReasonConflict, report.Failed[0].Reason)
}

func TestCommitMergesErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invariant", &paymentsyncdomain.InvariantError{Code: "zero_amount", DBPaymentID: 5530, Message: "amount must be non-zero"}, http.StatusUnprocessableEntity, "zero_amount"},
		{"empty", paymentsyncdomain.ErrEmptyUpdates, http.StatusBadRequest, "empty_updates"},
		{"rolled back", &paymentsyncdomain.InfrastructureError{Op: "commit_merges", Retryable: true, Err: errors.New("40001")}, http.StatusServiceUnavailable, "commit_merges"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.sync.commitErr = tt.err

			rec := ts.do(http.MethodPost, "/payments-sync-v2/update/", "7", map[string]any{"updates": []any{}})

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestGetTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	writer := tracelog.NewWriter(path, nil, zap.NewNop())
	ctx := context.Background()
	writer.Append(ctx, tracelog.Event{RID: "rid-1", Step: tracelog.StepRequest, TS: "2025-12-02T00:00:00Z"})
	writer.Append(ctx, tracelog.Event{RID: "rid-1", Step: tracelog.StepCommitDone, TS: "2025-12-02T00:00:01Z"})
	writer.Append(ctx, tracelog.Event{RID: "rid-2", Step: tracelog.StepRequest, TS: "2025-12-02T00:00:02Z"})

	ts := newTestServer(t, writer)

	rec := ts.do(http.MethodGet, "/payments-sync-v2/trace/rid-1", "7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		RID    string           `json:"rid"`
		Events []tracelog.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rid-1", resp.RID)
	assert.Len(t, resp.Events, 2)

	rec = ts.do(http.MethodGet, "/payments-sync-v2/trace/rid-1?step="+tracelog.StepCommitDone, "7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, tracelog.StepCommitDone, resp.Events[0].Step)

	rec = ts.do(http.MethodGet, "/payments-sync-v2/trace/rid-404", "7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTraceDisabled(t *testing.T) {
	ts := newTestServer(t, tracelog.NewWriter("", nil, nil))

	rec := ts.do(http.MethodGet, "/payments-sync-v2/trace/rid-1", "7", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAuditLogs(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/admin/audit-logs?action=payment.merge&page_size=10&start_at=2025-12-01T00:00:00Z", "7", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "payment.merge", ts.audit.req.Action)
	assert.Equal(t, 10, ts.audit.req.PageSize)
	require.NotNil(t, ts.audit.req.StartAt)
	assert.Nil(t, ts.audit.req.EndAt)
	assert.Contains(t, rec.Body.String(), `"page_info"`)
}

func TestListAuditLogsBadInput(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/admin/audit-logs?end_at=yesterday", "7", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_end_at", decodeError(t, rec).Code)

	rec = ts.do(http.MethodGet, "/admin/audit-logs?page_token=bad", "7", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_page_token", decodeError(t, rec).Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
