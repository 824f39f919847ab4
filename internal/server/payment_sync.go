package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	obscontext "github.com/andyvauliln/paysync/internal/observability/context"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/andyvauliln/paysync/internal/tracelog"
	"github.com/gin-gonic/gin"
)

type matchSelectionRequest struct {
	Mode                 string                    `json:"mode"`
	SelectedFileIDs      []string                  `json:"selected_file_ids"`
	SelectedFilePayments []domain.FilePaymentInput `json:"selected_file_payments"`
	WithConfirmed        bool                      `json:"with_confirmed"`
	IncludeMerged        bool                      `json:"include_merged"`
	AmountDelta          int                       `json:"amount_delta"`
	DateDelta            int                       `json:"date_delta"`
	DBDaysBefore         int                       `json:"db_days_before"`
	DBDaysAfter          int                       `json:"db_days_after"`
	TopN                 int                       `json:"top_n"`
	AIModel              string                    `json:"ai_model"`
	AIBasePrompt         string                    `json:"ai_base_prompt"`
	AICustomPrompt       string                    `json:"ai_custom_prompt"`
}

type commitMergesRequest struct {
	Updates []domain.MergeUpdate `json:"updates"`
}

func (s *Server) MatchSelection(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req matchSelectionRequest
	// Amounts keep their literal digits so 3300.10 is not rounded through float64.
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.syncSvc.Match(c.Request.Context(), domain.MatchRequest{
		Mode:                 req.Mode,
		SelectedFileIDs:      req.SelectedFileIDs,
		SelectedFilePayments: req.SelectedFilePayments,
		WithConfirmed:        req.WithConfirmed,
		IncludeMerged:        req.IncludeMerged,
		AmountDelta:          req.AmountDelta,
		DateDelta:            req.DateDelta,
		DBDaysBefore:         req.DBDaysBefore,
		DBDaysAfter:          req.DBDaysAfter,
		TopN:                 req.TopN,
		AIModel:              strings.TrimSpace(req.AIModel),
		AIBasePrompt:         req.AIBasePrompt,
		AICustomPrompt:       req.AICustomPrompt,
		Actor:                actor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.setRID(c, result.RID)
	c.JSON(http.StatusOK, result)
}

func (s *Server) CommitMerges(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req commitMergesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.syncSvc.CommitMerges(c.Request.Context(), actor, req.Updates)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.setRID(c, report.RID)
	c.JSON(http.StatusOK, report)
}

func (s *Server) GetTrace(c *gin.Context) {
	rid := strings.TrimSpace(c.Param("rid"))
	if rid == "" {
		AbortWithError(c, newValidationError("rid", "invalid_rid", "rid is required"))
		return
	}
	if s.traceReader == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	events, err := s.traceReader.Events(c.Request.Context(), rid)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if len(events) == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	events = tracelog.FilterStep(events, strings.TrimSpace(c.Query("step")))
	c.JSON(http.StatusOK, gin.H{"rid": rid, "events": events})
}

func (s *Server) setRID(c *gin.Context, rid string) {
	if rid == "" {
		return
	}
	c.Set("rid", rid)
	c.Request = c.Request.WithContext(obscontext.WithRID(c.Request.Context(), rid))
	c.Header("X-Request-RID", rid)
}

// TraceReader loads the trace events recorded for one rid.
type TraceReader interface {
	Events(ctx context.Context, rid string) ([]tracelog.Event, error)
}

type fileTraceReader struct {
	path string
}

// NewFileTraceReader reads from the writer's file. It returns nil when
// tracing is disabled.
func NewFileTraceReader(w *tracelog.Writer) TraceReader {
	if !w.Enabled() {
		return nil
	}
	return fileTraceReader{path: w.Path()}
}

func (r fileTraceReader) Events(_ context.Context, rid string) ([]tracelog.Event, error) {
	return tracelog.ReadFile(r.path, rid)
}
