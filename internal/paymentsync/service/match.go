package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	obscontext "github.com/andyvauliln/paysync/internal/observability/context"
	"github.com/andyvauliln/paysync/internal/observability/metrics"
	paymentdomain "github.com/andyvauliln/paysync/internal/payment/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/airank"
	"github.com/andyvauliln/paysync/internal/paymentsync/composite"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/mergekey"
	"github.com/andyvauliln/paysync/internal/paymentsync/scoring"
	"github.com/andyvauliln/paysync/internal/paymentsync/window"
	"github.com/andyvauliln/paysync/internal/tracelog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Match builds a composite from the selection, loads the candidate window
// and ranks it heuristically, through the LLM, or both. It never writes.
// LLM faults are reported in AIError and never returned as errors.
func (s *Service) Match(ctx context.Context, req domain.MatchRequest) (*domain.MatchResult, error) {
	started := time.Now()
	rid := s.newRID()
	ctx = obscontext.WithRID(ctx, rid)
	ctx, span := s.tracer.Start(ctx, "paymentsync.Match")
	defer span.End()
	span.SetAttributes(attribute.String("paysync.rid", rid), attribute.String("paysync.mode", req.Mode))

	log := s.log.With(zap.String("rid", rid))

	s.step(ctx, rid, tracelog.StepRequest, req.Actor, map[string]any{
		"mode":              req.Mode,
		"selected_file_ids": req.SelectedFileIDs,
		"selected_count":    len(req.SelectedFilePayments),
		"with_confirmed":    req.WithConfirmed,
		"include_merged":    req.IncludeMerged,
		"amount_delta":      req.AmountDelta,
		"date_delta":        req.DateDelta,
		"db_days_before":    req.DBDaysBefore,
		"db_days_after":     req.DBDaysAfter,
		"top_n":             req.TopN,
		"ai_model":          req.AIModel,
	}, nil)

	result, err := s.match(ctx, rid, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "match failed")
		s.step(ctx, rid, tracelog.StepResponse, req.Actor, nil, err)
		if !errors.Is(err, domain.ErrInvalidSelection) {
			log.Error("match failed", zap.Error(err))
		}
		return nil, err
	}

	s.metrics.ObserveMatch(req.Mode, time.Since(started))
	s.step(ctx, rid, tracelog.StepResponse, req.Actor, map[string]any{
		"selected_key":       result.SelectedKey,
		"merged_payment_key": result.MergedPaymentKey,
		"matched":            matchedIDs(result.MatchedPayments),
		"ai_error":           result.AIError,
	}, nil)
	log.Debug("match completed",
		zap.Int("matched", len(result.MatchedPayments)),
		zap.String("ai_error", result.AIError),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

type matchPlan struct {
	mode        domain.Mode
	topN        int
	daysBefore  int
	daysAfter   int
	amountDelta decimal.Decimal
}

func (s *Service) match(ctx context.Context, rid string, req domain.MatchRequest) (*domain.MatchResult, error) {
	plan, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	inputs, ids, err := selectInputs(req.SelectedFileIDs, req.SelectedFilePayments)
	if err != nil {
		return nil, err
	}
	rows, err := composite.Normalize(inputs)
	if err != nil {
		return nil, err
	}
	comp, err := composite.Build(rows)
	if err != nil {
		return nil, err
	}
	fileKeys, mergedKey, err := rowKeys(rows)
	if err != nil {
		return nil, err
	}
	s.step(ctx, rid, tracelog.StepComposite, req.Actor, map[string]any{
		"composite":          comp,
		"merged_payment_key": mergedKey,
	}, nil)

	opts := window.Options{
		WithConfirmed: req.WithConfirmed,
		DaysBefore:    plan.daysBefore,
		DaysAfter:     plan.daysAfter,
		IncludeMerged: req.IncludeMerged,
	}
	candidates, err := s.selector.Select(ctx, s.db, comp, opts)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidDays) || errors.Is(err, paymentdomain.ErrInvalidWindow) {
			return nil, domain.NewSelectionError("invalid_window", "db_days_before", err.Error())
		}
		s.metrics.IncDBError("select_candidates", err)
		return nil, &domain.InfrastructureError{Op: "select_candidates", Retryable: metrics.IsRetryableDB(err), Err: err}
	}
	from, to := window.Range(comp, opts)
	s.step(ctx, rid, tracelog.StepCandidates, req.Actor, map[string]any{
		"from":     from.Format(composite.DateLayout),
		"to":       to.Format(composite.DateLayout),
		"statuses": window.Statuses(opts),
		"count":    len(candidates),
	}, nil)

	params := scoring.Params{
		AmountDelta:    plan.amountDelta,
		SelectionCount: comp.SelectedCount,
		DaysBefore:     plan.daysBefore,
		DaysAfter:      plan.daysAfter,
	}
	scorer := s.scoring.Scorer()

	result := &domain.MatchResult{
		RID:              rid,
		SelectedKey:      mergekey.SelectionKey(ids),
		MergedPaymentKey: mergedKey,
		FileKeys:         fileKeys,
		Composite:        comp,
		MatchedPayments:  []domain.MatchedPayment{},
	}

	if plan.mode.IncludesManual() {
		manual := rankManual(scorer, candidates, comp, params, plan.topN)
		s.step(ctx, rid, tracelog.StepManual, req.Actor, map[string]any{
			"scored":  len(manual),
			"matched": matchedIDs(manual),
		}, nil)
		result.MatchedPayments = append(result.MatchedPayments, manual...)
	}

	if plan.mode.IncludesAI() {
		ai, aiErr := s.rankAI(ctx, rid, req, scorer, candidates, comp, params, plan.topN)
		if aiErr != nil {
			result.AIError = aiErr.Error()
		}
		result.MatchedPayments = append(result.MatchedPayments, ai...)
	}

	return result, nil
}

func validateRequest(req domain.MatchRequest) (matchPlan, error) {
	mode, ok := domain.ParseMode(req.Mode)
	if !ok {
		return matchPlan{}, domain.NewSelectionError("invalid_mode", "mode", "mode must be one of manual, ai, both")
	}
	if req.AmountDelta < 0 {
		return matchPlan{}, domain.NewSelectionError("invalid_amount_delta", "amount_delta", "amount_delta must be >= 0")
	}
	if req.DateDelta < 0 {
		return matchPlan{}, domain.NewSelectionError("invalid_date_delta", "date_delta", "date_delta must be >= 0")
	}
	if req.DBDaysBefore < 0 {
		return matchPlan{}, domain.NewSelectionError("invalid_db_days", "db_days_before", "db_days_before must be >= 0")
	}
	if req.DBDaysAfter < 0 {
		return matchPlan{}, domain.NewSelectionError("invalid_db_days", "db_days_after", "db_days_after must be >= 0")
	}

	before, after := req.DBDaysBefore, req.DBDaysAfter
	if before == 0 && after == 0 && req.DateDelta > 0 {
		before, after = req.DateDelta, req.DateDelta
	}

	topN := req.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	if topN > MaxTopN {
		topN = MaxTopN
	}

	return matchPlan{
		mode:        mode,
		topN:        topN,
		daysBefore:  before,
		daysAfter:   after,
		amountDelta: decimal.NewFromInt(int64(req.AmountDelta)),
	}, nil
}

// selectInputs narrows the posted rows to selected_file_ids, in the order
// the ids were picked. Without ids every posted row is selected.
func selectInputs(ids []string, rows []domain.FilePaymentInput) ([]domain.FilePaymentInput, []string, error) {
	if len(ids) == 0 {
		out := make([]string, 0, len(rows))
		for _, row := range rows {
			out = append(out, strings.TrimSpace(row.ID))
		}
		return rows, out, nil
	}

	byID := make(map[string]domain.FilePaymentInput, len(rows))
	for _, row := range rows {
		byID[strings.TrimSpace(row.ID)] = row
	}

	seen := make(map[string]struct{}, len(ids))
	picked := make([]domain.FilePaymentInput, 0, len(ids))
	order := make([]string, 0, len(ids))
	for i, raw := range ids {
		id := strings.TrimSpace(raw)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		row, ok := byID[id]
		if !ok {
			return nil, nil, domain.NewSelectionError("unknown_file_id", fmt.Sprintf("selected_file_ids[%d]", i),
				fmt.Sprintf("file payment %q is not in selected_file_payments", id))
		}
		picked = append(picked, row)
		order = append(order, id)
	}
	return picked, order, nil
}

// rowKeys derives the per-row keys and the merged key in selection order.
func rowKeys(rows []domain.FilePayment) (map[string]string, string, error) {
	fileKeys := make(map[string]string, len(rows))
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		key := mergekey.RowKey(row.PaymentDate, row.Amount, row.Notes)
		keys = append(keys, key)
		if row.ID != "" {
			fileKeys[row.ID] = key
		}
	}
	merged, err := mergekey.Join(keys)
	if err != nil {
		return nil, "", fmt.Errorf("derive merged payment key: %w", err)
	}
	return fileKeys, merged, nil
}

type manualHit struct {
	candidate paymentdomain.Candidate
	result    *scoring.Result
	diff      decimal.Decimal
}

func rankManual(scorer scoring.Scorer, candidates []paymentdomain.Candidate, comp domain.Composite, params scoring.Params, topN int) []domain.MatchedPayment {
	hits := make([]manualHit, 0, len(candidates))
	for _, c := range candidates {
		res := scorer.Score(c, comp, params)
		if res == nil || res.Total <= 0 {
			continue
		}
		hits = append(hits, manualHit{
			candidate: c,
			result:    res,
			diff:      c.Amount.Abs().Sub(comp.AmountTotal.Abs()).Abs(),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.result.Total != b.result.Total {
			return a.result.Total > b.result.Total
		}
		if cmp := a.diff.Cmp(b.diff); cmp != 0 {
			return cmp < 0
		}
		return a.candidate.ID < b.candidate.ID
	})
	if len(hits) > topN {
		hits = hits[:topN]
	}

	out := make([]domain.MatchedPayment, 0, len(hits))
	for _, hit := range hits {
		breakdown := hit.result.Breakdown
		out = append(out, domain.MatchedPayment{
			Source:    domain.SourceManual,
			DBPayment: hit.candidate,
			Score:     hit.result.Total,
			MatchType: hit.result.MatchType,
			Criteria:  hit.result.Criteria,
			Breakdown: &breakdown,
		})
	}
	return out
}

func (s *Service) rankAI(
	ctx context.Context,
	rid string,
	req domain.MatchRequest,
	scorer scoring.Scorer,
	candidates []paymentdomain.Candidate,
	comp domain.Composite,
	params scoring.Params,
	topN int,
) ([]domain.MatchedPayment, error) {
	pool := airank.Prefilter(scorer, candidates, comp, params, s.prefilterK)
	s.step(ctx, rid, tracelog.StepAIPrefilter, req.Actor, map[string]any{
		"k":     s.prefilterK,
		"count": len(pool),
		"ids":   scoredIDs(pool),
	}, nil)

	if s.ranker == nil {
		s.metrics.IncAIRank(metrics.OutcomeNotConfig)
		s.step(ctx, rid, tracelog.StepAIRank, req.Actor, nil, airank.ErrModelNotConfigured)
		return []domain.MatchedPayment{}, airank.ErrModelNotConfigured
	}

	ctx, span := s.tracer.Start(ctx, "paymentsync.AIRank")
	defer span.End()
	span.SetAttributes(attribute.Int("paysync.ai.pool", len(pool)))

	rankings, err := s.ranker.Rank(ctx, airank.RankRequest{
		Model:        req.AIModel,
		BasePrompt:   req.AIBasePrompt,
		CustomPrompt: req.AICustomPrompt,
		Composite:    comp,
		Candidates:   pool,
		Subject:      req.Actor.Subject(),
	})
	if err != nil {
		s.metrics.IncAIRank(aiOutcome(err))
		span.SetStatus(codes.Error, err.Error())
		s.step(ctx, rid, tracelog.StepAIRank, req.Actor, map[string]any{"model": req.AIModel}, err)
		s.log.Warn("ai rank failed", zap.String("rid", rid), zap.Error(err))
		return []domain.MatchedPayment{}, err
	}
	if len(rankings) == 0 {
		s.metrics.IncAIRank(metrics.OutcomeEmpty)
	} else {
		s.metrics.IncAIRank(metrics.OutcomeOK)
	}

	byID := make(map[int64]paymentdomain.Candidate, len(pool))
	for _, item := range pool {
		byID[item.Candidate.ID] = item.Candidate
	}

	out := make([]domain.MatchedPayment, 0, len(rankings))
	for _, r := range rankings {
		c, ok := byID[r.DBID]
		if !ok {
			continue
		}
		out = append(out, domain.MatchedPayment{
			Source:    domain.SourceAI,
			DBPayment: c,
			Score:     r.Score,
			MatchType: r.MatchType,
			Criteria:  r.Criteria,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DBPayment.ID < out[j].DBPayment.ID
	})
	if len(out) > topN {
		out = out[:topN]
	}

	s.step(ctx, rid, tracelog.StepAIRank, req.Actor, map[string]any{
		"model":    req.AIModel,
		"returned": len(rankings),
		"matched":  matchedIDs(out),
	}, nil)
	return out, nil
}

func aiOutcome(err error) string {
	switch {
	case errors.Is(err, airank.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, airank.ErrNotJSONArray):
		return metrics.OutcomeParseError
	case errors.Is(err, airank.ErrRateLimited):
		return metrics.OutcomeRateLimited
	case errors.Is(err, airank.ErrModelNotConfigured):
		return metrics.OutcomeNotConfig
	default:
		return metrics.OutcomeRequestFail
	}
}

func matchedIDs(items []domain.MatchedPayment) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.DBPayment.ID)
	}
	return ids
}

func scoredIDs(items []airank.Scored) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.Candidate.ID)
	}
	return ids
}
