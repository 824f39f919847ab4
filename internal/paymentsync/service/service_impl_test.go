package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/andyvauliln/paysync/internal/clock"
	"github.com/andyvauliln/paysync/internal/config"
	paymentdomain "github.com/andyvauliln/paysync/internal/payment/domain"
	"github.com/andyvauliln/paysync/internal/payment/paymenttest"
	paymentrepo "github.com/andyvauliln/paysync/internal/payment/repository"
	"github.com/andyvauliln/paysync/internal/paymentsync/airank"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/andyvauliln/paysync/internal/paymentsync/mergekey"
	"github.com/andyvauliln/paysync/internal/paymentsync/scoring"
	"github.com/andyvauliln/paysync/internal/paymentsync/service"
	"github.com/andyvauliln/paysync/internal/tracelog"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeLLM struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeLLM) Complete(context.Context, airank.Completion) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []tracelog.Event
}

func (r *recordingSink) Append(_ context.Context, ev tracelog.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Step)
	}
	return out
}

type recordingHook struct {
	name  string
	err   error
	calls [][]domain.CommittedPayment
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) AfterCommit(_ context.Context, _ domain.Actor, _ string, committed []domain.CommittedPayment) error {
	h.calls = append(h.calls, committed)
	return h.err
}

type harness struct {
	store *paymenttest.Store
	svc   *service.Service
	sink  *recordingSink
	hook  *recordingHook
}

type option func(*service.Params)

func withRanker(r *airank.Ranker) option {
	return func(p *service.Params) { p.Ranker = r }
}

func withRepo(repo paymentdomain.Repository) option {
	return func(p *service.Params) { p.Repo = repo }
}

func withHooks(hooks ...domain.CommitHook) option {
	return func(p *service.Params) { p.Hooks = hooks }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	db := paymenttest.OpenDB(t)
	h := &harness{
		store: paymenttest.NewStore(t, db),
		sink:  &recordingSink{},
		hook:  &recordingHook{name: "recording"},
	}
	var seq int
	p := service.Params{
		DB:      db,
		Log:     zap.NewNop(),
		Config:  config.Config{AI: config.AIConfig{PrefilterK: 100}},
		Repo:    paymentrepo.Provide(),
		Scoring: service.StaticScorer(scoring.DefaultWeights()),
		Trace:   h.sink,
		Clock:   clock.NewFakeClock(time.Date(2025, 12, 2, 10, 0, 0, 0, time.UTC)),
		Hooks:   []domain.CommitHook{h.hook},
		NewRID: func() string {
			seq++
			return fmt.Sprintf("rid-%d", seq)
		},
	}
	for _, opt := range opts {
		opt(&p)
	}
	h.svc = service.NewService(p)
	return h
}

func fileRow(id string, amount any, date, notes, apartment, direction string) domain.FilePaymentInput {
	return domain.FilePaymentInput{
		ID:            id,
		Amount:        amount,
		PaymentDate:   date,
		Notes:         notes,
		ApartmentName: apartment,
		Direction:     direction,
	}
}

func baseRequest(mode string, rows ...domain.FilePaymentInput) domain.MatchRequest {
	return domain.MatchRequest{
		Mode:                 mode,
		SelectedFilePayments: rows,
		AmountDelta:          100,
		DBDaysBefore:         3,
		DBDaysAfter:          3,
		Actor:                domain.Actor{Type: domain.ActorTypeUser, ID: "7", Role: "operator"},
	}
}

func ids(items []domain.MatchedPayment) []int64 {
	out := make([]int64, 0, len(items))
	for _, item := range items {
		out = append(out, item.DBPayment.ID)
	}
	return out
}

func day(t *testing.T, v string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", v)
	require.NoError(t, err)
	return d
}

func TestMatchExactSingleRow(t *testing.T) {
	h := newHarness(t)
	apt := h.store.Apartment(1, "630-205")
	h.store.Payment(paymenttest.PaymentSpec{ID: 5521, Amount: "3300.00", Date: "2025-12-01", ApartmentID: &apt})

	notes := "Wire from Michael Steinhardt 630-205"
	res, err := h.svc.Match(context.Background(), baseRequest("manual",
		fileRow("bank-1", 3300.00, "2025-12-01", notes, "630-205", "In"),
	))
	require.NoError(t, err)

	require.NotEmpty(t, res.MatchedPayments)
	top := res.MatchedPayments[0]
	assert.Equal(t, int64(5521), top.DBPayment.ID)
	assert.Equal(t, domain.SourceManual, top.Source)
	assert.Contains(t, []domain.MatchType{domain.MatchTypeExact, domain.MatchTypeStrong}, top.MatchType)
	require.NotNil(t, top.Breakdown)

	rowKey := mergekey.RowKey(day(t, "2025-12-01"), decimal.NewFromInt(3300), notes)
	assert.Equal(t, "rid-1", res.RID)
	assert.Equal(t, "bank-1", res.SelectedKey)
	assert.Equal(t, rowKey, res.MergedPaymentKey)
	assert.Equal(t, map[string]string{"bank-1": rowKey}, res.FileKeys)
	assert.Empty(t, res.AIError)

	assert.Equal(t, []string{
		tracelog.StepRequest,
		tracelog.StepComposite,
		tracelog.StepCandidates,
		tracelog.StepManual,
		tracelog.StepResponse,
	}, h.sink.steps())
}

func TestMatchSplitSelectionThenCommit(t *testing.T) {
	h := newHarness(t)
	apt := h.store.Apartment(1, "630-205")
	h.store.Payment(paymenttest.PaymentSpec{ID: 5530, Amount: "3300", Date: "2025-12-01", ApartmentID: &apt})
	h.store.Payment(paymenttest.PaymentSpec{ID: 5531, Amount: "1800", Date: "2025-11-30", ApartmentID: &apt})

	req := baseRequest("manual",
		fileRow("a", 1800, "2025-11-30", "part one", "630-205", "In"),
		fileRow("b", "1500", "2025-12-01", "part two", "630-205", "In"),
	)
	res, err := h.svc.Match(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []int64{5530}, ids(res.MatchedPayments))
	keyA := mergekey.RowKey(day(t, "2025-11-30"), decimal.NewFromInt(1800), "part one")
	keyB := mergekey.RowKey(day(t, "2025-12-01"), decimal.NewFromInt(1500), "part two")
	assert.Equal(t, keyA+mergekey.Separator+keyB, res.MergedPaymentKey)
	assert.Equal(t, "a~b", res.SelectedKey)

	report, err := h.svc.CommitMerges(context.Background(), req.Actor, []domain.MergeUpdate{{
		DBPaymentID:      5530,
		Amount:           decimal.NewFromInt(3300),
		PaymentDate:      "2025-12-01",
		Notes:            "part one | part two",
		MergedPaymentKey: res.MergedPaymentKey,
	}})
	require.NoError(t, err)
	assert.Equal(t, []int64{5530}, report.Committed)

	got := h.store.Get(5530)
	assert.Equal(t, paymentdomain.StatusMerged, got.PaymentStatus)
	require.NotNil(t, got.MergedPaymentKey)
	parts, err := mergekey.Parse(*got.MergedPaymentKey)
	require.NoError(t, err)
	assert.Equal(t, []string{keyA, keyB}, parts)
}

func TestMatchSelectedIDsKeepPickOrder(t *testing.T) {
	h := newHarness(t)
	req := baseRequest("manual",
		fileRow("a", 100, "2025-12-01", "one", "", "In"),
		fileRow("b", 200, "2025-12-01", "two", "", "In"),
		fileRow("c", 300, "2025-12-01", "three", "", "In"),
	)
	req.SelectedFileIDs = []string{"b", "a", "b"}

	res, err := h.svc.Match(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "a~b", res.SelectedKey)
	assert.Equal(t, res.FileKeys["b"]+"~"+res.FileKeys["a"], res.MergedPaymentKey)
	assert.NotContains(t, res.FileKeys, "c")
	assert.Equal(t, 2, res.Composite.SelectedCount)
	assert.True(t, res.Composite.AmountTotal.Equal(decimal.NewFromInt(300)))

	req.SelectedFileIDs = []string{"a", "zzz"}
	_, err = h.svc.Match(context.Background(), req)
	var selErr *domain.SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, "unknown_file_id", selErr.Code)
	assert.Equal(t, "selected_file_ids[1]", selErr.Field)
}

func TestMatchWrongApartmentRanksLower(t *testing.T) {
	h := newHarness(t)
	a := h.store.Apartment(1, "780-306")
	b := h.store.Apartment(2, "999-999")
	h.store.Payment(paymenttest.PaymentSpec{ID: 10, Amount: "500", Date: "2025-12-01", TypeID: h.store.TypeOut, ApartmentID: &a})
	h.store.Payment(paymenttest.PaymentSpec{ID: 11, Amount: "500", Date: "2025-12-01", TypeID: h.store.TypeOut, ApartmentID: &b})

	res, err := h.svc.Match(context.Background(), baseRequest("manual",
		fileRow("x", -500, "2025-12-01", "", "999-999", "Out"),
	))
	require.NoError(t, err)
	require.Equal(t, []int64{11, 10}, ids(res.MatchedPayments))

	w := scoring.DefaultWeights()
	gap := res.MatchedPayments[0].Score - res.MatchedPayments[1].Score
	assert.GreaterOrEqual(t, gap, w.ApartmentExact-w.ApartmentMismatch)
}

func TestMatchDirectionFilter(t *testing.T) {
	h := newHarness(t)
	h.store.Payment(paymenttest.PaymentSpec{ID: 20, Amount: "750", Date: "2025-12-01", TypeID: h.store.TypeOut})

	res, err := h.svc.Match(context.Background(), baseRequest("manual",
		fileRow("x", 750, "2025-12-01", "", "", "In"),
	))
	require.NoError(t, err)
	assert.NotContains(t, ids(res.MatchedPayments), int64(20))
}

func TestMatchAIParseFailureKeepsManual(t *testing.T) {
	llm := &fakeLLM{text: "sorry"}
	h := newHarness(t, withRanker(airank.NewRanker(llm, nil, nil, airank.Options{DefaultModel: "m"}, zap.NewNop())))
	apt := h.store.Apartment(1, "630-205")
	h.store.Payment(paymenttest.PaymentSpec{ID: 5521, Amount: "3300", Date: "2025-12-01", ApartmentID: &apt})

	res, err := h.svc.Match(context.Background(), baseRequest("both",
		fileRow("bank-1", 3300, "2025-12-01", "", "630-205", "In"),
	))
	require.NoError(t, err)

	assert.Equal(t, "AI did not return a JSON array", res.AIError)
	assert.Equal(t, []int64{5521}, ids(res.MatchedPayments))
	assert.Equal(t, domain.SourceManual, res.MatchedPayments[0].Source)
	assert.Equal(t, 1, llm.calls)
	assert.Contains(t, h.sink.steps(), tracelog.StepAIPrefilter)
	assert.Contains(t, h.sink.steps(), tracelog.StepAIRank)
}

func TestMatchAIOnlyMapsRankingsToCandidates(t *testing.T) {
	llm := &fakeLLM{text: `[{"db_id":5521,"score":88,"match_type":"strong","criteria":"same amount"},{"db_id":9999,"score":99}]`}
	h := newHarness(t, withRanker(airank.NewRanker(llm, nil, nil, airank.Options{DefaultModel: "m"}, zap.NewNop())))
	h.store.Payment(paymenttest.PaymentSpec{ID: 5521, Amount: "3300", Date: "2025-12-01"})

	res, err := h.svc.Match(context.Background(), baseRequest("ai",
		fileRow("bank-1", 3300, "2025-12-01", "", "", "In"),
	))
	require.NoError(t, err)
	require.Len(t, res.MatchedPayments, 1)

	got := res.MatchedPayments[0]
	assert.Equal(t, domain.SourceAI, got.Source)
	assert.Equal(t, int64(5521), got.DBPayment.ID)
	assert.Equal(t, 88.0, got.Score)
	assert.Equal(t, domain.MatchTypeStrong, got.MatchType)
	assert.Nil(t, got.Breakdown)
	assert.NotContains(t, h.sink.steps(), tracelog.StepManual)
}

func TestMatchAIWithoutRanker(t *testing.T) {
	h := newHarness(t)
	h.store.Payment(paymenttest.PaymentSpec{ID: 1, Amount: "100", Date: "2025-12-01"})

	res, err := h.svc.Match(context.Background(), baseRequest("ai",
		fileRow("x", 100, "2025-12-01", "", "", "In"),
	))
	require.NoError(t, err)
	assert.Empty(t, res.MatchedPayments)
	assert.Equal(t, "ai model not configured", res.AIError)
}

func TestMatchDateDeltaFallback(t *testing.T) {
	h := newHarness(t)
	h.store.Payment(paymenttest.PaymentSpec{ID: 30, Amount: "100", Date: "2025-12-06"})

	req := baseRequest("manual", fileRow("x", 100, "2025-12-01", "", "", "In"))
	req.DBDaysBefore, req.DBDaysAfter = 0, 0

	res, err := h.svc.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.MatchedPayments)

	req.DateDelta = 5
	res, err = h.svc.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []int64{30}, ids(res.MatchedPayments))
}

func TestMatchExcludesMergedUnlessDiagnostics(t *testing.T) {
	h := newHarness(t)
	h.store.Payment(paymenttest.PaymentSpec{ID: 40, Amount: "100", Date: "2025-12-01", Status: paymentdomain.StatusMerged, Key: paymenttest.Ptr("20251201-10000-abc")})
	h.store.Payment(paymenttest.PaymentSpec{ID: 41, Amount: "100", Date: "2025-12-01", Status: paymentdomain.StatusCompleted})

	req := baseRequest("manual", fileRow("x", 100, "2025-12-01", "", "", "In"))
	res, err := h.svc.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.MatchedPayments)

	req.WithConfirmed = true
	res, err = h.svc.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []int64{41}, ids(res.MatchedPayments))

	// The merged candidate is scored but the status penalty keeps it out.
	req.IncludeMerged = true
	res, err = h.svc.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []int64{41}, ids(res.MatchedPayments))
}

func TestMatchTopN(t *testing.T) {
	h := newHarness(t)
	for i := int64(1); i <= 20; i++ {
		h.store.Payment(paymenttest.PaymentSpec{ID: i, Amount: "100", Date: "2025-12-01"})
	}
	req := baseRequest("manual", fileRow("x", 100, "2025-12-01", "", "", "In"))

	res, err := h.svc.Match(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.MatchedPayments, service.DefaultTopN)
	assert.Equal(t, int64(1), res.MatchedPayments[0].DBPayment.ID)

	req.TopN = 3
	res, err = h.svc.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(res.MatchedPayments))
}

func TestMatchValidation(t *testing.T) {
	h := newHarness(t)
	row := fileRow("x", 100, "2025-12-01", "", "", "In")

	cases := []struct {
		name string
		req  domain.MatchRequest
		code string
	}{
		{"mode", func() domain.MatchRequest { r := baseRequest("fuzzy", row); return r }(), "invalid_mode"},
		{"amount delta", func() domain.MatchRequest { r := baseRequest("manual", row); r.AmountDelta = -1; return r }(), "invalid_amount_delta"},
		{"days", func() domain.MatchRequest { r := baseRequest("manual", row); r.DBDaysAfter = -2; return r }(), "invalid_db_days"},
		{"empty", baseRequest("manual"), "empty_selection"},
		{"mixed", baseRequest("manual", row, fileRow("y", 5, "2025-12-01", "", "", "Out")), "mixed_direction"},
		{"amount", baseRequest("manual", fileRow("x", "abc", "2025-12-01", "", "", "In")), "invalid_amount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Match(context.Background(), tc.req)
			require.ErrorIs(t, err, domain.ErrInvalidSelection)
			var selErr *domain.SelectionError
			require.ErrorAs(t, err, &selErr)
			assert.Equal(t, tc.code, selErr.Code)
		})
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	h := newHarness(t)
	apt := h.store.Apartment(1, "630-205")
	for i := int64(1); i <= 6; i++ {
		h.store.Payment(paymenttest.PaymentSpec{ID: i, Amount: fmt.Sprintf("%d", 3250+i*10), Date: "2025-12-01", ApartmentID: &apt})
	}
	req := baseRequest("manual", fileRow("x", 3300, "2025-12-01", "", "630-205", "In"))

	first, err := h.svc.Match(context.Background(), req)
	require.NoError(t, err)
	second, err := h.svc.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.MatchedPayments, second.MatchedPayments)
	assert.Equal(t, int64(5), first.MatchedPayments[0].DBPayment.ID)
}

func mergeUpdate(id int64, key string) domain.MergeUpdate {
	return domain.MergeUpdate{
		DBPaymentID:      id,
		Amount:           decimal.NewFromInt(500),
		PaymentDate:      "2025-12-01",
		Notes:            "merged",
		MergedPaymentKey: key,
	}
}

var operator = domain.Actor{Type: domain.ActorTypeUser, ID: "7", Role: "operator"}

func TestCommitCompletedFailsOthersCommit(t *testing.T) {
	h := newHarness(t)
	h.store.Payment(paymenttest.PaymentSpec{ID: 1, Amount: "500", Date: "2025-12-01", Status: paymentdomain.StatusCompleted})
	h.store.Payment(paymenttest.PaymentSpec{ID: 2, Amount: "490", Date: "2025-11-30"})

	report, err := h.svc.CommitMerges(context.Background(), operator, []domain.MergeUpdate{
		mergeUpdate(1, "20251201-50000-aaaaaaaaaaaa"),
		mergeUpdate(2, "20251201-50000-bbbbbbbbbbbb"),
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{2}, report.Committed)
	assert.Equal(t, []domain.CommitFailure{{ID: 1, Reason: domain.ReasonCompleted}}, report.Failed)

	merged := h.store.Get(2)
	assert.Equal(t, paymentdomain.StatusMerged, merged.PaymentStatus)
	assert.True(t, merged.Amount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "2025-12-01", merged.PaymentDate.UTC().Format("2006-01-02"))
	assert.Equal(t, "merged", merged.Notes)
	assert.Equal(t, paymentdomain.StatusCompleted, h.store.Get(1).PaymentStatus)

	require.Len(t, h.hook.calls, 1)
	require.Len(t, h.hook.calls[0], 1)
	assert.Equal(t, paymentdomain.StatusPending, h.hook.calls[0][0].Before.PaymentStatus)
	assert.Equal(t, paymentdomain.StatusMerged, h.hook.calls[0][0].After.PaymentStatus)

	steps := h.sink.steps()
	assert.Equal(t, tracelog.StepCommitRequest, steps[0])
	assert.Equal(t, tracelog.StepCommitDone, steps[len(steps)-1])
	assert.Contains(t, steps, tracelog.StepCommitItem)
}

func TestCommitIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.store.Payment(paymenttest.PaymentSpec{ID: 1, Amount: "500", Date: "2025-12-01"})
	updates := []domain.MergeUpdate{mergeUpdate(1, "20251201-50000-aaaaaaaaaaaa")}

	_, err := h.svc.CommitMerges(context.Background(), operator, updates)
	require.NoError(t, err)
	once := h.store.Get(1)

	report, err := h.svc.CommitMerges(context.Background(), operator, updates)
	require.NoError(t, err)
	assert.Empty(t, report.Committed)
	assert.Equal(t, []int64{1}, report.Unchanged)
	assert.Empty(t, report.Failed)
	assert.Equal(t, once, h.store.Get(1))
	assert.Len(t, h.hook.calls, 1)

	report, err = h.svc.CommitMerges(context.Background(), operator, []domain.MergeUpdate{mergeUpdate(1, "20251201-50000-cccccccccccc")})
	require.NoError(t, err)
	assert.Equal(t, []domain.CommitFailure{{ID: 1, Reason: domain.ReasonConflict}}, report.Failed)
	assert.Equal(t, "20251201-50000-aaaaaaaaaaaa", *h.store.Get(1).MergedPaymentKey)
}

func TestCommitPerItemFailures(t *testing.T) {
	h := newHarness(t)
	aptA := h.store.Apartment(1, "630-205")
	aptB := h.store.Apartment(2, "780-306")
	booking := h.store.Booking(9, aptA, nil)
	method := h.store.Method(3, "Wire")
	h.store.Payment(paymenttest.PaymentSpec{ID: 1, Amount: "500", Date: "2025-12-01", BookingID: &booking})
	h.store.Payment(paymenttest.PaymentSpec{ID: 2, Amount: "500", Date: "2025-12-01"})
	h.store.Payment(paymenttest.PaymentSpec{ID: 3, Amount: "500", Date: "2025-12-01"})
	h.store.Payment(paymenttest.PaymentSpec{ID: 4, Amount: "500", Date: "2025-12-01"})
	h.store.Payment(paymenttest.PaymentSpec{ID: 5, Amount: "500", Date: "2025-12-01", BookingID: &booking})

	mismatch := mergeUpdate(1, "k1")
	mismatch.ApartmentID = &aptB
	unknownMethod := mergeUpdate(2, "k2")
	unknownMethod.PaymentMethodID = paymenttest.Ptr(int64(99))
	unknownBank := mergeUpdate(3, "k3")
	unknownBank.BankID = paymenttest.Ptr(int64(98))
	unknownApt := mergeUpdate(4, "k4")
	unknownApt.ApartmentID = paymenttest.Ptr(int64(97))
	ok := mergeUpdate(5, "k5")
	ok.ApartmentID = &aptA
	ok.PaymentMethodID = &method

	report, err := h.svc.CommitMerges(context.Background(), operator, []domain.MergeUpdate{
		mismatch, unknownMethod, unknownBank, unknownApt, ok, mergeUpdate(404, "k6"),
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{5}, report.Committed)
	assert.Equal(t, []domain.CommitFailure{
		{ID: 1, Reason: domain.ReasonApartmentBookingMismatch},
		{ID: 2, Reason: domain.ReasonUnknownPaymentMethod},
		{ID: 3, Reason: domain.ReasonUnknownBank},
		{ID: 4, Reason: domain.ReasonUnknownApartment},
		{ID: 404, Reason: domain.ReasonNotFound},
	}, report.Failed)

	got := h.store.Get(5)
	require.NotNil(t, got.PaymentMethodID)
	assert.Equal(t, method, *got.PaymentMethodID)
	for _, id := range []int64{1, 2, 3, 4} {
		assert.Equal(t, paymentdomain.StatusPending, h.store.Get(id).PaymentStatus)
	}
}

func TestCommitInvariantRejectsWholeBatch(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.MergeUpdate)
		code   string
	}{
		{"zero amount", func(u *domain.MergeUpdate) { u.Amount = decimal.Zero }, "zero_amount"},
		{"empty key", func(u *domain.MergeUpdate) { u.MergedPaymentKey = " " }, "invalid_merged_payment_key"},
		{"bad key", func(u *domain.MergeUpdate) { u.MergedPaymentKey = "a~~b" }, "invalid_merged_payment_key"},
		{"bad date", func(u *domain.MergeUpdate) { u.PaymentDate = "12/01/2025" }, "invalid_payment_date"},
		{"date with trailing text", func(u *domain.MergeUpdate) { u.PaymentDate = "2025-12-01garbage" }, "invalid_payment_date"},
		{"no id", func(u *domain.MergeUpdate) { u.DBPaymentID = 0 }, "missing_db_payment_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.store.Payment(paymenttest.PaymentSpec{ID: 1, Amount: "500", Date: "2025-12-01"})
			h.store.Payment(paymenttest.PaymentSpec{ID: 2, Amount: "500", Date: "2025-12-01"})

			bad := mergeUpdate(2, "k2")
			tc.mutate(&bad)
			_, err := h.svc.CommitMerges(context.Background(), operator, []domain.MergeUpdate{mergeUpdate(1, "k1"), bad})

			require.ErrorIs(t, err, domain.ErrInvariantViolation)
			var invErr *domain.InvariantError
			require.ErrorAs(t, err, &invErr)
			assert.Equal(t, tc.code, invErr.Code)
			assert.Equal(t, paymentdomain.StatusPending, h.store.Get(1).PaymentStatus)
			assert.Empty(t, h.hook.calls)
		})
	}
}

type failingRepo struct {
	paymentdomain.Repository
	failOn int64
}

func (r failingRepo) ApplyMerge(ctx context.Context, db *gorm.DB, id int64, fields paymentdomain.MergeFields) error {
	if id == r.failOn {
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	return r.Repository.ApplyMerge(ctx, db, id, fields)
}

func TestCommitRollsBackOnStorageError(t *testing.T) {
	h := newHarness(t, withRepo(failingRepo{Repository: paymentrepo.Provide(), failOn: 2}))
	h.store.Payment(paymenttest.PaymentSpec{ID: 1, Amount: "500", Date: "2025-12-01"})
	h.store.Payment(paymenttest.PaymentSpec{ID: 2, Amount: "500", Date: "2025-12-01"})

	_, err := h.svc.CommitMerges(context.Background(), operator, []domain.MergeUpdate{mergeUpdate(1, "k1"), mergeUpdate(2, "k2")})
	require.ErrorIs(t, err, domain.ErrInfrastructure)
	var infra *domain.InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.True(t, infra.Retryable)

	got := h.store.Get(1)
	assert.Equal(t, paymentdomain.StatusPending, got.PaymentStatus)
	assert.Nil(t, got.MergedPaymentKey)
	assert.Empty(t, h.hook.calls)
}

func TestCommitHookFailureDoesNotUndoCommit(t *testing.T) {
	failing := &recordingHook{name: "broken", err: errors.New("smtp down")}
	after := &recordingHook{name: "after"}
	h := newHarness(t, withHooks(failing, after))
	h.store.Payment(paymenttest.PaymentSpec{ID: 1, Amount: "500", Date: "2025-12-01"})

	report, err := h.svc.CommitMerges(context.Background(), operator, []domain.MergeUpdate{mergeUpdate(1, "k1")})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, report.Committed)
	assert.Len(t, failing.calls, 1)
	assert.Len(t, after.calls, 1)
	assert.Equal(t, paymentdomain.StatusMerged, h.store.Get(1).PaymentStatus)
}

func TestCommitRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CommitMerges(context.Background(), domain.Actor{Type: domain.ActorTypeUser}, []domain.MergeUpdate{mergeUpdate(1, "k1")})
	assert.ErrorIs(t, err, domain.ErrInvalidActor)

	_, err = h.svc.CommitMerges(context.Background(), domain.SystemActor(), nil)
	assert.ErrorIs(t, err, domain.ErrEmptyUpdates)
}
