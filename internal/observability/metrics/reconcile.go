package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeTimeout     = "timeout"
	OutcomeParseError  = "parse_error"
	OutcomeRequestFail = "request_failed"
	OutcomeRateLimited = "rate_limited"
	OutcomeNotConfig   = "not_configured"

	OutcomeCommitted = "committed"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

const (
	DBReasonDeadlineExceeded     = "deadline_exceeded"
	DBReasonLockTimeout          = "db_lock_timeout"
	DBReasonSerializationFailure = "serialization_failure"
	DBReasonDeadlock             = "deadlock"
	DBReasonUniqueViolation      = "unique_violation"
	DBReasonUnknown              = "unknown"
)

// ReconcileMetrics are the prometheus series scraped from /metrics for the
// match and commit paths.
type ReconcileMetrics struct {
	matchRequests *prometheus.CounterVec
	matchDuration *prometheus.HistogramVec
	aiRank        *prometheus.CounterVec
	commitItems   *prometheus.CounterVec
	dbErrors      *prometheus.CounterVec
}

var (
	reconcileOnce    sync.Once
	reconcileMetrics *ReconcileMetrics
)

// Reconcile returns the process-wide registry-backed metrics.
func Reconcile(cfg Config) *ReconcileMetrics {
	reconcileOnce.Do(func() {
		reconcileMetrics = NewReconcileMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reconcileMetrics
}

// ResetReconcileForTest drops the singleton so tests can register again.
func ResetReconcileForTest() {
	reconcileOnce = sync.Once{}
	reconcileMetrics = nil
}

func NewReconcileMetrics(registerer prometheus.Registerer, cfg Config) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "paysync"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &ReconcileMetrics{
		matchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paysync_match_requests_total",
			Help:        "Match requests by mode.",
			ConstLabels: constLabels,
		}, []string{"mode"}),
		matchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "paysync_match_duration_seconds",
			Help:        "End to end match latency including the AI round trip.",
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			ConstLabels: constLabels,
		}, []string{"mode"}),
		aiRank: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paysync_ai_rank_total",
			Help:        "AI ranking attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		commitItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paysync_commit_items_total",
			Help:        "Merge commit items by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		dbErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paysync_db_errors_total",
			Help:        "Database errors on the reconcile path by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"op", "reason"}),
	}

	registerer.MustRegister(m.matchRequests, m.matchDuration, m.aiRank, m.commitItems, m.dbErrors)
	return m
}

func (m *ReconcileMetrics) ObserveMatch(mode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	mode = normalizeLabel(mode)
	m.matchRequests.WithLabelValues(mode).Inc()
	m.matchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *ReconcileMetrics) IncAIRank(outcome string) {
	if m == nil {
		return
	}
	m.aiRank.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *ReconcileMetrics) AddCommitItems(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.commitItems.WithLabelValues(normalizeLabel(outcome)).Add(float64(n))
}

func (m *ReconcileMetrics) IncDBError(op string, err error) {
	if m == nil || err == nil {
		return
	}
	m.dbErrors.WithLabelValues(normalizeLabel(op), ClassifyDBReason(err)).Inc()
}

// ClassifyDBReason maps storage errors to a fixed label set.
func ClassifyDBReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return DBReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return DBReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return DBReasonLockTimeout
		case "40001":
			return DBReasonSerializationFailure
		case "40P01":
			return DBReasonDeadlock
		case "23505":
			return DBReasonUniqueViolation
		}
	}
	return DBReasonUnknown
}

// IsRetryableDB reports transient database conditions a client may retry.
func IsRetryableDB(err error) bool {
	switch ClassifyDBReason(err) {
	case DBReasonLockTimeout, DBReasonSerializationFailure, DBReasonDeadlock, DBReasonDeadlineExceeded:
		return true
	default:
		return false
	}
}

func normalizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
