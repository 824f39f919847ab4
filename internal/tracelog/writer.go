package tracelog

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andyvauliln/paysync/internal/clock"
	"go.uber.org/zap"
)

// Sink receives trace events. Implementations never fail the caller.
type Sink interface {
	Append(ctx context.Context, ev Event)
}

type Writer struct {
	mu    sync.Mutex
	path  string
	clock clock.Clock
	log   *zap.Logger
}

// NewWriter returns a writer for path. An empty path disables writes.
func NewWriter(path string, clk clock.Clock, log *zap.Logger) *Writer {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		path:  strings.TrimSpace(path),
		clock: clk,
		log:   log.Named("tracelog"),
	}
}

func (w *Writer) Enabled() bool {
	return w != nil && w.path != ""
}

func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Append writes ev as one JSON line. Failures are logged and dropped.
func (w *Writer) Append(_ context.Context, ev Event) {
	if !w.Enabled() {
		return
	}
	if ev.TS == "" {
		ev.TS = w.clock.Now().UTC().Format(time.RFC3339Nano)
	}

	line, err := json.Marshal(ev)
	if err != nil {
		w.log.Warn("trace event not serializable", zap.String("rid", ev.RID), zap.String("step", ev.Step), zap.Error(err))
		return
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		w.log.Warn("trace log open failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		w.log.Warn("trace log write failed", zap.String("path", w.path), zap.Error(err))
	}
}

// Step is a shorthand for Append.
func (w *Writer) Step(ctx context.Context, rid, step string, payload map[string]any) {
	w.Append(ctx, Event{RID: rid, Step: step, Payload: payload})
}

// Nop discards events.
type Nop struct{}

func (Nop) Append(context.Context, Event) {}
