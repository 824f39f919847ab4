package tracelog

import (
	"github.com/andyvauliln/paysync/internal/clock"
	"github.com/andyvauliln/paysync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("tracelog",
	fx.Provide(newWriterFromConfig),
	fx.Provide(func(w *Writer) Sink { return w }),
)

func newWriterFromConfig(cfg config.Config, clk clock.Clock, log *zap.Logger) *Writer {
	w := NewWriter(cfg.TraceLogPath, clk, log)
	if !w.Enabled() {
		log.Info("trace log disabled")
	}
	return w
}
