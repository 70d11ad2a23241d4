// Package observers provides ready-made progress.Observer implementations.
package observers

import (
	"go.uber.org/zap"

	"github.com/Chanseok/matter-certis-crawler/internal/progress"
)

// LogObserver emits structured logs for progress snapshots. Useful during
// development or manual gap-collection runs.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver wires a zap logger to the observer interface.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{logger: logger}
}

// Observe logs the snapshot using structured fields. Terminal snapshots log
// at Info, intermediate ones at Debug to keep steady-state output quiet.
func (o *LogObserver) Observe(snap progress.Snapshot) {
	fields := []zap.Field{
		zap.String("session_id", snap.SessionID),
		zap.String("stage", string(snap.Stage)),
		zap.Int("processed", snap.Processed),
		zap.Int("total", snap.Total),
		zap.Float64("percentage", snap.Percentage),
		zap.Duration("elapsed", snap.Elapsed),
		zap.Duration("remaining", snap.Remaining),
		zap.Int("new", snap.New),
		zap.Int("updated", snap.Updated),
		zap.Int("failed", snap.Failed),
	}
	if snap.Terminal {
		if snap.Error != "" {
			fields = append(fields, zap.String("error", snap.Error))
		}
		o.logger.Info("crawl stage finished", fields...)
		return
	}
	o.logger.Debug("crawl progress", fields...)
}
