package store

import (
	"go.uber.org/zap"

	"github.com/ayusman/hasta/internal/dispatch"
	"github.com/ayusman/hasta/internal/gesture"
)

// Recorder is a pipeline observer that writes every action result to the
// history table. Write failures are logged and never reach the pipeline.
type Recorder struct {
	results *ResultRepository
	logger  *zap.Logger
}

// NewRecorder creates a Recorder backed by s.
func NewRecorder(s *Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{results: s.Results(), logger: logger}
}

// OnGestureDetected is a no-op; only action results are recorded.
func (r *Recorder) OnGestureDetected(gesture.Event) {}

// OnActionResult persists res.
func (r *Recorder) OnActionResult(res dispatch.Result) {
	if err := r.results.Create(&res); err != nil {
		r.logger.Error("Failed to record action result",
			zap.String("id", res.ID),
			zap.Error(err),
		)
	}
}
