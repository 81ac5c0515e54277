package app

import (
	"go.uber.org/zap"

	"github.com/ayusman/hasta/internal/dispatch"
	"github.com/ayusman/hasta/internal/gesture"
	"github.com/ayusman/hasta/internal/pipeline"
)

// logObserver reports detections at debug level and action results at info
// or error level.
func logObserver(logger *zap.Logger) pipeline.Observer {
	return pipeline.ObserverFuncs{
		GestureDetected: func(ev gesture.Event) {
			logger.Debug("Gesture detected",
				zap.String("gesture", ev.Gesture),
				zap.String("hand", string(ev.Hand)),
				zap.Float64("confidence", ev.Confidence),
			)
		},
		ActionResult: func(res dispatch.Result) {
			fields := []zap.Field{
				zap.String("mapping", res.Mapping),
				zap.String("entity_id", res.EntityID),
				zap.String("service", res.Service),
				zap.String("duration", res.Duration),
			}
			if res.Success {
				logger.Info("Action succeeded", append(fields, zap.String("message", res.Message))...)
				return
			}
			logger.Error("Action failed", append(fields,
				zap.String("error", res.Error),
				zap.String("error_kind", string(res.Kind)),
			)...)
		},
	}
}
