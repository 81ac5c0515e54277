// Package pipeline gates gesture events through confidence, hold-time and
// cooldown checks and dispatches the configured action for those that pass.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/hasta/internal/config"
	"github.com/ayusman/hasta/internal/dispatch"
	"github.com/ayusman/hasta/internal/gesture"
	"github.com/ayusman/hasta/internal/stats"
)

// Config holds the pipeline dependencies.
type Config struct {
	// Snapshots publishes the configuration. Required.
	Snapshots *config.Holder
	// Dispatcher executes actions. Required.
	Dispatcher *dispatch.Dispatcher
	Stats      *stats.Aggregator
	Logger     *zap.Logger
	// Now is the gate clock. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline processes gesture events. ProcessGesture may be called from many
// goroutines at once.
type Pipeline struct {
	snapshots  *config.Holder
	dispatcher *dispatch.Dispatcher
	stats      *stats.Aggregator
	hold       *gesture.HoldGate
	debouncer  *gesture.Debouncer
	observers  observers
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	idle := gesture.DefaultHoldIdleTimeout
	if snap := cfg.Snapshots.Load(); snap != nil {
		idle = snap.HoldIdleTimeout
	}
	return &Pipeline{
		snapshots:  cfg.Snapshots,
		dispatcher: cfg.Dispatcher,
		stats:      cfg.Stats,
		hold:       gesture.NewHoldGate(idle),
		debouncer:  gesture.NewDebouncer(),
		observers:  observers{logger: cfg.Logger},
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// Register adds an observer. Observers are notified in registration order.
func (p *Pipeline) Register(name string, obs Observer) {
	p.observers.register(name, obs)
	p.logger.Info("Observer registered", zap.String("observer", name))
}

// ProcessGesture runs ev through the gates and, if it passes and a mapping
// exists, dispatches the mapped action. It returns nil when no action was
// taken. The only error is ctx's, when it is already done.
func (p *Pipeline) ProcessGesture(ctx context.Context, ev gesture.Event) (*dispatch.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.stats.IncReceived()
	snap := p.snapshots.Load()
	now := p.now()
	key := ev.Key()

	log := p.logger.With(
		zap.String("gesture", ev.Gesture),
		zap.String("hand", string(ev.Hand)),
	)
	log.Debug("Processing gesture", zap.Float64("confidence", ev.Confidence))

	p.observers.gestureDetected(ev)

	if ev.Confidence < snap.ConfidenceThreshold {
		p.stats.IncBelowThreshold()
		log.Debug("Gesture below confidence threshold",
			zap.Float64("confidence", ev.Confidence),
			zap.Float64("threshold", snap.ConfidenceThreshold),
		)
		return nil, nil
	}

	p.hold.SetIdleTimeout(snap.HoldIdleTimeout)
	held, heldFor := p.hold.Update(key, now, snap.MinHoldTime)
	if !held {
		log.Debug("Gesture not held long enough",
			zap.Duration("held_for", heldFor),
			zap.Duration("min_hold_time", snap.MinHoldTime),
		)
		return nil, nil
	}

	if !p.debouncer.ShouldTrigger(key, now, snap.Cooldown) {
		p.stats.IncDebounced()
		log.Debug("Gesture debounced",
			zap.Duration("remaining", p.debouncer.RemainingCooldown(key, now, snap.Cooldown)),
		)
		return nil, nil
	}

	mapping, ok := snap.Resolve(ev.Gesture, ev.Hand)
	if !ok {
		log.Debug("No mapping found")
		return nil, nil
	}

	log.Info("Executing action", zap.String("mapping", mapping.Name))
	p.stats.IncTriggered()

	res := p.dispatcher.Dispatch(ctx, mapping.Action)
	res.Mapping = mapping.Name
	res.Gesture = ev.Gesture
	res.Hand = ev.Hand

	p.stats.RecordResult(res.Success)
	p.observers.actionResult(res)
	return &res, nil
}

// Reload publishes snap as the configuration for subsequent events. Events
// already in progress keep the snapshot they started with.
func (p *Pipeline) Reload(snap *config.Snapshot) {
	p.snapshots.Store(snap)
	p.logger.Info("Pipeline configuration replaced",
		zap.Float64("confidence_threshold", snap.ConfidenceThreshold),
		zap.Duration("cooldown", snap.Cooldown),
		zap.Duration("min_hold_time", snap.MinHoldTime),
		zap.Int("mappings", snap.Len()),
	)
}

// ClearGesture forgets the hold timer of one gesture key, for producers
// that report when a gesture disappears.
func (p *Pipeline) ClearGesture(key gesture.Key) {
	p.hold.Clear(key)
}

// ResetGates clears all hold-time and cooldown state.
func (p *Pipeline) ResetGates() {
	p.hold.Reset()
	p.debouncer.Reset()
	p.logger.Info("Gate state reset")
}

// ActiveCooldowns returns the remaining cooldown per gesture key.
func (p *Pipeline) ActiveCooldowns() map[string]time.Duration {
	return p.debouncer.ActiveCooldowns(p.now(), p.snapshots.Load().Cooldown)
}

// Snapshot returns the configuration currently in effect.
func (p *Pipeline) Snapshot() *config.Snapshot {
	return p.snapshots.Load()
}

// Stats returns the current counters.
func (p *Pipeline) Stats() stats.Counters {
	return p.stats.Snapshot()
}

// ResetStats zeroes the counters.
func (p *Pipeline) ResetStats() {
	p.stats.Reset()
	p.logger.Info("Statistics reset")
}

// TestConnection reports whether the actuation backend is reachable.
func (p *Pipeline) TestConnection(ctx context.Context) bool {
	return p.dispatcher.TestConnection(ctx)
}
