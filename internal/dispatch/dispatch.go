// Package dispatch executes configured actions through an actuation backend
// and normalizes every outcome into a Result value.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayusman/hasta/internal/config"
	"github.com/ayusman/hasta/internal/gesture"
)

// ErrorKind classifies a failed action.
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindMalformed ErrorKind = "malformed_action"
	ErrorKindTimeout   ErrorKind = "timeout"
	ErrorKindNetwork   ErrorKind = "network"
	ErrorKindStatus    ErrorKind = "status"
	ErrorKindInternal  ErrorKind = "internal"
)

// Outcome is what an Actuator reports for one service call.
type Outcome struct {
	Success    bool
	Message    string
	Error      string
	StatusCode int
	Kind       ErrorKind
}

// Actuator is a device actuation backend. Implementations apply their own
// request timeout and never panic on transport failures.
type Actuator interface {
	CallService(ctx context.Context, domain, service, entityID string, data map[string]any) Outcome
	TestConnection(ctx context.Context) bool
}

// Result records the outcome of one dispatched action.
type Result struct {
	ID         string       `json:"id"`
	Success    bool         `json:"success"`
	EntityID   string       `json:"entity_id,omitempty"`
	Service    string       `json:"service,omitempty"`
	Message    string       `json:"message,omitempty"`
	Error      string       `json:"error,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
	Kind       ErrorKind    `json:"error_kind,omitempty"`
	Mapping    string       `json:"mapping,omitempty"`
	Gesture    string       `json:"gesture,omitempty"`
	Hand       gesture.Hand `json:"hand,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
	Duration   string       `json:"duration,omitempty"`
}

// Config holds the dispatcher dependencies.
type Config struct {
	Actuator Actuator
	Logger   *zap.Logger
	Now      func() time.Time
}

// Dispatcher sends actions to an Actuator. It does not retry.
type Dispatcher struct {
	actuator Actuator
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		actuator: cfg.Actuator,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Dispatch executes action and returns its result. Actions without an
// entity id or service fail locally and never reach the actuator.
func (d *Dispatcher) Dispatch(ctx context.Context, action config.Action) Result {
	start := d.now()
	res := Result{
		ID:        uuid.NewString(),
		EntityID:  action.EntityID,
		Timestamp: start,
	}

	if action.EntityID == "" || action.Service == "" {
		res.Error = "missing entity_id or service in action"
		res.Kind = ErrorKindMalformed
		d.logger.Warn("Rejected malformed action",
			zap.String("entity_id", action.EntityID),
			zap.String("service", action.Service),
		)
		return res
	}

	domain := action.Domain()
	res.Service = domain + "." + action.Service

	if d.actuator == nil {
		res.Error = "no actuator configured"
		res.Kind = ErrorKindInternal
		return res
	}

	out := d.call(ctx, domain, action)
	res.Success = out.Success
	res.Message = out.Message
	res.Error = out.Error
	res.StatusCode = out.StatusCode
	res.Kind = out.Kind
	if !res.Success && res.Kind == ErrorKindNone {
		res.Kind = ErrorKindInternal
	}
	if !res.Success && res.Error == "" {
		res.Error = "action failed"
	}
	res.Duration = d.now().Sub(start).String()

	if res.Success {
		d.logger.Info("Action succeeded",
			zap.String("entity_id", res.EntityID),
			zap.String("service", res.Service),
		)
	} else {
		d.logger.Error("Action failed",
			zap.String("entity_id", res.EntityID),
			zap.String("service", res.Service),
			zap.String("kind", string(res.Kind)),
			zap.Int("status_code", res.StatusCode),
			zap.String("error", res.Error),
		)
	}
	return res
}

// call invokes the actuator, converting a panic into a failed outcome.
func (d *Dispatcher) call(ctx context.Context, domain string, action config.Action) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{
				Error: fmt.Sprintf("actuator panic: %v", r),
				Kind:  ErrorKindInternal,
			}
		}
	}()
	return d.actuator.CallService(ctx, domain, action.Service, action.EntityID, action.Data)
}

// TestConnection reports whether the actuator is reachable.
func (d *Dispatcher) TestConnection(ctx context.Context) bool {
	if d.actuator == nil {
		return false
	}
	return d.actuator.TestConnection(ctx)
}
