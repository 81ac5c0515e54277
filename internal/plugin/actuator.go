package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ayusman/hasta/internal/dispatch"
)

// Actuator executes service calls through a single named plugin.
type Actuator struct {
	manager  *Manager
	executor *Executor
	name     string
	logger   *zap.Logger
}

// NewActuator creates an Actuator that routes every call to the plugin called
// name.
func NewActuator(manager *Manager, executor *Executor, name string, logger *zap.Logger) *Actuator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actuator{
		manager:  manager,
		executor: executor,
		name:     name,
		logger:   logger,
	}
}

// CallService implements dispatch.Actuator.
func (a *Actuator) CallService(ctx context.Context, domain, service, entityID string, data map[string]any) dispatch.Outcome {
	plug, err := a.manager.Get(a.name)
	if err != nil {
		return dispatch.Outcome{
			Error: fmt.Sprintf("%s: %v", a.name, err),
			Kind:  dispatch.ErrorKindInternal,
		}
	}
	if !plug.Manifest.Handles(domain) {
		return dispatch.Outcome{
			Error: fmt.Sprintf("plugin %s does not handle domain %s", a.name, domain),
			Kind:  dispatch.ErrorKindMalformed,
		}
	}

	resp, err := a.executor.Execute(ctx, plug, &Request{
		Domain:   domain,
		Service:  service,
		EntityID: entityID,
		Data:     data,
	})
	if err != nil {
		kind := dispatch.ErrorKindInternal
		if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			kind = dispatch.ErrorKindTimeout
		}
		a.logger.Debug("Plugin execution error", zap.String("plugin", a.name), zap.Error(err))
		return dispatch.Outcome{Error: err.Error(), Kind: kind}
	}

	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "plugin reported failure"
		}
		return dispatch.Outcome{Error: msg, Message: resp.Message, Kind: dispatch.ErrorKindStatus}
	}

	msg := resp.Message
	if msg == "" {
		msg = fmt.Sprintf("%s - %s executed successfully", entityID, service)
	}
	return dispatch.Outcome{Success: true, Message: msg}
}

// TestConnection reports whether the configured plugin is discovered and its
// executable exists.
func (a *Actuator) TestConnection(context.Context) bool {
	plug, err := a.manager.Get(a.name)
	if err != nil {
		return false
	}
	info, err := os.Stat(plug.Executable)
	return err == nil && !info.IsDir()
}
