package pipeline

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ayusman/hasta/internal/dispatch"
	"github.com/ayusman/hasta/internal/gesture"
)

// Observer receives pipeline events. Both methods are called synchronously
// on the goroutine processing the event and must not block for long.
type Observer interface {
	OnGestureDetected(ev gesture.Event)
	OnActionResult(res dispatch.Result)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	GestureDetected func(ev gesture.Event)
	ActionResult    func(res dispatch.Result)
}

func (o ObserverFuncs) OnGestureDetected(ev gesture.Event) {
	if o.GestureDetected != nil {
		o.GestureDetected(ev)
	}
}

func (o ObserverFuncs) OnActionResult(res dispatch.Result) {
	if o.ActionResult != nil {
		o.ActionResult(res)
	}
}

// observers is an ordered set of registered observers.
type observers struct {
	mu     sync.RWMutex
	list   []namedObserver
	logger *zap.Logger
}

type namedObserver struct {
	name string
	obs  Observer
}

func (o *observers) register(name string, obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, namedObserver{name: name, obs: obs})
}

func (o *observers) snapshot() []namedObserver {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.list
}

func (o *observers) gestureDetected(ev gesture.Event) {
	for _, n := range o.snapshot() {
		o.safely(n.name, "gesture", func() { n.obs.OnGestureDetected(ev) })
	}
}

func (o *observers) actionResult(res dispatch.Result) {
	for _, n := range o.snapshot() {
		o.safely(n.name, "action", func() { n.obs.OnActionResult(res) })
	}
}

// safely runs fn and logs instead of propagating a panic.
func (o *observers) safely(name, callback string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Observer failed",
				zap.String("observer", name),
				zap.String("callback", callback),
				zap.Error(fmt.Errorf("%v", r)),
			)
		}
	}()
	fn()
}
