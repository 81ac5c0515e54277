package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ayusman/hasta/internal/config"
	"github.com/ayusman/hasta/internal/dispatch"
	"github.com/ayusman/hasta/internal/gesture"
	"github.com/ayusman/hasta/internal/stats"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type call struct {
	Domain, Service, EntityID string
}

// recordingActuator records calls and returns a fixed outcome. If gate is
// set each call signals entered and then waits for gate to be closed.
type recordingActuator struct {
	mu      sync.Mutex
	calls   []call
	outcome dispatch.Outcome
	entered chan struct{}
	gate    chan struct{}
}

func (a *recordingActuator) CallService(ctx context.Context, domain, service, entityID string, data map[string]any) dispatch.Outcome {
	a.mu.Lock()
	a.calls = append(a.calls, call{domain, service, entityID})
	a.mu.Unlock()
	if a.gate != nil {
		a.entered <- struct{}{}
		<-a.gate
	}
	return a.outcome
}

func (a *recordingActuator) TestConnection(context.Context) bool { return true }

func (a *recordingActuator) Calls() []call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]call, len(a.calls))
	copy(out, a.calls)
	return out
}

func snapshotWith(threshold, minHold, cooldown float64, mappings ...config.Mapping) *config.Snapshot {
	return (&config.File{
		Recognition: config.Recognition{
			ConfidenceThreshold: threshold,
			MinHoldTime:         minHold,
			CooldownSeconds:     cooldown,
		},
		Mappings: mappings,
	}).Snapshot()
}

var lightsOn = config.Mapping{
	Name:    "Lights on",
	Gesture: "Open_Palm",
	Hand:    config.MappingRight,
	Action:  config.Action{EntityID: "light.living_room", Service: "turn_on"},
}

type harness struct {
	pipe     *Pipeline
	clock    *fakeClock
	actuator *recordingActuator
	holder   *config.Holder
}

func newHarness(t *testing.T, snap *config.Snapshot) *harness {
	t.Helper()
	clock := newFakeClock()
	act := &recordingActuator{outcome: dispatch.Outcome{Success: true, Message: "ok"}}
	holder := config.NewHolder(snap)
	logger := zaptest.NewLogger(t)
	pipe := New(Config{
		Snapshots:  holder,
		Dispatcher: dispatch.New(dispatch.Config{Actuator: act, Logger: logger, Now: clock.Now}),
		Stats:      stats.New(),
		Logger:     logger,
		Now:        clock.Now,
	})
	return &harness{pipe: pipe, clock: clock, actuator: act, holder: holder}
}

func palm(conf float64) gesture.Event {
	return gesture.Event{Gesture: "Open_Palm", Hand: gesture.HandRight, Confidence: conf}
}

func (h *harness) feedAt(t *testing.T, offset time.Duration, ev gesture.Event) *dispatch.Result {
	t.Helper()
	h.clock.Advance(offset)
	res, err := h.pipe.ProcessGesture(context.Background(), ev)
	require.NoError(t, err)
	return res
}

func TestProcessGesture_EndToEndScenario(t *testing.T) {
	h := newHarness(t, snapshotWith(0.8, 0.5, 2.0, lightsOn))

	assert.Nil(t, h.feedAt(t, 0, palm(0.9)), "t=0.0 starts the hold timer")
	assert.Nil(t, h.feedAt(t, 300*time.Millisecond, palm(0.9)), "t=0.3 not held long enough")

	res := h.feedAt(t, 300*time.Millisecond, palm(0.9))
	require.NotNil(t, res, "t=0.6 triggers")
	assert.True(t, res.Success)
	assert.Equal(t, "light.living_room", res.EntityID)
	assert.Equal(t, "light.turn_on", res.Service)
	assert.Equal(t, "Lights on", res.Mapping)
	assert.Equal(t, "Open_Palm", res.Gesture)
	assert.Equal(t, gesture.HandRight, res.Hand)

	assert.Nil(t, h.feedAt(t, 400*time.Millisecond, palm(0.9)), "t=1.0 suppressed by cooldown")

	res = h.feedAt(t, 1700*time.Millisecond, palm(0.9))
	require.NotNil(t, res, "t=2.7 triggers again")

	assert.Equal(t, []call{
		{"light", "turn_on", "light.living_room"},
		{"light", "turn_on", "light.living_room"},
	}, h.actuator.Calls())

	c := h.pipe.Stats()
	assert.Equal(t, uint64(5), c.Received)
	assert.Zero(t, c.BelowThreshold)
	assert.Equal(t, uint64(1), c.Debounced)
	assert.Equal(t, uint64(2), c.Triggered)
	assert.Equal(t, uint64(2), c.Succeeded)
	assert.Zero(t, c.Failed)
	assert.InDelta(t, 33.33, c.DebounceRate, 0.01)
}

func TestProcessGesture_EndToEndScenarioDefaults(t *testing.T) {
	f := config.Default()
	f.Mappings = []config.Mapping{lightsOn}
	h := newHarness(t, f.Snapshot())

	assert.Nil(t, h.feedAt(t, 0, palm(0.9)), "t=0.0 starts the hold timer")
	assert.Nil(t, h.feedAt(t, 300*time.Millisecond, palm(0.9)), "t=0.3 not held long enough")
	require.NotNil(t, h.feedAt(t, 300*time.Millisecond, palm(0.9)), "t=0.6 triggers")
	assert.Nil(t, h.feedAt(t, 400*time.Millisecond, palm(0.9)), "t=1.0 suppressed by cooldown")
	require.NotNil(t, h.feedAt(t, 1700*time.Millisecond, palm(0.9)), "t=2.7 triggers again")

	// A gap longer than the idle window is a new occurrence.
	assert.Nil(t, h.feedAt(t, 2500*time.Millisecond, palm(0.9)), "t=5.2 restarts the hold timer")

	c := h.pipe.Stats()
	assert.Equal(t, uint64(2), c.Triggered)
	assert.Equal(t, uint64(1), c.Debounced)
	assert.Len(t, h.actuator.Calls(), 2)
}

func TestProcessGesture_LowConfidenceNeverTouchesGates(t *testing.T) {
	h := newHarness(t, snapshotWith(0.8, 0.5, 2.0, lightsOn))

	for i := 0; i < 10; i++ {
		assert.Nil(t, h.feedAt(t, 100*time.Millisecond, palm(0.5)))
	}
	assert.Zero(t, h.pipe.hold.Len(), "low confidence must not start the hold timer")
	assert.Empty(t, h.pipe.ActiveCooldowns())

	// The next high-confidence frame is still a first observation.
	assert.Nil(t, h.feedAt(t, 100*time.Millisecond, palm(0.95)))

	c := h.pipe.Stats()
	assert.Equal(t, uint64(11), c.Received)
	assert.Equal(t, uint64(10), c.BelowThreshold)
	assert.Empty(t, h.actuator.Calls())
}

func TestProcessGesture_LowConfidenceDoesNotAdvanceHold(t *testing.T) {
	h := newHarness(t, snapshotWith(0.8, 0.5, 2.0, lightsOn))

	h.feedAt(t, 0, palm(0.9))
	h.feedAt(t, 400*time.Millisecond, palm(0.3))
	h.feedAt(t, 400*time.Millisecond, palm(0.3))

	held, ok := h.pipe.hold.HeldFor(palm(0).Key(), h.clock.Now())
	require.True(t, ok)
	assert.Equal(t, 800*time.Millisecond, held, "timer measures from the first accepted frame")
}

func TestProcessGesture_ThresholdIsInclusive(t *testing.T) {
	h := newHarness(t, snapshotWith(0.8, 0, 0, lightsOn))

	h.feedAt(t, 0, palm(0.8))
	res := h.feedAt(t, 10*time.Millisecond, palm(0.8))
	require.NotNil(t, res)
	assert.Zero(t, h.pipe.Stats().BelowThreshold)
}

func TestProcessGesture_UnmappedConsumesCooldownSilently(t *testing.T) {
	h := newHarness(t, snapshotWith(0.5, 0, 2.0, lightsOn))
	victory := gesture.Event{Gesture: "Victory", Hand: gesture.HandLeft, Confidence: 0.99}

	assert.Nil(t, h.feedAt(t, 0, victory))
	assert.Nil(t, h.feedAt(t, 10*time.Millisecond, victory))
	assert.Nil(t, h.feedAt(t, 10*time.Millisecond, victory))

	c := h.pipe.Stats()
	assert.Zero(t, c.Triggered)
	assert.Equal(t, uint64(1), c.Debounced, "third frame falls inside the cooldown started by the second")
	assert.Contains(t, h.pipe.ActiveCooldowns(), "Victory|Left")
	assert.Empty(t, h.actuator.Calls())
}

func TestProcessGesture_MalformedActionCountedAsFailure(t *testing.T) {
	broken := lightsOn
	broken.Action.Service = ""
	h := newHarness(t, snapshotWith(0.5, 0, 0, broken))

	var results []dispatch.Result
	h.pipe.Register("collector", ObserverFuncs{ActionResult: func(r dispatch.Result) { results = append(results, r) }})

	h.feedAt(t, 0, palm(0.9))
	res := h.feedAt(t, 10*time.Millisecond, palm(0.9))

	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, dispatch.ErrorKindMalformed, res.Kind)
	assert.Empty(t, h.actuator.Calls(), "malformed actions never reach the actuator")
	require.Len(t, results, 1)

	c := h.pipe.Stats()
	assert.Equal(t, uint64(1), c.Triggered)
	assert.Equal(t, uint64(1), c.Failed)
}

func TestProcessGesture_FailedActionForwarded(t *testing.T) {
	h := newHarness(t, snapshotWith(0.5, 0, 0, lightsOn))
	h.actuator.outcome = dispatch.Outcome{Error: "Service call failed: HTTP 500", StatusCode: 500, Kind: dispatch.ErrorKindStatus}

	var got []dispatch.Result
	h.pipe.Register("collector", ObserverFuncs{ActionResult: func(r dispatch.Result) { got = append(got, r) }})

	h.feedAt(t, 0, palm(0.9))
	res := h.feedAt(t, 10*time.Millisecond, palm(0.9))

	require.NotNil(t, res)
	assert.False(t, res.Success)
	require.Len(t, got, 1)
	assert.Equal(t, 500, got[0].StatusCode)
	assert.Equal(t, uint64(1), h.pipe.Stats().Failed)
}

func TestProcessGesture_ObserversNotifiedInOrder(t *testing.T) {
	h := newHarness(t, snapshotWith(0.8, 0, 0, lightsOn))

	var order []string
	h.pipe.Register("first", ObserverFuncs{
		GestureDetected: func(gesture.Event) { order = append(order, "first:gesture") },
		ActionResult:    func(dispatch.Result) { order = append(order, "first:action") },
	})
	h.pipe.Register("second", ObserverFuncs{
		GestureDetected: func(gesture.Event) { order = append(order, "second:gesture") },
	})

	h.feedAt(t, 0, palm(0.1))
	h.feedAt(t, 0, palm(0.9))
	h.feedAt(t, 10*time.Millisecond, palm(0.9))

	assert.Equal(t, []string{
		"first:gesture", "second:gesture",
		"first:gesture", "second:gesture",
		"first:gesture", "second:gesture", "first:action",
	}, order, "raw detections are reported regardless of gating")
}

func TestProcessGesture_PanickingObserverIsIsolated(t *testing.T) {
	h := newHarness(t, snapshotWith(0.8, 0, 0, lightsOn))

	var after int
	h.pipe.Register("broken", ObserverFuncs{
		GestureDetected: func(gesture.Event) { panic("observer exploded") },
		ActionResult:    func(dispatch.Result) { panic("observer exploded again") },
	})
	h.pipe.Register("healthy", ObserverFuncs{ActionResult: func(dispatch.Result) { after++ }})

	h.feedAt(t, 0, palm(0.9))
	var res *dispatch.Result
	require.NotPanics(t, func() { res = h.feedAt(t, 10*time.Millisecond, palm(0.9)) })
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, 1, after)
}

func TestProcessGesture_CancelledContext(t *testing.T) {
	h := newHarness(t, snapshotWith(0.8, 0, 0, lightsOn))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.pipe.ProcessGesture(ctx, palm(0.9))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.pipe.Stats().Received)
}

func TestProcessGesture_HoldIdleExpiry(t *testing.T) {
	f := &config.File{
		Recognition: config.Recognition{
			ConfidenceThreshold: 0.8,
			MinHoldTime:         0.5,
			CooldownSeconds:     0,
			HoldIdleTimeout:     1.0,
		},
		Mappings: []config.Mapping{lightsOn},
	}
	h := newHarness(t, f.Snapshot())

	h.feedAt(t, 0, palm(0.9))
	// Gesture vanishes for two seconds, then comes back for one frame.
	assert.Nil(t, h.feedAt(t, 2*time.Second, palm(0.9)), "stale hold state is discarded")
	assert.Nil(t, h.feedAt(t, 300*time.Millisecond, palm(0.9)))
	assert.NotNil(t, h.feedAt(t, 200*time.Millisecond, palm(0.9)))
}

func TestProcessGesture_ClearGesture(t *testing.T) {
	h := newHarness(t, snapshotWith(0.8, 0.5, 0, lightsOn))

	h.feedAt(t, 0, palm(0.9))
	h.pipe.ClearGesture(palm(0).Key())
	assert.Nil(t, h.feedAt(t, time.Second, palm(0.9)), "cleared key restarts its timer")
}

func TestProcessGesture_ReloadDuringDispatch(t *testing.T) {
	snapA := snapshotWith(0.5, 0, 0, lightsOn)
	h := newHarness(t, snapA)
	h.actuator.entered = make(chan struct{}, 1)
	h.actuator.gate = make(chan struct{})

	lightsOnB := lightsOn
	lightsOnB.Name = "Kitchen"
	lightsOnB.Action.EntityID = "light.kitchen"
	snapB := snapshotWith(0.5, 0, 0, lightsOnB)

	// Prime the hold gate.
	h.feedAt(t, 0, palm(0.9))
	h.clock.Advance(10 * time.Millisecond)

	done := make(chan *dispatch.Result)
	go func() {
		res, _ := h.pipe.ProcessGesture(context.Background(), palm(0.9))
		done <- res
	}()

	<-h.actuator.entered
	h.pipe.Reload(snapB)
	close(h.actuator.gate)
	res := <-done

	require.NotNil(t, res)
	assert.Equal(t, "light.living_room", res.EntityID, "in-flight event keeps the snapshot it started with")
	assert.Equal(t, "Lights on", res.Mapping)
	assert.Same(t, snapB, h.pipe.Snapshot())

	// The next event sees the new snapshot.
	h.actuator.gate = nil
	h.pipe.ResetGates()
	h.feedAt(t, 0, palm(0.9))
	res = h.feedAt(t, 10*time.Millisecond, palm(0.9))
	require.NotNil(t, res)
	assert.Equal(t, "light.kitchen", res.EntityID)
}

func TestProcessGesture_ConcurrentSameKeyTriggersOnce(t *testing.T) {
	h := newHarness(t, snapshotWith(0.5, 0, 10, lightsOn))
	h.feedAt(t, 0, palm(0.9))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pipe.ProcessGesture(context.Background(), palm(0.9))
		}()
	}
	wg.Wait()

	assert.Len(t, h.actuator.Calls(), 1)
	c := h.pipe.Stats()
	assert.Equal(t, uint64(1), c.Triggered)
	assert.Equal(t, uint64(31), c.Debounced)
}

func TestResetStatsAndGates(t *testing.T) {
	h := newHarness(t, snapshotWith(0.5, 0, 5, lightsOn))
	h.feedAt(t, 0, palm(0.9))
	h.feedAt(t, 10*time.Millisecond, palm(0.9))
	require.NotEmpty(t, h.pipe.ActiveCooldowns())

	h.pipe.ResetStats()
	h.pipe.ResetGates()
	assert.Equal(t, stats.Counters{}, h.pipe.Stats())
	assert.Empty(t, h.pipe.ActiveCooldowns())
	assert.True(t, h.pipe.TestConnection(context.Background()))
}
