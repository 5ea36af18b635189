// Package session drives the detection engine at a fixed cadence and decides when to alert.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/lenswatch/internal/engine"
	"github.com/andresmejia3/lenswatch/internal/monitoring"
	"github.com/andresmejia3/lenswatch/internal/timeutil"
	"github.com/andresmejia3/lenswatch/internal/types"
)

// DefaultInterval is the tick period of a detecting session.
const DefaultInterval = time.Second

// alertQueueSize bounds the alerts waiting for a slow dispatcher. Alerts beyond it are dropped.
const alertQueueSize = 16

var (
	ErrAlreadyDetecting = errors.New("session is already detecting")
	ErrNotDetecting     = errors.New("session is not detecting")
	ErrTickInFlight     = errors.New("previous tick is still in flight")
)

// FrameSource hands the controller one decoded frame per call.
// Failures should be *types.CaptureError, or *types.DecodeError for unreadable frames.
type FrameSource interface {
	Capture(ctx context.Context) (*types.Frame, error)
}

// Dispatcher receives results whose confidence clears the alert threshold, in tick order, on a
// delivery goroutine owned by the controller. ctx is cancelled when the session stops.
type Dispatcher interface {
	Dispatch(ctx context.Context, result types.DetectionResult) error
}

// Analyzer runs the mode-selected pipeline on a frame. *engine.Pipeline implements it.
type Analyzer interface {
	Analyze(ctx context.Context, f *types.Frame, state types.SessionState) (types.DetectionResult, error)
}

// Config wires a Controller.
type Config struct {
	Source     FrameSource
	Dispatcher Dispatcher
	Analyzer   Analyzer
	Clock      timeutil.Clock
	Interval   time.Duration

	// SessionConfig is the initial tuning; the zero value means types.DefaultSessionConfig().
	SessionConfig types.SessionConfig

	// Observer, if set, sees every result delivered while detecting, alerting or not.
	// It runs on the tick goroutine and must return quickly.
	Observer func(types.DetectionResult)
}

// Stats counts what the scheduler did over the controller's lifetime.
type Stats struct {
	Ticks            uint64
	Skipped          uint64
	CaptureFailures  uint64
	DecodeFailures   uint64
	Discarded        uint64
	Alerts           uint64
	DispatchFailures uint64
	DispatchDropped  uint64
}

// Controller owns the session state machine: status, tuning, and the retained previous frame.
type Controller struct {
	source     FrameSource
	dispatcher Dispatcher
	analyzer   Analyzer
	clock      timeutil.Clock
	interval   time.Duration
	observer   func(types.DetectionResult)

	mu         sync.Mutex
	status     types.Status
	cfg        types.SessionConfig
	previous   *types.Frame
	last       *types.DetectionResult
	generation uint64
	tickSeq    uint64
	stopCh     chan struct{}
	loopDone   chan struct{}
	stats      Stats

	// alerts feeds the current session's delivery goroutine; nil without a dispatcher or when idle.
	alerts         chan types.DetectionResult
	cancelDelivery context.CancelFunc

	// inFlight enforces at most one running tick; timer firings that find it set are dropped.
	inFlight   atomic.Bool
	ticks      sync.WaitGroup
	deliveries sync.WaitGroup
}

// New validates cfg and returns an idle controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, errors.New("session: frame source is required")
	}
	sc := cfg.SessionConfig
	if sc == (types.SessionConfig{}) {
		sc = types.DefaultSessionConfig()
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = engine.NewPipeline(nil, nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	return &Controller{
		source:     cfg.Source,
		dispatcher: cfg.Dispatcher,
		analyzer:   cfg.Analyzer,
		clock:      cfg.Clock,
		interval:   cfg.Interval,
		observer:   cfg.Observer,
		status:     types.StatusIdle,
		cfg:        sc,
	}, nil
}

// Start moves Idle -> Detecting, clears the last result and the retained frame, and starts the tick timer.
// The session also stops when ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == types.StatusDetecting {
		return ErrAlreadyDetecting
	}

	c.status = types.StatusDetecting
	c.previous = nil
	c.last = nil
	c.tickSeq = 0
	c.generation++
	c.stopCh = make(chan struct{})
	c.loopDone = make(chan struct{})

	if c.dispatcher != nil {
		dctx, cancel := context.WithCancel(ctx)
		c.alerts = make(chan types.DetectionResult, alertQueueSize)
		c.cancelDelivery = cancel
		c.deliveries.Add(1)
		go c.deliver(dctx, c.generation, c.alerts)
	}

	ticker := c.clock.NewTicker(c.interval)
	go c.loop(ctx, ticker, c.generation, c.stopCh, c.loopDone)

	monitoring.Logf("session: detecting (mode=%s sensitivity=%.1f interval=%v)", c.cfg.Mode, c.cfg.Sensitivity, c.interval)
	return nil
}

// Stop moves Detecting -> Idle. No tick starts afterwards; a tick already running finishes its
// computation but its result is neither delivered nor retained. Queued alerts are dropped and the
// context of a delivery in progress is cancelled; Stop does not wait for the dispatcher to return.
// Stop is a no-op when idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.status != types.StatusDetecting {
		c.mu.Unlock()
		return
	}
	c.endLocked()
	done := c.loopDone
	c.mu.Unlock()

	<-done

	monitoring.Logf("session: stopped")
}

// endLocked flips to Idle and releases the timer loop. Caller holds c.mu.
func (c *Controller) endLocked() {
	c.status = types.StatusIdle
	c.previous = nil
	c.generation++
	close(c.stopCh)
	if c.alerts != nil {
		close(c.alerts)
		c.alerts = nil
		c.cancelDelivery()
	}
}

// Wait blocks until every tick goroutine started by the timer and every delivery goroutine has
// returned. A dispatcher that ignores its context holds Wait until it comes back.
func (c *Controller) Wait() {
	c.ticks.Wait()
	c.deliveries.Wait()
}

func (c *Controller) loop(ctx context.Context, ticker timeutil.Ticker, gen uint64, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.generation == gen && c.status == types.StatusDetecting {
				c.endLocked()
				monitoring.Logf("session: stopping due to context cancellation")
			}
			c.mu.Unlock()
			return
		case <-stopCh:
			return
		case <-ticker.C():
			c.ticks.Add(1)
			go func() {
				defer c.ticks.Done()
				if _, err := c.runTick(ctx, gen); err != nil && errors.Is(err, ErrTickInFlight) {
					monitoring.Logf("session: timer fired while previous tick still running, skipped")
				}
			}()
		}
	}
}

// Tick runs one capture-analyze-score cycle immediately, subject to the same in-flight guard as the
// timer. It returns the delivered result, or nil with an error when the tick was skipped
// (ErrTickInFlight, ErrNotDetecting, *types.CaptureError) or discarded because the session stopped.
// A *types.DecodeError is returned alongside the empty result it produced.
func (c *Controller) Tick(ctx context.Context) (*types.DetectionResult, error) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	return c.runTick(ctx, gen)
}

func (c *Controller) runTick(ctx context.Context, gen uint64) (*types.DetectionResult, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.mu.Lock()
		c.stats.Skipped++
		c.mu.Unlock()
		return nil, ErrTickInFlight
	}
	defer c.inFlight.Store(false)

	// 1. Snapshot the session context for this tick
	c.mu.Lock()
	if c.status != types.StatusDetecting || c.generation != gen {
		c.mu.Unlock()
		return nil, ErrNotDetecting
	}
	c.tickSeq++
	seq := c.tickSeq
	state := types.SessionState{Status: c.status, Previous: c.previous, Config: c.cfg}
	c.stats.Ticks++
	c.mu.Unlock()

	// 2. Pull a frame
	frame, err := c.source.Capture(ctx)
	var decodeErr *types.DecodeError
	if err != nil && !errors.As(err, &decodeErr) {
		var capErr *types.CaptureError
		if !errors.As(err, &capErr) {
			capErr = &types.CaptureError{Err: err}
		}
		c.mu.Lock()
		c.stats.CaptureFailures++
		c.mu.Unlock()
		monitoring.Logf("session: tick %d skipped: %v", seq, capErr)
		return nil, capErr
	}
	if decodeErr != nil {
		frame = nil
	}

	// 3. Analyze. A nil or malformed frame comes back as an empty result with a DecodeError.
	result, err := c.analyzer.Analyze(ctx, frame, state)
	if err != nil {
		if !errors.As(err, &decodeErr) {
			monitoring.Logf("session: tick %d analysis failed: %v", seq, err)
			return nil, err
		}
		result = types.NewDetectionResult(state.Config.Mode)
		if frame != nil {
			result.CapturedAt = frame.CapturedAt
		}
	}
	result.Tick = seq
	if result.CapturedAt.IsZero() {
		result.CapturedAt = c.clock.Now()
	}

	// 4. Deliver, unless the session stopped while we were working
	c.mu.Lock()
	if c.status != types.StatusDetecting || c.generation != gen {
		c.stats.Discarded++
		c.mu.Unlock()
		return nil, ErrNotDetecting
	}
	if decodeErr == nil {
		c.previous = frame
	} else {
		c.stats.DecodeFailures++
	}
	last := result
	c.last = &last
	if result.Alerting() {
		c.stats.Alerts++
		c.enqueueLocked(result)
	}
	c.mu.Unlock()

	if c.observer != nil {
		c.observer(result)
	}

	if decodeErr != nil {
		monitoring.Logf("session: tick %d produced an empty result: %v", seq, decodeErr)
		return &result, decodeErr
	}
	return &result, nil
}

// enqueueLocked queues an alert for the delivery goroutine without blocking the tick. Caller holds c.mu.
func (c *Controller) enqueueLocked(result types.DetectionResult) {
	if c.alerts == nil {
		return
	}
	select {
	case c.alerts <- result:
	default:
		c.stats.DispatchDropped++
		monitoring.Logf("session: alert for tick %d dropped, dispatcher is %d alerts behind", result.Tick, alertQueueSize)
	}
}

// deliver hands queued alerts to the dispatcher one at a time until the queue is closed. Alerts of a
// session that has since stopped are discarded.
func (c *Controller) deliver(ctx context.Context, gen uint64, queue <-chan types.DetectionResult) {
	defer c.deliveries.Done()
	for result := range queue {
		c.mu.Lock()
		live := c.status == types.StatusDetecting && c.generation == gen
		if !live {
			c.stats.Discarded++
		}
		c.mu.Unlock()

		if live {
			c.dispatch(ctx, result)
		}
	}
}

// dispatch hands the result to the dispatcher. Dispatcher errors and panics are logged and counted,
// never propagated into session state.
func (c *Controller) dispatch(ctx context.Context, result types.DetectionResult) {
	if c.dispatcher == nil {
		return
	}

	failed := func(reason interface{}) {
		c.mu.Lock()
		c.stats.DispatchFailures++
		c.mu.Unlock()
		monitoring.Logf("session: alert dispatch for tick %d failed: %v", result.Tick, reason)
	}

	defer func() {
		if r := recover(); r != nil {
			failed(r)
		}
	}()

	if err := c.dispatcher.Dispatch(ctx, result); err != nil {
		failed(err)
	}
}

// AdjustSensitivity shifts sensitivity by delta (normally ±0.1), clamped to [0.1, 0.9].
// The new value applies from the next tick. It returns the stored value.
func (c *Controller) AdjustSensitivity(delta float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Sensitivity = types.ClampSensitivity(c.cfg.Sensitivity + delta)
	return c.cfg.Sensitivity
}

// SetMode switches the pipeline used from the next tick. The retained frame is kept, so Motion mode
// compares against it if one exists and has the same dimensions.
func (c *Controller) SetMode(mode types.Mode) error {
	m, err := types.ParseMode(string(mode))
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Mode = m
	return nil
}

// SetConfig replaces the whole tuning. Sensitivity is snapped to the 0.1 grid first.
func (c *Controller) SetConfig(cfg types.SessionConfig) error {
	cfg.Sensitivity = types.ClampSensitivity(cfg.Sensitivity)
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	return nil
}

// Config returns the current tuning.
func (c *Controller) Config() types.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Status returns Idle or Detecting.
func (c *Controller) Status() types.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State returns a snapshot of the session context. The retained frame is shared, not copied;
// frames are immutable.
func (c *Controller) State() types.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.SessionState{Status: c.status, Previous: c.previous, Config: c.cfg}
}

// LastResult returns the most recent delivered result of the current session, if any.
func (c *Controller) LastResult() (types.DetectionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return types.DetectionResult{}, false
	}
	return *c.last, true
}

// Stats returns a snapshot of the scheduler counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Interval returns the tick period.
func (c *Controller) Interval() time.Duration {
	return c.interval
}
