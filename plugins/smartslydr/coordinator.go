package smartslydr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/joshp123/smartslydr/internal/core"
)

// DeviceSource lists every device on the account. *Client satisfies it.
type DeviceSource interface {
	DeviceList(ctx context.Context) (Devices, error)
}

// Coordinator owns the device cache. It polls the source on a fixed interval
// and on demand, with at most one poll in flight. A failed poll never touches
// the cache.
type Coordinator struct {
	source   DeviceSource
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	pollMu   sync.Mutex
	inflight *pollCall
	next     *pollCall
	requests chan struct{}

	mu            sync.RWMutex
	devices       Devices
	lastUpdate    time.Time
	health        core.HealthStatus
	healthMessage string

	subMu     sync.Mutex
	nextSubID int
	onConfirm map[int]func(Devices)
	onUpdate  map[int]func(Devices)
	onFailure map[int]func(error)
}

// pollCall is one poll and the callers sharing its result.
type pollCall struct {
	done   chan struct{}
	err    error
	shared int
}

func newPollCall() *pollCall {
	return &pollCall{done: make(chan struct{})}
}

func NewCoordinator(source DeviceSource, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &Coordinator{
		source:        source,
		interval:      interval,
		logger:        log.With().Str("plugin", "smartslydr").Str("component", "coordinator").Logger(),
		now:           time.Now,
		requests:      make(chan struct{}, 1),
		health:        core.HealthDegraded,
		healthMessage: "waiting for first poll",
		onConfirm:     make(map[int]func(Devices)),
		onUpdate:      make(map[int]func(Devices)),
		onFailure:     make(map[int]func(error)),
	}
}

func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Refresh runs a poll and returns its result. On failure it returns
// ErrAuthFailed or ErrUpdateFailed wrapping the cause. A caller arriving while
// a poll is in flight does not start its own: every such caller shares the
// single poll that follows the in-flight one.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.pollMu.Lock()
	if c.inflight == nil {
		call := c.next
		if call == nil {
			call = newPollCall()
		}
		c.next = nil
		c.inflight = call
		c.pollMu.Unlock()
		return c.lead(ctx, call)
	}

	running := c.inflight
	if c.next == nil {
		c.next = newPollCall()
	}
	call := c.next
	call.shared++
	c.pollMu.Unlock()

	select {
	case <-running.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.pollMu.Lock()
	if c.inflight == nil && c.next == call {
		c.next = nil
		c.inflight = call
		c.pollMu.Unlock()
		return c.lead(ctx, call)
	}
	c.pollMu.Unlock()

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) lead(ctx context.Context, call *pollCall) error {
	if call.shared > 0 {
		c.logger.Debug().Int("callers", call.shared).Msg("coalesced refresh requests")
	}
	call.err = c.poll(ctx)

	c.pollMu.Lock()
	c.inflight = nil
	close(call.done)
	c.pollMu.Unlock()
	return call.err
}

func (c *Coordinator) poll(ctx context.Context) error {
	start := time.Now()
	devices, err := c.source.DeviceList(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.fail(err, start)
	}

	c.mu.Lock()
	c.devices = devices.Clone()
	c.lastUpdate = c.now()
	c.health = core.HealthHealthy
	c.healthMessage = ""
	c.mu.Unlock()

	observePoll("success", start)
	c.logger.Debug().Int("devices", len(devices)).Msg("poll succeeded")

	for _, fn := range c.handlers(c.onConfirm) {
		fn(devices.Clone())
	}
	for _, fn := range c.handlers(c.onUpdate) {
		fn(devices.Clone())
	}
	return nil
}

func (c *Coordinator) fail(cause error, start time.Time) error {
	var err error
	outcome := "update_failed"
	health := core.HealthDegraded
	if IsAuthError(cause) {
		err = fmt.Errorf("%w: %w", ErrAuthFailed, cause)
		outcome = "auth_failed"
		health = core.HealthError
	} else {
		err = fmt.Errorf("%w: %w", ErrUpdateFailed, cause)
	}

	c.mu.Lock()
	c.health = health
	c.healthMessage = cause.Error()
	c.mu.Unlock()

	observePoll(outcome, start)
	c.logger.Warn().Err(cause).Str("outcome", outcome).Msg("poll failed")

	for _, fn := range c.failureHandlers() {
		fn(err)
	}
	return err
}

// RequestRefresh asks the Run loop for a poll without blocking. Requests made
// while a poll is in flight collapse into a single follow-up poll.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

// Run polls on the interval and on request until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", c.interval).Msg("polling started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("polling stopped")
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		case <-c.requests:
			_ = c.Refresh(ctx)
		}
	}
}

// Devices returns a copy of the cache.
func (c *Coordinator) Devices() Devices {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices.Clone()
}

func (c *Coordinator) Device(id string) (Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dev, ok := c.devices[id]
	return dev, ok
}

// Loaded reports whether at least one poll has succeeded.
func (c *Coordinator) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.lastUpdate.IsZero()
}

func (c *Coordinator) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

func (c *Coordinator) Health() core.HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

func (c *Coordinator) HealthMessage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthMessage
}

// Subscribe registers fn for every successful poll. Handlers run on the
// polling goroutine and must not block.
func (c *Coordinator) Subscribe(fn func(Devices)) (cancel func()) {
	return c.register(c.onUpdate, fn)
}

// OnConfirm registers fn to run after a successful poll has replaced the
// cache and before any Subscribe handler sees it. Device views use it to
// drop state the poll supersedes.
func (c *Coordinator) OnConfirm(fn func(Devices)) (cancel func()) {
	return c.register(c.onConfirm, fn)
}

// OnFailure registers fn for every failed poll. errors.Is(err, ErrAuthFailed)
// tells a credential problem from a transient one.
func (c *Coordinator) OnFailure(fn func(error)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.onFailure[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.onFailure, id)
	}
}

func (c *Coordinator) register(set map[int]func(Devices), fn func(Devices)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	set[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(set, id)
	}
}

func (c *Coordinator) handlers(set map[int]func(Devices)) []func(Devices) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]func(Devices), 0, len(set))
	for _, fn := range set {
		out = append(out, fn)
	}
	return out
}

func (c *Coordinator) failureHandlers() []func(error) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]func(error), 0, len(c.onFailure))
	for _, fn := range c.onFailure {
		out = append(out, fn)
	}
	return out
}

// IsAuthFailure reports whether a poll error means the credentials were rejected.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthFailed)
}
