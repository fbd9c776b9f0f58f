package smartslydr

import (
	"context"
	"fmt"
	"sync"
)

// Commander sends position commands. *Client satisfies it.
type Commander interface {
	SetPosition(ctx context.Context, deviceID string, position int) bool
}

// Movement is the local guess of which way a cover is travelling.
type Movement int

const (
	MovementClosing Movement = -1
	MovementIdle    Movement = 0
	MovementOpening Movement = 1
)

// Cover is the actuator view of one device. State is read from the
// coordinator's cache; commands go through the Commander and are followed by
// an on-demand poll.
type Cover struct {
	id          string
	commander   Commander
	coordinator *Coordinator

	mu     sync.Mutex
	moving Movement
	cancel func()
}

func NewCover(id string, commander Commander, coordinator *Coordinator) *Cover {
	c := &Cover{id: id, commander: commander, coordinator: coordinator}
	c.cancel = coordinator.OnConfirm(func(Devices) {
		c.setMoving(MovementIdle)
	})
	return c
}

// Release detaches the cover from coordinator updates.
func (c *Cover) Release() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Cover) ID() string {
	return c.id
}

func (c *Cover) Device() (Device, bool) {
	return c.coordinator.Device(c.id)
}

func (c *Cover) Name() string {
	if dev, ok := c.Device(); ok && dev.Name != "" {
		return dev.Name
	}
	return c.id
}

// Position is the last polled position, or -1 before the device has been seen.
func (c *Cover) Position() int {
	dev, ok := c.Device()
	if !ok {
		return -1
	}
	return dev.Position
}

func (c *Cover) IsOpen() bool {
	dev, ok := c.Device()
	return ok && dev.Open()
}

func (c *Cover) IsClosed() bool {
	dev, ok := c.Device()
	return ok && dev.Closed()
}

func (c *Cover) IsOnline() bool {
	dev, ok := c.Device()
	return ok && dev.Online()
}

func (c *Cover) Movement() Movement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moving
}

func (c *Cover) IsOpening() bool {
	return c.Movement() == MovementOpening
}

func (c *Cover) IsClosing() bool {
	return c.Movement() == MovementClosing
}

// State renders the cover as open, closed, opening or closing.
func (c *Cover) State() string {
	switch {
	case c.IsOpening():
		return "opening"
	case c.IsClosing():
		return "closing"
	case c.IsClosed():
		return "closed"
	default:
		return "open"
	}
}

func (c *Cover) Open(ctx context.Context) error {
	return c.SetPosition(ctx, 100)
}

func (c *Cover) Close(ctx context.Context) error {
	return c.SetPosition(ctx, 0)
}

// SetPosition moves the cover to target (0-100). A nil error means the cloud
// accepted the command, not that the door has arrived.
func (c *Cover) SetPosition(ctx context.Context, target int) error {
	if target < 0 || target > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, target)
	}

	c.setMoving(guessMovement(c.Position(), target))
	ok := c.commander.SetPosition(ctx, c.id, target)
	if !ok {
		c.setMoving(MovementIdle)
	}
	c.coordinator.RequestRefresh()

	if !ok {
		return fmt.Errorf("set %s to %d: %w", c.id, target, ErrCommandFailed)
	}
	return nil
}

func (c *Cover) setMoving(m Movement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moving = m
}

func guessMovement(current, target int) Movement {
	switch {
	case current < 0 || current == target:
		return MovementIdle
	case target > current:
		return MovementOpening
	default:
		return MovementClosing
	}
}
