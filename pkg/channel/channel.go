package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"avaneesh/vwtp-go/pkg/can"
	"avaneesh/vwtp-go/internal/logger"
)

// Channel reads frames from a Bus one at a time and routes them by CAN id.
// A handler runs to completion before the next frame is read.
type Channel struct {
	id     string
	bus    Bus
	router *Router
	stats  *Statistics
	logger logger.Logger

	state   ChannelState
	stateMu sync.RWMutex
}

// New creates a new channel over bus
func New(id string, bus Bus, log logger.Logger) *Channel {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Channel{
		id:     id,
		bus:    bus,
		router: NewRouter(),
		stats:  NewStatistics(),
		logger: log,
		state:  ChannelStateOpen,
	}
}

// ID returns the channel ID
func (c *Channel) ID() string {
	return c.id
}

// AddHandler routes frames on id to h
func (c *Channel) AddHandler(id uint32, h Handler) error {
	if err := c.router.AddHandler(id, h); err != nil {
		return err
	}
	c.logger.Debug("Channel %s: handler added for 0x%03X", c.id, id)
	return nil
}

// Run reads and routes frames until ctx is cancelled or the bus is closed.
// Per-frame errors are logged and counted, never returned.
func (c *Channel) Run(ctx context.Context) error {
	c.logger.Debug("Channel %s read loop started", c.id)
	defer c.logger.Debug("Channel %s read loop stopped", c.id)

	for {
		frame, err := c.bus.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrBusClosed) {
				return err
			}
			c.logger.Error("Channel %s read error: %v", c.id, err)
			continue
		}

		c.Deliver(ctx, frame)
	}
}

// Deliver routes one received frame to its handler.
// The handler error is logged, counted and returned.
func (c *Channel) Deliver(ctx context.Context, frame can.Frame) error {
	c.stats.FrameRx()
	c.logger.Debug("Channel %s rx %s", c.id, frame)

	err := c.router.Route(ctx, frame)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNoRoute) {
		c.stats.Unrouted()
		return err
	}
	c.stats.HandlerError()
	c.logger.Warn("Channel %s: %v", c.id, err)
	return err
}

// Write transmits frame on the bus
func (c *Channel) Write(ctx context.Context, frame can.Frame) error {
	if c.State() != ChannelStateOpen {
		return ErrBusClosed
	}

	if err := c.bus.Write(ctx, frame); err != nil {
		c.stats.WriteError()
		c.logger.Error("Channel %s write error: %v", c.id, err)
		return err
	}

	c.stats.FrameTx()
	c.logger.Debug("Channel %s tx %s", c.id, frame)
	return nil
}

// Close drops all handlers and closes the underlying bus
func (c *Channel) Close() error {
	c.stateMu.Lock()
	if c.state == ChannelStateClosed {
		c.stateMu.Unlock()
		return nil
	}
	c.state = ChannelStateClosed
	c.stateMu.Unlock()

	c.logger.Info("Channel %s closing", c.id)
	c.router.Clear()
	return c.bus.Close()
}

// GetStatistics returns channel statistics
func (c *Channel) GetStatistics() *Statistics {
	return c.stats
}

// GetBusStatistics returns bus adapter statistics
func (c *Channel) GetBusStatistics() TransportStats {
	return c.bus.Statistics()
}

// State returns the current channel state
func (c *Channel) State() ChannelState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// String returns string representation of channel
func (c *Channel) String() string {
	return fmt.Sprintf("Channel{ID=%s, State=%s, Handlers=%d}",
		c.id, c.State(), c.router.HandlerCount())
}
