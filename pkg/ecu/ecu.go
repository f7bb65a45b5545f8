// Package ecu emulates an engine control unit answering KWP2000 identification
// requests over a VWTP2 channel.
package ecu

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"avaneesh/vwtp-go/pkg/can"
	"avaneesh/vwtp-go/pkg/channel"
	"avaneesh/vwtp-go/internal/logger"
	"avaneesh/vwtp-go/pkg/kwp"
	"avaneesh/vwtp-go/pkg/link"
	"avaneesh/vwtp-go/pkg/vwtp"
)

// ECU owns one bus, one setup handler and one VWTP session.
// Frames are handled one at a time in arrival order.
type ECU struct {
	config Config
	addr   link.Addressing
	logger logger.Logger

	channel    *channel.Channel
	setup      *link.SetupHandler
	session    *vwtp.Session
	dispatcher *kwp.Dispatcher

	// Set by the bus, possibly from inside a write made under the session lock
	connLost atomic.Bool

	stats struct {
		setupsAccepted atomic.Uint64
		setupsRejected atomic.Uint64
		requests       atomic.Uint64
		unhandled      atomic.Uint64
		negative       atomic.Uint64
		ignored        atomic.Uint64
	}
}

// Stats is a snapshot of ECU-level counters
type Stats struct {
	SetupsAccepted uint64
	SetupsRejected uint64
	Requests       uint64
	Unhandled      uint64
	Negative       uint64
	Ignored        uint64 // unrecognized frames on the channel id
}

// New creates an ECU on bus. The bus is owned by the ECU from here on.
func New(config Config, bus channel.Bus, log logger.Logger) (*ECU, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	id, err := config.IdentificationRecord()
	if err != nil {
		return nil, err
	}

	e := &ECU{
		config:     config,
		addr:       config.LinkAddressing(),
		logger:     log,
		channel:    channel.New(config.ID, bus, log),
		setup:      link.NewSetupHandler(config.LinkAddressing()),
		dispatcher: kwp.NewDispatcher(),
	}

	sc := config.SessionConfig()
	sc.OnTimeout = func(err error) {
		e.logger.Warn("ECU %s: %v, partial request dropped", e.config.ID, err)
	}
	e.session = vwtp.NewSession(e.addr.LocalID, sc)

	kwp.RegisterIdentification(e.dispatcher, id, config.Identification.VIN)

	if err := e.channel.AddHandler(e.addr.TesterID, channel.HandlerFunc(e.onSetupFrame)); err != nil {
		return nil, err
	}
	if err := e.channel.AddHandler(e.addr.LocalID, channel.HandlerFunc(e.onChannelFrame)); err != nil {
		return nil, err
	}

	if sn, ok := bus.(channel.StateNotifier); ok {
		sn.SetConnectionStateListener(e)
	}

	e.logger.Info("ECU %s created: tester=0x%03X, address=0x%02X, local=0x%03X",
		config.ID, e.addr.TesterID, e.addr.LogicalAddress, e.addr.LocalID)
	return e, nil
}

// Dispatcher returns the request dispatch table, for registering extra services
func (e *ECU) Dispatcher() *kwp.Dispatcher {
	return e.dispatcher
}

// Session returns the VWTP session
func (e *ECU) Session() *vwtp.Session {
	return e.session
}

// Run handles frames until ctx is cancelled or the bus closes
func (e *ECU) Run(ctx context.Context) error {
	e.logger.Info("ECU %s running on %s", e.config.ID, e.channel)
	err := e.channel.Run(ctx)
	e.logStatistics()
	return err
}

// HandleFrame runs one step of the event loop for frame.
// Frames on unrelated ids return channel.ErrNoRoute.
func (e *ECU) HandleFrame(ctx context.Context, frame can.Frame) error {
	return e.channel.Deliver(ctx, frame)
}

// Close closes the bus
func (e *ECU) Close() error {
	return e.channel.Close()
}

// OnConnectionEstablished implements channel.ConnectionStateListener
func (e *ECU) OnConnectionEstablished() {
	e.logger.Info("ECU %s: bus connected", e.config.ID)
}

// OnConnectionLost implements channel.ConnectionStateListener.
// The VWTP channel is closed before the next frame is handled, so the tester
// on the other end of a tunnel must run a new setup.
func (e *ECU) OnConnectionLost() {
	e.logger.Warn("ECU %s: bus connection lost", e.config.ID)
	e.connLost.Store(true)
}

func (e *ECU) closeLostChannel() {
	if e.connLost.Swap(false) && e.session.Established() {
		e.logger.Info("ECU %s: VWTP channel closed after connection loss", e.config.ID)
		e.session.Reset()
	}
}

// Stats returns a snapshot of the ECU counters
func (e *ECU) Stats() Stats {
	return Stats{
		SetupsAccepted: e.stats.setupsAccepted.Load(),
		SetupsRejected: e.stats.setupsRejected.Load(),
		Requests:       e.stats.requests.Load(),
		Unhandled:      e.stats.unhandled.Load(),
		Negative:       e.stats.negative.Load(),
		Ignored:        e.stats.ignored.Load(),
	}
}

func (e *ECU) onSetupFrame(ctx context.Context, frame can.Frame) error {
	e.closeLostChannel()
	kind := link.Classify(frame, e.addr)
	e.logger.Debug("ECU %s rx %s", e.config.ID, link.Describe(frame, kind))
	if kind != link.KindSetupRequest {
		// Setups for other ECUs share the tester id
		return nil
	}

	resp, req, err := e.setup.Handle(frame)
	if err != nil {
		e.stats.setupsRejected.Add(1)
		return fmt.Errorf("setup rejected: %w", err)
	}

	e.session.Establish(req.PeerID)
	e.stats.setupsAccepted.Add(1)
	e.logger.Info("ECU %s: channel opened, tester receives on 0x%03X", e.config.ID, req.PeerID)

	if err := e.channel.Write(ctx, resp); err != nil {
		return fmt.Errorf("send setup response: %w", err)
	}
	return nil
}

func (e *ECU) onChannelFrame(ctx context.Context, frame can.Frame) error {
	e.closeLostChannel()
	kind := link.Classify(frame, e.addr)
	e.logger.Debug("ECU %s rx %s", e.config.ID, link.Describe(frame, kind))
	if kind == link.KindUnrecognized {
		e.stats.ignored.Add(1)
		return nil
	}

	payload, err := e.session.Receive(frame, func(ack can.Frame) error {
		return e.channel.Write(ctx, ack)
	})
	if errors.Is(err, vwtp.ErrSessionNotEstablished) {
		e.logger.Debug("ECU %s: frame before channel setup ignored", e.config.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("vwtp receive: %w", err)
	}
	if payload == nil {
		return nil
	}

	return e.respond(ctx, payload)
}

func (e *ECU) respond(ctx context.Context, payload []byte) error {
	req, err := kwp.ParseRequest(payload)
	if err != nil {
		return err
	}
	e.stats.requests.Add(1)
	e.logger.Debug("ECU %s request %s", e.config.ID, req)

	resp, err := e.dispatcher.Dispatch(req)
	if errors.Is(err, kwp.ErrUnhandledRequest) {
		e.stats.unhandled.Add(1)
		e.logger.Info("ECU %s: %v", e.config.ID, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("handle %s: %w", req, err)
	}
	if resp.IsNegative() {
		e.stats.negative.Add(1)
	}

	frames, err := e.session.Send(resp.Bytes())
	if err != nil {
		return fmt.Errorf("segment response: %w", err)
	}
	for _, f := range frames {
		if err := e.channel.Write(ctx, f); err != nil {
			return fmt.Errorf("send response frame: %w", err)
		}
	}

	e.logger.Debug("ECU %s: response of %d bytes sent in %d frames, next seq %d",
		e.config.ID, len(resp.Bytes()), len(frames), e.session.TxSequence())
	return nil
}

func (e *ECU) logStatistics() {
	s := e.Stats()
	e.logger.Info("ECU %s stopped: setups=%d rejected=%d requests=%d unhandled=%d negative=%d ignored=%d",
		e.config.ID, s.SetupsAccepted, s.SetupsRejected, s.Requests, s.Unhandled, s.Negative, s.Ignored)
	e.logger.Info("ECU %s session: %s", e.config.ID, e.session.Stats())

	ch := e.channel.GetStatistics()
	e.logger.Info("ECU %s channel: rx=%d tx=%d unrouted=%d handler_errors=%d write_errors=%d",
		e.config.ID, ch.GetFramesRx(), ch.GetFramesTx(), ch.GetUnrouted(), ch.GetHandlerErrors(), ch.GetWriteErrors())
}
