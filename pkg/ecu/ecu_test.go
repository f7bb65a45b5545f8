package ecu

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"avaneesh/vwtp-go/pkg/can"
	"avaneesh/vwtp-go/pkg/channel"
	"avaneesh/vwtp-go/pkg/kwp"
	"avaneesh/vwtp-go/pkg/link"
	"avaneesh/vwtp-go/pkg/vwtp"
)

const testerRxID = 0x300

func newTestECU(t *testing.T) (*ECU, *channel.MockChannel) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Bus.Type = BusMock

	bus := channel.NewMockChannel()
	e, err := New(cfg, bus, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e, bus
}

func setupFrame() can.Frame {
	return can.MustFrame(0x200, 0x01, 0xC0, 0x00, 0x10, 0x00, 0x03, 0x01)
}

func openChannel(t *testing.T, e *ECU, bus *channel.MockChannel) {
	t.Helper()
	if err := e.HandleFrame(context.Background(), setupFrame()); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	bus.ClearWritten()
}

func TestECU_SetupHandshake(t *testing.T) {
	e, bus := newTestECU(t)

	if err := e.HandleFrame(context.Background(), setupFrame()); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	written := bus.Written()
	if len(written) != 1 {
		t.Fatalf("Expected 1 setup response, got %d", len(written))
	}
	resp := written[0]
	if resp.ID != 0x201 {
		t.Errorf("Expected response on 0x201, got 0x%03X", resp.ID)
	}
	want := []byte{0x00, 0xD0, 0x00, 0x03, 0x40, 0x07, 0x01}
	if !bytes.Equal(resp.Payload(), want) {
		t.Errorf("Expected % X, got % X", want, resp.Payload())
	}

	if !e.Session().Established() || e.Session().PeerID() != testerRxID {
		t.Errorf("Expected session bound to 0x%03X", testerRxID)
	}
	if e.Stats().SetupsAccepted != 1 {
		t.Errorf("Expected 1 accepted setup, got %d", e.Stats().SetupsAccepted)
	}
}

func TestECU_SetupRejected(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"invalid id", []byte{0x01, 0xC0, 0x00, 0x10, 0x00, 0x13, 0x01}, link.ErrInvalidDestinationID},
		{"app type", []byte{0x01, 0xC0, 0x00, 0x10, 0x00, 0x03, 0x02}, link.ErrUnsupportedAppType},
		{"short", []byte{0x01, 0xC0}, link.ErrMalformedSetup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, bus := newTestECU(t)
			f, _ := can.NewFrame(0x200, tt.data)

			err := e.HandleFrame(context.Background(), f)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if n := len(bus.Written()); n != 0 {
				t.Errorf("Expected no response, got %d frames", n)
			}
			if e.Session().Established() {
				t.Error("Session must not be established")
			}
		})
	}
}

func TestECU_IdentificationEndToEnd(t *testing.T) {
	e, bus := newTestECU(t)
	openChannel(t, e, bus)

	err := e.HandleFrame(context.Background(), can.MustFrame(0x740, 0x11, 0x00, 0x02, 0x1A, 0x9B))
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	written := bus.Written()
	if len(written) != 9 {
		t.Fatalf("Expected ack plus 8 response frames, got %d", len(written))
	}

	ack := written[0]
	if ack.ID != testerRxID || !bytes.Equal(ack.Payload(), []byte{0xB2}) {
		t.Errorf("Expected ack [B2] on 0x300, got %s", ack)
	}

	first := written[1].Payload()
	wantFirst := []byte{0x20, 0x00, 0x30, 0x5A, 0x9B, '8', 'P', '0'}
	if !bytes.Equal(first, wantFirst) {
		t.Errorf("Expected first frame % X, got % X", wantFirst, first)
	}
	if last := written[8].Payload(); last[0] != 0x17 {
		t.Errorf("Expected last header 0x17, got 0x%02X", last[0])
	}

	r := vwtp.NewReassembler()
	var payload []byte
	for _, f := range written[1:] {
		if f.ID != testerRxID {
			t.Fatalf("Response frame on 0x%03X", f.ID)
		}
		payload, err = r.Process(f.Payload())
		if err != nil {
			t.Fatalf("Reassembly failed: %v", err)
		}
	}

	id, _ := kwp.DefaultIdentification().MarshalBinary()
	want := append([]byte{0x5A, 0x9B}, id...)
	if !bytes.Equal(payload, want) {
		t.Errorf("Expected response % X, got % X", want, payload)
	}
	if e.Stats().Requests != 1 {
		t.Errorf("Expected 1 request, got %d", e.Stats().Requests)
	}
}

func TestECU_MultiFrameRequest(t *testing.T) {
	e, bus := newTestECU(t)
	openChannel(t, e, bus)

	ctx := context.Background()
	// 0x1A 0x9B split over two frames, the first without ack
	if err := e.HandleFrame(ctx, can.MustFrame(0x740, 0x20, 0x00, 0x02, 0x1A)); err != nil {
		t.Fatalf("First frame failed: %v", err)
	}
	if len(bus.Written()) != 0 {
		t.Fatal("No frame expected after a more-packets frame")
	}
	if err := e.HandleFrame(ctx, can.MustFrame(0x740, 0x11, 0x9B)); err != nil {
		t.Fatalf("Last frame failed: %v", err)
	}

	written := bus.Written()
	if len(written) != 9 || written[0].Data[0] != 0xB2 {
		t.Fatalf("Expected ack B2 and 8 frames, got %d frames", len(written))
	}
}

func TestECU_UnhandledRequestOnlyAcked(t *testing.T) {
	e, bus := newTestECU(t)
	openChannel(t, e, bus)

	err := e.HandleFrame(context.Background(), can.MustFrame(0x740, 0x11, 0x00, 0x02, 0x1A, 0x90))
	if err != nil {
		t.Fatalf("Unhandled request must not fail the loop: %v", err)
	}

	written := bus.Written()
	if len(written) != 1 || written[0].Data[0] != 0xB2 {
		t.Fatalf("Expected only the ack, got %v", written)
	}
	if e.Stats().Unhandled != 1 {
		t.Errorf("Expected 1 unhandled request, got %d", e.Stats().Unhandled)
	}
}

func TestECU_NegativeResponse(t *testing.T) {
	e, bus := newTestECU(t)
	e.Dispatcher().Register(0x1A, 0x86, kwp.HandlerFunc(func(kwp.Request) (*kwp.Response, error) {
		return nil, kwp.ErrRequestOutOfRange
	}))
	openChannel(t, e, bus)

	if err := e.HandleFrame(context.Background(), can.MustFrame(0x740, 0x11, 0x00, 0x02, 0x1A, 0x86)); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	written := bus.Written()
	if len(written) != 2 {
		t.Fatalf("Expected ack and one response frame, got %d", len(written))
	}
	want := []byte{0x10, 0x00, 0x03, 0x7F, 0x1A, 0x31}
	if !bytes.Equal(written[1].Payload(), want) {
		t.Errorf("Expected % X, got % X", want, written[1].Payload())
	}
	if e.Stats().Negative != 1 {
		t.Errorf("Expected 1 negative response, got %d", e.Stats().Negative)
	}
}

func TestECU_FrameBeforeSetupIgnored(t *testing.T) {
	e, bus := newTestECU(t)

	if err := e.HandleFrame(context.Background(), can.MustFrame(0x740, 0x11, 0x00, 0x02, 0x1A, 0x9B)); err != nil {
		t.Errorf("Expected frame to be ignored, got %v", err)
	}
	if len(bus.Written()) != 0 {
		t.Error("Expected no frames before setup")
	}
}

func TestECU_UnrelatedID(t *testing.T) {
	e, _ := newTestECU(t)

	err := e.HandleFrame(context.Background(), can.MustFrame(0x7DF, 0x02, 0x01, 0x00))
	if !errors.Is(err, channel.ErrNoRoute) {
		t.Errorf("Expected ErrNoRoute, got %v", err)
	}
}

func TestECU_SequenceErrorRecovers(t *testing.T) {
	e, bus := newTestECU(t)
	openChannel(t, e, bus)
	ctx := context.Background()

	e.HandleFrame(ctx, can.MustFrame(0x740, 0x20, 0x00, 0x10, 0x1A, 0x9B, 0, 0, 0))
	err := e.HandleFrame(ctx, can.MustFrame(0x740, 0x23, 1, 2, 3, 4, 5, 6, 7))
	if !errors.Is(err, vwtp.ErrUnexpectedSequence) {
		t.Fatalf("Expected ErrUnexpectedSequence, got %v", err)
	}

	bus.ClearWritten()
	if err := e.HandleFrame(ctx, can.MustFrame(0x740, 0x10, 0x00, 0x02, 0x1A, 0x9B)); err != nil {
		t.Fatalf("Request after error failed: %v", err)
	}
	if len(bus.Written()) != 9 {
		t.Errorf("Expected full response after recovery, got %d frames", len(bus.Written()))
	}
}

func TestECU_LostFrameDropsRequest(t *testing.T) {
	e, bus := newTestECU(t)
	openChannel(t, e, bus)
	ctx := context.Background()

	e.HandleFrame(ctx, can.MustFrame(0x740, 0x20, 0x00, 0x14, 1, 2, 3, 4, 5))
	// seq 1 lost
	e.HandleFrame(ctx, can.MustFrame(0x740, 0x22, 6, 7, 8, 9, 10, 11, 12))

	bus.ClearWritten()
	err := e.HandleFrame(ctx, can.MustFrame(0x740, 0x13, 0x00, 0x02, 0x1A, 0x9B, 0x55, 0x55))
	if !errors.Is(err, vwtp.ErrUnexpectedSequence) {
		t.Fatalf("Expected ErrUnexpectedSequence, got %v", err)
	}
	written := bus.Written()
	if len(written) != 1 || written[0].Data[0] != 0xB4 {
		t.Fatalf("Expected only ack B4, got %v", written)
	}
	if e.Stats().Requests != 0 {
		t.Errorf("Broken transfer must not be dispatched, got %d requests", e.Stats().Requests)
	}
}

func TestECU_SetupForOtherECUIgnored(t *testing.T) {
	e, bus := newTestECU(t)

	err := e.HandleFrame(context.Background(), can.MustFrame(0x200, 0x02, 0xC0, 0x00, 0x10, 0x00, 0x03, 0x01))
	if err != nil {
		t.Fatalf("Expected setup for another ECU to be ignored, got %v", err)
	}
	if n := len(bus.Written()); n != 0 {
		t.Errorf("Expected no response, got %d frames", n)
	}
	if e.Stats().SetupsRejected != 0 {
		t.Errorf("Expected no rejected setups, got %d", e.Stats().SetupsRejected)
	}
	if n := e.channel.GetStatistics().GetHandlerErrors(); n != 0 {
		t.Errorf("Expected no handler errors, got %d", n)
	}
	if e.Session().Established() {
		t.Error("Session must not be established")
	}
}

func TestECU_ExtendedFramesIgnored(t *testing.T) {
	e, bus := newTestECU(t)
	ctx := context.Background()

	setup := setupFrame()
	setup.Extended = true
	if err := e.HandleFrame(ctx, setup); err != nil {
		t.Fatalf("Extended setup frame: %v", err)
	}
	if e.Session().Established() {
		t.Fatal("Extended setup frame must not open a channel")
	}

	openChannel(t, e, bus)
	req := can.MustFrame(0x740, 0x10, 0x00, 0x02, 0x1A, 0x9B)
	req.Extended = true
	if err := e.HandleFrame(ctx, req); err != nil {
		t.Fatalf("Extended data frame: %v", err)
	}
	if n := len(bus.Written()); n != 0 {
		t.Errorf("Expected no frames written, got %d", n)
	}
	if e.Stats().Ignored != 1 || e.Stats().Requests != 0 {
		t.Errorf("Unexpected stats %+v", e.Stats())
	}
}

func TestECU_TesterAckCounted(t *testing.T) {
	e, bus := newTestECU(t)
	openChannel(t, e, bus)

	if err := e.HandleFrame(context.Background(), can.MustFrame(0x740, 0xB1)); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if n := e.Session().Stats().GetAcksReceived(); n != 1 {
		t.Errorf("Expected 1 ack received, got %d", n)
	}
	if n := len(bus.Written()); n != 0 {
		t.Errorf("Expected nothing written for an ack, got %d", n)
	}
}

func TestECU_ConnectionLossClosesChannel(t *testing.T) {
	e, bus := newTestECU(t)
	openChannel(t, e, bus)

	bus.SimulateReconnect()
	if err := e.HandleFrame(context.Background(), can.MustFrame(0x740, 0x10, 0x00, 0x02, 0x1A, 0x9B)); err != nil {
		t.Fatalf("Frame after reconnect: %v", err)
	}
	if n := len(bus.Written()); n != 0 {
		t.Errorf("Expected no reply before a new setup, got %d frames", n)
	}
	if e.Session().Established() {
		t.Fatal("Session should close after the bus connection dropped")
	}

	openChannel(t, e, bus)
	if !e.Session().Established() {
		t.Error("New setup should reopen the channel")
	}
}

func TestECU_Run(t *testing.T) {
	e, bus := newTestECU(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	bus.InjectRead(setupFrame())
	bus.InjectRead(can.MustFrame(0x740, 0x11, 0x00, 0x02, 0x1A, 0x9B))

	deadline := time.Now().Add(2 * time.Second)
	for len(bus.Written()) < 10 {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out, %d frames written", len(bus.Written()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected nil from Run, got %v", err)
	}
}
