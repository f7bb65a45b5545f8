// Command vwtp-ecu emulates an engine ECU answering KWP2000 identification
// requests over a VWTP2 channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"avaneesh/vwtp-go/pkg/capture"
	"avaneesh/vwtp-go/pkg/channel"
	"avaneesh/vwtp-go/pkg/ecu"
	"avaneesh/vwtp-go/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vwtp-ecu: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "TOML configuration file")
	busType := flag.String("bus", "", "bus adapter: socketcan, serial, tcp, quic, mock")
	iface := flag.String("interface", "", "SocketCAN interface or serial port")
	address := flag.String("address", "", "tunnel address host:port (tcp, quic)")
	server := flag.Bool("server", false, "listen for the tunnel peer instead of dialing")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	capturePath := flag.String("capture", "", "write a CBOR trace of every frame to this file")
	flag.Parse()

	cfg := ecu.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = ecu.LoadConfig(*configPath); err != nil {
			return err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bus":
			cfg.Bus.Type = *busType
		case "interface":
			cfg.Bus.Interface = *iface
		case "address":
			cfg.Bus.Address = *address
		case "server":
			cfg.Bus.Server = *server
		case "log-level":
			cfg.Log.Level = *logLevel
		case "capture":
			cfg.Bus.Capture = *capturePath
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log := logger.NewDefaultLogger(level)
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := openBusWithRetry(ctx, cfg.Bus, log)
	if err != nil {
		return err
	}

	if cfg.Bus.Capture != "" {
		rec, err := capture.Create(cfg.Bus.Capture)
		if err != nil {
			bus.Close()
			return err
		}
		log.Info("Capturing frames to %s", cfg.Bus.Capture)
		bus = capture.Tap(bus, rec, func(err error) {
			log.Warn("capture: %v", err)
		})
	}

	e, err := ecu.New(cfg, bus, log)
	if err != nil {
		bus.Close()
		return err
	}

	errg, gctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		return e.Run(gctx)
	})
	errg.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		return e.Close()
	})

	if err := errg.Wait(); err != nil && !errors.Is(err, channel.ErrBusClosed) {
		return err
	}
	return nil
}

func openBusWithRetry(ctx context.Context, cfg ecu.BusConfig, log logger.Logger) (channel.Bus, error) {
	var bus channel.Bus
	err := retry.Do(
		func() error {
			var err error
			bus, err = openBus(ctx, cfg, log)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("open %s bus (attempt %d): %v", cfg.Type, n+1, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s bus: %w", cfg.Type, err)
	}
	return bus, nil
}

func openBus(ctx context.Context, cfg ecu.BusConfig, log logger.Logger) (channel.Bus, error) {
	switch cfg.Type {
	case ecu.BusSocketCAN:
		return channel.NewSocketCANChannel(ctx, cfg.Interface, log)
	case ecu.BusSerial:
		sc := channel.DefaultSerialChannelConfig(cfg.Interface)
		if cfg.BaudRate > 0 {
			sc.BaudRate = cfg.BaudRate
		}
		sc.Logger = log
		return channel.NewSerialChannel(sc)
	case ecu.BusTCP:
		return channel.NewTCPChannel(channel.TCPChannelConfig{
			Address:  cfg.Address,
			IsServer: cfg.Server,
			Logger:   log,
		})
	case ecu.BusQUIC:
		return channel.NewQUICChannel(channel.QUICChannelConfig{
			Address:  cfg.Address,
			IsServer: cfg.Server,
			Logger:   log,
		})
	case ecu.BusMock:
		log.Warn("mock bus: no frames will arrive")
		return channel.NewMockChannel(), nil
	default:
		return nil, fmt.Errorf("unknown bus type %q", cfg.Type)
	}
}
