package ecu

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"avaneesh/vwtp-go/pkg/kwp"
	"avaneesh/vwtp-go/pkg/link"
	"avaneesh/vwtp-go/pkg/vwtp"
)

// Bus types understood by the command line and config file
const (
	BusSocketCAN = "socketcan"
	BusSerial    = "serial"
	BusTCP       = "tcp"
	BusQUIC      = "quic"
	BusMock      = "mock"
)

// Config configures an emulated ECU
type Config struct {
	ID             string               `toml:"id"`
	Bus            BusConfig            `toml:"bus"`
	Addressing     AddressingConfig     `toml:"addressing"`
	Identification IdentificationConfig `toml:"identification"`
	Transport      TransportConfig      `toml:"transport"`
	Log            LogConfig            `toml:"log"`
}

// BusConfig selects and configures the bus adapter
type BusConfig struct {
	Type      string `toml:"type"`      // socketcan, serial, tcp, quic, mock
	Interface string `toml:"interface"` // SocketCAN interface or serial port
	Address   string `toml:"address"`   // host:port for tcp/quic
	Server    bool   `toml:"server"`    // listen instead of dial for tcp/quic
	BaudRate  int    `toml:"baud_rate"`
	Capture   string `toml:"capture"` // CBOR trace file, empty disables capture
}

// AddressingConfig holds the CAN ids of the ECU
type AddressingConfig struct {
	TesterID       uint32 `toml:"tester_id"`
	LogicalAddress uint8  `toml:"logical_address"`
	LocalID        uint32 `toml:"local_id"`
}

// IdentificationConfig is the identification record reported by the ECU.
// Block is hex, spaces allowed.
type IdentificationConfig struct {
	PartNumber string `toml:"part_number"`
	Block      string `toml:"block"`
	Engine     string `toml:"engine"`
	VIN        string `toml:"vin"`
}

// TransportConfig configures the VWTP session
type TransportConfig struct {
	ReassemblyTimeout time.Duration `toml:"reassembly_timeout"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the configuration of the emulated engine ECU
func DefaultConfig() Config {
	addr := link.DefaultAddressing()
	id := kwp.DefaultIdentification()

	return Config{
		ID: "engine",
		Bus: BusConfig{
			Type:      BusSocketCAN,
			Interface: "can0",
			BaudRate:  921600,
		},
		Addressing: AddressingConfig{
			TesterID:       addr.TesterID,
			LogicalAddress: addr.LogicalAddress,
			LocalID:        addr.LocalID,
		},
		Identification: IdentificationConfig{
			PartNumber: id.PartNumber,
			Block:      hex.EncodeToString(id.Block[:]),
			Engine:     id.Engine,
		},
		Transport: TransportConfig{
			ReassemblyTimeout: vwtp.DefaultConfig().ReassemblyTimeout,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a TOML file over DefaultConfig.
// Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the ECU cannot run with
func (c Config) Validate() error {
	switch c.Bus.Type {
	case BusSocketCAN, BusSerial:
		if c.Bus.Interface == "" {
			return fmt.Errorf("bus %s needs an interface", c.Bus.Type)
		}
	case BusTCP, BusQUIC:
		if c.Bus.Address == "" {
			return fmt.Errorf("bus %s needs an address", c.Bus.Type)
		}
	case BusMock:
	default:
		return fmt.Errorf("unknown bus type %q", c.Bus.Type)
	}

	if c.Addressing.TesterID == c.Addressing.LocalID {
		return fmt.Errorf("tester id and local id are both 0x%03X", c.Addressing.LocalID)
	}
	if c.Addressing.TesterID+link.ResponseCANIDDelta == c.Addressing.LocalID {
		return fmt.Errorf("local id 0x%03X collides with the setup response id", c.Addressing.LocalID)
	}
	if c.Transport.ReassemblyTimeout < 0 {
		return fmt.Errorf("negative reassembly timeout %s", c.Transport.ReassemblyTimeout)
	}

	if _, err := c.IdentificationRecord(); err != nil {
		return err
	}
	return nil
}

// LinkAddressing returns the addressing used by the setup handler
func (c Config) LinkAddressing() link.Addressing {
	return link.Addressing{
		TesterID:       c.Addressing.TesterID,
		LogicalAddress: c.Addressing.LogicalAddress,
		LocalID:        c.Addressing.LocalID,
	}
}

// SessionConfig returns the VWTP session configuration
func (c Config) SessionConfig() vwtp.Config {
	sc := vwtp.DefaultConfig()
	if c.Transport.ReassemblyTimeout > 0 {
		sc.ReassemblyTimeout = c.Transport.ReassemblyTimeout
	}
	return sc
}

// IdentificationRecord decodes the identification section
func (c Config) IdentificationRecord() (kwp.Identification, error) {
	id := kwp.Identification{
		PartNumber: c.Identification.PartNumber,
		Engine:     c.Identification.Engine,
	}

	block, err := hex.DecodeString(strings.ReplaceAll(c.Identification.Block, " ", ""))
	if err != nil {
		return kwp.Identification{}, fmt.Errorf("identification block: %w", err)
	}
	if len(block) != kwp.IdentBlockLen {
		return kwp.Identification{}, fmt.Errorf("identification block has %d bytes, want %d", len(block), kwp.IdentBlockLen)
	}
	copy(id.Block[:], block)

	if _, err := id.MarshalBinary(); err != nil {
		return kwp.Identification{}, err
	}
	if len(c.Identification.VIN) > kwp.VINLen {
		return kwp.Identification{}, fmt.Errorf("%w: VIN %q exceeds %d bytes", kwp.ErrFieldTooLong, c.Identification.VIN, kwp.VINLen)
	}
	return id, nil
}
