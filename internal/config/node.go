package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/rf154/internal/l2154"
	"github.com/banshee-data/rf154/internal/rf2xx"
	"github.com/banshee-data/rf154/internal/rfmac"
	"github.com/banshee-data/rf154/internal/spibridge"
)

// DefaultConfigPath is where l2node looks for its configuration when no
// -config flag is given.
const DefaultConfigPath = "config/node.json"

// Transports accepted in NodeConfig.Transport.
const (
	TransportSPIDev    = "spidev"
	TransportBusPirate = "buspirate"
	TransportSim       = "sim"
)

// NodeConfig is the configuration of an l2node. Every field is optional;
// the Get* methods supply defaults for omitted ones.
type NodeConfig struct {
	// Radio
	Radio     *string `json:"radio,omitempty"`     // "2.4GHz" or "868MHz"
	Transport *string `json:"transport,omitempty"` // spidev, buspirate or sim
	SPIDevice *string `json:"spi_device,omitempty"`
	SPIHz     *int64  `json:"spi_hz,omitempty"`

	// Bus Pirate bridge
	BridgePort   *string                `json:"bridge_port,omitempty"`
	BridgeSerial *spibridge.PortOptions `json:"bridge_serial,omitempty"`
	BridgeSpeed  *string                `json:"bridge_speed,omitempty"`
	BridgePower  *bool                  `json:"bridge_power,omitempty"`

	// GPIO names as known to the host, e.g. "GPIO25"
	ResetPin *string `json:"reset_pin,omitempty"`
	SlpTrPin *string `json:"slp_tr_pin,omitempty"`
	IRQPin   *string `json:"irq_pin,omitempty"`
	DIG2Pin  *string `json:"dig2_pin,omitempty"`
	PAPin    *string `json:"pa_pin,omitempty"`

	// Link layer
	Addr         *string `json:"addr,omitempty"` // "lo:hi"
	Channel      *int    `json:"channel,omitempty"`
	PANID        *string `json:"pan_id,omitempty"` // e.g. "0xcafe"
	MsgBufSize   *int    `json:"msg_buf_size,omitempty"`
	AckRequest   *bool   `json:"ack_request,omitempty"`
	FrameRetries *int    `json:"frame_retries,omitempty"`
	TxTimeout    *string `json:"tx_timeout,omitempty"` // duration string like "100ms"

	// Capture and debug server
	DBPath  *string `json:"db_path,omitempty"`
	Backlog *int    `json:"backlog,omitempty"`
	Listen  *string `json:"listen,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyNodeConfig returns a NodeConfig with all fields unset.
func EmptyNodeConfig() *NodeConfig {
	return &NodeConfig{}
}

// LoadNodeConfig loads a NodeConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Omitted fields
// keep their defaults, so partial configs are safe.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyNodeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *NodeConfig) Validate() error {
	if c.Radio != nil {
		if _, err := rf2xx.ParseType(*c.Radio); err != nil {
			return err
		}
	}

	switch t := c.GetTransport(); t {
	case TransportSPIDev, TransportSim:
	case TransportBusPirate:
		if c.GetBridgePort() == "" {
			return fmt.Errorf("transport %s needs bridge_port", t)
		}
	default:
		return fmt.Errorf("unknown transport %q", t)
	}

	if c.SPIHz != nil && *c.SPIHz <= 0 {
		return fmt.Errorf("spi_hz must be positive, got %d", *c.SPIHz)
	}

	if c.BridgeSpeed != nil {
		if _, err := spibridge.ParseSpeed(*c.BridgeSpeed); err != nil {
			return err
		}
	}
	if c.BridgeSerial != nil {
		if _, err := c.BridgeSerial.Normalize(); err != nil {
			return fmt.Errorf("invalid bridge_serial: %w", err)
		}
	}

	if c.Addr != nil {
		if _, err := l2154.ParseAddr(*c.Addr); err != nil {
			return err
		}
	}

	if c.Channel != nil {
		typ, _ := rf2xx.ParseType(c.GetRadio())
		if *c.Channel < 0 || *c.Channel > 255 || !rfmac.ValidChannel(typ, l2154.Channel(*c.Channel)) {
			return fmt.Errorf("channel %d not valid for a %s radio", *c.Channel, typ)
		}
	}

	if c.PANID != nil {
		if _, err := parsePAN(*c.PANID); err != nil {
			return err
		}
	}

	if c.MsgBufSize != nil && *c.MsgBufSize < 1 {
		return fmt.Errorf("msg_buf_size must be at least 1, got %d", *c.MsgBufSize)
	}

	if c.FrameRetries != nil && (*c.FrameRetries < 0 || *c.FrameRetries > 15) {
		return fmt.Errorf("frame_retries must be between 0 and 15, got %d", *c.FrameRetries)
	}

	if c.TxTimeout != nil && *c.TxTimeout != "" {
		d, err := time.ParseDuration(*c.TxTimeout)
		if err != nil {
			return fmt.Errorf("invalid tx_timeout '%s': %w", *c.TxTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("tx_timeout must be positive, got %s", d)
		}
	}

	if c.Backlog != nil && *c.Backlog < 1 {
		return fmt.Errorf("backlog must be at least 1, got %d", *c.Backlog)
	}

	return nil
}

func parsePAN(s string) (l2154.PanID, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid pan_id %q: %w", s, err)
	}
	return l2154.PanID(v), nil
}

// GetRadio returns the radio type name or the default.
func (c *NodeConfig) GetRadio() string {
	if c.Radio == nil {
		return rf2xx.Type2_4GHz.String()
	}
	return *c.Radio
}

// RadioType returns the parsed radio type, falling back to 2.4GHz.
func (c *NodeConfig) RadioType() rf2xx.Type {
	typ, err := rf2xx.ParseType(c.GetRadio())
	if err != nil {
		return rf2xx.Type2_4GHz
	}
	return typ
}

// GetTransport returns the transport or the default.
func (c *NodeConfig) GetTransport() string {
	if c.Transport == nil || *c.Transport == "" {
		return TransportSPIDev
	}
	return *c.Transport
}

// GetSPIDevice returns the SPI port name. Empty selects the first port.
func (c *NodeConfig) GetSPIDevice() string {
	if c.SPIDevice == nil {
		return ""
	}
	return *c.SPIDevice
}

// GetSPIHz returns the SPI clock or the default of 4MHz.
func (c *NodeConfig) GetSPIHz() int64 {
	if c.SPIHz == nil {
		return 4_000_000
	}
	return *c.SPIHz
}

// GetBridgePort returns the serial port of the bridge.
func (c *NodeConfig) GetBridgePort() string {
	if c.BridgePort == nil {
		return ""
	}
	return *c.BridgePort
}

// GetBridgeSerial returns the serial options of the bridge, normalised.
func (c *NodeConfig) GetBridgeSerial() spibridge.PortOptions {
	var opts spibridge.PortOptions
	if c.BridgeSerial != nil {
		opts = *c.BridgeSerial
	}
	norm, err := opts.Normalize()
	if err != nil {
		norm, _ = spibridge.PortOptions{}.Normalize()
	}
	return norm
}

// GetBridgeConfig returns the SPI settings of the bridge.
func (c *NodeConfig) GetBridgeConfig() spibridge.Config {
	cfg := spibridge.Config{Speed: spibridge.Speed4MHz, Power: true}
	if c.BridgeSpeed != nil {
		if s, err := spibridge.ParseSpeed(*c.BridgeSpeed); err == nil {
			cfg.Speed = s
		}
	}
	if c.BridgePower != nil {
		cfg.Power = *c.BridgePower
	}
	return cfg
}

// Pin names, empty when not wired.
func (c *NodeConfig) GetResetPin() string { return deref(c.ResetPin) }
func (c *NodeConfig) GetSlpTrPin() string { return deref(c.SlpTrPin) }
func (c *NodeConfig) GetIRQPin() string   { return deref(c.IRQPin) }
func (c *NodeConfig) GetDIG2Pin() string  { return deref(c.DIG2Pin) }
func (c *NodeConfig) GetPAPin() string    { return deref(c.PAPin) }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GetAddr returns the node address or the default 01:00.
func (c *NodeConfig) GetAddr() l2154.Addr {
	if c.Addr == nil {
		return l2154.MakeAddr(0x01, 0x00)
	}
	a, err := l2154.ParseAddr(*c.Addr)
	if err != nil {
		return l2154.MakeAddr(0x01, 0x00)
	}
	return a
}

// GetChannel returns the channel or the default for the radio type: 11 at
// 2.4GHz, 1 at 868MHz.
func (c *NodeConfig) GetChannel() l2154.Channel {
	if c.Channel == nil {
		if c.RadioType() == rf2xx.Type868MHz {
			return 1
		}
		return 11
	}
	return l2154.Channel(*c.Channel)
}

// GetPANID returns the PAN id or the default 0xcafe.
func (c *NodeConfig) GetPANID() l2154.PanID {
	if c.PANID == nil {
		return 0xCAFE
	}
	pan, err := parsePAN(*c.PANID)
	if err != nil {
		return 0xCAFE
	}
	return pan
}

// GetMsgBufSize returns the MAC receive queue size or the default.
func (c *NodeConfig) GetMsgBufSize() int {
	if c.MsgBufSize == nil {
		return l2154.DefaultMsgBufSize
	}
	return *c.MsgBufSize
}

// RadioOptions returns the MAC options.
func (c *NodeConfig) RadioOptions() rfmac.Options {
	opts := rfmac.Options{
		AckRequest:   true,
		FrameRetries: 3,
		TxTimeout:    rfmac.DefaultTxTimeout,
	}
	if c.AckRequest != nil {
		opts.AckRequest = *c.AckRequest
	}
	if c.FrameRetries != nil {
		opts.FrameRetries = *c.FrameRetries
	}
	if c.TxTimeout != nil && *c.TxTimeout != "" {
		if d, err := time.ParseDuration(*c.TxTimeout); err == nil {
			opts.TxTimeout = d
		}
	}
	return opts
}

// GetDBPath returns the capture database path. Empty disables capture.
func (c *NodeConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "rf154.db"
	}
	return *c.DBPath
}

// GetBacklog returns the capture backlog or the default.
func (c *NodeConfig) GetBacklog() int {
	if c.Backlog == nil {
		return 64
	}
	return *c.Backlog
}

// GetListen returns the debug server address or the default.
func (c *NodeConfig) GetListen() string {
	if c.Listen == nil {
		return "localhost:8154"
	}
	return *c.Listen
}
