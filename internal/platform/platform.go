// Package platform connects to a radio over host SPI, a Bus Pirate bridge or
// the simulator, as selected by the node configuration.
package platform

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/banshee-data/rf154/internal/config"
	"github.com/banshee-data/rf154/internal/rf2xx"
	"github.com/banshee-data/rf154/internal/rf2xx/rf2xxsim"
	"github.com/banshee-data/rf154/internal/spibridge"
)

// Transport is an SPI connection to a radio with its platform pins.
type Transport struct {
	Conn spi.Conn
	Pins rf2xx.Pins
	// Sim is set for the simulated transport.
	Sim *rf2xxsim.Chip

	close func() error
}

// Close releases the SPI port or bridge.
func (t *Transport) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

// Open connects to the radio described by cfg.
func Open(cfg *config.NodeConfig) (*Transport, error) {
	switch t := cfg.GetTransport(); t {
	case config.TransportSim:
		chip := rf2xxsim.New(cfg.RadioType())
		return &Transport{Conn: chip, Pins: chip.Pins(), Sim: chip}, nil

	case config.TransportSPIDev:
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialise host drivers: %w", err)
		}
		port, err := spireg.Open(cfg.GetSPIDevice())
		if err != nil {
			return nil, fmt.Errorf("failed to open SPI port %q: %w", cfg.GetSPIDevice(), err)
		}
		c, err := port.Connect(physic.Frequency(cfg.GetSPIHz())*physic.Hertz, spi.Mode0, 8)
		if err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to configure SPI port: %w", err)
		}
		pins, err := hostPins(cfg)
		if err != nil {
			port.Close()
			return nil, err
		}
		return &Transport{Conn: c, Pins: pins, close: port.Close}, nil

	case config.TransportBusPirate:
		b, err := spibridge.Open(cfg.GetBridgePort(), cfg.GetBridgeSerial(), cfg.GetBridgeConfig())
		if err != nil {
			return nil, err
		}
		// The bridge only carries SPI; control lines come from host GPIO
		// when named.
		var pins rf2xx.Pins
		if hasPins(cfg) {
			if _, err := host.Init(); err != nil {
				b.Close()
				return nil, fmt.Errorf("failed to initialise host drivers: %w", err)
			}
			if pins, err = hostPins(cfg); err != nil {
				b.Close()
				return nil, err
			}
		}
		return &Transport{Conn: b, Pins: pins, close: b.Close}, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", t)
	}
}

// Device opens the driver on the transport.
func (t *Transport) Device(typ rf2xx.Type) (*rf2xx.Device, error) {
	return rf2xx.New(t.Conn, rf2xx.Config{Type: typ, Pins: t.Pins})
}

func hasPins(cfg *config.NodeConfig) bool {
	return cfg.GetResetPin() != "" || cfg.GetSlpTrPin() != "" || cfg.GetIRQPin() != "" ||
		cfg.GetDIG2Pin() != "" || cfg.GetPAPin() != ""
}

// hostPins looks up the configured GPIO lines. Unnamed lines stay nil.
func hostPins(cfg *config.NodeConfig) (rf2xx.Pins, error) {
	var pins rf2xx.Pins
	lines := []struct {
		role, name string
		set        func(gpio.PinIO)
	}{
		{"RSTN", cfg.GetResetPin(), func(p gpio.PinIO) { pins.Reset = p }},
		{"SLP_TR", cfg.GetSlpTrPin(), func(p gpio.PinIO) { pins.SlpTr = p }},
		{"IRQ", cfg.GetIRQPin(), func(p gpio.PinIO) { pins.IRQ = p }},
		{"DIG2", cfg.GetDIG2Pin(), func(p gpio.PinIO) { pins.DIG2 = p }},
		{"PA", cfg.GetPAPin(), func(p gpio.PinIO) { pins.PA = p }},
	}
	for _, l := range lines {
		if l.name == "" {
			continue
		}
		p := gpioreg.ByName(l.name)
		if p == nil {
			return rf2xx.Pins{}, fmt.Errorf("unknown GPIO %q for %s", l.name, l.role)
		}
		l.set(p)
	}
	return pins, nil
}
