// Package rf2xx drives the Atmel AT86RF231 / AT86RF212 IEEE 802.15.4
// transceivers over SPI.
//
// There are three kinds of data access: register, FIFO (frame buffer) and
// SRAM. Register accesses configure and control the chip and its internal
// state; FIFO accesses move a radio frame to or from the chip; SRAM accesses
// address the frame buffer at an offset.
//
// Two interrupts may be delivered: IRQ, from the chip's IRQ pin, and DIG2,
// used to timestamp received frames. Both are watched on gpio input pins and
// dispatched to handlers on a driver goroutine. The SLP_TR pin, used to
// trigger internal state transitions, is driven either directly or by a
// scheduled pulse.
//
// A Device performs one SPI transaction at a time. At most one asynchronous
// FIFO transfer may be pending and it can be cancelled with FIFOAccessCancel.
package rf2xx

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/banshee-data/rf154/internal/monitoring"
	"github.com/banshee-data/rf154/internal/timeutil"
)

// Type is the variant of the chip, i.e. its frequency band.
type Type int

const (
	Type2_4GHz Type = 0
	Type868MHz Type = 1
)

func (t Type) String() string {
	switch t {
	case Type2_4GHz:
		return "2.4GHz"
	case Type868MHz:
		return "868MHz"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType accepts the names produced by Type.String.
func ParseType(s string) (Type, error) {
	switch s {
	case "2.4GHz", "2.4ghz", "2450", "rf231", "rf233":
		return Type2_4GHz, nil
	case "868MHz", "868mhz", "868", "rf212":
		return Type868MHz, nil
	}
	return 0, fmt.Errorf("unknown radio type %q", s)
}

// TxDone is the outcome of a transmission.
type TxDone int

const (
	TxOK      TxDone = iota // transmission completed successfully
	TxCCAFail               // channel was busy (TX_ARET only)
	TxNoAck                 // no ACK received (TX_ARET only)
	TxFail                  // unexpected error
)

func (t TxDone) String() string {
	switch t {
	case TxOK:
		return "ok"
	case TxCCAFail:
		return "cca-fail"
	case TxNoAck:
		return "no-ack"
	case TxFail:
		return "fail"
	}
	return fmt.Sprintf("TxDone(%d)", int(t))
}

// TxDoneFromTRAC maps the TRAC_STATUS bits of TRX_STATE to a TxDone.
func TxDoneFromTRAC(trxState byte) TxDone {
	switch trxState & TRACStatusMask {
	case TRACSuccess, TRACSuccessDataPending:
		return TxOK
	case TRACChannelAccessFailure:
		return TxCCAFail
	case TRACNoAck:
		return TxNoAck
	}
	return TxFail
}

// Handler is called on IRQ edges.
type Handler func()

// TimerHandler is called on DIG2 edges with the capture time.
type TimerHandler func(t time.Time)

// CompletionHandler is called once an asynchronous transfer completes, with a
// nil error on success. It runs on the driver's transfer goroutine.
type CompletionHandler func(err error)

// OutputPin is the part of gpio.PinOut the driver uses.
type OutputPin interface {
	Out(l gpio.Level) error
}

// InputPin is the part of gpio.PinIn the driver uses.
type InputPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

// Pins are the platform lines wired to the chip. Only IRQ is required for
// interrupt operation; nil pins disable the matching features.
type Pins struct {
	Reset OutputPin // RSTN, active low
	SlpTr OutputPin
	IRQ   InputPin
	DIG2  InputPin
	PA    OutputPin // external power amplifier enable
}

// Config describes a radio as wired on a platform.
type Config struct {
	Type  Type
	Pins  Pins
	Clock timeutil.Clock
}

// Device is an RF2xx chip on an SPI connection.
type Device struct {
	conn  spi.Conn
	typ   Type
	pins  Pins
	clock timeutil.Clock
	logf  func(format string, v ...interface{})

	// bus holds one token while a transaction owns the SPI connection,
	// including the gap between a *First call and its *Remaining.
	bus chan struct{}

	mu          sync.Mutex
	open        sequence
	pending     *transfer
	closed      bool
	irqHandler  Handler
	dig2Handler TimerHandler
	irqWatch    *watcher
	dig2Watch   *watcher
	slpTrTimer  bool
	slpTrPulse  *pulse
}

// New returns a Device using conn. The connection must be configured for SPI
// mode 0, 8 bits per word.
func New(conn spi.Conn, cfg Config) (*Device, error) {
	if conn == nil {
		return nil, errors.New("rf2xx: nil SPI connection")
	}
	if cfg.Type != Type2_4GHz && cfg.Type != Type868MHz {
		return nil, fmt.Errorf("rf2xx: invalid type %v", cfg.Type)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Device{
		conn:  conn,
		typ:   cfg.Type,
		pins:  cfg.Pins,
		clock: clock,
		logf:  monitoring.Prefixed("rf2xx: "),
		bus:   make(chan struct{}, 1),
	}, nil
}

func (d *Device) String() string {
	return fmt.Sprintf("rf2xx(%s, %s)", d.typ, d.conn)
}

// Type returns the frequency band of the radio.
func (d *Device) Type() Type { return d.typ }

// Clock returns the time source of the device.
func (d *Device) Clock() timeutil.Clock { return d.clock }

// PartInfo identifies the chip.
type PartInfo struct {
	PartNum byte
	Version byte
	ManID   uint16
}

// Probe reads the identification registers and checks them against the
// configured type.
func (d *Device) Probe() (PartInfo, error) {
	var info PartInfo
	var regs [4]byte
	for i, addr := range []byte{RegPartNum, RegVersionNum, RegManID0, RegManID1} {
		v, err := d.RegRead(addr)
		if err != nil {
			return info, err
		}
		regs[i] = v
	}
	info.PartNum = regs[0]
	info.Version = regs[1]
	info.ManID = uint16(regs[3])<<8 | uint16(regs[2])

	if regs[2] != ManID0Atmel || regs[3] != ManID1Atmel {
		return info, fmt.Errorf("%w: manufacturer id %#04x", ErrUnexpectedPart, info.ManID)
	}
	switch {
	case d.typ == Type2_4GHz && (info.PartNum == PartNumRF231 || info.PartNum == PartNumRF233):
	case d.typ == Type868MHz && info.PartNum == PartNumRF212:
	default:
		return info, fmt.Errorf("%w: part %#02x for %s radio", ErrUnexpectedPart, info.PartNum, d.typ)
	}
	return info, nil
}

// Close cancels any pending transfer and stops the interrupt watchers.
func (d *Device) Close() error {
	d.FIFOAccessCancel()
	d.IRQDisable()
	d.DIG2Disable()
	d.mu.Lock()
	d.dropSlpTrPulse()
	d.closed = true
	d.mu.Unlock()
	return nil
}
