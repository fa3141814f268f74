// Package spibridge drives SPI devices through a Bus Pirate in binary SPI
// mode over a serial port, so a transceiver module can be wired to any host
// with a USB port. A Bridge implements periph's spi.Conn.
package spibridge

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"

	"github.com/banshee-data/rf154/internal/monitoring"
)

var (
	ErrTimeout  = errors.New("spibridge: timeout waiting for bridge")
	ErrProtocol = errors.New("spibridge: unexpected reply from bridge")
	ErrClosed   = errors.New("spibridge: bridge closed")
)

// Binary mode commands.
const (
	cmdBinaryReset = 0x00 // BBIO1 in binary mode, leaves SPI mode
	cmdSPIMode     = 0x01 // SPI1
	cmdCSLow       = 0x02
	cmdCSHigh      = 0x03
	cmdExit        = 0x0F // back to the user terminal
	cmdBulk        = 0x10 // low nibble is length-1
	cmdPeripherals = 0x40 // power 0x08, pull-ups 0x04, AUX 0x02, CS 0x01
	cmdSpeed       = 0x60
	cmdConfig      = 0x80 // 3.3V out 0x08, CKP 0x04, CKE 0x02, SMP 0x01

	ack     = 0x01
	maxBulk = 16

	syncAttempts = 25
	syncTimeout  = 10 * time.Millisecond
)

var (
	replyBinary = []byte("BBIO1")
	replySPI    = []byte("SPI1")
)

// Speed is the SPI clock rate of the bridge.
type Speed byte

const (
	Speed30kHz Speed = iota
	Speed125kHz
	Speed250kHz
	Speed1MHz
	Speed2MHz
	Speed2_6MHz
	Speed4MHz
	Speed8MHz
)

var speedNames = []string{"30kHz", "125kHz", "250kHz", "1MHz", "2MHz", "2.6MHz", "4MHz", "8MHz"}

func (s Speed) String() string {
	if int(s) < len(speedNames) {
		return speedNames[s]
	}
	return fmt.Sprintf("Speed(%d)", byte(s))
}

// ParseSpeed accepts the names produced by Speed.String, case insensitive.
func ParseSpeed(s string) (Speed, error) {
	for i, n := range speedNames {
		if strings.EqualFold(s, n) {
			return Speed(i), nil
		}
	}
	return 0, fmt.Errorf("unknown bridge speed %q", s)
}

// Config selects the SPI settings of the bridge.
type Config struct {
	Speed Speed
	// Power switches on the bridge's supply pins.
	Power bool
	// Timeout bounds each reply from the bridge; zero means 100ms.
	Timeout time.Duration
}

// Bridge is an SPI connection through a Bus Pirate. Transfers are
// serialized; chip-select stays asserted between packets and calls while
// KeepCS is set.
type Bridge struct {
	port SerialPorter
	name string
	cfg  Config
	logf func(format string, v ...interface{})

	mu     sync.Mutex
	csLow  bool
	closed bool
}

// New switches the Bus Pirate on port to binary SPI mode, SPI mode 0 with
// 3.3V push-pull outputs, and returns the bridge.
func New(port SerialPorter, name string, cfg Config) (*Bridge, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	if cfg.Speed > Speed8MHz {
		return nil, fmt.Errorf("spibridge: invalid speed %v", cfg.Speed)
	}
	b := &Bridge{
		port: port,
		name: name,
		cfg:  cfg,
		logf: monitoring.Prefixed("spibridge: "),
	}
	if err := b.enterBinary(); err != nil {
		return nil, err
	}
	if err := b.setTimeout(cfg.Timeout); err != nil {
		return nil, err
	}
	if err := b.exchange([]byte{cmdSPIMode}, replySPI); err != nil {
		return nil, fmt.Errorf("spibridge: enter SPI mode: %w", err)
	}
	periph := byte(cmdPeripherals | 0x01)
	if cfg.Power {
		periph |= 0x08
	}
	for _, c := range []byte{cmdConfig | 0x08 | 0x02, byte(cmdSpeed) | byte(cfg.Speed), periph} {
		if err := b.command(c); err != nil {
			return nil, fmt.Errorf("spibridge: configure %#02x: %w", c, err)
		}
	}
	b.logf("%s in SPI mode at %s", name, cfg.Speed)
	return b, nil
}

func (b *Bridge) setTimeout(d time.Duration) error {
	if tp, ok := b.port.(TimeoutSerialPorter); ok {
		return tp.SetReadTimeout(d)
	}
	return nil
}

// enterBinary sends zero bytes until the bridge answers BBIO1.
func (b *Bridge) enterBinary() error {
	if err := b.setTimeout(syncTimeout); err != nil {
		return err
	}
	var seen []byte
	buf := make([]byte, 64)
	for i := 0; i < syncAttempts; i++ {
		if _, err := b.port.Write([]byte{cmdBinaryReset}); err != nil {
			return fmt.Errorf("spibridge: write: %w", err)
		}
		n, err := b.port.Read(buf)
		if err != nil {
			return fmt.Errorf("spibridge: read: %w", err)
		}
		seen = append(seen, buf[:n]...)
		if bytes.Contains(seen, replyBinary) {
			if r, ok := b.port.(inputResetter); ok {
				return r.ResetInputBuffer()
			}
			return b.drain()
		}
	}
	return fmt.Errorf("%w: no binary mode reply after %d attempts", ErrTimeout, syncAttempts)
}

// drain discards replies to extra sync bytes.
func (b *Bridge) drain() error {
	buf := make([]byte, 64)
	for {
		n, err := b.port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (b *Bridge) readFull(p []byte) error {
	for off := 0; off < len(p); {
		n, err := b.port.Read(p[off:])
		if err != nil {
			return fmt.Errorf("spibridge: read: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: got %d of %d bytes", ErrTimeout, off, len(p))
		}
		off += n
	}
	return nil
}

// exchange writes w and expects want as the reply.
func (b *Bridge) exchange(w, want []byte) error {
	if _, err := b.port.Write(w); err != nil {
		return fmt.Errorf("spibridge: write: %w", err)
	}
	got := make([]byte, len(want))
	if err := b.readFull(got); err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: %q, want %q", ErrProtocol, got, want)
	}
	return nil
}

func (b *Bridge) command(c byte) error {
	return b.exchange([]byte{c}, []byte{ack})
}

func (b *Bridge) String() string { return fmt.Sprintf("buspirate(%s)", b.name) }

// Duplex implements conn.Conn.
func (b *Bridge) Duplex() conn.Duplex { return conn.Full }

// Tx implements conn.Conn as a single packet that releases chip-select.
func (b *Bridge) Tx(w, r []byte) error {
	return b.TxPackets([]spi.Packet{{W: w, R: r}})
}

// TxPackets implements spi.Conn.
func (b *Bridge) TxPackets(pkts []spi.Packet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for _, p := range pkts {
		if err := b.packet(p); err != nil {
			if b.csLow {
				if herr := b.command(cmdCSHigh); herr != nil {
					b.logf("release chip-select: %v", herr)
				}
				b.csLow = false
			}
			return err
		}
	}
	return nil
}

func (b *Bridge) packet(p spi.Packet) error {
	if len(p.W) != 0 && len(p.R) != 0 && len(p.W) != len(p.R) {
		return fmt.Errorf("spibridge: mismatched packet lengths %d and %d", len(p.W), len(p.R))
	}
	if p.BitsPerWord != 0 && p.BitsPerWord != 8 {
		return fmt.Errorf("spibridge: %d bits per word not supported", p.BitsPerWord)
	}
	if !b.csLow {
		if err := b.command(cmdCSLow); err != nil {
			return err
		}
		b.csLow = true
	}
	n := max(len(p.W), len(p.R))
	for off := 0; off < n; off += maxBulk {
		end := min(off+maxBulk, n)
		w := make([]byte, end-off)
		if len(p.W) != 0 {
			copy(w, p.W[off:end])
		}
		r, err := b.bulk(w)
		if err != nil {
			return err
		}
		if len(p.R) != 0 {
			copy(p.R[off:end], r)
		}
	}
	if !p.KeepCS {
		if err := b.command(cmdCSHigh); err != nil {
			return err
		}
		b.csLow = false
	}
	return nil
}

// bulk clocks up to 16 bytes and returns the bytes read.
func (b *Bridge) bulk(w []byte) ([]byte, error) {
	cmd := append([]byte{cmdBulk | byte(len(w)-1)}, w...)
	if _, err := b.port.Write(cmd); err != nil {
		return nil, fmt.Errorf("spibridge: write: %w", err)
	}
	reply := make([]byte, len(w)+1)
	if err := b.readFull(reply); err != nil {
		return nil, err
	}
	if reply[0] != ack {
		return nil, fmt.Errorf("%w: bulk transfer status %#02x", ErrProtocol, reply[0])
	}
	return reply[1:], nil
}

// Halt implements conn.Resource: it releases chip-select.
func (b *Bridge) Halt() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || !b.csLow {
		return nil
	}
	b.csLow = false
	return b.command(cmdCSHigh)
}

// Close returns the Bus Pirate to its user terminal and closes the port.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.csLow {
		if err := b.command(cmdCSHigh); err != nil {
			b.logf("release chip-select: %v", err)
		}
	}
	if _, err := b.port.Write([]byte{cmdBinaryReset, cmdExit}); err != nil {
		b.logf("leave binary mode: %v", err)
	}
	return b.port.Close()
}

var _ spi.Conn = (*Bridge)(nil)
