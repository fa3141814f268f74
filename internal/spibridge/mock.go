package spibridge

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"periph.io/x/conn/v3/spi"
)

type emuMode int

const (
	emuTerminal emuMode = iota
	emuBinary
	emuSPI
)

// Emulator implements TimeoutSerialPorter by answering the Bus Pirate binary
// SPI protocol. Bulk transfers are forwarded to Target, so a Bridge on an
// Emulator reaches a simulated chip through the whole serial stack.
type Emulator struct {
	mu sync.Mutex

	// Target receives the SPI traffic; nil reads back zeros.
	Target spi.Conn
	// SyncAfter is how many zero bytes the terminal needs before it enters
	// binary mode.
	SyncAfter int

	mode    emuMode
	zeros   int
	pending []byte // bulk command awaiting its data bytes
	csLow   bool
	active  bool // a transaction is open on Target
	out     bytes.Buffer
	written bytes.Buffer
	timeout time.Duration
	closed  bool

	// Commands records every command byte, data bytes excluded.
	Commands []byte
}

// NewEmulator returns an Emulator forwarding to target.
func NewEmulator(target spi.Conn) *Emulator {
	return &Emulator{Target: target, SyncAfter: 20}
}

func (e *Emulator) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, errors.New("serial port closed")
	}
	// an empty buffer behaves like an expired read timeout
	n, _ := e.out.Read(p)
	return n, nil
}

func (e *Emulator) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, errors.New("serial port closed")
	}
	e.written.Write(p)
	for _, c := range p {
		e.feed(c)
	}
	return len(p), nil
}

func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Emulator) SetReadTimeout(d time.Duration) error {
	e.mu.Lock()
	e.timeout = d
	e.mu.Unlock()
	return nil
}

func (e *Emulator) ResetInputBuffer() error {
	e.mu.Lock()
	e.out.Reset()
	e.mu.Unlock()
	return nil
}

// Mode reports "terminal", "binary" or "spi".
func (e *Emulator) Mode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return [...]string{"terminal", "binary", "spi"}[e.mode]
}

// CSAsserted reports whether chip-select is low.
func (e *Emulator) CSAsserted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.csLow
}

// ReadTimeout returns the last timeout set by the bridge.
func (e *Emulator) ReadTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeout
}

func (e *Emulator) feed(c byte) {
	if e.pending != nil {
		e.pending = append(e.pending, c)
		if len(e.pending) == int(e.pending[0]&0x0F)+2 {
			e.transfer(e.pending[1:])
			e.pending = nil
		}
		return
	}
	e.Commands = append(e.Commands, c)

	switch e.mode {
	case emuTerminal:
		if c != cmdBinaryReset {
			e.zeros = 0
			return
		}
		e.zeros++
		if e.zeros >= e.SyncAfter {
			e.mode = emuBinary
			e.out.Write(replyBinary)
		}
	case emuBinary:
		switch c {
		case cmdBinaryReset:
			e.out.Write(replyBinary)
		case cmdSPIMode:
			e.mode = emuSPI
			e.out.Write(replySPI)
		case cmdExit:
			e.mode = emuTerminal
			e.zeros = 0
			e.out.WriteByte(ack)
		default:
			e.out.WriteByte(0)
		}
	case emuSPI:
		e.spiCommand(c)
	}
}

func (e *Emulator) spiCommand(c byte) {
	switch {
	case c == cmdBinaryReset:
		e.endTransaction()
		e.mode = emuBinary
		e.out.Write(replyBinary)
	case c == cmdSPIMode:
		e.out.Write(replySPI)
	case c == cmdCSLow:
		e.csLow = true
		e.out.WriteByte(ack)
	case c == cmdCSHigh:
		e.csLow = false
		e.endTransaction()
		e.out.WriteByte(ack)
	case c&0xF0 == cmdBulk:
		e.pending = []byte{c}
	case c&0xF0 == cmdPeripherals, c&0xF0 == cmdSpeed, c&0xF0 == cmdConfig:
		e.out.WriteByte(ack)
	default:
		e.out.WriteByte(0)
	}
}

func (e *Emulator) transfer(w []byte) {
	r := make([]byte, len(w))
	if e.Target != nil && e.csLow {
		if err := e.Target.TxPackets([]spi.Packet{{W: w, R: r, KeepCS: true}}); err != nil {
			e.out.WriteByte(0)
			e.out.Write(make([]byte, len(w)))
			return
		}
		e.active = true
	}
	e.out.WriteByte(ack)
	e.out.Write(r)
}

func (e *Emulator) endTransaction() {
	if !e.active {
		return
	}
	e.active = false
	// an empty packet without KeepCS closes the transaction on Target
	_ = e.Target.TxPackets([]spi.Packet{{}})
}

// Written returns every byte the bridge wrote.
func (e *Emulator) Written() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.written.Bytes()...)
}
