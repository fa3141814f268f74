// Package rf2xxsim simulates an RF2xx transceiver behind an SPI connection so
// the driver, the MAC binding and the node daemon can run without hardware.
//
// The simulation covers the SPI command set, the register file, the frame
// buffer, state transitions driven by TRX_STATE and SLP_TR, automatic CRC,
// and IRQ/DIG2 edges. It does not model timing or the radio channel.
package rf2xxsim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sigurn/crc16"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/banshee-data/rf154/internal/rf2xx"
)

// ErrNotReceiving is returned by Receive when the radio is not listening.
var ErrNotReceiving = errors.New("rf2xxsim: radio not in a receive state")

var fcsTable = crc16.MakeTable(crc16.CRC16_KERMIT)

// Chip is a simulated radio. It implements spi.Conn.
type Chip struct {
	mu   sync.Mutex
	typ  rf2xx.Type
	regs [64]byte

	status rf2xx.State
	trac   byte
	phr    byte
	fb     [rf2xx.FrameBufferSize]byte
	lqi    byte

	// current SPI transaction
	inTx    bool
	cmd     byte
	pos     int
	sram    byte
	txBytes []byte
	log     [][]byte

	failNext error
	txResult byte
	sent     [][]byte

	resetLow bool
	slpTr    bool

	irq, dig2 *InputPin
	onTX      func(psdu []byte)
	onState   func(rf2xx.State)
}

// New returns a simulated chip of the given type in TRX_OFF.
func New(typ rf2xx.Type) *Chip {
	c := &Chip{
		typ:  typ,
		irq:  newInputPin("IRQ"),
		dig2: newInputPin("DIG2"),
	}
	c.resetLocked()
	return c
}

func (c *Chip) resetLocked() {
	c.regs = [64]byte{}
	switch c.typ {
	case rf2xx.Type868MHz:
		c.regs[rf2xx.RegPartNum] = rf2xx.PartNumRF212
		c.regs[rf2xx.RegPHYCCCCA] = 0x20
	default:
		c.regs[rf2xx.RegPartNum] = rf2xx.PartNumRF231
		c.regs[rf2xx.RegPHYCCCCA] = 0x2B
	}
	c.regs[rf2xx.RegVersionNum] = 0x02
	c.regs[rf2xx.RegManID0] = rf2xx.ManID0Atmel
	c.regs[rf2xx.RegManID1] = rf2xx.ManID1Atmel
	c.regs[rf2xx.RegTRXCtrl1] = 0x22
	for _, r := range []byte{rf2xx.RegShortAddr0, rf2xx.RegShortAddr1, rf2xx.RegPANID0, rf2xx.RegPANID1} {
		c.regs[r] = 0xFF
	}
	c.status = rf2xx.StatusTRXOff
	c.trac = rf2xx.TRACInvalid
	c.phr = 0
	c.inTx = false
}

// Pins returns the platform pins wired to the simulated chip.
func (c *Chip) Pins() rf2xx.Pins {
	return rf2xx.Pins{
		Reset: outputPin(c.setReset),
		SlpTr: outputPin(c.setSlpTr),
		IRQ:   c.irq,
		DIG2:  c.dig2,
	}
}

// IRQPin returns the simulated IRQ input, e.g. to count edges in tests.
func (c *Chip) IRQPin() *InputPin { return c.irq }

func (c *Chip) String() string { return fmt.Sprintf("rf2xxsim(%s)", c.typ) }

// Halt implements conn.Resource and ends an open transaction.
func (c *Chip) Halt() error {
	c.mu.Lock()
	c.endTxLocked()
	c.mu.Unlock()
	return nil
}

// Duplex implements conn.Conn.
func (c *Chip) Duplex() conn.Duplex { return conn.Full }

// Tx implements conn.Conn as a single packet that releases chip-select.
func (c *Chip) Tx(w, r []byte) error {
	return c.TxPackets([]spi.Packet{{W: w, R: r}})
}

// TxPackets implements spi.Conn. A packet with KeepCS leaves the transaction
// open for the next packet, including across calls.
func (c *Chip) TxPackets(pkts []spi.Packet) error {
	var sent [][]byte
	var pulseIRQ bool

	c.mu.Lock()
	if err := c.failNext; err != nil {
		c.failNext = nil
		c.mu.Unlock()
		return err
	}
	before := c.status
	for _, p := range pkts {
		n := max(len(p.W), len(p.R))
		if len(p.W) != 0 && len(p.R) != 0 && len(p.W) != len(p.R) {
			c.mu.Unlock()
			return fmt.Errorf("rf2xxsim: mismatched packet lengths %d and %d", len(p.W), len(p.R))
		}
		for i := 0; i < n; i++ {
			var b byte
			if i < len(p.W) {
				b = p.W[i]
			}
			out, psdu, irq := c.clockByte(b)
			if psdu != nil {
				sent = append(sent, psdu)
			}
			pulseIRQ = pulseIRQ || irq
			if i < len(p.R) {
				p.R[i] = out
			}
		}
		if !p.KeepCS {
			c.endTxLocked()
		}
	}
	onTX, onState, after := c.onTX, c.onState, c.status
	c.mu.Unlock()

	for _, psdu := range sent {
		if onTX != nil {
			onTX(psdu)
		}
	}
	if pulseIRQ {
		c.irq.edge()
	}
	if onState != nil && after != before {
		onState(after)
	}
	return nil
}

func (c *Chip) endTxLocked() {
	if c.inTx {
		c.log = append(c.log, c.txBytes)
	}
	c.inTx = false
	c.txBytes = nil
}

// clockByte shifts one byte through the chip. It returns the byte shifted out,
// a transmitted PSDU when the byte started a transmission, and whether the IRQ
// line rose.
func (c *Chip) clockByte(b byte) (out byte, psdu []byte, irq bool) {
	if !c.inTx {
		c.inTx = true
		c.cmd = b
		c.pos = 0
		c.txBytes = []byte{b}
		return 0, nil, false
	}
	c.txBytes = append(c.txBytes, b)
	pos := c.pos
	c.pos++
	if c.status == rf2xx.StatusSleep || c.resetLow {
		return 0, nil, false
	}

	switch {
	case c.cmd&0xC0 == 0x80: // register read
		if pos == 0 {
			return c.readRegLocked(c.cmd & 0x3F), nil, false
		}
	case c.cmd&0xC0 == 0xC0: // register write
		if pos == 0 {
			psdu, irq = c.writeRegLocked(c.cmd&0x3F, b)
			return 0, psdu, irq
		}
	case c.cmd&0xE0 == 0x20: // frame buffer read
		if pos == 0 {
			return c.phr, nil, false
		}
		i := pos - 1
		switch {
		case i < int(c.phr) && i < len(c.fb):
			return c.fb[i], nil, false
		case i == int(c.phr):
			return c.lqi, nil, false
		}
		return 0, nil, false
	case c.cmd&0xE0 == 0x60: // frame buffer write
		if pos == 0 {
			c.phr = b & 0x7F
		} else if i := pos - 1; i < len(c.fb) {
			c.fb[i] = b
		}
		return 0, nil, false
	case c.cmd&0xE0 == 0x00: // SRAM read
		if pos == 0 {
			c.sram = b
			return 0, nil, false
		}
		if i := int(c.sram) + pos - 1; i < len(c.fb) {
			return c.fb[i], nil, false
		}
		return 0, nil, false
	case c.cmd&0xE0 == 0x40: // SRAM write
		if pos == 0 {
			c.sram = b
			return 0, nil, false
		}
		if i := int(c.sram) + pos - 1; i < len(c.fb) {
			c.fb[i] = b
		}
		return 0, nil, false
	}
	return 0, nil, false
}

func (c *Chip) readRegLocked(addr byte) byte {
	switch addr {
	case rf2xx.RegTRXStatus:
		return byte(c.status)
	case rf2xx.RegTRXState:
		return c.trac
	case rf2xx.RegIRQStatus:
		v := c.regs[addr]
		c.regs[addr] = 0
		return v
	}
	return c.regs[addr]
}

func (c *Chip) writeRegLocked(addr, v byte) (psdu []byte, irq bool) {
	switch addr {
	case rf2xx.RegTRXStatus:
		return nil, false
	case rf2xx.RegTRXState:
		return c.commandLocked(rf2xx.State(v & rf2xx.TRXStatusMask))
	case rf2xx.RegIRQStatus, rf2xx.RegPartNum, rf2xx.RegVersionNum, rf2xx.RegManID0, rf2xx.RegManID1:
		return nil, false
	}
	c.regs[addr] = v
	return nil, false
}

func (c *Chip) commandLocked(cmd rf2xx.State) (psdu []byte, irq bool) {
	switch cmd {
	case rf2xx.CmdTXStart:
		if c.status == rf2xx.StatusPLLOn || c.status == rf2xx.StatusTXARETOn {
			return c.transmitLocked()
		}
	case rf2xx.CmdForceTRXOff, rf2xx.CmdTRXOff:
		c.status = rf2xx.StatusTRXOff
	case rf2xx.CmdForcePLLOn, rf2xx.CmdPLLOn:
		c.status = rf2xx.StatusPLLOn
	case rf2xx.CmdRXOn, rf2xx.CmdRXAACKOn, rf2xx.CmdTXARETOn:
		c.status = cmd
	}
	return nil, false
}

func (c *Chip) transmitLocked() (psdu []byte, irq bool) {
	n := int(c.phr)
	if n > len(c.fb) {
		n = len(c.fb)
	}
	frame := make([]byte, n)
	copy(frame, c.fb[:n])
	if c.regs[rf2xx.RegTRXCtrl1]&rf2xx.TXAutoCRCOn != 0 && n >= 2 {
		fcs := crc16.Checksum(frame[:n-2], fcsTable)
		frame[n-2] = byte(fcs)
		frame[n-1] = byte(fcs >> 8)
		c.fb[n-2], c.fb[n-1] = frame[n-2], frame[n-1]
	}
	c.sent = append(c.sent, frame)
	if c.status == rf2xx.StatusTXARETOn {
		c.trac = c.txResult
	}
	return frame, c.raiseLocked(rf2xx.IRQTRXEnd)
}

// raiseLocked sets IRQ_STATUS bits and reports whether the IRQ line rose.
func (c *Chip) raiseLocked(bits rf2xx.IRQ) bool {
	mask := rf2xx.IRQ(c.regs[rf2xx.RegIRQMask])
	before := rf2xx.IRQ(c.regs[rf2xx.RegIRQStatus]) & mask
	c.regs[rf2xx.RegIRQStatus] |= byte(bits)
	after := rf2xx.IRQ(c.regs[rf2xx.RegIRQStatus]) & mask
	return before == 0 && after != 0
}

// Receive places psdu in the frame buffer as if it had been received, sets
// TRX_END and raises IRQ and DIG2. psdu includes the FCS; crcValid sets
// RX_CRC_VALID in PHY_RSSI.
func (c *Chip) Receive(psdu []byte, lqi byte, crcValid bool) error {
	if len(psdu) > rf2xx.MaxPHR {
		return fmt.Errorf("rf2xxsim: frame of %d bytes", len(psdu))
	}
	c.mu.Lock()
	switch c.status {
	case rf2xx.StatusRXOn, rf2xx.StatusRXAACKOn:
	default:
		status := c.status
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotReceiving, status)
	}
	c.phr = byte(len(psdu))
	copy(c.fb[:], psdu)
	c.lqi = lqi
	rssi := c.regs[rf2xx.RegPHYRSSI] &^ rf2xx.RXCRCValid
	if crcValid {
		rssi |= rf2xx.RXCRCValid
	}
	c.regs[rf2xx.RegPHYRSSI] = rssi
	irq := c.raiseLocked(rf2xx.IRQTRXEnd)
	c.mu.Unlock()

	c.dig2.edge()
	if irq {
		c.irq.edge()
	}
	return nil
}

// FCS computes the IEEE 802.15.4 frame check sequence, as the chip does with
// TX_AUTO_CRC_ON.
func FCS(b []byte) uint16 { return crc16.Checksum(b, fcsTable) }

func (c *Chip) setReset(l gpio.Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l == gpio.Low {
		c.resetLow = true
		return nil
	}
	if c.resetLow {
		c.resetLow = false
		c.resetLocked()
	}
	return nil
}

func (c *Chip) setSlpTr(l gpio.Level) error {
	var psdu []byte
	var irq bool

	c.mu.Lock()
	rising := l == gpio.High && !c.slpTr
	falling := l == gpio.Low && c.slpTr
	c.slpTr = l == gpio.High
	switch {
	case rising && c.status == rf2xx.StatusTRXOff:
		c.status = rf2xx.StatusSleep
	case rising && (c.status == rf2xx.StatusPLLOn || c.status == rf2xx.StatusTXARETOn):
		psdu, irq = c.transmitLocked()
	case falling && c.status == rf2xx.StatusSleep:
		c.status = rf2xx.StatusTRXOff
	}
	onTX := c.onTX
	c.mu.Unlock()

	if psdu != nil && onTX != nil {
		onTX(psdu)
	}
	if irq {
		c.irq.edge()
	}
	return nil
}

// OnTransmit sets a hook called with every transmitted PSDU (FCS included).
func (c *Chip) OnTransmit(f func(psdu []byte)) {
	c.mu.Lock()
	c.onTX = f
	c.mu.Unlock()
}

// OnStateChange sets a hook called with the new status whenever an SPI
// transaction changes the state of the chip.
func (c *Chip) OnStateChange(f func(rf2xx.State)) {
	c.mu.Lock()
	c.onState = f
	c.mu.Unlock()
}

// SetTxResult sets the TRAC_STATUS reported after TX_ARET transmissions, e.g.
// rf2xx.TRACNoAck. The default is rf2xx.TRACSuccess.
func (c *Chip) SetTxResult(trac byte) {
	c.mu.Lock()
	c.txResult = trac & rf2xx.TRACStatusMask
	c.mu.Unlock()
}

// FailNext makes the next TxPackets call fail with err.
func (c *Chip) FailNext(err error) {
	c.mu.Lock()
	c.failNext = err
	c.mu.Unlock()
}

// Sent returns the transmitted PSDUs.
func (c *Chip) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// Transactions returns the bytes written during each completed chip-select
// window, command byte first.
func (c *Chip) Transactions() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.log...)
}

// ResetLog clears the transaction log.
func (c *Chip) ResetLog() {
	c.mu.Lock()
	c.log = nil
	c.mu.Unlock()
}

// CSAsserted reports whether a transaction is open.
func (c *Chip) CSAsserted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTx
}

// Reg returns a register value without side effects.
func (c *Chip) Reg(addr byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[addr&0x3F]
}

// Status returns the simulated TRX_STATUS.
func (c *Chip) Status() rf2xx.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// FrameBuffer returns a copy of the frame buffer and the PHR.
func (c *Chip) FrameBuffer() (phr byte, fb []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phr, append([]byte(nil), c.fb[:]...)
}

type outputPin func(l gpio.Level) error

func (p outputPin) Out(l gpio.Level) error { return p(l) }

// InputPin is a simulated edge-detecting input.
type InputPin struct {
	name  string
	mu    sync.Mutex
	edges chan struct{}
	mode  gpio.Edge
	level gpio.Level
	count int
}

func newInputPin(name string) *InputPin {
	return &InputPin{name: name, edges: make(chan struct{}, 16)}
}

func (p *InputPin) String() string { return p.name }

// In configures edge detection. gpio.NoEdge drops pending edges.
func (p *InputPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = edge
	if edge == gpio.NoEdge {
		for len(p.edges) > 0 {
			<-p.edges
		}
	}
	return nil
}

func (p *InputPin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// WaitForEdge waits up to timeout for an edge; a negative timeout waits
// forever.
func (p *InputPin) WaitForEdge(timeout time.Duration) bool {
	if timeout < 0 {
		<-p.edges
		return true
	}
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Edges returns how many edges were generated.
func (p *InputPin) Edges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *InputPin) edge() {
	p.mu.Lock()
	p.count++
	p.level = gpio.High
	armed := p.mode != gpio.NoEdge
	p.mu.Unlock()
	if !armed {
		return
	}
	select {
	case p.edges <- struct{}{}:
	default:
	}
}

// Pulse generates an edge on the pin, e.g. a DIG2 capture.
func (p *InputPin) Pulse() { p.edge() }

var _ spi.Conn = (*Chip)(nil)
