package rf2xx

import (
	"fmt"

	"periph.io/x/conn/v3/spi"
)

// MaxTransfer is the longest FIFO or SRAM transfer: PHR, a full frame buffer
// and the trailing LQI byte.
const MaxTransfer = FrameBufferSize + 2

// asyncChunk bounds how many bytes an asynchronous transfer moves between
// cancellation checks.
const asyncChunk = 32

type sequence int

const (
	seqNone sequence = iota
	seqRead
	seqWrite
)

func (s sequence) String() string {
	switch s {
	case seqRead:
		return "read"
	case seqWrite:
		return "write"
	}
	return "none"
}

// acquire takes the bus for a new transaction. It waits for a transaction
// owned by another caller but refuses to run inside an open First/Remaining
// sequence, which only the matching Remaining may continue.
func (d *Device) acquire() error {
	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return ErrClosed
	case d.open != seqNone:
		d.mu.Unlock()
		return ErrFIFOOpen
	}
	d.mu.Unlock()
	d.bus <- struct{}{}
	return nil
}

func (d *Device) release() { <-d.bus }

func checkLen(n int) error {
	if n <= 0 || n > MaxTransfer {
		return fmt.Errorf("%w: %d bytes", ErrLength, n)
	}
	return nil
}

// command runs a single transaction: header bytes followed by len(data)
// bytes, either written from data or read into data.
func (d *Device) command(header []byte, data []byte, read bool) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()

	w := make([]byte, len(header)+len(data))
	copy(w, header)
	if !read {
		copy(w[len(header):], data)
		return d.conn.Tx(w, nil)
	}
	r := make([]byte, len(w))
	if err := d.conn.Tx(w, r); err != nil {
		return err
	}
	copy(data, r[len(header):])
	return nil
}

// RegRead reads a single 8 bit register.
func (d *Device) RegRead(addr byte) (byte, error) {
	var v [1]byte
	if err := d.command([]byte{cmdRegRead | addr&regAddrMask}, v[:], true); err != nil {
		return 0, fmt.Errorf("rf2xx: read register %#02x: %w", addr, err)
	}
	return v[0], nil
}

// RegWrite writes a single 8 bit register.
func (d *Device) RegWrite(addr, value byte) error {
	if err := d.command([]byte{cmdRegWrite | addr&regAddrMask}, []byte{value}, false); err != nil {
		return fmt.Errorf("rf2xx: write register %#02x: %w", addr, err)
	}
	return nil
}

// RegUpdate replaces the bits selected by mask in a register.
func (d *Device) RegUpdate(addr, mask, value byte) error {
	v, err := d.RegRead(addr)
	if err != nil {
		return err
	}
	return d.RegWrite(addr, v&^mask|value&mask)
}

// FIFORead copies len(buf) bytes from the frame buffer, starting with the PHR.
func (d *Device) FIFORead(buf []byte) error {
	if err := checkLen(len(buf)); err != nil {
		return err
	}
	if err := d.command([]byte{cmdFIFORead}, buf, true); err != nil {
		return fmt.Errorf("rf2xx: FIFO read: %w", err)
	}
	return nil
}

// FIFOWrite copies buf to the frame buffer. buf[0] is the PHR.
func (d *Device) FIFOWrite(buf []byte) error {
	if err := checkLen(len(buf)); err != nil {
		return err
	}
	if err := d.command([]byte{cmdFIFOWrite}, buf, false); err != nil {
		return fmt.Errorf("rf2xx: FIFO write: %w", err)
	}
	return nil
}

// SRAMRead copies len(buf) bytes of the frame buffer starting at addr.
func (d *Device) SRAMRead(addr byte, buf []byte) error {
	if err := checkSRAM(addr, len(buf)); err != nil {
		return err
	}
	if err := d.command([]byte{cmdSRAMRead, addr}, buf, true); err != nil {
		return fmt.Errorf("rf2xx: SRAM read at %#02x: %w", addr, err)
	}
	return nil
}

// SRAMWrite copies buf into the frame buffer starting at addr.
func (d *Device) SRAMWrite(addr byte, buf []byte) error {
	if err := checkSRAM(addr, len(buf)); err != nil {
		return err
	}
	if err := d.command([]byte{cmdSRAMWrite, addr}, buf, false); err != nil {
		return fmt.Errorf("rf2xx: SRAM write at %#02x: %w", addr, err)
	}
	return nil
}

func checkSRAM(addr byte, n int) error {
	if n <= 0 || int(addr)+n > FrameBufferSize {
		return fmt.Errorf("%w: %d bytes at %#02x", ErrLength, n, addr)
	}
	return nil
}

// FIFOReadFirst reads the first byte of the frame buffer (the PHR, i.e. the
// received frame length) and leaves the SPI transaction open so only the
// needed number of bytes is copied afterwards. FIFOReadRemaining or
// FIFOReadRemainingAsync must follow; any other access fails with
// ErrFIFOOpen until then.
func (d *Device) FIFOReadFirst() (byte, error) {
	if err := d.acquire(); err != nil {
		return 0, err
	}
	w := []byte{cmdFIFORead, 0}
	r := make([]byte, 2)
	if err := d.conn.TxPackets([]spi.Packet{{W: w, R: r, KeepCS: true}}); err != nil {
		d.release()
		return 0, fmt.Errorf("rf2xx: FIFO read first: %w", err)
	}
	d.mu.Lock()
	d.open = seqRead
	d.mu.Unlock()
	return r[1], nil
}

// FIFOWriteFirst writes the first byte of the frame buffer (the PHR) and
// leaves the SPI transaction open for FIFOWriteRemaining or
// FIFOWriteRemainingAsync.
func (d *Device) FIFOWriteFirst(first byte) error {
	if err := d.acquire(); err != nil {
		return err
	}
	if err := d.conn.TxPackets([]spi.Packet{{W: []byte{cmdFIFOWrite, first}, KeepCS: true}}); err != nil {
		d.release()
		return fmt.Errorf("rf2xx: FIFO write first: %w", err)
	}
	d.mu.Lock()
	d.open = seqWrite
	d.mu.Unlock()
	return nil
}

// takeOpen closes the open sequence s. The bus token stays with the caller.
func (d *Device) takeOpen(s sequence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open != s {
		return fmt.Errorf("%w for %s", ErrNoFirst, s)
	}
	d.open = seqNone
	return nil
}

// FIFOReadRemaining reads len(buf) further bytes after FIFOReadFirst and ends
// the SPI transaction.
func (d *Device) FIFOReadRemaining(buf []byte) error {
	if err := checkLen(len(buf)); err != nil {
		return err
	}
	if err := d.takeOpen(seqRead); err != nil {
		return err
	}
	defer d.release()
	if err := d.conn.TxPackets([]spi.Packet{{W: make([]byte, len(buf)), R: buf}}); err != nil {
		return fmt.Errorf("rf2xx: FIFO read remaining: %w", err)
	}
	return nil
}

// FIFOWriteRemaining writes buf after FIFOWriteFirst and ends the SPI
// transaction.
func (d *Device) FIFOWriteRemaining(buf []byte) error {
	if err := checkLen(len(buf)); err != nil {
		return err
	}
	if err := d.takeOpen(seqWrite); err != nil {
		return err
	}
	defer d.release()
	if err := d.conn.TxPackets([]spi.Packet{{W: buf}}); err != nil {
		return fmt.Errorf("rf2xx: FIFO write remaining: %w", err)
	}
	return nil
}

// releaseCS ends a transaction left open with KeepCS by clocking one more
// byte with chip-select released.
func (d *Device) releaseCS() {
	if err := d.conn.TxPackets([]spi.Packet{{W: []byte{0}, R: make([]byte, 1)}}); err != nil {
		d.logf("release chip-select: %v", err)
	}
}
