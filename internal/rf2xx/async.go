package rf2xx

import (
	"fmt"

	"periph.io/x/conn/v3/spi"
)

// transfer is a pending asynchronous FIFO access.
type transfer struct {
	w, r []byte
	out  []byte // destination of r[skip:] for reads
	skip int
	done CompletionHandler

	cancel     chan struct{}
	cancelling bool // guarded by Device.mu
	exited     chan struct{}

	// written by the transfer goroutine, read after exited is closed
	busHeld bool
	csHeld  bool
}

func newTransfer(w, r, out []byte, skip int, done CompletionHandler) *transfer {
	return &transfer{
		w:      w,
		r:      r,
		out:    out,
		skip:   skip,
		done:   done,
		cancel: make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// reserve registers t as the pending transfer. When fromOpen is set, the
// transfer continues the open sequence s and inherits its bus token.
func (d *Device) reserve(t *transfer, fromOpen bool, s sequence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.closed:
		return ErrClosed
	case d.pending != nil:
		return ErrBusy
	case fromOpen && d.open != s:
		return fmt.Errorf("%w for %s", ErrNoFirst, s)
	case !fromOpen && d.open != seqNone:
		return ErrFIFOOpen
	}
	if fromOpen {
		d.open = seqNone
		t.busHeld = true
		t.csHeld = true
	}
	d.pending = t
	return nil
}

// FIFOReadAsync reads len(buf) bytes from the frame buffer in the background
// and calls done when finished. buf must not be touched until then.
func (d *Device) FIFOReadAsync(buf []byte, done CompletionHandler) error {
	if err := checkLen(len(buf)); err != nil {
		return err
	}
	w := make([]byte, len(buf)+1)
	w[0] = cmdFIFORead
	t := newTransfer(w, make([]byte, len(w)), buf, 1, done)
	if err := d.reserve(t, false, seqNone); err != nil {
		return err
	}
	go d.run(t)
	return nil
}

// FIFOWriteAsync writes buf to the frame buffer in the background and calls
// done when finished.
func (d *Device) FIFOWriteAsync(buf []byte, done CompletionHandler) error {
	if err := checkLen(len(buf)); err != nil {
		return err
	}
	w := make([]byte, len(buf)+1)
	w[0] = cmdFIFOWrite
	copy(w[1:], buf)
	t := newTransfer(w, nil, nil, 0, done)
	if err := d.reserve(t, false, seqNone); err != nil {
		return err
	}
	go d.run(t)
	return nil
}

// FIFOReadRemainingAsync continues a FIFOReadFirst in the background, reading
// len(buf) bytes, ending the SPI transaction and calling done.
func (d *Device) FIFOReadRemainingAsync(buf []byte, done CompletionHandler) error {
	if err := checkLen(len(buf)); err != nil {
		return err
	}
	t := newTransfer(make([]byte, len(buf)), buf, nil, 0, done)
	if err := d.reserve(t, true, seqRead); err != nil {
		return err
	}
	go d.run(t)
	return nil
}

// FIFOWriteRemainingAsync continues a FIFOWriteFirst in the background,
// writing buf, ending the SPI transaction and calling done.
func (d *Device) FIFOWriteRemainingAsync(buf []byte, done CompletionHandler) error {
	if err := checkLen(len(buf)); err != nil {
		return err
	}
	w := make([]byte, len(buf))
	copy(w, buf)
	t := newTransfer(w, nil, nil, 0, done)
	if err := d.reserve(t, true, seqWrite); err != nil {
		return err
	}
	go d.run(t)
	return nil
}

func (d *Device) run(t *transfer) {
	defer close(t.exited)

	if !t.busHeld {
		select {
		case d.bus <- struct{}{}:
			t.busHeld = true
		case <-t.cancel:
			return
		}
	}

	err := d.stream(t)
	if err == errCancelled {
		// FIFOAccessCancel cleans up once exited is closed.
		return
	}

	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
	d.release()

	if err == nil && t.out != nil {
		copy(t.out, t.r[t.skip:])
	}
	if t.done != nil {
		t.done(err)
	}
}

func (d *Device) stream(t *transfer) error {
	for off := 0; off < len(t.w); off += asyncChunk {
		select {
		case <-t.cancel:
			return errCancelled
		default:
		}
		end := min(off+asyncChunk, len(t.w))
		p := spi.Packet{W: t.w[off:end], KeepCS: end < len(t.w)}
		if t.r != nil {
			p.R = t.r[off:end]
		}
		if err := d.conn.TxPackets([]spi.Packet{p}); err != nil {
			if t.csHeld {
				d.releaseCS()
			}
			return fmt.Errorf("rf2xx: async FIFO transfer: %w", err)
		}
		t.csHeld = p.KeepCS
	}
	return nil
}

// FIFOAccessCancel halts the pending asynchronous transfer, or an open
// First/Remaining sequence, and releases the bus. The completion handler of a
// cancelled transfer is not called. Without anything to cancel it does
// nothing.
func (d *Device) FIFOAccessCancel() {
	d.mu.Lock()
	t := d.pending
	if t != nil {
		if t.cancelling {
			d.mu.Unlock()
			return
		}
		t.cancelling = true
		close(t.cancel)
		d.mu.Unlock()

		<-t.exited

		d.mu.Lock()
		if d.pending != t {
			// completed before it saw the cancellation
			d.mu.Unlock()
			return
		}
		d.pending = nil
		d.mu.Unlock()
		if t.csHeld {
			d.releaseCS()
		}
		if t.busHeld {
			d.release()
		}
		d.logf("asynchronous transfer cancelled")
		return
	}

	open := d.open
	d.open = seqNone
	d.mu.Unlock()
	if open != seqNone {
		d.releaseCS()
		d.release()
		d.logf("open FIFO %s cancelled", open)
	}
}

// Pending reports whether an asynchronous transfer is in progress.
func (d *Device) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}
