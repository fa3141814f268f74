package rfmac

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/rf154/internal/l2154"
	"github.com/banshee-data/rf154/internal/monitoring"
	"github.com/banshee-data/rf154/internal/rf2xx"
)

func (r *Radio) handleIRQ() {
	r.chip.Lock()
	st, err := r.dev.IRQStatus()
	if err != nil {
		r.chip.Unlock()
		r.logf("read IRQ status: %v", err)
		return
	}
	if st&rf2xx.IRQTRXEnd == 0 {
		r.chip.Unlock()
		return
	}

	r.mu.Lock()
	tx := r.transmitting
	r.mu.Unlock()
	if tx {
		state, err := r.dev.RegRead(rf2xx.RegTRXState)
		r.chip.Unlock()
		if err != nil {
			r.logf("read TRAC status: %v", err)
			state = rf2xx.TRACInvalid
		}
		select {
		case r.txDone <- state:
		default:
		}
		return
	}

	// chip stays locked until the frame is read
	if err := r.receive(); err != nil {
		r.chip.Unlock()
		r.countRxError()
		r.logf("receive: %v", err)
	}
}

// receive reads the PHR, then moves the PSDU and the LQI byte in the
// background.
func (r *Radio) receive() error {
	phr, err := r.dev.FIFOReadFirst()
	if err != nil {
		return err
	}
	n := int(phr & 0x7F)
	buf := make([]byte, n+1)
	err = r.dev.FIFOReadRemainingAsync(buf, func(err error) {
		r.chip.Unlock()
		if err != nil {
			r.countRxError()
			r.logf("read frame: %v", err)
			return
		}
		r.deliver(buf[:n], buf[n])
	})
	if err != nil {
		r.dev.FIFOAccessCancel()
		return err
	}
	return nil
}

func (r *Radio) countRxError() {
	r.mu.Lock()
	r.stats.RxErrors++
	r.mu.Unlock()
}

func (r *Radio) deliver(psdu []byte, lqi byte) {
	f, err := l2154.DecodeFrame(psdu)
	if err != nil {
		r.mu.Lock()
		if errors.Is(err, l2154.ErrBadFCS) {
			r.stats.RxBadFCS++
		} else {
			r.stats.RxErrors++
		}
		r.mu.Unlock()
		monitoring.Debugf("dropped frame of %d bytes: %v", len(psdu), err)
		return
	}
	f.LQI = lqi

	r.mu.Lock()
	// DIG2 stamps the end of the frame; without it use the read time
	f.Time = r.stamp
	r.stamp = time.Time{}
	if f.Time.IsZero() {
		f.Time = r.dev.Clock().Now()
	}
	r.stats.RxFrames++
	if len(r.queue) < r.bufSize {
		r.queue = append(r.queue, f)
	} else {
		r.stats.RxDropped++
	}
	hook := r.onFrame
	r.mu.Unlock()

	if hook != nil {
		hook(f)
	}
}

// SendTo sends data to dst in a data frame and waits for the outcome of the
// transmission.
func (r *Radio) SendTo(dst l2154.Addr, data []byte) error {
	r.tx.Lock()
	defer r.tx.Unlock()

	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	r.seq++
	h := l2154.Header{
		FCF: l2154.DataFCF(r.opts.AckRequest && dst != l2154.Broadcast),
		Seq: r.seq,
		Dst: dst,
		PAN: r.pan,
		Src: r.addr,
	}
	r.mu.Unlock()

	psdu, err := l2154.EncodeFrame(h, data)
	if err != nil {
		return err
	}

	r.chip.Lock()
	r.mu.Lock()
	r.transmitting = true
	r.mu.Unlock()
	select {
	case <-r.txDone:
	default:
	}
	if err := r.startTx(psdu); err != nil {
		r.chip.Unlock()
		r.count(rf2xx.TxFail)
		if rerr := r.restoreRX(); rerr != nil {
			r.logf("%v", rerr)
		}
		return err
	}
	r.chip.Unlock()

	timer := r.dev.Clock().NewTimer(r.opts.TxTimeout)
	var state byte
	select {
	case state = <-r.txDone:
		timer.Stop()
	case <-timer.C():
		state = rf2xx.TRACInvalid
		err = fmt.Errorf("%w: no TRX_END within %v", ErrTxFailed, r.opts.TxTimeout)
	}
	if rerr := r.restoreRX(); rerr != nil && err == nil {
		err = rerr
	}
	if err == nil {
		err = r.txResult(rf2xx.TxDoneFromTRAC(state))
	} else {
		r.count(rf2xx.TxFail)
	}
	return err
}

func (r *Radio) startTx(psdu []byte) error {
	if err := r.dev.ChangeState(rf2xx.CmdForcePLLOn); err != nil {
		return err
	}
	if err := r.dev.ChangeState(rf2xx.CmdTXARETOn); err != nil {
		return err
	}
	if err := r.dev.FIFOWriteFirst(byte(len(psdu))); err != nil {
		return err
	}
	if err := r.dev.FIFOWriteRemaining(psdu); err != nil {
		return err
	}
	if r.dev.HasSlpTr() {
		return r.dev.PulseSlpTr()
	}
	return r.dev.SetState(rf2xx.CmdTXStart)
}

// restoreRX ends the transmission and listens again. A TRX_END after the
// state change belongs to a received frame.
func (r *Radio) restoreRX() error {
	r.chip.Lock()
	defer r.chip.Unlock()
	r.mu.Lock()
	r.transmitting = false
	r.mu.Unlock()
	if err := r.dev.ChangeState(rf2xx.CmdRXAACKOn); err != nil {
		return fmt.Errorf("rfmac: back to receive: %w", err)
	}
	return nil
}

func (r *Radio) txResult(d rf2xx.TxDone) error {
	r.count(d)
	switch d {
	case rf2xx.TxOK:
		return nil
	case rf2xx.TxCCAFail:
		return ErrChannelBusy
	case rf2xx.TxNoAck:
		return ErrNoAck
	}
	return ErrTxFailed
}

func (r *Radio) count(d rf2xx.TxDone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch d {
	case rf2xx.TxOK:
		r.stats.TxFrames++
	case rf2xx.TxCCAFail:
		r.stats.TxCCAFail++
	case rf2xx.TxNoAck:
		r.stats.TxNoAck++
	default:
		r.stats.TxFailed++
	}
}
