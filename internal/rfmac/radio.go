// Package rfmac binds the l2154 link layer to an RF2xx radio. It programs the
// chip's address filter, sends data frames with TX_ARET (automatic CSMA-CA
// and retransmission) and queues received frames read through the FIFO.
package rfmac

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/rf154/internal/l2154"
	"github.com/banshee-data/rf154/internal/monitoring"
	"github.com/banshee-data/rf154/internal/rf2xx"
)

var (
	ErrChannelBusy = errors.New("rfmac: channel access failure")
	ErrNoAck       = errors.New("rfmac: no acknowledgement")
	ErrTxFailed    = errors.New("rfmac: transmission failed")
	ErrBadChannel  = errors.New("rfmac: channel not in band")
	ErrNotStarted  = errors.New("rfmac: radio not started")
)

// DefaultTxTimeout bounds the wait for TRX_END after a transmission starts.
const DefaultTxTimeout = 100 * time.Millisecond

// Options tune the MAC.
type Options struct {
	// AckRequest sets the ack request bit on unicast frames.
	AckRequest bool
	// FrameRetries is the number of TX_ARET retransmissions, 0 to 15.
	FrameRetries int
	TxTimeout    time.Duration
}

// Stats are the MAC counters.
type Stats struct {
	RxFrames  uint64 `json:"rx_frames"`
	RxDropped uint64 `json:"rx_dropped"` // queue full
	RxBadFCS  uint64 `json:"rx_bad_fcs"`
	RxErrors  uint64 `json:"rx_errors"`
	TxFrames  uint64 `json:"tx_frames"`
	TxNoAck   uint64 `json:"tx_no_ack"`
	TxCCAFail uint64 `json:"tx_cca_fail"`
	TxFailed  uint64 `json:"tx_failed"`
}

// Radio implements l2154.MAC on an rf2xx.Device.
type Radio struct {
	dev  *rf2xx.Device
	opts Options
	logf func(format string, v ...interface{})

	// chip is held across multi-step chip interactions: from FIFOReadFirst
	// until the read completes, and while a transmission is set up.
	chip sync.Mutex
	// tx serializes SendTo.
	tx     sync.Mutex
	txDone chan byte

	mu           sync.Mutex
	addr         l2154.Addr
	channel      l2154.Channel
	pan          l2154.PanID
	bufSize      int
	started      bool
	transmitting bool
	seq          uint8
	queue        []*l2154.Frame
	stats        Stats
	stamp        time.Time
	onFrame      func(*l2154.Frame)
}

// New returns a stopped Radio on dev.
func New(dev *rf2xx.Device, opts Options) *Radio {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = DefaultTxTimeout
	}
	opts.FrameRetries = min(max(opts.FrameRetries, 0), 15)
	ch := l2154.Channel(11)
	if dev.Type() == rf2xx.Type868MHz {
		ch = 1
	}
	return &Radio{
		dev:     dev,
		opts:    opts,
		logf:    monitoring.Prefixed("rfmac: "),
		txDone:  make(chan byte, 1),
		addr:    l2154.Broadcast,
		channel: ch,
		pan:     l2154.BroadcastPAN,
		bufSize: 1,
	}
}

var _ l2154.MAC = (*Radio)(nil)

// Device returns the underlying radio.
func (r *Radio) Device() *rf2xx.Device { return r.dev }

// ValidChannel reports whether ch is usable in the band of typ.
func ValidChannel(typ rf2xx.Type, ch l2154.Channel) bool {
	if typ == rf2xx.Type868MHz {
		return ch <= 10
	}
	return ch >= 11 && ch <= 26
}

// OnFrame sets a hook called with every received frame, including frames
// dropped because the queue was full. It runs on the driver's goroutine.
func (r *Radio) OnFrame(f func(*l2154.Frame)) {
	r.mu.Lock()
	r.onFrame = f
	r.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (r *Radio) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Radio) SetAddr2(a l2154.Addr) error {
	r.mu.Lock()
	r.addr = a
	started := r.started
	pan := r.pan
	r.mu.Unlock()
	if !started {
		return nil
	}
	r.chip.Lock()
	defer r.chip.Unlock()
	return r.programAddress(a, pan)
}

func (r *Radio) SetPanID(pan l2154.PanID) error {
	r.mu.Lock()
	r.pan = pan
	started := r.started
	a := r.addr
	r.mu.Unlock()
	if !started {
		return nil
	}
	r.chip.Lock()
	defer r.chip.Unlock()
	return r.programAddress(a, pan)
}

func (r *Radio) SetChannel(ch l2154.Channel) error {
	if !ValidChannel(r.dev.Type(), ch) {
		return fmt.Errorf("%w: %d for %s", ErrBadChannel, ch, r.dev.Type())
	}
	r.mu.Lock()
	r.channel = ch
	started := r.started
	r.mu.Unlock()
	if !started {
		return nil
	}
	r.chip.Lock()
	defer r.chip.Unlock()
	return r.dev.RegUpdate(rf2xx.RegPHYCCCCA, rf2xx.ChannelMask, byte(ch))
}

// SetMsgBufSize sets the receive queue length, at least one frame. Frames
// beyond a smaller size stay queued until read.
func (r *Radio) SetMsgBufSize(n int) {
	r.mu.Lock()
	r.bufSize = max(n, 1)
	r.mu.Unlock()
}

func (r *Radio) programAddress(a l2154.Addr, pan l2154.PanID) error {
	for _, w := range []struct{ reg, v byte }{
		{rf2xx.RegShortAddr0, a.Lo()},
		{rf2xx.RegShortAddr1, a.Hi()},
		{rf2xx.RegPANID0, byte(pan)},
		{rf2xx.RegPANID1, byte(pan >> 8)},
	} {
		if err := r.dev.RegWrite(w.reg, w.v); err != nil {
			return err
		}
	}
	return nil
}

// Start resets and configures the radio and starts listening in RX_AACK_ON.
func (r *Radio) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	a, pan, ch := r.addr, r.pan, r.channel
	r.mu.Unlock()

	r.chip.Lock()
	defer r.chip.Unlock()

	if err := r.dev.Reset(); err != nil {
		return err
	}
	info, err := r.dev.Probe()
	if err != nil {
		return err
	}
	r.logf("%s part %#02x version %d", r.dev, info.PartNum, info.Version)

	if err := r.dev.RegUpdate(rf2xx.RegTRXCtrl1, rf2xx.TXAutoCRCOn, rf2xx.TXAutoCRCOn); err != nil {
		return err
	}
	if err := r.programAddress(a, pan); err != nil {
		return err
	}
	if err := r.dev.RegUpdate(rf2xx.RegPHYCCCCA, rf2xx.ChannelMask, byte(ch)); err != nil {
		return err
	}
	if err := r.dev.RegUpdate(rf2xx.RegXAHCtrl0, 0xF0, byte(r.opts.FrameRetries)<<4); err != nil {
		return err
	}
	if err := r.dev.SetIRQMask(rf2xx.IRQTRXEnd); err != nil {
		return err
	}
	if _, err := r.dev.IRQStatus(); err != nil {
		return err
	}
	r.dev.IRQConfigure(r.handleIRQ)
	if err := r.dev.IRQEnable(); err != nil {
		return err
	}
	if r.dev.HasDIG2() {
		r.dev.DIG2Configure(func(t time.Time) {
			r.mu.Lock()
			r.stamp = t
			r.mu.Unlock()
		})
		if err := r.dev.DIG2Enable(); err != nil {
			return err
		}
	}
	if err := r.dev.ChangeState(rf2xx.CmdRXAACKOn); err != nil {
		r.dev.IRQDisable()
		return err
	}

	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	r.logf("listening on channel %d, PAN %s, address %s", ch, pan, a)
	return nil
}

// Stop waits for a receive in progress, stops interrupt handling and turns
// the transceiver off. Queued frames are kept.
func (r *Radio) Stop() error {
	r.tx.Lock()
	defer r.tx.Unlock()
	r.chip.Lock()
	defer r.chip.Unlock()

	r.mu.Lock()
	started := r.started
	r.started = false
	r.mu.Unlock()
	if !started {
		return nil
	}
	r.dev.IRQDisable()
	r.dev.DIG2Disable()
	return r.dev.ChangeState(rf2xx.CmdForceTRXOff)
}

// GetReceived returns the oldest queued frame, or nil.
func (r *Radio) GetReceived() *l2154.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil
	}
	return r.queue[0]
}

// SkipReceived drops the oldest queued frame.
func (r *Radio) SkipReceived() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) > 0 {
		r.queue[0] = nil
		r.queue = r.queue[1:]
	}
}

// Queued returns the number of queued frames.
func (r *Radio) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
