package rf2xx

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// edgePoll bounds how long a watcher blocks in WaitForEdge before checking
// whether it was stopped.
const edgePoll = 100 * time.Millisecond

type watcher struct {
	stop chan struct{}
}

func (d *Device) watch(pin InputPin, w *watcher, fire func()) {
	for {
		select {
		case <-w.stop:
			return
		default:
		}
		if !pin.WaitForEdge(edgePoll) {
			continue
		}
		select {
		case <-w.stop:
			return
		default:
		}
		fire()
	}
}

// IRQConfigure sets the handler called on IRQ edges. It may be changed while
// the interrupt is enabled.
func (d *Device) IRQConfigure(h Handler) {
	d.mu.Lock()
	d.irqHandler = h
	d.mu.Unlock()
}

// IRQEnable starts watching the IRQ pin for rising edges.
func (d *Device) IRQEnable() error {
	if d.pins.IRQ == nil {
		return fmt.Errorf("%w: IRQ", ErrNoPin)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.irqWatch != nil {
		return nil
	}
	if err := d.pins.IRQ.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
		return fmt.Errorf("rf2xx: configure IRQ pin: %w", err)
	}
	w := &watcher{stop: make(chan struct{})}
	d.irqWatch = w
	go d.watch(d.pins.IRQ, w, func() {
		d.mu.Lock()
		h := d.irqHandler
		d.mu.Unlock()
		if h != nil {
			h()
		}
	})
	return nil
}

// IRQDisable stops watching the IRQ pin. A handler already running finishes.
func (d *Device) IRQDisable() {
	d.mu.Lock()
	w := d.irqWatch
	d.irqWatch = nil
	d.mu.Unlock()
	if w == nil {
		return
	}
	close(w.stop)
	if err := d.pins.IRQ.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		d.logf("disable IRQ edge detection: %v", err)
	}
}

// HasDIG2 reports whether DIG2 is wired to an input.
func (d *Device) HasDIG2() bool { return d.pins.DIG2 != nil }

// DIG2Configure sets the handler called on DIG2 edges.
func (d *Device) DIG2Configure(h TimerHandler) {
	d.mu.Lock()
	d.dig2Handler = h
	d.mu.Unlock()
}

// DIG2Enable starts watching DIG2; each rising edge is stamped with the
// device clock.
func (d *Device) DIG2Enable() error {
	if d.pins.DIG2 == nil {
		return fmt.Errorf("%w: DIG2", ErrNoPin)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.dig2Watch != nil {
		return nil
	}
	if err := d.pins.DIG2.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
		return fmt.Errorf("rf2xx: configure DIG2 pin: %w", err)
	}
	w := &watcher{stop: make(chan struct{})}
	d.dig2Watch = w
	go d.watch(d.pins.DIG2, w, func() {
		ts := d.clock.Now()
		d.mu.Lock()
		h := d.dig2Handler
		d.mu.Unlock()
		if h != nil {
			h(ts)
		}
	})
	return nil
}

// DIG2Disable stops watching DIG2.
func (d *Device) DIG2Disable() {
	d.mu.Lock()
	w := d.dig2Watch
	d.dig2Watch = nil
	d.mu.Unlock()
	if w == nil {
		return
	}
	close(w.stop)
	if err := d.pins.DIG2.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		d.logf("disable DIG2 edge detection: %v", err)
	}
}

// IRQStatus reads and thereby clears IRQ_STATUS.
func (d *Device) IRQStatus() (IRQ, error) {
	v, err := d.RegRead(RegIRQStatus)
	return IRQ(v), err
}

// SetIRQMask selects the interrupts that drive the IRQ pin.
func (d *Device) SetIRQMask(mask IRQ) error {
	return d.RegWrite(RegIRQMask, byte(mask))
}
