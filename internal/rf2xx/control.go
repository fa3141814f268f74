package rf2xx

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/banshee-data/rf154/internal/timeutil"
)

// Timings from the AT86RF231 datasheet, rounded up.
const (
	resetPulse   = 6 * time.Microsecond   // t10, RSTN low
	resetSettle  = 510 * time.Microsecond // reset to TRX_OFF incl. crystal start
	wakeupSettle = 380 * time.Microsecond // tTR2, SLEEP to TRX_OFF
	slpTrPulse   = time.Microsecond       // t7 is 62.5 ns
	statusPoll   = 20 * time.Microsecond

	// StateTimeout bounds the wait for a state transition.
	StateTimeout = 5 * time.Millisecond
)

// SetState writes a command to TRX_STATE.
func (d *Device) SetState(cmd State) error {
	return d.RegWrite(RegTRXState, byte(cmd))
}

// Status returns the current state from TRX_STATUS.
func (d *Device) Status() (State, error) {
	v, err := d.RegRead(RegTRXStatus)
	if err != nil {
		return 0, err
	}
	return State(v & TRXStatusMask), nil
}

// WaitStatus polls TRX_STATUS until it reads want or timeout elapses.
func (d *Device) WaitStatus(want State, timeout time.Duration) error {
	start := d.clock.Now()
	for {
		s, err := d.Status()
		if err != nil {
			return err
		}
		if s == want {
			return nil
		}
		if d.clock.Since(start) >= timeout {
			return fmt.Errorf("%w %s, status %s", ErrTimeout, want, s)
		}
		d.clock.Sleep(statusPoll)
	}
}

// ChangeState issues cmd and waits for the matching status. TX_START has no
// stable status and is only issued.
func (d *Device) ChangeState(cmd State) error {
	if err := d.SetState(cmd); err != nil {
		return err
	}
	switch cmd {
	case CmdTXStart, CmdNOP:
		return nil
	case CmdForceTRXOff:
		return d.WaitStatus(StatusTRXOff, StateTimeout)
	case CmdForcePLLOn:
		return d.WaitStatus(StatusPLLOn, StateTimeout)
	}
	return d.WaitStatus(cmd, StateTimeout)
}

// Reset resets the chip: all registers return to their defaults and the
// radio ends in TRX_OFF. Without a reset pin only the state is forced.
func (d *Device) Reset() error {
	if d.pins.Reset != nil {
		if d.pins.SlpTr != nil {
			if err := d.pins.SlpTr.Out(gpio.Low); err != nil {
				return fmt.Errorf("rf2xx: SLP_TR low: %w", err)
			}
		}
		if err := d.pins.Reset.Out(gpio.Low); err != nil {
			return fmt.Errorf("rf2xx: assert reset: %w", err)
		}
		d.clock.Sleep(resetPulse)
		if err := d.pins.Reset.Out(gpio.High); err != nil {
			return fmt.Errorf("rf2xx: release reset: %w", err)
		}
		d.clock.Sleep(resetSettle)
	}
	if err := d.ChangeState(CmdForceTRXOff); err != nil {
		return fmt.Errorf("rf2xx: reset: %w", err)
	}
	return nil
}

// HasPA reports whether an external power amplifier is wired.
func (d *Device) HasPA() bool { return d.pins.PA != nil }

// PAEnable powers up the external PA.
func (d *Device) PAEnable() error { return d.drive(d.pins.PA, "PA", gpio.High) }

// PADisable powers down the external PA.
func (d *Device) PADisable() error { return d.drive(d.pins.PA, "PA", gpio.Low) }

// HasSlpTr reports whether SLP_TR is wired.
func (d *Device) HasSlpTr() bool { return d.pins.SlpTr != nil }

// SlpTrSet drives SLP_TR high.
func (d *Device) SlpTrSet() error { return d.drive(d.pins.SlpTr, "SLP_TR", gpio.High) }

// SlpTrClear drives SLP_TR low.
func (d *Device) SlpTrClear() error { return d.drive(d.pins.SlpTr, "SLP_TR", gpio.Low) }

func (d *Device) drive(p OutputPin, name string, l gpio.Level) error {
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNoPin, name)
	}
	if err := p.Out(l); err != nil {
		return fmt.Errorf("rf2xx: drive %s %v: %w", name, l, err)
	}
	return nil
}

// SlpTrConfigOutput puts SLP_TR in plain output mode and drops any scheduled
// pulse.
func (d *Device) SlpTrConfigOutput() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slpTrTimer = false
	d.dropSlpTrPulse()
}

// SlpTrConfigTimer puts SLP_TR in timer mode, where SlpTrPulseAt schedules
// pulses.
func (d *Device) SlpTrConfigTimer() {
	d.mu.Lock()
	d.slpTrTimer = true
	d.mu.Unlock()
}

// SlpTrPulseAt schedules a SLP_TR pulse at t on the device clock, e.g. to
// start a transmission at a given instant. A later call replaces an earlier
// pending pulse.
func (d *Device) SlpTrPulseAt(t time.Time) error {
	if d.pins.SlpTr == nil {
		return fmt.Errorf("%w: SLP_TR", ErrNoPin)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.slpTrTimer {
		return ErrSlpTrMode
	}
	d.dropSlpTrPulse()
	p := &pulse{
		timer:  d.clock.NewTimer(t.Sub(d.clock.Now())),
		cancel: make(chan struct{}),
	}
	d.slpTrPulse = p
	go func() {
		select {
		case <-p.timer.C():
		case <-p.cancel:
			return
		}
		d.mu.Lock()
		current := d.slpTrPulse == p
		if current {
			d.slpTrPulse = nil
		}
		d.mu.Unlock()
		if !current {
			return
		}
		if err := d.PulseSlpTr(); err != nil {
			d.logf("scheduled SLP_TR pulse: %v", err)
		}
	}()
	return nil
}

// pulse is a scheduled SLP_TR pulse. Closing cancel releases its goroutine.
type pulse struct {
	timer  timeutil.Timer
	cancel chan struct{}
}

// dropSlpTrPulse cancels the pending pulse, if any. d.mu must be held.
func (d *Device) dropSlpTrPulse() {
	if d.slpTrPulse == nil {
		return
	}
	d.slpTrPulse.timer.Stop()
	close(d.slpTrPulse.cancel)
	d.slpTrPulse = nil
}

// PulseSlpTr drives SLP_TR high then low, e.g. to start a transmission from
// PLL_ON or TX_ARET_ON.
func (d *Device) PulseSlpTr() error {
	if err := d.SlpTrSet(); err != nil {
		return err
	}
	d.clock.Sleep(slpTrPulse)
	return d.SlpTrClear()
}

// Sleep puts the radio in SLEEP: TRX_OFF, then SLP_TR high.
func (d *Device) Sleep() error {
	if d.pins.SlpTr == nil {
		return fmt.Errorf("%w: SLP_TR", ErrNoPin)
	}
	if err := d.ChangeState(CmdForceTRXOff); err != nil {
		return fmt.Errorf("rf2xx: sleep: %w", err)
	}
	return d.SlpTrSet()
}

// Wakeup brings the radio from SLEEP back to TRX_OFF.
func (d *Device) Wakeup() error {
	if err := d.SlpTrClear(); err != nil {
		return err
	}
	d.clock.Sleep(wakeupSettle)
	if err := d.WaitStatus(StatusTRXOff, StateTimeout); err != nil {
		return fmt.Errorf("rf2xx: wakeup: %w", err)
	}
	return nil
}
