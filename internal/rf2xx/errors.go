package rf2xx

import "errors"

var (
	// ErrBusy is returned when an asynchronous transfer is already pending.
	ErrBusy = errors.New("rf2xx: asynchronous transfer already pending")
	// ErrFIFOOpen is returned for any access other than the matching
	// *Remaining call while a FIFO sequence started by *First is open.
	ErrFIFOOpen = errors.New("rf2xx: FIFO transfer open, call the matching Remaining first")
	// ErrNoFirst is returned by *Remaining without a matching *First.
	ErrNoFirst = errors.New("rf2xx: no open FIFO transfer")
	ErrLength  = errors.New("rf2xx: invalid transfer length")
	ErrNoPin   = errors.New("rf2xx: pin not wired")
	// ErrSlpTrMode is returned by SlpTrPulseAt when SLP_TR is in output mode.
	ErrSlpTrMode      = errors.New("rf2xx: SLP_TR not in timer mode")
	ErrTimeout        = errors.New("rf2xx: timeout waiting for state")
	ErrUnexpectedPart = errors.New("rf2xx: unexpected part")
	ErrClosed         = errors.New("rf2xx: device closed")

	errCancelled = errors.New("rf2xx: transfer cancelled")
)
