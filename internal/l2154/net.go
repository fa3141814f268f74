// Package l2154 is a minimal IEEE 802.15.4 link layer using 16-bit short
// addresses and a fixed MAC header. Transmission, reception and buffering are
// delegated to a MAC; Net only checks headers and addressing.
package l2154

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var (
	ErrPayloadTooLarge = errors.New("l2154: payload exceeds maximum")
	ErrNoFrame         = errors.New("l2154: no current frame")
	ErrBadMTU          = errors.New("l2154: invalid MTU")
)

// RecvStatus classifies the outcome of Recv.
type RecvStatus int

const (
	// RecvEmpty means no frame, or a frame that does not use the fixed
	// header layout.
	RecvEmpty RecvStatus = iota
	RecvOK
	// RecvWrongDest means a valid frame addressed to another node.
	RecvWrongDest
)

func (s RecvStatus) String() string {
	switch s {
	case RecvEmpty:
		return "empty"
	case RecvOK:
		return "ok"
	case RecvWrongDest:
		return "wrong-dest"
	}
	return fmt.Sprintf("RecvStatus(%d)", int(s))
}

// Net is a node on an 802.15.4 network.
type Net struct {
	mac  MAC
	addr Addr

	mu  sync.Mutex
	mtu int
	// cur is owned by the MAC queue until the next Recv skips it.
	cur *Frame
}

// Start configures mac with the node address, channel and PAN, sets its
// receive queue to DefaultMsgBufSize frames and starts it.
func Start(mac MAC, a Addr, ch Channel, pan PanID) (*Net, error) {
	if err := mac.SetAddr2(a); err != nil {
		return nil, fmt.Errorf("l2154: set address %s: %w", a, err)
	}
	if err := mac.SetChannel(ch); err != nil {
		return nil, fmt.Errorf("l2154: set channel %d: %w", ch, err)
	}
	if err := mac.SetPanID(pan); err != nil {
		return nil, fmt.Errorf("l2154: set PAN %s: %w", pan, err)
	}
	mac.SetMsgBufSize(DefaultMsgBufSize)
	if err := mac.Start(); err != nil {
		return nil, fmt.Errorf("l2154: start MAC: %w", err)
	}
	return &Net{mac: mac, addr: a, mtu: MaxPSDU}, nil
}

// Addr returns the node's own address.
func (n *Net) Addr() Addr { return n.addr }

// Broadcast returns the broadcast address.
func (n *Net) Broadcast() Addr { return Broadcast }

// MTU returns the largest frame size, header and FCS included.
func (n *Net) MTU() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mtu
}

// SetMTU changes the largest frame size. It must leave room for the header
// and FCS and may not exceed MaxPSDU.
func (n *Net) SetMTU(mtu int) error {
	if mtu <= HeaderSize+FCSSize || mtu > MaxPSDU {
		return fmt.Errorf("%w: %d", ErrBadMTU, mtu)
	}
	n.mu.Lock()
	n.mtu = mtu
	n.mu.Unlock()
	return nil
}

// MaxPayload returns the largest payload Send accepts.
func (n *Net) MaxPayload() int {
	return n.MTU() - (HeaderSize + FCSSize)
}

// Send sends data to dst.
func (n *Net) Send(dst Addr, data []byte) error {
	if limit := n.MaxPayload(); len(data) > limit {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), limit)
	}
	return n.mac.SendTo(dst, data)
}

// Recv releases the current frame, takes the next one from the MAC and
// classifies it. The frame stays current, whatever its status, until the
// next Recv.
func (n *Net) Recv() RecvStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cur != nil {
		n.mac.SkipReceived()
	}
	n.cur = n.mac.GetReceived()
	return Classify(n.cur, n.addr)
}

// Classify reports how a node with address self would treat f.
func Classify(f *Frame, self Addr) RecvStatus {
	switch {
	case f == nil || !f.FCF.ShortIntraPAN():
		return RecvEmpty
	case f.Dst != self && f.Dst != Broadcast:
		return RecvWrongDest
	}
	return RecvOK
}

// Frame returns the current frame, or nil.
func (n *Net) Frame() *Frame {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cur
}

func (n *Net) current() (*Frame, error) {
	f := n.Frame()
	if f == nil {
		return nil, ErrNoFrame
	}
	return f, nil
}

// Src returns the source address of the current frame.
func (n *Net) Src() (Addr, error) {
	f, err := n.current()
	if err != nil {
		return 0, err
	}
	return f.Src, nil
}

// Dst returns the destination address of the current frame.
func (n *Net) Dst() (Addr, error) {
	f, err := n.current()
	if err != nil {
		return 0, err
	}
	return f.Dst, nil
}

// Payload returns the payload of the current frame without copying it, or
// nil. It is valid until the next Recv.
func (n *Net) Payload() []byte {
	if f := n.Frame(); f != nil {
		return f.Payload
	}
	return nil
}

// PayLen returns the original payload length of the current frame, even if
// it was truncated on reception.
func (n *Net) PayLen() int {
	if f := n.Frame(); f != nil {
		return f.PayLen
	}
	return 0
}

// DumpPacket writes up to maxlen bytes of the current raw frame, from offset
// start, as space separated hex followed by a newline.
func (n *Net) DumpPacket(w io.Writer, start, maxlen int) error {
	f, err := n.current()
	if err != nil {
		return err
	}
	start = min(max(start, 0), len(f.Raw))
	end := start + min(max(maxlen, 0), len(f.Raw)-start)
	var sb strings.Builder
	for i := start; i < end; i++ {
		if i > start {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", f.Raw[i])
	}
	sb.WriteByte('\n')
	_, err = io.WriteString(w, sb.String())
	return err
}
