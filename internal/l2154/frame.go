package l2154

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sigurn/crc16"
)

// The MAC header has a fixed layout: FCF with the intra-PAN bit set (2),
// sequence number (1), destination address (2), destination PAN ID (2) and
// source address (2). No auxiliary security header. The FCS closes the frame.
const (
	HeaderSize = 2 + 1 + 2 + 2 + 2
	FCSSize    = 2
	// MaxPSDU is the largest PHY payload, which is also the default MTU.
	MaxPSDU = 127
)

var (
	ErrShortFrame = errors.New("l2154: frame too short")
	ErrBadFCS     = errors.New("l2154: frame check sequence mismatch")
	ErrLongFrame  = errors.New("l2154: frame longer than 127 bytes")
)

var fcsTable = crc16.MakeTable(crc16.CRC16_KERMIT)

// FCS computes the 802.15.4 frame check sequence of b.
func FCS(b []byte) uint16 { return crc16.Checksum(b, fcsTable) }

// FrameType is the frame type field of the FCF.
type FrameType uint8

const (
	FrameBeacon  FrameType = 0
	FrameData    FrameType = 1
	FrameAck     FrameType = 2
	FrameCommand FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameBeacon:
		return "beacon"
	case FrameData:
		return "data"
	case FrameAck:
		return "ack"
	case FrameCommand:
		return "command"
	}
	return fmt.Sprintf("FrameType(%d)", uint8(t))
}

// AddrMode is an addressing mode field of the FCF.
type AddrMode uint8

const (
	AddrModeNone  AddrMode = 0
	AddrModeShort AddrMode = 2
	AddrModeLong  AddrMode = 3
)

// FCF is the frame control field.
type FCF uint16

const (
	fcfTypeMask     = 0x0007
	fcfSecurity     = 1 << 3
	fcfPending      = 1 << 4
	fcfAckRequest   = 1 << 5
	fcfIntraPAN     = 1 << 6
	fcfDstModeShift = 10
	fcfVersionShift = 12
	fcfSrcModeShift = 14
)

// DataFCF returns the FCF of a data frame with short addresses on both sides
// and the intra-PAN bit set.
func DataFCF(ackRequest bool) FCF {
	f := FCF(FrameData) | fcfIntraPAN |
		FCF(AddrModeShort)<<fcfDstModeShift | FCF(AddrModeShort)<<fcfSrcModeShift
	if ackRequest {
		f |= fcfAckRequest
	}
	return f
}

func (f FCF) FrameType() FrameType  { return FrameType(f & fcfTypeMask) }
func (f FCF) Security() bool        { return f&fcfSecurity != 0 }
func (f FCF) FramePending() bool    { return f&fcfPending != 0 }
func (f FCF) AckRequest() bool      { return f&fcfAckRequest != 0 }
func (f FCF) IntraPAN() bool        { return f&fcfIntraPAN != 0 }
func (f FCF) DstAddrMode() AddrMode { return AddrMode((f >> fcfDstModeShift) & 3) }
func (f FCF) FrameVersion() uint8   { return uint8((f >> fcfVersionShift) & 3) }
func (f FCF) SrcAddrMode() AddrMode { return AddrMode((f >> fcfSrcModeShift) & 3) }

// ShortIntraPAN reports whether f describes the fixed header layout: a data
// frame with short source and destination addresses and the intra-PAN bit.
func (f FCF) ShortIntraPAN() bool {
	return f.FrameType() == FrameData &&
		f.DstAddrMode() == AddrModeShort &&
		f.SrcAddrMode() == AddrModeShort &&
		f.IntraPAN()
}

// Header is the fixed MAC header.
type Header struct {
	FCF FCF
	Seq uint8
	Dst Addr
	PAN PanID
	Src Addr
}

// Frame is a received frame. Addresses and payload are only decoded when the
// FCF describes the fixed header layout; Raw always holds the PSDU.
type Frame struct {
	Header
	Payload []byte
	// PayLen is the payload length announced by the PHR, which may exceed
	// len(Payload) if the frame was truncated on reception.
	PayLen int
	Raw    []byte

	LQI  uint8
	Time time.Time
}

// EncodeFrame builds a PSDU from h and payload and appends the FCS.
func EncodeFrame(h Header, payload []byte) ([]byte, error) {
	n := HeaderSize + len(payload) + FCSSize
	if n > MaxPSDU {
		return nil, fmt.Errorf("%w: %d bytes", ErrLongFrame, n)
	}
	b := make([]byte, HeaderSize, n)
	binary.LittleEndian.PutUint16(b[0:], uint16(h.FCF))
	b[2] = h.Seq
	binary.LittleEndian.PutUint16(b[3:], uint16(h.Dst))
	binary.LittleEndian.PutUint16(b[5:], uint16(h.PAN))
	binary.LittleEndian.PutUint16(b[7:], uint16(h.Src))
	b = append(b, payload...)
	return binary.LittleEndian.AppendUint16(b, FCS(b)), nil
}

// DecodeFrame parses a PSDU including its FCS. The returned frame keeps a copy
// of psdu in Raw and Payload points into it.
func DecodeFrame(psdu []byte) (*Frame, error) {
	if len(psdu) < 3+FCSSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(psdu))
	}
	if len(psdu) > MaxPSDU {
		return nil, fmt.Errorf("%w: %d bytes", ErrLongFrame, len(psdu))
	}
	body := psdu[:len(psdu)-FCSSize]
	want := binary.LittleEndian.Uint16(psdu[len(body):])
	if got := FCS(body); got != want {
		return nil, fmt.Errorf("%w: got %#04x, frame has %#04x", ErrBadFCS, got, want)
	}

	raw := make([]byte, len(psdu))
	copy(raw, psdu)
	f := &Frame{Raw: raw}
	f.FCF = FCF(binary.LittleEndian.Uint16(raw))
	f.Seq = raw[2]
	if !f.FCF.ShortIntraPAN() {
		return f, nil
	}
	if len(body) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes for a data frame", ErrShortFrame, len(psdu))
	}
	f.Dst = Addr(binary.LittleEndian.Uint16(raw[3:]))
	f.PAN = PanID(binary.LittleEndian.Uint16(raw[5:]))
	f.Src = Addr(binary.LittleEndian.Uint16(raw[7:]))
	f.Payload = raw[HeaderSize:len(body)]
	f.PayLen = len(f.Payload)
	return f, nil
}
