package l2154

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadAddr is returned when a short address cannot be parsed.
var ErrBadAddr = errors.New("l2154: invalid short address")

// Addr is a 16-bit IEEE 802.15.4 short address. The low byte is sent first on
// air and written first in the text form.
type Addr uint16

// Broadcast is the broadcast short address, ff:ff.
const Broadcast Addr = 0xFFFF

// MakeAddr builds an address from its low and high bytes.
func MakeAddr(lo, hi byte) Addr { return Addr(hi)<<8 | Addr(lo) }

// Lo returns the byte sent first.
func (a Addr) Lo() byte { return byte(a) }

// Hi returns the byte sent second.
func (a Addr) Hi() byte { return byte(a >> 8) }

func (a Addr) Equal(b Addr) bool { return a == b }

func (a Addr) IsBroadcast() bool { return a == Broadcast }

// String formats the address as lo:hi, e.g. "ff:ff".
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x", a.Lo(), a.Hi())
}

// ParseAddr parses the lo:hi text form. Each byte is one or two hex digits.
func ParseAddr(s string) (Addr, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadAddr, s)
	}
	l, err := parseByte(lo)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAddr, s)
	}
	h, err := parseByte(hi)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAddr, s)
	}
	return MakeAddr(l, h), nil
}

func parseByte(s string) (byte, error) {
	if len(s) == 0 || len(s) > 2 {
		return 0, ErrBadAddr
	}
	v, err := strconv.ParseUint(s, 16, 8)
	return byte(v), err
}

// MustParseAddr is like ParseAddr but panics on error. It is meant for
// constants and tests.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Addr) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Addr) UnmarshalText(b []byte) error {
	v, err := ParseAddr(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// PanID is a 16-bit PAN identifier.
type PanID uint16

// BroadcastPAN is the broadcast PAN identifier.
const BroadcastPAN PanID = 0xFFFF

func (p PanID) String() string { return fmt.Sprintf("%#04x", uint16(p)) }

// Channel is a radio channel number: 11 to 26 in the 2.4 GHz band, 0 to 10
// in the 868/915 MHz bands.
type Channel uint8
