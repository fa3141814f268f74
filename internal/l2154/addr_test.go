package l2154

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in   string
		want Addr
	}{
		{"ff:ff", Broadcast},
		{"01:00", 0x0001},
		{"00:01", 0x0100},
		{"12:34", 0x3412},
		{"a:B", 0x0B0A},
	}
	for _, tt := range tests {
		got, err := ParseAddr(tt.in)
		if err != nil {
			t.Errorf("ParseAddr(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAddr(%q) = %#04x, want %#04x", tt.in, uint16(got), uint16(tt.want))
		}
	}
}

func TestParseAddrInvalid(t *testing.T) {
	for _, s := range []string{"", "ff", "ff:", ":ff", "123:00", "gg:00", "00:00:00", "0x1:00"} {
		if _, err := ParseAddr(s); !errors.Is(err, ErrBadAddr) {
			t.Errorf("ParseAddr(%q) error = %v, want ErrBadAddr", s, err)
		}
	}
}

func TestAddrString(t *testing.T) {
	a := MakeAddr(0x12, 0x34)
	if a.Lo() != 0x12 || a.Hi() != 0x34 {
		t.Errorf("bytes %#02x %#02x", a.Lo(), a.Hi())
	}
	if got := a.String(); got != "12:34" {
		t.Errorf("String() = %q", got)
	}
	back, err := ParseAddr(a.String())
	if err != nil || !back.Equal(a) {
		t.Errorf("round trip: %v %v", back, err)
	}
	if !Broadcast.IsBroadcast() || a.IsBroadcast() {
		t.Error("IsBroadcast")
	}
}

func TestAddrJSON(t *testing.T) {
	type node struct {
		Addr Addr `json:"addr"`
	}
	b, err := json.Marshal(node{Addr: MakeAddr(0x01, 0x02)})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"addr":"01:02"}` {
		t.Errorf("marshal = %s", b)
	}
	var n node
	if err := json.Unmarshal([]byte(`{"addr":"ff:ff"}`), &n); err != nil {
		t.Fatal(err)
	}
	if n.Addr != Broadcast {
		t.Errorf("unmarshal = %v", n.Addr)
	}
	if err := json.Unmarshal([]byte(`{"addr":"zz"}`), &n); err == nil {
		t.Error("expected error")
	}
}

func TestMustParseAddrPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("no panic")
		}
	}()
	MustParseAddr("nope")
}
