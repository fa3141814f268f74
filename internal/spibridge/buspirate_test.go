package spibridge

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/spi"

	"github.com/banshee-data/rf154/internal/rf2xx"
	"github.com/banshee-data/rf154/internal/rf2xx/rf2xxsim"
)

func TestNewEntersSPIMode(t *testing.T) {
	emu := NewEmulator(nil)
	b, err := New(emu, "fake", Config{Speed: Speed4MHz, Power: true})
	require.NoError(t, err)

	assert.Equal(t, "spi", emu.Mode())
	assert.Equal(t, 100*time.Millisecond, emu.ReadTimeout())
	assert.Equal(t, "buspirate(fake)", b.String())

	cmds := emu.Commands
	require.GreaterOrEqual(t, len(cmds), 24)
	assert.Equal(t, []byte{0x01, 0x8A, 0x66, 0x49}, cmds[len(cmds)-4:])
	for _, c := range cmds[:len(cmds)-4] {
		assert.Equal(t, byte(0x00), c)
	}
}

func TestNewInvalidSpeed(t *testing.T) {
	_, err := New(NewEmulator(nil), "fake", Config{Speed: Speed(9)})
	assert.Error(t, err)
}

func TestNewNoReply(t *testing.T) {
	emu := NewEmulator(nil)
	emu.SyncAfter = 1000
	_, err := New(emu, "fake", Config{})
	assert.ErrorIs(t, err, ErrTimeout)
}

// scriptedPort queues one canned reply per Write.
type scriptedPort struct {
	replies [][]byte
	out     bytes.Buffer
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	if len(p.replies) > 0 {
		p.out.Write(p.replies[0])
		p.replies = p.replies[1:]
	}
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	n, _ := p.out.Read(b)
	return n, nil
}

func (p *scriptedPort) Close() error { return nil }

func TestNewProtocolError(t *testing.T) {
	port := &scriptedPort{replies: [][]byte{[]byte("BBIO1"), []byte("XXXX")}}
	_, err := New(port, "fake", Config{})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestBulkTransfers(t *testing.T) {
	emu := NewEmulator(nil)
	b, err := New(emu, "fake", Config{})
	require.NoError(t, err)
	start := len(emu.Written())

	w := make([]byte, 20)
	r := make([]byte, 20)
	require.NoError(t, b.Tx(w, r))

	// CS low, 16 byte bulk, 4 byte bulk, CS high
	got := emu.Written()[start:]
	assert.Equal(t, byte(0x02), got[0])
	assert.Equal(t, byte(0x1F), got[1])
	assert.Equal(t, byte(0x13), got[18])
	assert.Equal(t, byte(0x03), got[len(got)-1])
	assert.Len(t, got, 1+17+5+1)
	assert.False(t, emu.CSAsserted())

	assert.Error(t, b.Tx(make([]byte, 2), make([]byte, 3)))
	assert.Error(t, b.TxPackets([]spi.Packet{{W: []byte{1}, BitsPerWord: 16}}))
	assert.False(t, emu.CSAsserted(), "chip-select left low after an error")
}

func TestBridgeDrivesChip(t *testing.T) {
	chip := rf2xxsim.New(rf2xx.Type2_4GHz)
	emu := NewEmulator(chip)
	b, err := New(emu, "fake", Config{Speed: Speed8MHz})
	require.NoError(t, err)

	dev, err := rf2xx.New(b, rf2xx.Config{Type: rf2xx.Type2_4GHz})
	require.NoError(t, err)
	defer dev.Close()

	info, err := dev.Probe()
	require.NoError(t, err)
	assert.Equal(t, byte(rf2xx.PartNumRF231), info.PartNum)

	require.NoError(t, dev.RegWrite(rf2xx.RegShortAddr0, 0x42))
	assert.Equal(t, byte(0x42), chip.Reg(rf2xx.RegShortAddr0))

	frame := make([]byte, 40)
	for i := range frame {
		frame[i] = byte(i + 1)
	}
	require.NoError(t, dev.FIFOWriteFirst(byte(len(frame))))
	assert.True(t, emu.CSAsserted())
	assert.True(t, chip.CSAsserted())
	require.NoError(t, dev.FIFOWriteRemaining(frame))
	assert.False(t, chip.CSAsserted())

	n, err := dev.FIFOReadFirst()
	require.NoError(t, err)
	require.Equal(t, byte(40), n)
	buf := make([]byte, n)
	require.NoError(t, dev.FIFOReadRemaining(buf))
	assert.Equal(t, frame, buf)

	done := make(chan error, 1)
	out := make([]byte, 41)
	require.NoError(t, dev.FIFOReadAsync(out, func(err error) { done <- err }))
	require.NoError(t, <-done)
	assert.Equal(t, byte(40), out[0])
	assert.Equal(t, frame, out[1:])
}

func TestHaltAndClose(t *testing.T) {
	emu := NewEmulator(nil)
	b, err := New(emu, "fake", Config{})
	require.NoError(t, err)

	require.NoError(t, b.TxPackets([]spi.Packet{{W: []byte{1}, KeepCS: true}}))
	assert.True(t, emu.CSAsserted())
	require.NoError(t, b.Halt())
	assert.False(t, emu.CSAsserted())
	require.NoError(t, b.Halt())

	require.NoError(t, b.Close())
	assert.Equal(t, "terminal", emu.Mode())
	assert.ErrorIs(t, b.Tx([]byte{1}, nil), ErrClosed)
	require.NoError(t, b.Close())
}

func TestOpenWith(t *testing.T) {
	var gotPath string
	var gotMode *serial.Mode
	emu := NewEmulator(nil)
	open := func(path string, mode *serial.Mode) (SerialPorter, error) {
		gotPath, gotMode = path, mode
		return emu, nil
	}
	b, err := OpenWith(open, "/dev/ttyUSB0", PortOptions{}, Config{})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "/dev/ttyUSB0", gotPath)
	assert.Equal(t, DefaultBaudRate, gotMode.BaudRate)

	boom := errors.New("no such device")
	_, err = OpenWith(func(string, *serial.Mode) (SerialPorter, error) { return nil, boom }, "/dev/x", PortOptions{}, Config{})
	assert.ErrorIs(t, err, boom)

	_, err = OpenWith(open, "/dev/x", PortOptions{DataBits: 4}, Config{})
	assert.Error(t, err)

	silent := NewEmulator(nil)
	silent.SyncAfter = 1000
	_, err = OpenWith(func(string, *serial.Mode) (SerialPorter, error) { return silent, nil }, "/dev/x", PortOptions{}, Config{})
	assert.ErrorIs(t, err, ErrTimeout)
	_, err = silent.Write([]byte{0})
	assert.Error(t, err, "port left open after a failed bring-up")
}

func TestParseSpeed(t *testing.T) {
	s, err := ParseSpeed("2.6mhz")
	require.NoError(t, err)
	assert.Equal(t, Speed2_6MHz, s)
	assert.Equal(t, "1MHz", Speed1MHz.String())
	_, err = ParseSpeed("16MHz")
	assert.Error(t, err)
}
