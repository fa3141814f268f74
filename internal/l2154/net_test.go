package l2154

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMAC queues frames in memory and records configuration calls.
type fakeMAC struct {
	calls   []string
	addr    Addr
	channel Channel
	pan     PanID
	bufSize int
	started bool
	failOn  string

	queue   []*Frame
	skipped int
	sent    []sentFrame
	sendErr error
}

type sentFrame struct {
	dst  Addr
	data []byte
}

func (m *fakeMAC) fail(call string) error {
	m.calls = append(m.calls, call)
	if m.failOn == call {
		return errors.New("fake: " + call + " failed")
	}
	return nil
}

func (m *fakeMAC) SetAddr2(a Addr) error       { m.addr = a; return m.fail("SetAddr2") }
func (m *fakeMAC) SetChannel(ch Channel) error { m.channel = ch; return m.fail("SetChannel") }
func (m *fakeMAC) SetPanID(pan PanID) error    { m.pan = pan; return m.fail("SetPanID") }
func (m *fakeMAC) SetMsgBufSize(n int)         { m.bufSize = n; m.fail("SetMsgBufSize") }
func (m *fakeMAC) Start() error                { m.started = true; return m.fail("Start") }
func (m *fakeMAC) SendTo(dst Addr, b []byte) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentFrame{dst, append([]byte(nil), b...)})
	return nil
}

func (m *fakeMAC) GetReceived() *Frame {
	if len(m.queue) == 0 {
		return nil
	}
	return m.queue[0]
}

func (m *fakeMAC) SkipReceived() {
	if len(m.queue) > 0 {
		m.queue = m.queue[1:]
		m.skipped++
	}
}

func (m *fakeMAC) inject(t *testing.T, h Header, payload []byte) {
	t.Helper()
	psdu, err := EncodeFrame(h, payload)
	require.NoError(t, err)
	f, err := DecodeFrame(psdu)
	require.NoError(t, err)
	m.queue = append(m.queue, f)
}

var (
	me    = MakeAddr(0x01, 0x00)
	other = MakeAddr(0x02, 0x00)
)

func startNet(t *testing.T) (*Net, *fakeMAC) {
	t.Helper()
	mac := &fakeMAC{}
	n, err := Start(mac, me, 15, 0xCAFE)
	require.NoError(t, err)
	return n, mac
}

func TestStartConfiguresMAC(t *testing.T) {
	n, mac := startNet(t)
	assert.Equal(t, []string{"SetAddr2", "SetChannel", "SetPanID", "SetMsgBufSize", "Start"}, mac.calls)
	assert.Equal(t, me, mac.addr)
	assert.Equal(t, Channel(15), mac.channel)
	assert.Equal(t, PanID(0xCAFE), mac.pan)
	assert.Equal(t, DefaultMsgBufSize, mac.bufSize)
	assert.True(t, mac.started)

	assert.Equal(t, me, n.Addr())
	assert.Equal(t, Broadcast, n.Broadcast())
	assert.Equal(t, 127, n.MTU())
	assert.Equal(t, 116, n.MaxPayload())
	assert.Nil(t, n.Frame())
}

func TestStartErrors(t *testing.T) {
	for _, call := range []string{"SetAddr2", "SetChannel", "SetPanID", "Start"} {
		mac := &fakeMAC{failOn: call}
		if _, err := Start(mac, me, 11, 1); err == nil {
			t.Errorf("%s failure not reported", call)
		}
	}
}

func TestSend(t *testing.T) {
	n, mac := startNet(t)
	require.NoError(t, n.Send(other, []byte("ping")))
	require.Len(t, mac.sent, 1)
	assert.Equal(t, other, mac.sent[0].dst)
	assert.Equal(t, []byte("ping"), mac.sent[0].data)

	require.NoError(t, n.Send(Broadcast, make([]byte, n.MaxPayload())))
	err := n.Send(other, make([]byte, n.MaxPayload()+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Len(t, mac.sent, 2)

	mac.sendErr = errors.New("no ack")
	assert.Error(t, n.Send(other, []byte{1}))
}

func TestMTU(t *testing.T) {
	n, mac := startNet(t)
	require.NoError(t, n.SetMTU(20))
	assert.Equal(t, 20, n.MTU())
	assert.Equal(t, 9, n.MaxPayload())
	assert.ErrorIs(t, n.Send(other, make([]byte, 10)), ErrPayloadTooLarge)
	assert.Empty(t, mac.sent)

	for _, bad := range []int{0, HeaderSize + FCSSize, MaxPSDU + 1} {
		assert.ErrorIs(t, n.SetMTU(bad), ErrBadMTU, "mtu %d", bad)
	}
	assert.Equal(t, 20, n.MTU())
}

func TestRecvClassification(t *testing.T) {
	n, mac := startNet(t)
	data := DataFCF(false)

	mac.inject(t, Header{FCF: data, Dst: me, Src: other}, []byte("a"))
	mac.inject(t, Header{FCF: data, Dst: Broadcast, Src: other}, []byte("b"))
	mac.inject(t, Header{FCF: data, Dst: MakeAddr(0x09, 0x00), Src: other}, []byte("c"))
	// not intra-PAN
	mac.inject(t, Header{FCF: data &^ fcfIntraPAN, Dst: me, Src: other}, []byte("d"))
	// command frame
	mac.inject(t, Header{FCF: data&^fcfTypeMask | FCF(FrameCommand), Dst: me, Src: other}, []byte("e"))
	mac.inject(t, Header{FCF: data, Dst: me, Src: other}, []byte("f"))

	want := []RecvStatus{RecvOK, RecvOK, RecvWrongDest, RecvEmpty, RecvEmpty, RecvOK, RecvEmpty}
	for i, w := range want {
		if got := n.Recv(); got != w {
			t.Errorf("frame %d: Recv() = %v, want %v", i, got, w)
		}
	}
	// each frame was skipped exactly once before the next was fetched
	assert.Equal(t, 6, mac.skipped)
	assert.Nil(t, n.Frame())
}

func TestRecvEmptyQueueDoesNotSkip(t *testing.T) {
	n, mac := startNet(t)
	assert.Equal(t, RecvEmpty, n.Recv())
	assert.Equal(t, RecvEmpty, n.Recv())
	assert.Zero(t, mac.skipped)
}

func TestCurrentFrameAccessors(t *testing.T) {
	n, mac := startNet(t)

	_, err := n.Src()
	assert.ErrorIs(t, err, ErrNoFrame)
	_, err = n.Dst()
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Nil(t, n.Payload())
	assert.Zero(t, n.PayLen())
	assert.ErrorIs(t, n.DumpPacket(&bytes.Buffer{}, 0, 10), ErrNoFrame)

	mac.inject(t, Header{FCF: DataFCF(false), Seq: 3, Dst: me, PAN: 0xCAFE, Src: other}, []byte{0xDE, 0xAD})
	require.Equal(t, RecvOK, n.Recv())

	src, err := n.Src()
	require.NoError(t, err)
	assert.Equal(t, other, src)
	dst, err := n.Dst()
	require.NoError(t, err)
	assert.Equal(t, me, dst)
	assert.Equal(t, []byte{0xDE, 0xAD}, n.Payload())
	assert.Equal(t, 2, n.PayLen())

	var buf bytes.Buffer
	require.NoError(t, n.DumpPacket(&buf, 0, 5))
	assert.Equal(t, "41 88 03 01 00\n", buf.String())

	buf.Reset()
	require.NoError(t, n.DumpPacket(&buf, 9, 100))
	assert.Equal(t, 3*4-1+1, buf.Len(), "payload and FCS: %q", buf.String())
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("de ad ")))

	buf.Reset()
	require.NoError(t, n.DumpPacket(&buf, 50, 10))
	assert.Equal(t, "\n", buf.String())

	buf.Reset()
	require.NoError(t, n.DumpPacket(&buf, 9, math.MaxInt))
	assert.Equal(t, 3*4-1+1, buf.Len(), "payload and FCS: %q", buf.String())

	buf.Reset()
	require.NoError(t, n.DumpPacket(&buf, 0, -1))
	assert.Equal(t, "\n", buf.String())
}

func TestRecvStatusString(t *testing.T) {
	assert.Equal(t, "ok", RecvOK.String())
	assert.Equal(t, "wrong-dest", RecvWrongDest.String())
	assert.Equal(t, "empty", RecvEmpty.String())
}
