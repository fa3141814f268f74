package capture

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rf154/internal/l2154"
)

var (
	node  = l2154.MakeAddr(0x01, 0x00)
	peer  = l2154.MakeAddr(0x02, 0x00)
	other = l2154.MakeAddr(0x03, 0x00)
	panID = l2154.PanID(0xCAFE)
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "capture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newFrame(t *testing.T, src, dst l2154.Addr, seq uint8, payload string, lqi uint8, at time.Time) *l2154.Frame {
	t.Helper()
	psdu, err := l2154.EncodeFrame(l2154.Header{
		FCF: l2154.DataFCF(false),
		Seq: seq,
		Dst: dst,
		PAN: panID,
		Src: src,
	}, []byte(payload))
	require.NoError(t, err)
	f, err := l2154.DecodeFrame(psdu)
	require.NoError(t, err)
	f.LQI = lqi
	f.Time = at
	return f
}

func TestOpenMigrates(t *testing.T) {
	s := newStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// already current
	require.NoError(t, s.MigrateUp())
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.NewSession(node, 11, panID, "sim", t0)
	require.NoError(t, err)
}

func TestSessions(t *testing.T) {
	s := newStore(t)
	first, err := s.NewSession(node, 11, panID, "AT86RF231", t0)
	require.NoError(t, err)
	second, err := s.NewSession(node, 15, panID, "AT86RF231", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	got, err := s.Session(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.Started.Equal(t0), "started %v", got.Started)
	assert.Equal(t, node, got.Node)
	assert.Equal(t, l2154.Channel(11), got.Channel)
	assert.Equal(t, panID, got.PAN)
	assert.Equal(t, "AT86RF231", got.Radio)

	all, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	_, err = s.Session(uuid.New())
	assert.True(t, errors.Is(err, ErrUnknownSession), "got %v", err)
}

func TestRecordFrames(t *testing.T) {
	s := newStore(t)
	sess, err := s.NewSession(node, 11, panID, "sim", t0)
	require.NoError(t, err)

	in := []*l2154.Frame{
		newFrame(t, peer, node, 1, "hello", 200, t0.Add(2*time.Second)),
		newFrame(t, peer, other, 2, "not mine", 180, t0.Add(3*time.Second)),
		newFrame(t, other, l2154.Broadcast, 7, "", 90, t0.Add(time.Second)),
	}
	require.NoError(t, s.RecordFrame(sess.ID, in[0], l2154.RecvOK))
	require.NoError(t, s.RecordFrame(sess.ID, in[1], l2154.RecvWrongDest))
	require.NoError(t, s.RecordFrame(sess.ID, in[2], l2154.RecvOK))
	require.Error(t, s.RecordFrame(sess.ID, nil, l2154.RecvOK))

	got, err := s.Frames(sess.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// receive order, not insertion order
	assert.Equal(t, uint8(7), got[0].Seq)
	assert.Equal(t, l2154.Broadcast, got[0].Dst)
	assert.Equal(t, uint8(1), got[1].Seq)
	assert.Equal(t, uint8(2), got[2].Seq)

	r := got[1]
	assert.Equal(t, sess.ID, r.Session)
	assert.True(t, r.Time.Equal(in[0].Time))
	assert.Equal(t, l2154.RecvOK, r.Status)
	assert.Equal(t, l2154.FrameData, r.Type)
	assert.Equal(t, peer, r.Src)
	assert.Equal(t, node, r.Dst)
	assert.Equal(t, panID, r.PAN)
	assert.Equal(t, uint8(200), r.LQI)
	assert.Equal(t, in[0].Raw, r.PSDU)
	assert.Equal(t, l2154.RecvWrongDest, got[2].Status)

	empty, err := s.NewSession(node, 11, panID, "sim", t0)
	require.NoError(t, err)
	none, err := s.Frames(empty.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLinkStats(t *testing.T) {
	s := newStore(t)
	sess, err := s.NewSession(node, 11, panID, "sim", t0)
	require.NoError(t, err)
	require.NoError(t, s.RecordFrame(sess.ID, newFrame(t, peer, node, 1, "a", 100, t0), l2154.RecvOK))
	require.NoError(t, s.RecordFrame(sess.ID, newFrame(t, peer, other, 2, "b", 110, t0.Add(time.Second)), l2154.RecvWrongDest))
	require.NoError(t, s.RecordFrame(sess.ID, newFrame(t, other, node, 3, "c", 120, t0.Add(2*time.Second)), l2154.RecvOK))

	ls, err := s.LinkStats(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, ls.Frames)
	assert.Equal(t, map[string]int{"ok": 2, "wrong-dest": 1}, ls.ByStatus)
	assert.Equal(t, map[string]int{peer.String(): 2, other.String(): 1}, ls.BySource)
	assert.InDelta(t, 110, ls.LQIMean, 1e-9)
	assert.InDelta(t, 10, ls.LQIStdDev, 1e-9)
	assert.Equal(t, uint8(100), ls.LQIMin)
	assert.Equal(t, uint8(120), ls.LQIMax)
	assert.True(t, ls.First.Equal(t0))
	assert.True(t, ls.Last.Equal(t0.Add(2*time.Second)))

	_, err = s.LinkStats(uuid.New())
	assert.True(t, errors.Is(err, ErrUnknownSession), "got %v", err)
}

func TestSummarizeSmall(t *testing.T) {
	id := uuid.New()
	ls := Summarize(id, nil)
	assert.Equal(t, 0, ls.Frames)
	assert.Zero(t, ls.LQIMean)
	assert.True(t, ls.First.IsZero())

	ls = Summarize(id, []Record{{Status: l2154.RecvEmpty, LQI: 42, Time: t0}})
	assert.Equal(t, 1, ls.Frames)
	assert.Equal(t, 42.0, ls.LQIMean)
	assert.Zero(t, ls.LQIStdDev)
	assert.Equal(t, map[string]int{"empty": 1}, ls.ByStatus)
	assert.Empty(t, ls.BySource)
}
