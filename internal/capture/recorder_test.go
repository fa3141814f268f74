package capture

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rf154/internal/l2154"
)

func TestRecorderClassifiesAndDrops(t *testing.T) {
	s := newStore(t)
	sess, err := s.NewSession(node, 11, panID, "sim", t0)
	require.NoError(t, err)

	rec := NewRecorder(s, sess, 2)
	rec.Hook(newFrame(t, peer, node, 1, "a", 1, t0))
	rec.Hook(newFrame(t, peer, other, 2, "b", 2, t0))
	rec.Hook(newFrame(t, peer, node, 3, "c", 3, t0))
	assert.Equal(t, int64(1), rec.Stats().Dropped)

	rec.Start()
	rec.Stop()
	rec.Stop()
	assert.Equal(t, RecorderStats{Recorded: 2, Dropped: 1}, rec.Stats())

	got, err := s.Frames(sess.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	statuses := map[uint8]l2154.RecvStatus{}
	for _, r := range got {
		statuses[r.Seq] = r.Status
	}
	assert.Equal(t, map[uint8]l2154.RecvStatus{1: l2154.RecvOK, 2: l2154.RecvWrongDest}, statuses)
}

func TestRecorderCountsFailures(t *testing.T) {
	s := newStore(t)
	sess, err := s.NewSession(node, 11, panID, "sim", t0)
	require.NoError(t, err)
	rec := NewRecorder(s, sess, 0)
	require.NoError(t, s.Close())

	rec.Hook(newFrame(t, peer, node, 1, "a", 1, t0))
	rec.Start()
	rec.Stop()
	assert.Equal(t, RecorderStats{Failed: 1}, rec.Stats())
}

func localRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminRoutes(t *testing.T) {
	s := newStore(t)
	sess, err := s.NewSession(node, 11, panID, "sim", t0)
	require.NoError(t, err)
	require.NoError(t, s.RecordFrame(sess.ID, newFrame(t, peer, node, 1, "a", 50, t0), l2154.RecvOK))
	rec := NewRecorder(s, sess, 0)
	mux := http.NewServeMux()
	require.NoError(t, rec.AttachAdminRoutes(mux))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localRequest("/debug/capture"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Session Session   `json:"session"`
		Link    LinkStats `json:"link"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, sess.ID, body.Session.ID)
	assert.Equal(t, 1, body.Link.Frames)
	assert.Equal(t, 50.0, body.Link.LQIMean)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localRequest("/debug/capture.pcap"))
	require.Equal(t, http.StatusOK, w.Code)
	r, err := pcapgo.NewReader(w.Body)
	require.NoError(t, err)
	assert.Equal(t, LinkTypeIEEE802154, r.LinkType())

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localRequest("/debug/capture.lqi"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "echarts")
	assert.Contains(t, w.Body.String(), "lqi")

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localRequest("/debug/tailsql/"))
	assert.NotEqual(t, http.StatusNotFound, w.Code, "tailsql not mounted")
}

func TestPcapRouteErrors(t *testing.T) {
	s := newStore(t)
	rec := NewRecorder(s, Session{ID: uuid.New(), Started: t0}, 0)
	mux := http.NewServeMux()
	require.NoError(t, rec.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/capture.pcap", "/debug/capture.lqi"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localRequest(path))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"), path)
		assert.Empty(t, w.Header().Get("Content-Disposition"), path)
	}

	require.NoError(t, s.Close())
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localRequest("/debug/capture.pcap"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get("Content-Disposition"))
}

func TestLQIChartStrides(t *testing.T) {
	sess := Session{ID: uuid.New(), Started: t0}
	records := make([]Record, 2*maxChartPoints+1)
	for i := range records {
		records[i] = Record{Time: t0.Add(time.Duration(i) * time.Millisecond), LQI: uint8(i)}
	}
	line := lqiChart(sess, records)
	require.Len(t, line.MultiSeries, 1)
	data, ok := line.MultiSeries[0].Data.([]opts.LineData)
	require.True(t, ok)
	// stride 3 over 10001 records
	assert.Len(t, data, 3334)
	assert.Equal(t, uint8(3), data[1].Value)
}
