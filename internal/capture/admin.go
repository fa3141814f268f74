package capture

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/rf154/internal/httputil"
	"github.com/banshee-data/rf154/internal/monitoring"
)

// maxChartPoints bounds the LQI chart; longer sessions are strided.
const maxChartPoints = 5000

// AttachAdminRoutes attaches the capture debug endpoints for the recorder's
// session to mux under /debug/, plus a tailsql console over the database.
func (r *Recorder) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+r.Store.path, r.Store.DB, &tailsql.DBOptions{
		Label: "Capture DB",
	})
	debug.Handle("tailsql/", "SQL live debugging of the capture log", tsql.NewMux())

	debug.HandleFunc("capture", "link statistics for this session", func(w http.ResponseWriter, req *http.Request) {
		ls, err := r.Store.LinkStats(r.Session.ID)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httputil.WriteJSONOK(w, struct {
			Session  Session       `json:"session"`
			Link     LinkStats     `json:"link"`
			Recorder RecorderStats `json:"recorder"`
		}{r.Session, ls, r.Stats()})
	})

	debug.HandleFunc("capture.lqi", "LQI of received frames over time", func(w http.ResponseWriter, req *http.Request) {
		records, ok := r.sessionFrames(w)
		if !ok {
			return
		}
		var buf bytes.Buffer
		if err := lqiChart(r.Session, records).Render(&buf); err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})

	debug.HandleFunc("capture.pcap", "download this session as pcap", func(w http.ResponseWriter, req *http.Request) {
		records, ok := r.sessionFrames(w)
		if !ok {
			return
		}
		httputil.Attachment(w, r.Session.ID.String()+".pcap", "application/vnd.tcpdump.pcap")
		if err := WritePcap(w, records); err != nil {
			monitoring.Logf("capture: pcap export of %s: %v", r.Session.ID, err)
		}
	})
	return nil
}

// sessionFrames loads the frames of the recorder's session, writing a JSON
// error and returning false when that fails.
func (r *Recorder) sessionFrames(w http.ResponseWriter) ([]Record, bool) {
	if _, err := r.Store.Session(r.Session.ID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownSession) {
			status = http.StatusNotFound
		}
		httputil.WriteJSONError(w, status, err.Error())
		return nil, false
	}
	records, err := r.Store.Frames(r.Session.ID)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return records, true
}

func lqiChart(sess Session, records []Record) *charts.Line {
	stride := max(1, (len(records)+maxChartPoints-1)/maxChartPoints)
	x := make([]string, 0, len(records)/stride+1)
	y := make([]opts.LineData, 0, len(records)/stride+1)
	for i := 0; i < len(records); i += stride {
		rec := records[i]
		x = append(x, rec.Time.Sub(sess.Started).Truncate(time.Millisecond).String())
		y = append(y, opts.LineData{Value: rec.LQI, Name: rec.Src.String()})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Link quality", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "LQI", Subtitle: fmt.Sprintf("session=%s node=%s frames=%d stride=%d", sess.ID, sess.Node, len(records), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "since start", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "LQI", Min: 0, Max: 255}),
	)
	line.SetXAxis(x).AddSeries("lqi", y)
	return line
}
