package capture

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/rf154/internal/l2154"
)

// LinkStats summarises the frames of a session.
type LinkStats struct {
	Session   uuid.UUID      `json:"session"`
	Frames    int            `json:"frames"`
	ByStatus  map[string]int `json:"by_status"`
	BySource  map[string]int `json:"by_source"`
	LQIMean   float64        `json:"lqi_mean"`
	LQIStdDev float64        `json:"lqi_stddev"`
	LQIMin    uint8          `json:"lqi_min"`
	LQIMax    uint8          `json:"lqi_max"`
	First     time.Time      `json:"first,omitzero"`
	Last      time.Time      `json:"last,omitzero"`
}

// Summarize computes link statistics over records. Sources are only counted
// for frames using the fixed header layout.
func Summarize(session uuid.UUID, records []Record) LinkStats {
	ls := LinkStats{
		Session:  session,
		Frames:   len(records),
		ByStatus: make(map[string]int),
		BySource: make(map[string]int),
	}
	if len(records) == 0 {
		return ls
	}
	lqi := make([]float64, len(records))
	ls.LQIMin = records[0].LQI
	ls.First = records[0].Time
	ls.Last = records[0].Time
	for i, r := range records {
		lqi[i] = float64(r.LQI)
		ls.LQIMin = min(ls.LQIMin, r.LQI)
		ls.LQIMax = max(ls.LQIMax, r.LQI)
		if r.Time.Before(ls.First) {
			ls.First = r.Time
		}
		if r.Time.After(ls.Last) {
			ls.Last = r.Time
		}
		ls.ByStatus[r.Status.String()]++
		if r.Status != l2154.RecvEmpty {
			ls.BySource[r.Src.String()]++
		}
	}
	if len(lqi) == 1 {
		ls.LQIMean = lqi[0]
		return ls
	}
	ls.LQIMean, ls.LQIStdDev = stat.MeanStdDev(lqi, nil)
	return ls
}

// LinkStats loads the frames of session and summarises them.
func (s *Store) LinkStats(session uuid.UUID) (LinkStats, error) {
	if _, err := s.Session(session); err != nil {
		return LinkStats{}, err
	}
	records, err := s.Frames(session)
	if err != nil {
		return LinkStats{}, fmt.Errorf("failed to load frames: %w", err)
	}
	return Summarize(session, records), nil
}
