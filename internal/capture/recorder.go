package capture

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/rf154/internal/l2154"
	"github.com/banshee-data/rf154/internal/monitoring"
)

// DefaultBacklog is the number of frames a Recorder buffers before dropping.
const DefaultBacklog = 64

// Recorder logs frames handed to Hook into a Store from a worker goroutine,
// so the receive path never waits on sqlite.
type Recorder struct {
	Store   *Store
	Session Session

	frames   chan *l2154.Frame
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	recorded atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// NewRecorder returns a Recorder for session buffering up to backlog frames.
func NewRecorder(store *Store, session Session, backlog int) *Recorder {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Recorder{
		Store:   store,
		Session: session,
		frames:  make(chan *l2154.Frame, backlog),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Hook queues f for logging. It never blocks; frames arriving while the
// backlog is full are counted and dropped.
func (r *Recorder) Hook(f *l2154.Frame) {
	select {
	case r.frames <- f:
	default:
		r.dropped.Add(1)
	}
}

// Start runs the worker loop in a goroutine.
func (r *Recorder) Start() {
	go func() {
		defer close(r.done)
		for {
			select {
			case f := <-r.frames:
				r.record(f)
			case <-r.stop:
				r.flush()
				return
			}
		}
	}()
}

// Stop asks the worker to log what is queued and waits for it to exit.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Recorder) flush() {
	for {
		select {
		case f := <-r.frames:
			r.record(f)
		default:
			return
		}
	}
}

func (r *Recorder) record(f *l2154.Frame) {
	status := l2154.Classify(f, r.Session.Node)
	if err := r.Store.RecordFrame(r.Session.ID, f, status); err != nil {
		r.failed.Add(1)
		monitoring.Logf("capture: %v", err)
		return
	}
	r.recorded.Add(1)
}

// RecorderStats are the Recorder counters.
type RecorderStats struct {
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
}

func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
	}
}
