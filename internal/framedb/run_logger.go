package framedb

import (
	"sync"

	"github.com/banshee-data/spatial.report/internal/arframe"
	"github.com/banshee-data/spatial.report/internal/monitoring"
)

// RunLogger is the capture service's persistence hook across run
// boundaries: BeginRun opens a capture_runs row, EndRun closes it, and
// frame/resolution records land on whichever run is current. With no run
// open it silently drops records, keeping the hook safe to wire
// unconditionally.
type RunLogger struct {
	db      *DB
	mu      sync.Mutex
	current *FrameLog
}

// NewRunLogger creates a RunLogger over the frame log database.
func NewRunLogger(db *DB) *RunLogger {
	return &RunLogger{db: db}
}

// BeginRun opens a new capture run, closing any previous one first.
func (r *RunLogger) BeginRun(config arframe.CaptureConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.CloseRun()
	}
	log, err := NewFrameLog(r.db, config)
	if err != nil {
		monitoring.Logf("framedb: opening capture run failed: %v", err)
		r.current = nil
		return
	}
	r.current = log
}

// EndRun closes the current run, if any. Idempotent.
func (r *RunLogger) EndRun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.CloseRun()
		r.current = nil
	}
}

// CurrentRunID returns the open run's id, or "".
func (r *RunLogger) CurrentRunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	return r.current.RunID()
}

// LogFrame implements arframe.FrameLogger.
func (r *RunLogger) LogFrame(entry *arframe.FrameEntry) {
	r.mu.Lock()
	log := r.current
	r.mu.Unlock()
	if log != nil {
		log.LogFrame(entry)
	}
}

// LogResolutions implements arframe.FrameLogger.
func (r *RunLogger) LogResolutions(frameID string, results []arframe.DetectionResult) {
	r.mu.Lock()
	log := r.current
	r.mu.Unlock()
	if log != nil {
		log.LogResolutions(frameID, results)
	}
}
