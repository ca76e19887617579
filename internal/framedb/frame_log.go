package framedb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spatial.report/internal/arframe"
	"github.com/banshee-data/spatial.report/internal/monitoring"
)

// FrameLog records one capture run's frames and resolutions. It implements
// arframe.FrameLogger; all writes are best-effort.
type FrameLog struct {
	db    *DB
	runID string
}

// FrameRecord is a persisted frame row, shaped for the recent-frames API.
type FrameRecord struct {
	RunID         string  `json:"run_id"`
	FrameID       string  `json:"frame_id"`
	SessionID     int     `json:"session_id"`
	Timestamp     float64 `json:"timestamp"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	NativeWidth   int     `json:"native_width"`
	NativeHeight  int     `json:"native_height"`
	TrackingState string  `json:"tracking_state"`
	JPEGBytes     int     `json:"jpeg_bytes"`
	HasDepth      bool    `json:"has_depth"`
	FeaturePoints int     `json:"feature_points"`
	CreatedAt     string  `json:"created_at"`
}

// ResolutionRecord is a persisted per-point resolution outcome.
type ResolutionRecord struct {
	FrameID    string  `json:"frame_id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	OK         bool    `json:"ok"`
	Method     string  `json:"method,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// NewFrameLog opens a new capture run and returns its log.
func NewFrameLog(db *DB, config arframe.CaptureConfig) (*FrameLog, error) {
	runID := uuid.New().String()
	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal run config: %w", err)
	}
	err = retryOnBusy(func() error {
		_, err := db.Exec(
			`INSERT INTO capture_runs (run_id, config, started_at) VALUES (?, ?, ?)`,
			runID, string(cfgJSON), time.Now().UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting capture run %s: %w", runID, err)
	}
	return &FrameLog{db: db, runID: runID}, nil
}

// RunID returns the run identifier.
func (l *FrameLog) RunID() string { return l.runID }

// LogFrame persists a frame's metadata (never the JPEG payload itself;
// only its size, which is what capacity diagnostics need).
func (l *FrameLog) LogFrame(entry *arframe.FrameEntry) {
	intrJSON, _ := json.Marshal(entry.IntrinsicsOutput)
	poseJSON, _ := json.Marshal(entry.CameraToWorld)

	err := retryOnBusy(func() error {
		_, err := l.db.Exec(`
			INSERT INTO frames (
				run_id, frame_id, session_id, timestamp, width, height,
				native_width, native_height, tracking_state, intrinsics,
				camera_to_world, jpeg_bytes, has_depth, feature_points
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.runID, entry.FrameID, entry.SessionID, entry.Timestamp,
			entry.OutputSize.Width, entry.OutputSize.Height,
			entry.NativeSize.Width, entry.NativeSize.Height,
			string(entry.TrackingState), string(intrJSON), string(poseJSON),
			len(entry.EncodedImage), boolInt(entry.Depth != nil), len(entry.FeaturePoints),
		)
		return err
	})
	if err != nil {
		monitoring.Logf("framedb: logging frame %s failed: %v", entry.FrameID, err)
	}
}

// LogResolutions persists one resolve call's per-point outcomes.
func (l *FrameLog) LogResolutions(frameID string, results []arframe.DetectionResult) {
	for _, r := range results {
		var wx, wy, wz interface{}
		if r.WorldPos != nil {
			wx, wy, wz = r.WorldPos[0], r.WorldPos[1], r.WorldPos[2]
		}
		res := r
		err := retryOnBusy(func() error {
			_, err := l.db.Exec(`
				INSERT INTO resolutions (
					frame_id, x, y, ok, method, confidence,
					world_x, world_y, world_z, error
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				frameID, res.Input.X, res.Input.Y, boolInt(res.OK),
				nullStr(res.Method), res.Confidence, wx, wy, wz, nullStr(res.Error),
			)
			return err
		})
		if err != nil {
			monitoring.Logf("framedb: logging resolution for %s failed: %v", frameID, err)
		}
	}
}

// CloseRun marks the capture run stopped.
func (l *FrameLog) CloseRun() {
	err := retryOnBusy(func() error {
		_, err := l.db.Exec(
			`UPDATE capture_runs SET stopped_at = ? WHERE run_id = ?`,
			time.Now().UTC().Format(time.RFC3339), l.runID,
		)
		return err
	})
	if err != nil {
		monitoring.Logf("framedb: closing run %s failed: %v", l.runID, err)
	}
}

// RecentFrames returns the newest frame rows, newest first.
func (db *DB) RecentFrames(limit int) ([]FrameRecord, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT run_id, frame_id, session_id, timestamp, width, height,
		       native_width, native_height, tracking_state, jpeg_bytes,
		       has_depth, feature_points, created_at
		FROM frames ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent frames: %w", err)
	}
	defer rows.Close()

	var records []FrameRecord
	for rows.Next() {
		var r FrameRecord
		var hasDepth int
		var tracking, runID *string
		if err := rows.Scan(&runID, &r.FrameID, &r.SessionID, &r.Timestamp,
			&r.Width, &r.Height, &r.NativeWidth, &r.NativeHeight, &tracking,
			&r.JPEGBytes, &hasDepth, &r.FeaturePoints, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan frame row: %w", err)
		}
		if runID != nil {
			r.RunID = *runID
		}
		if tracking != nil {
			r.TrackingState = *tracking
		}
		r.HasDepth = hasDepth != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecentResolutions returns the newest resolution rows, newest first.
func (db *DB) RecentResolutions(limit int) ([]ResolutionRecord, error) {
	if limit < 1 || limit > 2000 {
		limit = 500
	}
	rows, err := db.Query(`
		SELECT frame_id, x, y, ok, method, confidence, created_at
		FROM resolutions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent resolutions: %w", err)
	}
	defer rows.Close()

	var records []ResolutionRecord
	for rows.Next() {
		var r ResolutionRecord
		var ok int
		var method *string
		var confidence *float64
		if err := rows.Scan(&r.FrameID, &r.X, &r.Y, &ok, &method, &confidence, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan resolution row: %w", err)
		}
		r.OK = ok != 0
		if method != nil {
			r.Method = *method
		}
		if confidence != nil {
			r.Confidence = *confidence
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// MethodCounts aggregates resolution outcomes per method tag, for the
// monitor's confidence chart. Failed resolutions count under "failed".
func (db *DB) MethodCounts() (map[string]int, error) {
	rows, err := db.Query(`
		SELECT CASE WHEN ok = 1 THEN method ELSE 'failed' END AS tag, COUNT(*)
		FROM resolutions GROUP BY tag`)
	if err != nil {
		return nil, fmt.Errorf("query method counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tag *string
		var n int
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, fmt.Errorf("scan method count: %w", err)
		}
		name := "failed"
		if tag != nil && *tag != "" {
			name = *tag
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
