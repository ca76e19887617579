package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/spatial.report/internal/arframe"
	"github.com/banshee-data/spatial.report/internal/version"
)

// startCapture enables capture with the posted configuration and opens a
// new frame-log run.
func (s *Server) startCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var config arframe.CaptureConfig
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid capture config: %v", err))
			return
		}
	}

	applied := s.svc.Start(config)
	if s.runLog != nil {
		s.runLog.BeginRun(applied)
	}

	s.writeJSON(w, map[string]interface{}{
		"config": applied,
		"run_id": s.currentRunID(),
	})
}

// stopCapture disables capture. Idempotent.
func (s *Server) stopCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.svc.Stop()
	if s.runLog != nil {
		s.runLog.EndRun()
	}
	s.writeJSON(w, map[string]string{"status": "stopped"})
}

// captureStatus reports configuration, counters, and ring occupancy.
func (s *Server) captureStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ring := s.svc.Ring()
	s.writeJSON(w, map[string]interface{}{
		"config":        s.svc.Config(),
		"stats":         s.svc.Stats(),
		"ring_len":      ring.Len(),
		"ring_capacity": ring.Capacity(),
		"session_id":    ring.CurrentSession(),
		"run_id":        s.currentRunID(),
		"version":       version.String(),
	})
}

// sessionReset bumps the session id; called by the platform layer when the
// AR session restarts or relocalizes.
func (s *Server) sessionReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id := s.svc.HandleSessionReset()
	s.writeJSON(w, map[string]int{"session_id": id})
}

type resolveRequest struct {
	FrameID string           `json:"frameId"`
	Points  []arframe.Point2 `json:"points"`
}

// resolveDetections maps 2D points of a captured frame to 3D world
// positions. A frame-level failure (evicted, session mismatch) is the
// top-level error; per-point failures ride in the results.
func (s *Server) resolveDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid resolve request: %v", err))
		return
	}
	if req.FrameID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "frameId is required")
		return
	}
	for _, p := range req.Points {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			s.writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("point (%g,%g) outside normalized range", p.X, p.Y))
			return
		}
	}

	resp := s.svc.Resolve(req.FrameID, req.Points)
	if resp.Error != "" {
		// The frame itself could not be used; report as 404 with the
		// structured payload so callers see which frame failed.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(resp)
		return
	}
	s.writeJSON(w, resp)
}

// recentFrames lists the newest frame-log rows.
func (s *Server) recentFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "frame log disabled")
		return
	}
	limit := queryInt(r, "limit", 100)
	records, err := s.db.RecentFrames(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve frames: %v", err))
		return
	}
	s.writeJSON(w, records)
}

// recentResolutions lists the newest resolution-log rows.
func (s *Server) recentResolutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "frame log disabled")
		return
	}
	limit := queryInt(r, "limit", 500)
	records, err := s.db.RecentResolutions(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve resolutions: %v", err))
		return
	}
	s.writeJSON(w, records)
}

func (s *Server) currentRunID() string {
	if s.runLog == nil {
		return ""
	}
	return s.runLog.CurrentRunID()
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
