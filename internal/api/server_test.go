package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spatial.report/internal/arframe"
	"github.com/banshee-data/spatial.report/internal/framedb"
)

func newTestServer(t *testing.T) (*Server, *arframe.FrameCaptureService, *EventHub) {
	t.Helper()
	db, err := framedb.NewDB(filepath.Join(t.TempDir(), "frames.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.MigrateUp("../../migrations"))

	hub := NewEventHub()
	runLog := framedb.NewRunLogger(db)
	svc := arframe.NewFrameCaptureService(arframe.CaptureServiceConfig{
		OnFrame:  hub.Publish,
		FrameLog: runLog,
	})
	t.Cleanup(svc.Close)
	return NewServer(svc, db, runLog, hub), svc, hub
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestCaptureLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	w := doJSON(t, mux, http.MethodPost, "/api/capture/start",
		map[string]interface{}{"width": 320, "height": 240, "fps": 30})
	require.Equal(t, http.StatusOK, w.Code)

	var started struct {
		Config arframe.CaptureConfig `json:"config"`
		RunID  string                `json:"run_id"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&started))
	assert.Equal(t, 320, started.Config.Width)
	assert.Equal(t, arframe.MaxTargetFPS, started.Config.FPS, "fps must be clamped")
	assert.NotEmpty(t, started.RunID)

	w = doJSON(t, mux, http.MethodGet, "/api/capture/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Config       arframe.CaptureConfig `json:"config"`
		RingCapacity int                   `json:"ring_capacity"`
		RunID        string                `json:"run_id"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.True(t, status.Config.Enabled)
	assert.Equal(t, arframe.DefaultRingCapacity, status.RingCapacity)
	assert.Equal(t, started.RunID, status.RunID)

	w = doJSON(t, mux, http.MethodPost, "/api/capture/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, mux, http.MethodGet, "/api/capture/status", nil)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.False(t, status.Config.Enabled)
	assert.Empty(t, status.RunID, "stop must close the frame-log run")
}

func TestStartCapture_Errors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	w := doJSON(t, mux, http.MethodGet, "/api/capture/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/capture/start",
		strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionReset(t *testing.T) {
	srv, svc, _ := newTestServer(t)
	mux := srv.ServeMux()

	w := doJSON(t, mux, http.MethodPost, "/api/capture/session-reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]int
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp["session_id"])
	assert.Equal(t, 1, svc.Ring().CurrentSession())
}

func TestResolve_UnknownFrameIs404WithPayload(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	w := doJSON(t, mux, http.MethodPost, "/api/resolve", map[string]interface{}{
		"frameId": "7_3.250",
		"points":  []map[string]float64{{"x": 0.5, "y": 0.5}},
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp arframe.ResolveResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "7_3.250", resp.FrameID)
	assert.Contains(t, resp.Error, "not found")
	assert.Empty(t, resp.Results)
}

func TestResolve_Validation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	// Missing frame id.
	w := doJSON(t, mux, http.MethodPost, "/api/resolve", map[string]interface{}{
		"points": []map[string]float64{{"x": 0.5, "y": 0.5}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Point outside the normalized range.
	w = doJSON(t, mux, http.MethodPost, "/api/resolve", map[string]interface{}{
		"frameId": "1_0.100",
		"points":  []map[string]float64{{"x": 1.5, "y": 0.5}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecentEndpointsWithoutDB(t *testing.T) {
	svc := arframe.NewFrameCaptureService(arframe.CaptureServiceConfig{})
	t.Cleanup(svc.Close)
	mux := NewServer(svc, nil, nil, nil).ServeMux()

	for _, path := range []string{"/api/frames/recent", "/api/resolutions/recent", "/api/events"} {
		w := doJSON(t, mux, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestRecentFrames_Empty(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doJSON(t, srv.ServeMux(), http.MethodGet, "/api/frames/recent?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestEventHub_SubscribeAndCancel(t *testing.T) {
	hub := NewEventHub()
	events, cancel := hub.Subscribe()
	require.Equal(t, 1, hub.SubscriberCount())

	hub.Publish(arframe.FrameEvent{FrameID: "1_0.100"})
	select {
	case e := <-events:
		assert.Equal(t, "1_0.100", e.FrameID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	cancel() // double-cancel is safe
	assert.Equal(t, 0, hub.SubscriberCount())
	_, open := <-events
	assert.False(t, open, "channel must close on cancel")
}

func TestEventHub_SlowSubscriberLosesEventsNotHub(t *testing.T) {
	hub := NewEventHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	// Overfill the subscriber buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(arframe.FrameEvent{FrameID: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The buffer holds the earliest events; the rest were shed.
	n := 0
	for {
		select {
		case <-events:
			n++
			continue
		default:
		}
		break
	}
	assert.LessOrEqual(t, n, 16)
	assert.Greater(t, n, 0)
}

func TestStreamEvents_SSE(t *testing.T) {
	srv, _, hub := newTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the handler goroutine to register its subscription.
	deadline := time.Now().Add(5 * time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, hub.SubscriberCount())

	hub.Publish(arframe.FrameEvent{FrameID: "3_1.500", Width: 640, Height: 480})

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	require.Equal(t, "event: frame", eventLine)

	var event arframe.FrameEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &event))
	assert.Equal(t, "3_1.500", event.FrameID)
	assert.Equal(t, 640, event.Width)
}
