package arframe

import (
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/spatial.report/internal/monitoring"
)

// Capture configuration bounds and defaults, matching the platform
// contract: low-rate capture for a remote vision consumer, not video.
const (
	MinTargetFPS = 1.0
	MaxTargetFPS = 5.0

	DefaultTargetWidth  = 640
	DefaultTargetHeight = 480
	DefaultTargetFPS    = 5.0
	DefaultJPEGQuality  = 0.7

	// MaxFeaturePoints caps the stored per-frame feature point copy.
	MaxFeaturePoints = 2000
)

// CaptureConfig is the caller-supplied streaming configuration.
type CaptureConfig struct {
	Enabled bool    `json:"enabled"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	FPS     float64 `json:"fps"`
	Quality float64 `json:"quality"`
}

// normalize fills defaults and clamps out-of-range values.
func (c CaptureConfig) normalize() CaptureConfig {
	if c.Width < 1 {
		c.Width = DefaultTargetWidth
	}
	if c.Height < 1 {
		c.Height = DefaultTargetHeight
	}
	if c.FPS == 0 {
		c.FPS = DefaultTargetFPS
	}
	c.FPS = math.Min(math.Max(c.FPS, MinTargetFPS), MaxTargetFPS)
	if c.Quality == 0 {
		c.Quality = DefaultJPEGQuality
	}
	if c.Quality < 0 {
		c.Quality = 0.01
	} else if c.Quality > 1 {
		c.Quality = 1
	}
	return c
}

// FrameLogger receives frame and resolution records for best-effort
// persistence. Implementations must never block for long: calls arrive on
// the delivery goroutine, not the admission path.
type FrameLogger interface {
	LogFrame(entry *FrameEntry)
	LogResolutions(frameID string, results []DetectionResult)
}

// CaptureServiceConfig configures a FrameCaptureService.
type CaptureServiceConfig struct {
	// RingCapacity is the frame history depth (default DefaultRingCapacity).
	RingCapacity int

	// Session is the live AR session used for raycast resolution.
	Session Session

	// OnFrame is invoked per accepted, successfully encoded frame. Called
	// from the delivery goroutine; a slow callback delays delivery of later
	// events but never capture admission.
	OnFrame func(FrameEvent)

	// FrameLog, if set, receives frame and resolution records.
	FrameLog FrameLogger

	// EventBuffer is the pending-event depth before oldest events are
	// dropped (default 8).
	EventBuffer int
}

// frameSnapshot is the synchronous copy of frame-local state taken on the
// admission path before handing off to the encode worker.
type frameSnapshot struct {
	frameID       string
	timestamp     float64
	sessionID     int
	img           image.Image
	intrinsics    Intrinsics
	cameraToWorld [16]float64
	tracking      TrackingState
	depth         *DepthMap
	featurePoints []r3.Vec
	config        CaptureConfig
}

// FrameCaptureService captures AR frames at a configurable rate, encodes
// them to exact target dimensions, stores capture-time metadata in a ring
// buffer, and resolves deferred 2D detections against that stored state.
//
// Admission is O(1) and non-blocking: a frame is either accepted into the
// single-slot pipeline or dropped. Nothing on this path waits.
type FrameCaptureService struct {
	ring    *FrameRingBuffer
	session Session

	configMu sync.Mutex
	config   CaptureConfig

	busy         atomic.Bool
	lastAccepted atomic.Uint64 // math.Float64bits of the last accepted timestamp
	hasAccepted  atomic.Bool
	counter      atomic.Int64

	workCh  chan frameSnapshot
	eventCh chan FrameEvent
	stopCh  chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool

	onFrame  func(FrameEvent)
	frameLog FrameLogger

	stats CaptureStats
}

// NewFrameCaptureService creates a capture service and starts its encode
// worker and event delivery goroutines. Call Close to release them.
func NewFrameCaptureService(cfg CaptureServiceConfig) *FrameCaptureService {
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 8
	}
	s := &FrameCaptureService{
		ring:     NewFrameRingBuffer(cfg.RingCapacity),
		session:  cfg.Session,
		config:   CaptureConfig{}.normalize(),
		workCh:   make(chan frameSnapshot, 1),
		eventCh:  make(chan FrameEvent, cfg.EventBuffer),
		stopCh:   make(chan struct{}),
		onFrame:  cfg.OnFrame,
		frameLog: cfg.FrameLog,
	}
	s.wg.Add(2)
	go s.encodeWorker()
	go s.deliveryWorker()
	return s
}

// Start enables capture with the given configuration. Starting an already
// running service just swaps the configuration.
func (s *FrameCaptureService) Start(config CaptureConfig) CaptureConfig {
	config.Enabled = true
	config = config.normalize()
	s.configMu.Lock()
	s.config = config
	s.configMu.Unlock()
	monitoring.Logf("arframe: capture started %dx%d @ %.1f fps q=%.2f",
		config.Width, config.Height, config.FPS, config.Quality)
	return config
}

// Stop disables capture. Idempotent; already-admitted work still completes.
func (s *FrameCaptureService) Stop() {
	s.configMu.Lock()
	wasEnabled := s.config.Enabled
	s.config.Enabled = false
	s.configMu.Unlock()
	if wasEnabled {
		monitoring.Logf("arframe: capture stopped")
	}
}

// Config returns the current configuration.
func (s *FrameCaptureService) Config() CaptureConfig {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	return s.config
}

// Stats returns a snapshot of the capture counters.
func (s *FrameCaptureService) Stats() StatsSnapshot { return s.stats.Snapshot() }

// Ring exposes the frame ring buffer (status and tests).
func (s *FrameCaptureService) Ring() *FrameRingBuffer { return s.ring }

// HandleSessionReset bumps the session id. Call whenever the AR session
// restarts or relocalizes; frames captured before the reset then fail
// resolution with a session mismatch instead of resolving against
// geometry that no longer exists.
func (s *FrameCaptureService) HandleSessionReset() int {
	id := s.ring.IncrementSession()
	monitoring.Logf("arframe: session reset, session id now %d", id)
	return id
}

// OnARFrame admits or drops one platform frame. Called from the platform's
// render/capture callback at 30–60 Hz; never blocks.
func (s *FrameCaptureService) OnARFrame(frame PlatformFrame) {
	s.stats.framesSeen.Add(1)

	s.configMu.Lock()
	config := s.config
	s.configMu.Unlock()
	if !config.Enabled || s.closed.Load() {
		return
	}

	ts := frame.Timestamp()
	if s.hasAccepted.Load() {
		last := math.Float64frombits(s.lastAccepted.Load())
		if ts-last < 1.0/config.FPS {
			s.stats.droppedRate.Add(1)
			return
		}
	}

	// Single-slot admission: if the previous frame is still encoding, drop
	// this one. Never queue.
	if !s.busy.CompareAndSwap(false, true) {
		s.stats.droppedBusy.Add(1)
		return
	}

	s.lastAccepted.Store(math.Float64bits(ts))
	s.hasAccepted.Store(true)

	img := frame.Image()
	if img == nil {
		// Silent drop: no usable buffer this frame.
		s.busy.Store(false)
		s.stats.droppedNoImage.Add(1)
		return
	}

	snap := frameSnapshot{
		frameID:       fmt.Sprintf("%d_%.3f", s.counter.Add(1), ts),
		timestamp:     ts,
		sessionID:     s.ring.CurrentSession(),
		img:           img,
		intrinsics:    frame.Intrinsics(),
		cameraToWorld: frame.CameraToWorld(),
		tracking:      frame.TrackingState(),
		depth:         frame.DepthMap(),
		featurePoints: sampleFeaturePoints(frame.RawFeaturePoints(), MaxFeaturePoints),
		config:        config,
	}

	select {
	case s.workCh <- snap:
	default:
		// Unreachable while the busy flag is held, but never block here.
		snap.depth.Release()
		s.busy.Store(false)
		s.stats.droppedBusy.Add(1)
	}
}

// sampleFeaturePoints copies at most limit points, stride-sampled so the
// kept set still spans the whole cloud.
func sampleFeaturePoints(points []r3.Vec, limit int) []r3.Vec {
	if len(points) == 0 {
		return nil
	}
	if len(points) <= limit {
		out := make([]r3.Vec, len(points))
		copy(out, points)
		return out
	}
	stride := (len(points) + limit - 1) / limit
	out := make([]r3.Vec, 0, limit)
	for i := 0; i < len(points) && len(out) < limit; i += stride {
		out = append(out, points[i])
	}
	return out
}

// encodeWorker runs the CPU-bound encode off the admission path, one frame
// at a time.
func (s *FrameCaptureService) encodeWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case snap := <-s.workCh:
			s.processSnapshot(snap)
		}
	}
}

func (s *FrameCaptureService) processSnapshot(snap frameSnapshot) {
	res, err := EncodeCover(snap.img, snap.config.Width, snap.config.Height, snap.config.Quality)
	if err != nil {
		// Capture-path failure: silent drop, no event.
		snap.depth.Release()
		s.busy.Store(false)
		s.stats.encodeFailures.Add(1)
		monitoring.Logf("arframe: encode failed for %s: %v", snap.frameID, err)
		return
	}

	// Native size comes from the captured buffer itself and feeds every
	// derived computation.
	b := snap.img.Bounds()
	nativeSize := ImageSize{Width: b.Dx(), Height: b.Dy()}

	entry := &FrameEntry{
		FrameID:          snap.frameID,
		Timestamp:        snap.timestamp,
		SessionID:        snap.sessionID,
		CameraToWorld:    snap.cameraToWorld,
		IntrinsicsNative: snap.intrinsics,
		NativeSize:       nativeSize,
		IntrinsicsOutput: OutputIntrinsics(snap.intrinsics, res.Scale, res.CropOffsetX, res.CropOffsetY),
		OutputSize:       ImageSize{Width: snap.config.Width, Height: snap.config.Height},
		OutputToNative: OutputToNativeUV(res.Scale, res.CropOffsetX, res.CropOffsetY,
			nativeSize, res.PreRotationWidth, res.PreRotationHeight),
		Rotated:       res.Rotated,
		CropOffsetX:   res.CropOffsetX,
		CropOffsetY:   res.CropOffsetY,
		Scale:         res.Scale,
		TrackingState: snap.tracking,
		EncodedImage:  res.JPEG,
		Depth:         snap.depth,
		FeaturePoints: snap.featurePoints,
	}
	s.ring.Insert(entry)

	// Clear the busy flag before any event delivery: consumer latency must
	// never stall capture admission.
	s.busy.Store(false)
	s.stats.accepted.Add(1)

	event := FrameEvent{
		FrameID:                 entry.FrameID,
		Timestamp:               entry.Timestamp,
		SessionID:               entry.SessionID,
		ImageData:               entry.EncodedImage,
		Width:                   entry.OutputSize.Width,
		Height:                  entry.OutputSize.Height,
		Intrinsics:              entry.IntrinsicsOutput,
		CameraToWorld:           ColumnMajor(entry.CameraToWorld),
		OutputToNativeTransform: entry.OutputToNative.Elements9(),
		TrackingState:           entry.TrackingState,
	}

	for {
		select {
		case s.eventCh <- event:
			if s.frameLog != nil {
				s.frameLog.LogFrame(entry)
			}
			return
		default:
		}
		// Delivery buffer full: shed the oldest pending event.
		select {
		case <-s.eventCh:
			s.stats.eventsDropped.Add(1)
		default:
		}
	}
}

// deliveryWorker hands events to the consumer callback, decoupled from the
// encode pipeline.
func (s *FrameCaptureService) deliveryWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case event := <-s.eventCh:
			if s.onFrame != nil {
				s.onFrame(event)
			}
		}
	}
}

// ResolveResponse is the outcome of a resolve operation.
type ResolveResponse struct {
	FrameID string            `json:"frameId"`
	Results []DetectionResult `json:"results,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Resolve maps normalized 2D output-space points of a previously captured
// frame to 3D world positions using that frame's stored capture-time
// state. A missing or cross-session frame is a top-level error; per-point
// failures are reported individually.
func (s *FrameCaptureService) Resolve(frameID string, points []Point2) ResolveResponse {
	entry := s.ring.Lookup(frameID)
	if entry == nil {
		return ResolveResponse{
			FrameID: frameID,
			Error:   fmt.Sprintf("frame %q not found (evicted or never captured)", frameID),
		}
	}
	if current := s.ring.CurrentSession(); entry.SessionID != current {
		return ResolveResponse{
			FrameID: frameID,
			Error: fmt.Sprintf("frame %q belongs to session %d, current session is %d",
				frameID, entry.SessionID, current),
		}
	}

	results := ResolvePoints(points, entry, s.session)
	if s.frameLog != nil {
		s.frameLog.LogResolutions(frameID, results)
	}
	return ResolveResponse{FrameID: frameID, Results: results}
}

// Close stops the workers and releases all buffered frames. The service
// must not be used afterwards.
func (s *FrameCaptureService) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.Stop()
	close(s.stopCh)
	s.wg.Wait()

	// Drain any admitted-but-unprocessed snapshot so its depth buffer is
	// not leaked.
	select {
	case snap := <-s.workCh:
		snap.depth.Release()
	default:
	}
	s.ring.Clear()
}
