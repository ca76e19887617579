package arframe

import (
	"image"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"
)

//
// 0) Image geometry
//

// Intrinsics is a pinhole camera model (fx, fy focal lengths and cx, cy
// principal point), all in pixels of the image space it is defined for.
type Intrinsics struct {
	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
}

// ImageSize is a pixel dimension pair.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AffineUV maps normalized UV coordinates between two image spaces:
//
//	dst_uv = src_uv * [a 0; 0 d] + [tx ty]
//
// It carries no shear or rotation terms; the capture pipeline only ever
// scales and translates between output and native space (rotation is
// undone separately before this transform applies).
type AffineUV struct {
	A  float64 `json:"a"`
	D  float64 `json:"d"`
	Tx float64 `json:"tx"`
	Ty float64 `json:"ty"`
}

// Apply maps a source UV pair to the destination space.
func (t AffineUV) Apply(u, v float64) (float64, float64) {
	return u*t.A + t.Tx, v*t.D + t.Ty
}

// Elements9 returns the transform as a row-major 3x3 matrix
// [a 0 0; 0 d 0; tx ty 1], the layout emitted in frame events.
func (t AffineUV) Elements9() [9]float64 {
	return [9]float64{t.A, 0, 0, 0, t.D, 0, t.Tx, t.Ty, 1}
}

//
// 1) Tracking state
//

// TrackingState is the AR platform's confidence classification for its
// current pose estimate.
type TrackingState string

const (
	TrackingNormal       TrackingState = "normal"
	TrackingLimited      TrackingState = "limited"
	TrackingNotAvailable TrackingState = "notAvailable"
)

//
// 2) Depth
//

// DepthMap is a per-pixel depth grid aligned to the native camera image
// space, in metres. A DepthMap is exclusively owned by the FrameEntry that
// holds it and is released exactly once, at eviction or buffer teardown.
// Sampling is safe concurrently with Release: the ring buffer may evict a
// frame while a resolver is still reading its depth.
type DepthMap struct {
	Width  int
	Height int

	values   atomic.Pointer[[]float32]
	released atomic.Bool
}

// NewDepthMap wraps a depth grid. len(values) must be width*height.
func NewDepthMap(width, height int, values []float32) *DepthMap {
	d := &DepthMap{Width: width, Height: height}
	d.values.Store(&values)
	return d
}

// SampleUV returns the depth at a normalized native-space UV coordinate.
// Returns false if the coordinate is outside [0,1] on either axis or the
// buffer has been released. Out-of-bounds coordinates are rejected, not
// clamped: an edge-pixel depth value would be wrong but plausible.
//
// The values pointer is loaded exactly once, so a concurrent Release
// either wins (sample fails) or loses (the loaded backing array stays
// valid for this read); it can never nil the slice mid-sample.
func (d *DepthMap) SampleUV(u, v float64) (float32, bool) {
	if d == nil {
		return 0, false
	}
	values := d.values.Load()
	if values == nil {
		return 0, false
	}
	if u < 0 || u > 1 || v < 0 || v > 1 {
		return 0, false
	}
	px := int(u * float64(d.Width-1))
	py := int(v * float64(d.Height-1))
	return (*values)[py*d.Width+px], true
}

// Release drops the backing storage. Safe to call more than once; only the
// first call has effect.
func (d *DepthMap) Release() {
	if d == nil {
		return
	}
	if d.released.CompareAndSwap(false, true) {
		d.values.Store(nil)
	}
}

// Released reports whether Release has been called.
func (d *DepthMap) Released() bool {
	return d != nil && d.released.Load()
}

//
// 3) Frame entry — one capture's complete record
//

// FrameEntry stores all capture-time data needed for deferred 2D→3D
// resolution. Entries are immutable once constructed; the depth map is the
// only owned resource and is released by the ring buffer on eviction.
//
// CameraToWorld is row-major [16]float64 (m00..m03, m10..m13, ...),
// mapping camera-space points into world space as they were at capture
// time. Frame events emit it column-major per the wire format.
type FrameEntry struct {
	FrameID   string
	Timestamp float64
	SessionID int

	CameraToWorld [16]float64

	// Native (AR platform) image space. NativeSize is read once from the
	// captured buffer and is the single source of truth for every derived
	// computation.
	IntrinsicsNative Intrinsics
	NativeSize       ImageSize

	// Encoded output image space.
	IntrinsicsOutput Intrinsics
	OutputSize       ImageSize

	// OutputToNative maps normalized output UV to normalized native UV.
	// Defined in the encoder's pre-rotation space; Rotated indicates a 90°
	// clockwise rotation was applied after cropping.
	OutputToNative AffineUV
	Rotated        bool

	// Crop diagnostics: offsets are in scaled (output-space) pixels, and
	// Scale is the cover scale factor applied to the native image.
	CropOffsetX float64
	CropOffsetY float64
	Scale       float64

	TrackingState TrackingState

	EncodedImage []byte

	// Optional capture-time data.
	Depth         *DepthMap
	FeaturePoints []r3.Vec
}

// CameraPosition returns the camera's world-space position at capture time.
func (e *FrameEntry) CameraPosition() r3.Vec {
	return r3.Vec{X: e.CameraToWorld[3], Y: e.CameraToWorld[7], Z: e.CameraToWorld[11]}
}

//
// 4) Platform abstraction
//

// PlatformFrame is the per-frame data the AR platform hands to the capture
// service. Implementations must tolerate all methods being called exactly
// once, synchronously, from the platform callback.
type PlatformFrame interface {
	// Timestamp is the platform clock value for this frame, in seconds.
	Timestamp() float64

	// Image returns the native camera image, or nil when no buffer is
	// available (the capture attempt is then silently dropped).
	Image() image.Image

	// Intrinsics in native image space, unmodified.
	Intrinsics() Intrinsics

	// CameraToWorld is the rigid camera→world transform, row-major.
	CameraToWorld() [16]float64

	// TrackingState at capture time.
	TrackingState() TrackingState

	// DepthMap returns a native-aligned depth buffer with ownership
	// transferred to the caller, or nil when the platform reports no depth
	// for this frame.
	DepthMap() *DepthMap

	// RawFeaturePoints returns the platform's current world-space feature
	// points. The capture service stores a capped, stride-sampled copy.
	RawFeaturePoints() []r3.Vec
}

// Session exposes the live AR session queries the resolver needs. All
// methods take a world-space ray and report the first hit, if any. The
// platform's threading contract must allow calls from any goroutine.
type Session interface {
	// RaycastGeometry intersects against detected surface geometry (mesh
	// level, most precise).
	RaycastGeometry(origin, dir r3.Vec) (r3.Vec, bool)

	// RaycastExtent intersects against the bounding extents of detected
	// surfaces.
	RaycastExtent(origin, dir r3.Vec) (r3.Vec, bool)

	// RaycastEstimated intersects against surfaces the platform infers but
	// has not confirmed; results can drift over time.
	RaycastEstimated(origin, dir r3.Vec) (r3.Vec, bool)
}

//
// 5) Wire types
//

// Point2 is a normalized 2D point in output-image UV space (0–1).
type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FrameEvent is the outward-facing payload emitted per accepted,
// successfully encoded frame. ImageData is base64-encoded by encoding/json.
type FrameEvent struct {
	FrameID   string  `json:"frameId"`
	Timestamp float64 `json:"timestamp"`
	SessionID int     `json:"sessionId"`

	ImageData []byte `json:"imageData"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`

	Intrinsics Intrinsics `json:"intrinsics"`

	// CameraToWorld is column-major, 16 values.
	CameraToWorld [16]float64 `json:"cameraToWorld"`

	// OutputToNativeTransform is row-major 3x3: [a 0 0, 0 d 0, tx ty 1].
	OutputToNativeTransform [9]float64 `json:"outputToNativeTransform"`

	TrackingState TrackingState `json:"trackingState"`
}

// Resolution method tags, ordered by ladder priority.
const (
	MethodDepth        = "depth"
	MethodGeometryRay  = "geometry_ray"
	MethodExtentRay    = "extent_ray"
	MethodEstimatedRay = "estimated_ray"
	MethodPointCloud   = "pointcloud"
)

// DetectionResult is the outcome of resolving a single 2D point to a 3D
// world position. Produced fresh per resolution call; never persisted by
// the resolver itself.
type DetectionResult struct {
	Input      Point2      `json:"input"`
	OK         bool        `json:"ok"`
	WorldPos   *[3]float64 `json:"worldPos,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Method     string      `json:"method,omitempty"`
	Error      string      `json:"error,omitempty"`
}
