package arframe

import (
	"image"
	"image/color"
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"
)

// SyntheticPlatform generates deterministic AR frames for demos and
// end-to-end tests: a fixed camera above a ground plane at y=0, pitched
// down so image rays intersect it. It implements Session with analytic
// ray/plane intersection, with detection radii that exercise the whole
// resolution ladder (mesh inside GeometryRadius, extents inside
// ExtentRadius, estimated planes anywhere below the horizon).
type SyntheticPlatform struct {
	// Camera placement.
	CameraHeight float64 // metres above the ground plane
	PitchRad     float64 // downward pitch

	// Native capture geometry.
	NativeWidth  int
	NativeHeight int
	Camera       Intrinsics

	// Depth emission. When enabled, frames carry a DepthGridW×DepthGridH
	// native-aligned analytic depth map.
	EmitDepth  bool
	DepthGridW int
	DepthGridH int

	// Feature points scattered on the ground plane.
	FeaturePointCount int

	// Raycast coverage radii, measured on the ground from the point below
	// the camera.
	GeometryRadius float64
	ExtentRadius   float64

	FrameInterval float64 // seconds between generated frames

	frameCount atomic.Uint64
}

// NewSyntheticPlatform returns a platform with phone-like defaults:
// 1280×720 native capture, camera 1.5 m up, pitched 30° down.
func NewSyntheticPlatform() *SyntheticPlatform {
	return &SyntheticPlatform{
		CameraHeight:      1.5,
		PitchRad:          30 * math.Pi / 180,
		NativeWidth:       1280,
		NativeHeight:      720,
		Camera:            Intrinsics{Fx: 1000, Fy: 1000, Cx: 640, Cy: 360},
		EmitDepth:         true,
		DepthGridW:        256,
		DepthGridH:        192,
		FeaturePointCount: 300,
		GeometryRadius:    3.0,
		ExtentRadius:      6.0,
		FrameInterval:     1.0 / 30.0,
	}
}

// cameraToWorld builds the fixed camera pose: position (0, h, 0), rotated
// about X so the camera's -Z forward axis points below the horizon.
func (p *SyntheticPlatform) cameraToWorld() [16]float64 {
	c := math.Cos(-p.PitchRad)
	s := math.Sin(-p.PitchRad)
	return [16]float64{
		1, 0, 0, 0,
		0, c, -s, p.CameraHeight,
		0, s, c, 0,
		0, 0, 0, 1,
	}
}

// groundHit intersects a world ray with the y=0 plane.
func groundHit(origin, dir r3.Vec) (r3.Vec, bool) {
	if dir.Y >= -1e-9 {
		return r3.Vec{}, false
	}
	t := -origin.Y / dir.Y
	return r3.Add(origin, r3.Scale(t, dir)), true
}

// groundDistance is the hit's distance from the point directly below the
// camera, used to emulate bounded plane-detection coverage.
func (p *SyntheticPlatform) groundDistance(hit r3.Vec) float64 {
	return math.Hypot(hit.X, hit.Z)
}

// RaycastGeometry reports a mesh-level hit within GeometryRadius.
func (p *SyntheticPlatform) RaycastGeometry(origin, dir r3.Vec) (r3.Vec, bool) {
	hit, ok := groundHit(origin, dir)
	if !ok || p.groundDistance(hit) > p.GeometryRadius {
		return r3.Vec{}, false
	}
	return hit, true
}

// RaycastExtent reports a plane-extent hit within ExtentRadius.
func (p *SyntheticPlatform) RaycastExtent(origin, dir r3.Vec) (r3.Vec, bool) {
	hit, ok := groundHit(origin, dir)
	if !ok || p.groundDistance(hit) > p.ExtentRadius {
		return r3.Vec{}, false
	}
	return hit, true
}

// RaycastEstimated hits the estimated ground anywhere below the horizon.
func (p *SyntheticPlatform) RaycastEstimated(origin, dir r3.Vec) (r3.Vec, bool) {
	return groundHit(origin, dir)
}

// NextFrame generates the next synthetic platform frame.
func (p *SyntheticPlatform) NextFrame() PlatformFrame {
	n := p.frameCount.Add(1)
	f := &syntheticFrame{
		platform:  p,
		timestamp: float64(n) * p.FrameInterval,
		pose:      p.cameraToWorld(),
	}
	return f
}

type syntheticFrame struct {
	platform  *SyntheticPlatform
	timestamp float64
	pose      [16]float64
}

func (f *syntheticFrame) Timestamp() float64 { return f.timestamp }

// Image renders a cheap gradient so encoded JPEGs are non-degenerate.
func (f *syntheticFrame) Image() image.Image {
	w, h := f.platform.NativeWidth, f.platform.NativeHeight
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		g := uint8(255 * y / h)
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(255 * x / w), G: g, B: 96, A: 255})
		}
	}
	return img
}

func (f *syntheticFrame) Intrinsics() Intrinsics       { return f.platform.Camera }
func (f *syntheticFrame) CameraToWorld() [16]float64   { return f.pose }
func (f *syntheticFrame) TrackingState() TrackingState { return TrackingNormal }

// DepthMap returns analytic depth along the camera forward axis for each
// grid cell, aligned to native UV space.
func (f *syntheticFrame) DepthMap() *DepthMap {
	p := f.platform
	if !p.EmitDepth {
		return nil
	}
	gw, gh := p.DepthGridW, p.DepthGridH
	values := make([]float32, gw*gh)
	origin := r3.Vec{X: f.pose[3], Y: f.pose[7], Z: f.pose[11]}
	for gy := 0; gy < gh; gy++ {
		for gx := 0; gx < gw; gx++ {
			u := float64(gx) / float64(gw-1)
			v := float64(gy) / float64(gh-1)
			px := u * float64(p.NativeWidth)
			py := v * float64(p.NativeHeight)
			camDir := RayDirection(px, py, p.Camera)
			dir := RotatePose(camDir, f.pose)
			hit, ok := groundHit(origin, dir)
			if !ok {
				continue // zero depth, rejected by the resolver
			}
			// Depth is measured along the camera forward axis, not ray
			// length: project the hit back into camera space.
			d := r3.Norm(r3.Sub(hit, origin)) * math.Abs(camDir.Z)
			values[gy*gw+gx] = float32(d)
		}
	}
	return NewDepthMap(gw, gh, values)
}

// RawFeaturePoints scatters points on the ground plane in front of the
// camera, on a deterministic grid.
func (f *syntheticFrame) RawFeaturePoints() []r3.Vec {
	n := f.platform.FeaturePointCount
	if n <= 0 {
		return nil
	}
	points := make([]r3.Vec, 0, n)
	side := int(math.Ceil(math.Sqrt(float64(n))))
	for i := 0; len(points) < n; i++ {
		gx := i % side
		gz := i / side
		points = append(points, r3.Vec{
			X: -4 + 8*float64(gx)/float64(side-1),
			Y: 0,
			Z: -1 - 7*float64(gz)/float64(side-1),
		})
	}
	return points
}
