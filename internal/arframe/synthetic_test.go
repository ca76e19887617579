package arframe

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestSyntheticPlatform_CenterRayGroundHit(t *testing.T) {
	p := NewSyntheticPlatform()
	origin := r3.Vec{Y: p.CameraHeight}
	// The camera axis pitched 30° down from 1.5 m up strikes the ground
	// 3 m along the ray, at z = -1.5√3.
	dir := r3.Unit(r3.Vec{Y: -0.5, Z: -math.Sqrt(3) / 2})

	hit, ok := p.RaycastGeometry(origin, dir)
	if !ok {
		t.Fatal("Center ray should hit within the geometry radius")
	}
	want := r3.Vec{Z: -1.5 * math.Sqrt(3)}
	if r3.Norm(r3.Sub(hit, want)) > 1e-9 {
		t.Errorf("Geometry hit %+v, want %+v", hit, want)
	}
	if hit.Y != 0 {
		t.Errorf("Hit must lie on the ground plane, y = %g", hit.Y)
	}
}

func TestSyntheticPlatform_RadiusGating(t *testing.T) {
	p := NewSyntheticPlatform()
	origin := r3.Vec{Y: p.CameraHeight}

	// Lands 5 m out: beyond the mesh, within the plane extents.
	mid := r3.Unit(r3.Vec{Y: -p.CameraHeight, Z: -5})
	if _, ok := p.RaycastGeometry(origin, mid); ok {
		t.Error("5 m hit should be outside the geometry radius")
	}
	if _, ok := p.RaycastExtent(origin, mid); !ok {
		t.Error("5 m hit should be inside the extent radius")
	}

	// Lands 7 m out: estimated plane only.
	far := r3.Unit(r3.Vec{Y: -p.CameraHeight, Z: -7})
	if _, ok := p.RaycastExtent(origin, far); ok {
		t.Error("7 m hit should be outside the extent radius")
	}
	if _, ok := p.RaycastEstimated(origin, far); !ok {
		t.Error("Estimated plane should hit anywhere below the horizon")
	}

	// Above the horizon nothing hits.
	up := r3.Unit(r3.Vec{Y: 0.1, Z: -1})
	if _, ok := p.RaycastEstimated(origin, up); ok {
		t.Error("Ray above the horizon must not hit the ground")
	}
}

func TestSyntheticFrame_TimestampsAdvance(t *testing.T) {
	p := NewSyntheticPlatform()
	a := p.NextFrame().Timestamp()
	b := p.NextFrame().Timestamp()
	if diff := b - a; math.Abs(diff-p.FrameInterval) > 1e-9 {
		t.Errorf("Timestamp step %g, want %g", diff, p.FrameInterval)
	}
}

func TestSyntheticFrame_DepthMatchesGroundGeometry(t *testing.T) {
	p := NewSyntheticPlatform()
	frame := p.NextFrame()
	depth := frame.DepthMap()
	if depth == nil {
		t.Fatal("Defaults should emit depth")
	}
	defer depth.Release()

	// The center pixel looks straight down the pitched camera axis; the
	// ray meets the ground 3 m along it, and depth is measured on the
	// forward axis so the value is 3 up to grid discretization.
	d, ok := depth.SampleUV(0.5, 0.5)
	if !ok {
		t.Fatal("Center depth sample failed")
	}
	if math.Abs(float64(d)-3.0) > 0.05 {
		t.Errorf("Center depth %g, want ~3.0", d)
	}
}

func TestSyntheticFrame_FeaturePointsOnGround(t *testing.T) {
	p := NewSyntheticPlatform()
	points := p.NextFrame().RawFeaturePoints()
	if len(points) != p.FeaturePointCount {
		t.Fatalf("Got %d feature points, want %d", len(points), p.FeaturePointCount)
	}
	for _, pt := range points {
		if pt.Y != 0 {
			t.Fatalf("Feature point off the ground plane: %+v", pt)
		}
		if pt.Z >= 0 {
			t.Fatalf("Feature point behind the camera: %+v", pt)
		}
	}
}

// captureSyntheticFrame runs one platform frame through a capture service
// and returns its frame id once stored.
func captureSyntheticFrame(t *testing.T, p *SyntheticPlatform, svc *FrameCaptureService) string {
	t.Helper()
	svc.OnARFrame(p.NextFrame())
	waitIdle(t, svc)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Ring().Len() > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	entry := lastRingEntry(svc.Ring())
	if entry == nil {
		t.Fatal("No frame stored in the ring buffer")
	}
	return entry.FrameID
}

func lastRingEntry(rb *FrameRingBuffer) *FrameEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if len(rb.order) == 0 {
		return nil
	}
	return rb.entries[rb.order[len(rb.order)-1]]
}

func TestSynthetic_ResolutionLadderEndToEnd(t *testing.T) {
	p := NewSyntheticPlatform()
	p.EmitDepth = false
	svc := NewFrameCaptureService(CaptureServiceConfig{Session: p})
	defer svc.Close()
	svc.Start(CaptureConfig{Width: 640, Height: 480, FPS: 5, Quality: 0.7})

	frameID := captureSyntheticFrame(t, p, svc)

	// In this scene image height maps to ground distance: lower rows look
	// down at nearby ground, higher rows out toward the horizon. Points are
	// chosen by where their ray lands relative to the 3 m geometry and 6 m
	// extent radii.
	cases := []struct {
		point      Point2
		method     string
		confidence float64
	}{
		// Image center: ground 2.6 m out, inside the 3 m geometry radius.
		{Point2{X: 0.5, Y: 0.5}, MethodGeometryRay, 0.95},
		// Lower-right quadrant: ~1.9 m out, also confirmed geometry.
		{Point2{X: 0.75, Y: 0.75}, MethodGeometryRay, 0.95},
		// Upper-left quadrant: ~4.3 m out, extents only.
		{Point2{X: 0.25, Y: 0.25}, MethodExtentRay, 0.85},
		// Higher in the image: ~4.5 m out, extents only.
		{Point2{X: 0.5, Y: 0.215}, MethodExtentRay, 0.85},
		// Near the top: ~7 m out, past the extents, estimated plane.
		{Point2{X: 0.5, Y: 0.05}, MethodEstimatedRay, 0.6},
	}
	for _, c := range cases {
		resp := svc.Resolve(frameID, []Point2{c.point})
		if resp.Error != "" {
			t.Fatalf("Resolve(%+v) error: %s", c.point, resp.Error)
		}
		r := resp.Results[0]
		if !r.OK {
			t.Errorf("Point %+v failed: %s", c.point, r.Error)
			continue
		}
		if r.Method != c.method {
			t.Errorf("Point %+v resolved via %q, want %q", c.point, r.Method, c.method)
		}
		if r.Confidence != c.confidence {
			t.Errorf("Point %+v confidence %g, want %g", c.point, r.Confidence, c.confidence)
		}
		if r.WorldPos == nil || math.Abs(r.WorldPos[1]) > 1e-6 {
			t.Errorf("Point %+v should land on the ground plane, got %v", c.point, r.WorldPos)
		}
	}
}

func TestSynthetic_DepthWinsWhenEmitted(t *testing.T) {
	p := NewSyntheticPlatform()
	svc := NewFrameCaptureService(CaptureServiceConfig{Session: p})
	defer svc.Close()
	svc.Start(CaptureConfig{Width: 640, Height: 480, FPS: 5, Quality: 0.7})

	frameID := captureSyntheticFrame(t, p, svc)
	resp := svc.Resolve(frameID, []Point2{{X: 0.5, Y: 0.5}})
	if resp.Error != "" {
		t.Fatalf("Resolve error: %s", resp.Error)
	}
	r := resp.Results[0]
	if !r.OK || r.Method != MethodDepth {
		t.Fatalf("Expected depth method, got %+v", r)
	}
	if r.Confidence != 0.95 {
		t.Errorf("Depth confidence %g, want 0.95", r.Confidence)
	}
	// Backprojected depth should land where the raycast does, give or take
	// depth grid discretization.
	want := r3.Vec{Z: -1.5 * math.Sqrt(3)}
	got := r3.Vec{X: r.WorldPos[0], Y: r.WorldPos[1], Z: r.WorldPos[2]}
	if r3.Norm(r3.Sub(got, want)) > 0.1 {
		t.Errorf("Depth world pos %+v, want ~%+v", got, want)
	}
}
