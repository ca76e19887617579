package arframe

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Resolution ladder bounds.
const (
	// MaxPlausibleDepthMeters rejects depth samples beyond indoor/near-field
	// AR range; anything larger is sensor noise or sky.
	MaxPlausibleDepthMeters = 10.0

	// MinAlongRayMeters discards feature points behind or essentially at
	// the camera.
	MinAlongRayMeters = 0.1

	// MaxPointRayDistanceMeters is the widest perpendicular miss a feature
	// point may have from the ray and still be accepted.
	MaxPointRayDistanceMeters = 0.5
)

// Ladder confidences.
const (
	confidenceDepth        = 0.95
	confidenceGeometryRay  = 0.95
	confidenceExtentRay    = 0.85
	confidenceEstimatedRay = 0.6
	confidencePointCloud   = 0.6 // ceiling; decays with distance, floored at 0.3
	confidenceFloor        = 0.3
)

// ResolvePoints maps normalized 2D points in a frame's output-image space
// to 3D world positions, one result per input point in input order.
//
// Every point runs the same fixed-priority ladder and returns on the first
// success: depth sampling, then live raycasts against confirmed geometry,
// surface extents, and estimated surfaces, then the stored feature-point
// cloud. All position math uses the entry's capture-time pose and
// intrinsics, never the session's current camera — only the raycast
// queries touch live session state.
func ResolvePoints(points []Point2, entry *FrameEntry, session Session) []DetectionResult {
	results := make([]DetectionResult, len(points))
	for i, pt := range points {
		results[i] = resolvePoint(pt, entry, session)
	}
	return results
}

func resolvePoint(pt Point2, entry *FrameEntry, session Session) DetectionResult {
	result := DetectionResult{Input: pt}

	// The stored transforms are defined in the encoder's pre-rotation
	// space; map the point there once.
	preU, preV := pt.X, pt.Y
	if entry.Rotated {
		preU, preV = UnrotateUV(pt.X, pt.Y)
	}

	if world, ok := resolveByDepth(preU, preV, entry); ok {
		return success(result, world, confidenceDepth, MethodDepth)
	}

	origin, dir := captureRay(preU, preV, entry)
	if session != nil {
		if hit, ok := session.RaycastGeometry(origin, dir); ok {
			return success(result, hit, confidenceGeometryRay, MethodGeometryRay)
		}
		if hit, ok := session.RaycastExtent(origin, dir); ok {
			return success(result, hit, confidenceExtentRay, MethodExtentRay)
		}
		if hit, ok := session.RaycastEstimated(origin, dir); ok {
			return success(result, hit, confidenceEstimatedRay, MethodEstimatedRay)
		}
	}

	if world, confidence, ok := resolveByPointCloud(origin, dir, entry.FeaturePoints); ok {
		return success(result, world, confidence, MethodPointCloud)
	}

	result.OK = false
	result.Error = "no usable depth/geometry data at this point"
	return result
}

func success(r DetectionResult, world r3.Vec, confidence float64, method string) DetectionResult {
	r.OK = true
	r.WorldPos = &[3]float64{world.X, world.Y, world.Z}
	r.Confidence = confidence
	r.Method = method
	return r
}

// resolveByDepth samples the capture-time depth map. The point is mapped
// into native image space first; a mapping outside [0,1] fails the method
// rather than clamping, since an edge-pixel depth would be silently wrong.
// Depth is native-aligned, so backprojection uses native intrinsics and
// native pixel coordinates.
func resolveByDepth(preU, preV float64, entry *FrameEntry) (r3.Vec, bool) {
	if entry.Depth == nil {
		return r3.Vec{}, false
	}
	nu, nv := entry.OutputToNative.Apply(preU, preV)
	if nu < 0 || nu > 1 || nv < 0 || nv > 1 {
		return r3.Vec{}, false
	}
	depth, ok := entry.Depth.SampleUV(nu, nv)
	if !ok {
		return r3.Vec{}, false
	}
	d := float64(depth)
	if d <= 0 || d > MaxPlausibleDepthMeters {
		return r3.Vec{}, false
	}
	px := nu * float64(entry.NativeSize.Width)
	py := nv * float64(entry.NativeSize.Height)
	cam := Backproject(px, py, d, entry.IntrinsicsNative)
	return ApplyPose(cam, entry.CameraToWorld), true
}

// captureRay builds the world-space ray through a pre-rotation UV point
// using the entry's stored camera position and output-space intrinsics.
// The ray is independent of depth alignment: it lives entirely in the
// encoded image's own geometry.
func captureRay(preU, preV float64, entry *FrameEntry) (origin, dir r3.Vec) {
	preW := entry.OutputSize.Width
	preH := entry.OutputSize.Height
	if entry.Rotated {
		preW, preH = preH, preW
	}
	px := preU * float64(preW)
	py := preV * float64(preH)
	camDir := RayDirection(px, py, entry.IntrinsicsOutput)
	return entry.CameraPosition(), r3.Unit(RotatePose(camDir, entry.CameraToWorld))
}

// resolveByPointCloud finds the stored feature point nearest to the ray.
// Points behind the camera or closer than MinAlongRayMeters along the ray
// are discarded; the best point is accepted only within
// MaxPointRayDistanceMeters. Confidence decays linearly with perpendicular
// distance, floored at 0.3.
func resolveByPointCloud(origin, dir r3.Vec, points []r3.Vec) (r3.Vec, float64, bool) {
	best := math.Inf(1)
	var bestPoint r3.Vec
	found := false
	for _, p := range points {
		w := r3.Sub(p, origin)
		t := r3.Dot(w, dir)
		if t < MinAlongRayMeters {
			continue
		}
		perp := r3.Norm(r3.Sub(w, r3.Scale(t, dir)))
		if perp < best {
			best = perp
			bestPoint = p
			found = true
		}
	}
	if !found || best > MaxPointRayDistanceMeters {
		return r3.Vec{}, 0, false
	}
	confidence := math.Max(confidenceFloor, confidencePointCloud-best)
	return bestPoint, confidence, true
}
