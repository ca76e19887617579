package arframe

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestOutputIntrinsics(t *testing.T) {
	native := Intrinsics{Fx: 1000, Fy: 1100, Cx: 960, Cy: 540}
	got := OutputIntrinsics(native, 0.5, 40, 30)
	want := Intrinsics{Fx: 500, Fy: 550, Cx: 440, Cy: 240}
	if got != want {
		t.Errorf("OutputIntrinsics = %+v, want %+v", got, want)
	}
}

// TestOutputToNativeUV_RoundTrip checks the round-trip law: mapping an
// output UV through the documented forward scale+crop pipeline and back
// through the derived affine transform returns the original coordinate.
func TestOutputToNativeUV_RoundTrip(t *testing.T) {
	native := ImageSize{Width: 1920, Height: 1080}
	outW, outH := 640, 480
	scale := math.Max(float64(outW)/float64(native.Width), float64(outH)/float64(native.Height))
	scaledW := float64(native.Width) * scale
	scaledH := float64(native.Height) * scale
	cropX := (scaledW - float64(outW)) / 2
	cropY := (scaledH - float64(outH)) / 2

	affine := OutputToNativeUV(scale, cropX, cropY, native, outW, outH)

	for _, uv := range [][2]float64{{0, 0}, {1, 1}, {0.5, 0.5}, {0.3, 0.7}, {0.95, 0.05}} {
		// Forward: output pixel -> native pixel via inverse crop+scale.
		px := uv[0] * float64(outW)
		py := uv[1] * float64(outH)
		nx := (px + cropX) / scale
		ny := (py + cropY) / scale
		wantU := nx / float64(native.Width)
		wantV := ny / float64(native.Height)

		gotU, gotV := affine.Apply(uv[0], uv[1])
		if math.Abs(gotU-wantU) > 1e-12 || math.Abs(gotV-wantV) > 1e-12 {
			t.Errorf("Apply(%v) = (%.12f,%.12f), want (%.12f,%.12f)", uv, gotU, gotV, wantU, wantV)
		}
	}
}

func TestAffineUV_Elements9Layout(t *testing.T) {
	affine := AffineUV{A: 0.5, D: 0.75, Tx: 0.1, Ty: 0.2}
	got := affine.Elements9()
	want := [9]float64{0.5, 0, 0, 0, 0.75, 0, 0.1, 0.2, 1}
	if got != want {
		t.Errorf("Elements9 = %v, want %v", got, want)
	}
}

func TestUnrotateUV_Corners(t *testing.T) {
	cases := []struct {
		in, want [2]float64
	}{
		// 90° clockwise rotation: the rotated image's top-left came from
		// the source's bottom-left, and so on around.
		{[2]float64{0, 0}, [2]float64{0, 1}},
		{[2]float64{1, 0}, [2]float64{0, 0}},
		{[2]float64{1, 1}, [2]float64{1, 0}},
		{[2]float64{0, 1}, [2]float64{1, 1}},
		{[2]float64{0.5, 0.5}, [2]float64{0.5, 0.5}},
	}
	for _, c := range cases {
		u, v := UnrotateUV(c.in[0], c.in[1])
		if math.Abs(u-c.want[0]) > 1e-12 || math.Abs(v-c.want[1]) > 1e-12 {
			t.Errorf("UnrotateUV(%v) = (%g,%g), want %v", c.in, u, v, c.want)
		}
	}
}

func TestApplyPose_TranslationAndRotation(t *testing.T) {
	// Rotate 90° about Z then translate by (1,2,3).
	T := [16]float64{
		0, -1, 0, 1,
		1, 0, 0, 2,
		0, 0, 1, 3,
		0, 0, 0, 1,
	}
	got := ApplyPose(r3.Vec{X: 1, Y: 0, Z: 0}, T)
	want := r3.Vec{X: 1, Y: 3, Z: 3}
	if r3.Norm(r3.Sub(got, want)) > 1e-12 {
		t.Errorf("ApplyPose = %+v, want %+v", got, want)
	}

	dir := RotatePose(r3.Vec{X: 1, Y: 0, Z: 0}, T)
	wantDir := r3.Vec{X: 0, Y: 1, Z: 0}
	if r3.Norm(r3.Sub(dir, wantDir)) > 1e-12 {
		t.Errorf("RotatePose = %+v, want %+v (no translation)", dir, wantDir)
	}
}

func TestColumnMajor(t *testing.T) {
	var T [16]float64
	for i := range T {
		T[i] = float64(i)
	}
	got := ColumnMajor(T)
	// Row-major element (r,c) lands at column-major index c*4+r.
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			if got[c*4+r] != T[r*4+c] {
				t.Fatalf("ColumnMajor[%d] = %g, want %g", c*4+r, got[c*4+r], T[r*4+c])
			}
		}
	}
}

func TestBackproject_CameraConvention(t *testing.T) {
	k := Intrinsics{Fx: 100, Fy: 100, Cx: 50, Cy: 50}

	// Principal point at depth 2: straight down the forward (-Z) axis.
	got := Backproject(50, 50, 2, k)
	want := r3.Vec{X: 0, Y: 0, Z: -2}
	if r3.Norm(r3.Sub(got, want)) > 1e-12 {
		t.Errorf("Backproject(center) = %+v, want %+v", got, want)
	}

	// A pixel below the principal point (image Y down) is below the
	// camera axis (world Y up → negative camera Y).
	below := Backproject(50, 60, 1, k)
	if below.Y >= 0 {
		t.Errorf("Backproject below center should have negative Y, got %+v", below)
	}
}

func TestRayDirection_Normalized(t *testing.T) {
	k := Intrinsics{Fx: 100, Fy: 100, Cx: 50, Cy: 50}
	dir := RayDirection(80, 20, k)
	if math.Abs(r3.Norm(dir)-1) > 1e-12 {
		t.Errorf("RayDirection not normalized: |%v| = %g", dir, r3.Norm(dir))
	}
	center := RayDirection(50, 50, k)
	if r3.Norm(r3.Sub(center, r3.Vec{Z: -1})) > 1e-12 {
		t.Errorf("Center ray should be (0,0,-1), got %+v", center)
	}
}
