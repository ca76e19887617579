package arframe

import "gonum.org/v1/gonum/spatial/r3"

// Pure coordinate transform derivations for the capture pipeline.
//
// The forward encoder pipeline is:
//
//	scaledPixel = nativePixel * scale
//	outputPixel = scaledPixel - cropOffset
//
// so the inverse, nativePixel = (outputPixel + cropOffset) / scale, yields
// the affine UV coefficients derived in OutputToNativeUV. All quantities
// here are expressed in the pre-rotation (native-orientation) space.

// OutputIntrinsics rescales native intrinsics into the encoded output
// image's crop: focal lengths scale with the cover factor, the principal
// point scales and then shifts by the crop offset (in scaled pixels).
func OutputIntrinsics(native Intrinsics, scale, cropOffsetX, cropOffsetY float64) Intrinsics {
	return Intrinsics{
		Fx: native.Fx * scale,
		Fy: native.Fy * scale,
		Cx: native.Cx*scale - cropOffsetX,
		Cy: native.Cy*scale - cropOffsetY,
	}
}

// OutputToNativeUV derives the affine transform mapping normalized output
// UV to normalized native UV for a given cover scale and centered crop.
// preW and preH are the output dimensions before any rotation.
func OutputToNativeUV(scale, cropOffsetX, cropOffsetY float64, native ImageSize, preW, preH int) AffineUV {
	sw := scale * float64(native.Width)
	sh := scale * float64(native.Height)
	return AffineUV{
		A:  float64(preW) / sw,
		D:  float64(preH) / sh,
		Tx: cropOffsetX / sw,
		Ty: cropOffsetY / sh,
	}
}

// UnrotateUV maps a UV coordinate in the rotated (portrait) output image
// back into the encoder's pre-rotation frame. The encoder rotates 90°
// clockwise, so dest(x,y) = src(y, srcHeight-1-x); inverted in normalized
// coordinates that is (u,v) → (v, 1-u).
func UnrotateUV(u, v float64) (float64, float64) {
	return v, 1 - u
}

// ApplyPose applies a 4x4 row-major rigid transform T to a point.
func ApplyPose(p r3.Vec, T [16]float64) r3.Vec {
	return r3.Vec{
		X: T[0]*p.X + T[1]*p.Y + T[2]*p.Z + T[3],
		Y: T[4]*p.X + T[5]*p.Y + T[6]*p.Z + T[7],
		Z: T[8]*p.X + T[9]*p.Y + T[10]*p.Z + T[11],
	}
}

// RotatePose applies only the rotation part of a 4x4 row-major transform,
// for direction vectors.
func RotatePose(d r3.Vec, T [16]float64) r3.Vec {
	return r3.Vec{
		X: T[0]*d.X + T[1]*d.Y + T[2]*d.Z,
		Y: T[4]*d.X + T[5]*d.Y + T[6]*d.Z,
		Z: T[8]*d.X + T[9]*d.Y + T[10]*d.Z,
	}
}

// ColumnMajor converts a row-major 4x4 into the column-major layout used by
// the frame event wire format.
func ColumnMajor(T [16]float64) [16]float64 {
	var out [16]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[c*4+r] = T[r*4+c]
		}
	}
	return out
}

// Backproject lifts a native-space pixel with known depth into camera
// space. Camera convention follows the AR platform: +X right, +Y up,
// -Z forward, image Y down, depth measured along the forward axis.
func Backproject(px, py, depth float64, k Intrinsics) r3.Vec {
	return r3.Vec{
		X: (px - k.Cx) / k.Fx * depth,
		Y: -(py - k.Cy) / k.Fy * depth,
		Z: -depth,
	}
}

// RayDirection builds a normalized camera-space ray direction through a
// pixel, using the intrinsics of the space the pixel is expressed in.
func RayDirection(px, py float64, k Intrinsics) r3.Vec {
	return r3.Unit(r3.Vec{
		X: (px - k.Cx) / k.Fx,
		Y: -(py - k.Cy) / k.Fy,
		Z: -1,
	})
}
