package arframe

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	xdraw "golang.org/x/image/draw"
)

// EncodeResult carries the compressed image plus the geometry the transform
// derivation needs. Scale and the crop offsets are expressed in scaled
// (pre-rotation, output-space) pixels.
type EncodeResult struct {
	JPEG []byte

	Scale       float64
	CropOffsetX float64
	CropOffsetY float64

	// Pre-rotation output dimensions. Equal to the requested target unless
	// Rotated is set, in which case they are the swapped target.
	PreRotationWidth  int
	PreRotationHeight int

	// Rotated indicates a 90° clockwise rotation was applied after the
	// crop to turn a landscape capture into portrait output.
	Rotated bool
}

// ErrNoImage is returned when the platform frame carries no usable buffer.
var ErrNoImage = errors.New("no source image")

// EncodeCover compresses a native camera image to exact target dimensions
// using cover scaling and a centered crop, optionally rotating 90°
// clockwise when a portrait target is requested from a landscape capture.
// Quality is 0.0–1.0.
func EncodeCover(src image.Image, targetWidth, targetHeight int, quality float64) (*EncodeResult, error) {
	if src == nil {
		return nil, ErrNoImage
	}
	if targetWidth < 1 || targetHeight < 1 {
		return nil, fmt.Errorf("invalid target dimensions %dx%d", targetWidth, targetHeight)
	}

	bounds := src.Bounds()
	nativeW := bounds.Dx()
	nativeH := bounds.Dy()
	if nativeW < 1 || nativeH < 1 {
		return nil, ErrNoImage
	}

	// Rotation is applied after cropping, so a portrait target cut from a
	// landscape capture crops to the swapped target first.
	rotated := targetHeight > targetWidth && nativeW > nativeH
	cropW, cropH := targetWidth, targetHeight
	if rotated {
		cropW, cropH = targetHeight, targetWidth
	}

	// Cover scale: the larger axis ratio, never letterboxing.
	scale := math.Max(float64(cropW)/float64(nativeW), float64(cropH)/float64(nativeH))
	scaledW := int(math.Round(float64(nativeW) * scale))
	scaledH := int(math.Round(float64(nativeH) * scale))
	if scaledW < cropW {
		scaledW = cropW
	}
	if scaledH < cropH {
		scaledH = cropH
	}

	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, bounds, xdraw.Src, nil)

	cropOffsetX := float64(scaledW-cropW) / 2
	cropOffsetY := float64(scaledH-cropH) / 2
	ox := int(cropOffsetX)
	oy := int(cropOffsetY)

	out := image.NewRGBA(image.Rect(0, 0, cropW, cropH))
	xdraw.Draw(out, out.Bounds(), scaled, image.Pt(ox, oy), xdraw.Src)

	final := image.Image(out)
	if rotated {
		final = rotate90CW(out)
	}

	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	} else if q > 100 {
		q = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, final, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}

	return &EncodeResult{
		JPEG:              buf.Bytes(),
		Scale:             scale,
		CropOffsetX:       cropOffsetX,
		CropOffsetY:       cropOffsetY,
		PreRotationWidth:  cropW,
		PreRotationHeight: cropH,
		Rotated:           rotated,
	}, nil
}

// rotate90CW rotates an image 90° clockwise: dst(x,y) = src(y, srcH-1-x).
func rotate90CW(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for dy := 0; dy < w; dy++ {
		for dx := 0; dx < h; dx++ {
			dst.Set(dx, dy, src.At(b.Min.X+dy, b.Min.Y+h-1-dx))
		}
	}
	return dst
}
