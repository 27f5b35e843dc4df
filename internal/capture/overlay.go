package capture

import (
	"image"
	"image/color"

	"github.com/outletguard/orchestrator/internal/frameslot"
	"github.com/outletguard/orchestrator/internal/recognition"
)

var (
	matchedColor   = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	unmatchedColor = color.RGBA{R: 200, G: 0, B: 0, A: 255}
)

// downscaleToFit nearest-neighbor-resamples frame so both dimensions fit
// within maxH x maxW, preserving aspect ratio, per spec.md §4.3 point 3.
// Frames already within bounds are returned unchanged.
func downscaleToFit(frame *frameslot.Frame, maxH, maxW int) *frameslot.Frame {
	if frame.Height <= maxH && frame.Width <= maxW {
		return frame
	}

	scale := float64(maxH) / float64(frame.Height)
	if altScale := float64(maxW) / float64(frame.Width); altScale < scale {
		scale = altScale
	}
	newH := int(float64(frame.Height) * scale)
	newW := int(float64(frame.Width) * scale)
	if newH < 1 {
		newH = 1
	}
	if newW < 1 {
		newW = 1
	}

	out := make([]byte, newH*newW*3)
	for y := 0; y < newH; y++ {
		srcY := int(float64(y) / scale)
		if srcY >= frame.Height {
			srcY = frame.Height - 1
		}
		for x := 0; x < newW; x++ {
			srcX := int(float64(x) / scale)
			if srcX >= frame.Width {
				srcX = frame.Width - 1
			}
			srcOff := (srcY*frame.Width + srcX) * 3
			dstOff := (y*newW + x) * 3
			copy(out[dstOff:dstOff+3], frame.Pix[srcOff:srcOff+3])
		}
	}
	return &frameslot.Frame{Height: newH, Width: newW, Pix: out}
}

// drawOverlay renders the cached recognition result's bounding boxes onto
// frame as an image.Image ready for JPEG encoding. Matched faces draw in
// the success color, unmatched in the error color, per spec.md §4.3
// point 4.
func drawOverlay(frame *frameslot.Frame, result recognition.Result, hasOverlay bool) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			off := (y*frame.Width + x) * 3
			img.Set(x, y, color.RGBA{R: frame.Pix[off], G: frame.Pix[off+1], B: frame.Pix[off+2], A: 255})
		}
	}

	if !hasOverlay {
		return img
	}
	for _, face := range result.Faces {
		c := unmatchedColor
		if face.Matched {
			c = matchedColor
		}
		drawRect(img, face.BBox, c)
	}
	return img
}

func drawRect(img *image.RGBA, bbox [4]float64, c color.RGBA) {
	b := img.Bounds()
	x1, y1, x2, y2 := int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])
	clampRect(&x1, &y1, &x2, &y2, b.Dx(), b.Dy())

	for x := x1; x <= x2; x++ {
		img.Set(x, y1, c)
		img.Set(x, y2, c)
	}
	for y := y1; y <= y2; y++ {
		img.Set(x1, y, c)
		img.Set(x2, y, c)
	}
}

// downscaleImageToWidth nearest-neighbor-resamples an already-annotated
// image down to maxWidth, preserving aspect ratio, per spec.md §4.3 point
// 5's preview_width setting. Called after overlay drawing so bounding
// boxes stay aligned to the frame they were drawn on.
func downscaleImageToWidth(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxWidth {
		return img
	}

	scale := float64(maxWidth) / float64(w)
	newW := maxWidth
	newH := int(float64(h) * scale)
	if newH < 1 {
		newH = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		srcY := b.Min.Y + int(float64(y)/scale)
		if srcY >= b.Max.Y {
			srcY = b.Max.Y - 1
		}
		for x := 0; x < newW; x++ {
			srcX := b.Min.X + int(float64(x)/scale)
			if srcX >= b.Max.X {
				srcX = b.Max.X - 1
			}
			out.Set(x, y, img.At(srcX, srcY))
		}
	}
	return out
}

func clampRect(x1, y1, x2, y2 *int, w, h int) {
	if *x1 < 0 {
		*x1 = 0
	}
	if *y1 < 0 {
		*y1 = 0
	}
	if *x2 >= w {
		*x2 = w - 1
	}
	if *y2 >= h {
		*y2 = h - 1
	}
	if *x2 < *x1 {
		*x2 = *x1
	}
	if *y2 < *y1 {
		*y2 = *y1
	}
}
