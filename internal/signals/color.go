package signals

import (
	"image"
)

// Patch geometry, as fractions of the eye's horizontal span.
const (
	underEyeOffset = 0.25
	patchHeight    = 0.4
)

// patchStats is the mean colour of a rectangular sample, on a 0-255 scale.
type patchStats struct {
	R, G, B float64
	N       int
}

func (p patchStats) empty() bool { return p.N == 0 }

// chromaticity returns R/(R+G+B).
func (p patchStats) chromaticity() float64 {
	sum := p.R + p.G + p.B
	if sum == 0 {
		return 0
	}
	return p.R / sum
}

// luma uses the Rec.601 weights.
func (p patchStats) luma() float64 {
	return 0.299*p.R + 0.587*p.G + 0.114*p.B
}

func sample(img image.Image, r image.Rectangle) patchStats {
	r = r.Intersect(img.Bounds())
	var s patchStats
	if r.Empty() {
		return s
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			s.R += float64(cr >> 8)
			s.G += float64(cg >> 8)
			s.B += float64(cb >> 8)
			s.N++
		}
	}
	n := float64(s.N)
	s.R, s.G, s.B = s.R/n, s.G/n, s.B/n
	return s
}

// eyePatches returns the under-eye sample region and the cheek reference region for one eye.
// Both share the eye's x span; the reference is centred on the nose-tip row.
func eyePatches(eye []image.Point, noseY int) (under, ref image.Rectangle) {
	minX, maxX, lidY := eye[0].X, eye[0].X, eye[0].Y
	for _, p := range eye[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > lidY {
			lidY = p.Y
		}
	}
	width := float64(maxX - minX)
	h := int(width * patchHeight)
	top := lidY + int(width*underEyeOffset)

	under = image.Rect(minX, top, maxX, top+h)
	ref = image.Rect(minX, noseY-h/2, maxX, noseY-h/2+h)
	return under, ref
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// periorbital scores one eye against its own cheek reference.
// An empty sample on either side yields zero for both scores.
func periorbital(img image.Image, eye []image.Point, noseY int) (redness, darkness float64) {
	underRect, refRect := eyePatches(eye, noseY)
	under := sample(img, underRect)
	ref := sample(img, refRect)
	if under.empty() || ref.empty() {
		return 0, 0
	}

	if rcRef := ref.chromaticity(); rcRef < 1 {
		redness = clamp01((under.chromaticity() - rcRef) / (1 - rcRef))
	}
	if lRef := ref.luma(); lRef > 0 {
		darkness = clamp01((lRef - under.luma()) / lRef)
	}
	return redness, darkness
}
