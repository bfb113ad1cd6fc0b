package signals

import (
	"image"
	"math"
)

// iBUG 68-point layout
const (
	leftEyeStart  = 36
	rightEyeStart = 42
	innerLipStart = 60
	noseTip       = 30
)

// neutralEAR is reported when an eye's horizontal span collapses to zero.
// It sits above any sane blink threshold so a degenerate eye never reads as closed.
const neutralEAR = 0.3

func dist(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// EyeAspectRatio computes (|p2-p6| + |p3-p5|) / (2|p1-p4|) over six eye points
// ordered p1..p6 as in the 68-point layout.
func EyeAspectRatio(eye []image.Point) float64 {
	if len(eye) < 6 {
		return neutralEAR
	}
	a := dist(eye[1], eye[5])
	b := dist(eye[2], eye[4])
	c := dist(eye[0], eye[3])
	if c == 0 {
		return neutralEAR
	}
	return (a + b) / (2.0 * c)
}

// MouthAspectRatio computes (|p61-p67| + |p63-p65|) / (2|p60-p64|) over the eight inner-lip points.
// A mouth with zero width reads as closed.
func MouthAspectRatio(lips []image.Point) float64 {
	if len(lips) < 8 {
		return 0
	}
	a := dist(lips[1], lips[7])
	b := dist(lips[3], lips[5])
	c := dist(lips[0], lips[4])
	if c == 0 {
		return 0
	}
	return (a + b) / (2.0 * c)
}

func leftEye(pts []image.Point) []image.Point  { return pts[leftEyeStart : leftEyeStart+6] }
func rightEye(pts []image.Point) []image.Point { return pts[rightEyeStart : rightEyeStart+6] }
func innerLips(pts []image.Point) []image.Point {
	return pts[innerLipStart : innerLipStart+8]
}
