// Package signals turns one frame's landmarks into the scalar fatigue signals.
package signals

import (
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
)

// Compute derives the FrameSignal for one frame. It never fails: a nil or
// incomplete landmark set produces the gap signal.
func Compute(frame types.Frame, lm *types.LandmarkSet) types.FrameSignal {
	if lm == nil || len(lm.Points) < types.LandmarkCount {
		return types.GapSignal(frame.Index, frame.Timestamp)
	}
	pts := lm.Points

	sig := types.FrameSignal{
		Index:     frame.Index,
		Timestamp: frame.Timestamp,
		FaceFound: true,
		LeftEAR:   EyeAspectRatio(leftEye(pts)),
		RightEAR:  EyeAspectRatio(rightEye(pts)),
		MAR:       MouthAspectRatio(innerLips(pts)),
	}
	sig.AvgEAR = (sig.LeftEAR + sig.RightEAR) / 2

	if frame.Image != nil {
		noseY := pts[noseTip].Y
		lr, ld := periorbital(frame.Image, leftEye(pts), noseY)
		rr, rd := periorbital(frame.Image, rightEye(pts), noseY)
		sig.Redness = (lr + rr) / 2
		sig.Darkness = (ld + rd) / 2
	}
	return sig
}
