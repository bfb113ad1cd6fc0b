// Package aggregate folds a clip's signal stream into its SummaryRecord.
package aggregate

import (
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
)

// Aggregator keeps running sums over one clip. The zero value is ready to use.
type Aggregator struct {
	framesProcessed int
	framesWithFace  int

	sumRedness  float64
	sumDarkness float64
	sumEAR      float64
}

// Add folds one frame's signal. Gap frames only count towards frames processed.
func (a *Aggregator) Add(sig types.FrameSignal) {
	a.framesProcessed++
	if !sig.FaceFound {
		return
	}
	a.framesWithFace++
	a.sumRedness += sig.Redness
	a.sumDarkness += sig.Darkness
	a.sumEAR += sig.AvgEAR
}

// FramesProcessed is the number of frames added so far.
func (a *Aggregator) FramesProcessed() int { return a.framesProcessed }

// FramesWithFace is the number of frames added so far that had a face.
func (a *Aggregator) FramesWithFace() int { return a.framesWithFace }

// Summary builds the record. Means are nil when no frame had a face.
func (a *Aggregator) Summary(blinks, yawns int, fps float64) types.SummaryRecord {
	rec := types.SummaryRecord{
		BlinkCount:      blinks,
		YawnCount:       yawns,
		FramesProcessed: a.framesProcessed,
		FramesWithFace:  a.framesWithFace,
	}
	if a.framesProcessed > 0 {
		rec.Coverage = float64(a.framesWithFace) / float64(a.framesProcessed)
	}
	if fps > 0 {
		rec.DurationSeconds = float64(a.framesProcessed) / fps
	}
	if a.framesWithFace > 0 {
		n := float64(a.framesWithFace)
		rec.MeanRedness = ptr(a.sumRedness / n)
		rec.MeanDarkness = ptr(a.sumDarkness / n)
		rec.MeanEAR = ptr(a.sumEAR / n)
	}
	return rec
}

func ptr(v float64) *float64 { return &v }
