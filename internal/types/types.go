package types

import (
	"encoding/json"
	"image"
	"time"
)

// LandmarkCount is the number of points produced by the 68-point (iBUG) predictor.
const LandmarkCount = 68

// Frame is one sampled still from a clip. It only lives for one pipeline step.
type Frame struct {
	Index     int
	Timestamp float64 // seconds from clip start
	Image     image.Image
	JPEG      []byte // encoded bytes as produced by the sampler, when available
}

// LandmarkSet is the output of the landmark model for one frame.
// A nil *LandmarkSet means no face was resolved in that frame.
type LandmarkSet struct {
	FrameIndex int
	Points     []image.Point
	Confidence float64
	Box        image.Rectangle
}

// FrameSignal holds the scalars derived from one frame.
// When FaceFound is false the scalars are absent, not zero.
type FrameSignal struct {
	Index     int
	Timestamp float64
	FaceFound bool
	LeftEAR   float64
	RightEAR  float64
	AvgEAR    float64
	MAR       float64
	Redness   float64
	Darkness  float64
}

// GapSignal returns the signal for a frame where no face was found.
func GapSignal(index int, timestamp float64) FrameSignal {
	return FrameSignal{Index: index, Timestamp: timestamp}
}

type frameSignalJSON struct {
	Index     int      `json:"index"`
	Timestamp float64  `json:"timestamp"`
	FaceFound bool     `json:"face_found"`
	LeftEAR   *float64 `json:"left_ear"`
	RightEAR  *float64 `json:"right_ear"`
	AvgEAR    *float64 `json:"avg_ear"`
	MAR       *float64 `json:"mar"`
	Redness   *float64 `json:"redness"`
	Darkness  *float64 `json:"darkness"`
}

// MarshalJSON renders absent scalars of a gap frame as null.
func (s FrameSignal) MarshalJSON() ([]byte, error) {
	out := frameSignalJSON{Index: s.Index, Timestamp: s.Timestamp, FaceFound: s.FaceFound}
	if s.FaceFound {
		out.LeftEAR, out.RightEAR, out.AvgEAR = &s.LeftEAR, &s.RightEAR, &s.AvgEAR
		out.MAR, out.Redness, out.Darkness = &s.MAR, &s.Redness, &s.Darkness
	}
	return json.Marshal(out)
}

// SummaryRecord is the aggregated result of one clip.
type SummaryRecord struct {
	BlinkCount      int      `json:"blink_count"`
	YawnCount       int      `json:"yawn_count"`
	MeanRedness     *float64 `json:"mean_redness"`
	MeanDarkness    *float64 `json:"mean_darkness"`
	MeanEAR         *float64 `json:"mean_ear"`
	FramesProcessed int      `json:"frames_processed"`
	FramesWithFace  int      `json:"frames_with_face"`
	Coverage        float64  `json:"coverage"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// StoredSummary is a SummaryRecord enriched by the caller before persistence.
type StoredSummary struct {
	RequestID  string        `json:"request_id"`
	ClipID     string        `json:"clip_id"`
	Source     string        `json:"source"`
	ReceivedAt time.Time     `json:"received_at"`
	Summary    SummaryRecord `json:"summary"`
}

// ErrorResult is the body of a failed API response.
type ErrorResult struct {
	Error   string `json:"error"`
	Outcome string `json:"outcome,omitempty"`
}
