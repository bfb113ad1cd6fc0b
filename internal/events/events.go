// Package events turns a per-frame signal stream into debounced event counts.
//
// A Detector is a two-state machine. It is idle until the watched value enters
// its triggering band, then it counts consecutive in-band frames. When the value
// leaves the band the run is counted only if its length lies inside
// [MinFrames, MaxFrames]. Frames without a face are gaps: they neither extend
// nor reset a run, but more than MaxGapFrames of them in a row discard it.
package events

import (
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/config"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
)

// Band selects which side of the threshold triggers the event.
type Band int

const (
	// Below triggers when the value drops under the threshold (eye closing).
	Below Band = iota
	// Above triggers when the value rises over the threshold (mouth opening).
	Above
)

func (b Band) String() string {
	if b == Above {
		return "above"
	}
	return "below"
}

// Rule configures one detector.
type Rule struct {
	Name         string
	Band         Band
	Threshold    float64
	MinFrames    int
	MaxFrames    int
	MaxGapFrames int
}

// State is the mutable part of a detector. Armed means a run is in progress.
type State struct {
	Run    int
	Armed  bool
	Total  int
	GapRun int
}

// Event describes one counted run.
type Event struct {
	Kind       string `json:"kind"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Frames     int    `json:"frames"`
}

// Detector is owned by a single clip and is not safe for concurrent use.
type Detector struct {
	rule  Rule
	value func(types.FrameSignal) float64
	state State

	startIndex int
	lastIndex  int
	last       Event
}

// New creates a detector reading the watched scalar with value.
func New(rule Rule, value func(types.FrameSignal) float64) *Detector {
	return &Detector{rule: rule, value: value}
}

// NewBlinkDetector watches the averaged eye aspect ratio for short closures.
func NewBlinkDetector(t config.Thresholds) *Detector {
	return New(Rule{
		Name:         "blink",
		Band:         Below,
		Threshold:    t.BlinkEARThreshold,
		MinFrames:    t.BlinkMinFrames,
		MaxFrames:    t.BlinkMaxFrames,
		MaxGapFrames: t.MaxGapToleranceFrames,
	}, func(s types.FrameSignal) float64 { return s.AvgEAR })
}

// NewYawnDetector watches the mouth aspect ratio for sustained openings.
func NewYawnDetector(t config.Thresholds) *Detector {
	return New(Rule{
		Name:         "yawn",
		Band:         Above,
		Threshold:    t.YawnMARThreshold,
		MinFrames:    t.YawnMinFrames,
		MaxFrames:    t.YawnMaxFrames,
		MaxGapFrames: t.MaxGapToleranceFrames,
	}, func(s types.FrameSignal) float64 { return s.MAR })
}

func (d *Detector) inBand(v float64) bool {
	if d.rule.Band == Above {
		return v > d.rule.Threshold
	}
	return v < d.rule.Threshold
}

// Observe advances the machine by one frame and reports whether a run was counted on it.
func (d *Detector) Observe(sig types.FrameSignal) bool {
	if !sig.FaceFound {
		if !d.state.Armed {
			return false
		}
		d.state.GapRun++
		if d.state.GapRun > d.rule.MaxGapFrames {
			d.reset()
		}
		return false
	}
	d.state.GapRun = 0

	in := d.inBand(d.value(sig))
	switch {
	case in && !d.state.Armed:
		d.state.Armed = true
		d.state.Run = 1
		d.startIndex, d.lastIndex = sig.Index, sig.Index
	case in:
		d.state.Run++
		d.lastIndex = sig.Index
	case d.state.Armed:
		return d.close()
	}
	return false
}

// Finish closes a run still open at the end of the stream, with the same window check.
func (d *Detector) Finish() bool {
	if !d.state.Armed {
		d.state.GapRun = 0
		return false
	}
	return d.close()
}

func (d *Detector) close() bool {
	run := d.state.Run
	counted := run >= d.rule.MinFrames && run <= d.rule.MaxFrames
	if counted {
		d.state.Total++
		d.last = Event{Kind: d.rule.Name, StartIndex: d.startIndex, EndIndex: d.lastIndex, Frames: run}
	}
	d.reset()
	return counted
}

func (d *Detector) reset() {
	d.state.Run = 0
	d.state.Armed = false
	d.state.GapRun = 0
}

// Total is the number of runs counted so far. It never decreases.
func (d *Detector) Total() int { return d.state.Total }

// State returns a copy of the current machine state.
func (d *Detector) State() State { return d.state }

// Rule returns the detector configuration.
func (d *Detector) Rule() Rule { return d.rule }

// LastEvent returns the most recently counted run.
func (d *Detector) LastEvent() Event { return d.last }
