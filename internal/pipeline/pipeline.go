// Package pipeline wires the sampler, the landmark extractor, the signal computer,
// the event detectors and the aggregator into one pass over a clip.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/aggregate"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/config"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/events"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/metrics"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/sampler"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/signals"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Fatal conditions. Everything else is absorbed as a gap frame.
var (
	ErrDecode           = sampler.ErrDecode
	ErrEmptyClip        = errors.New("clip produced no usable frames")
	ErrModelUnavailable = worker.ErrModelUnavailable
)

// FrameSource yields sampled frames until io.EOF.
type FrameSource interface {
	Next() (types.Frame, error)
	Close() error
}

// OpenFunc starts decoding a clip.
type OpenFunc func(ctx context.Context, r io.Reader) (FrameSource, error)

// Extractor resolves landmarks for one frame; nil means no face.
type Extractor interface {
	Extract(ctx context.Context, frame types.Frame) (*types.LandmarkSet, error)
}

// Progress is reported after every frame. Events lists the runs counted on that frame.
// When runs still open at the end of the clip are counted, one more Progress with Final
// set repeats the last signal and carries the closing totals.
type Progress struct {
	Signal types.FrameSignal `json:"signal"`
	Blinks int               `json:"blinks"`
	Yawns  int               `json:"yawns"`
	Events []events.Event    `json:"events,omitempty"`
	Final  bool              `json:"final,omitempty"`
}

// Pipeline is stateless between runs and safe to share across goroutines;
// every Run owns its detectors and aggregator.
type Pipeline struct {
	open       OpenFunc
	extractor  Extractor
	thresholds config.Thresholds
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New builds a pipeline. The thresholds must already be validated.
func New(open OpenFunc, extractor Extractor, thresholds config.Thresholds, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		open:       open,
		extractor:  extractor,
		thresholds: thresholds,
		logger:     logger,
		tracer:     otel.Tracer("github.com/AryanV-Coder/SleepDebtPredictor/internal/pipeline"),
	}
}

// SamplerSource opens clips with the configured sampler backend.
// A clip with no bytes at all fails with ErrEmptyClip before any decoder starts.
func SamplerSource(opts sampler.Options, logger *zap.Logger) OpenFunc {
	return func(ctx context.Context, r io.Reader) (FrameSource, error) {
		if r == nil {
			return nil, ErrEmptyClip
		}
		br := bufio.NewReader(r)
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrEmptyClip
			}
			return nil, err
		}
		s, err := sampler.Open(ctx, br, opts, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// FromConfig builds the production pipeline. Sampling rate and thresholds come from the same config
// so timestamps and durations agree with the detectors.
func FromConfig(cfg *config.Config, extractor Extractor, logger *zap.Logger) *Pipeline {
	opts := sampler.Options{
		FPS:       cfg.SamplingFPS,
		MaxWidth:  cfg.MaxWidth,
		MaxFrames: cfg.MaxFrames,
		Backend:   cfg.SamplerBackend,
	}
	return New(SamplerSource(opts, logger), extractor, cfg.Thresholds, logger)
}

// Thresholds returns the configuration the pipeline counts with.
func (p *Pipeline) Thresholds() config.Thresholds { return p.thresholds }

// stageTimer accumulates per-stage wall time across a clip.
type stageTimer map[string]time.Duration

func (s stageTimer) since(stage string, start time.Time) { s[stage] += time.Since(start) }

// Run processes one clip end to end. onFrame may be nil.
func (p *Pipeline) Run(ctx context.Context, r io.Reader, onFrame func(Progress)) (types.SummaryRecord, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	metrics.ActiveClips.Inc()
	defer metrics.ActiveClips.Dec()
	started := time.Now()

	rec, err := p.run(ctx, r, onFrame)
	outcome := outcomeOf(err)
	metrics.ClipsProcessedTotal.WithLabelValues(outcome).Inc()
	metrics.ClipDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		p.logger.Warn("clip failed", zap.String("outcome", outcome), zap.Error(err))
		return types.SummaryRecord{}, err
	}

	span.SetAttributes(
		attribute.Int("frames_processed", rec.FramesProcessed),
		attribute.Int("frames_with_face", rec.FramesWithFace),
		attribute.Int("blink_count", rec.BlinkCount),
		attribute.Int("yawn_count", rec.YawnCount),
	)
	p.logger.Info("clip analysed",
		zap.Int("frames", rec.FramesProcessed),
		zap.Int("frames_with_face", rec.FramesWithFace),
		zap.Int("blinks", rec.BlinkCount),
		zap.Int("yawns", rec.YawnCount),
		zap.Duration("took", time.Since(started)),
	)
	return rec, nil
}

func (p *Pipeline) run(ctx context.Context, r io.Reader, onFrame func(Progress)) (types.SummaryRecord, error) {
	stages := stageTimer{}
	defer func() {
		for stage, d := range stages {
			metrics.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
		}
	}()

	_, openSpan := p.tracer.Start(ctx, "sampler.Open")
	src, err := p.open(ctx, r)
	openSpan.End()
	if errors.Is(err, ErrEmptyClip) {
		return types.SummaryRecord{}, err
	}
	if err != nil {
		return types.SummaryRecord{}, asDecodeError(err)
	}
	defer src.Close()

	blink := events.NewBlinkDetector(p.thresholds)
	yawn := events.NewYawnDetector(p.thresholds)
	var agg aggregate.Aggregator

	detectors := []*events.Detector{blink, yawn}
	var last types.FrameSignal

	_, loopSpan := p.tracer.Start(ctx, "pipeline.frames")
	defer loopSpan.End()

	for {
		t := time.Now()
		frame, err := src.Next()
		stages.since("sample", t)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.SummaryRecord{}, ctxErr
			}
			return types.SummaryRecord{}, asDecodeError(err)
		}

		t = time.Now()
		lm, err := p.extractor.Extract(ctx, frame)
		stages.since("extract", t)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.SummaryRecord{}, ctxErr
			}
			if !errors.Is(err, ErrModelUnavailable) {
				err = fmt.Errorf("%w: %w", ErrModelUnavailable, err)
			}
			return types.SummaryRecord{}, err
		}

		t = time.Now()
		sig := signals.Compute(frame, lm)
		stages.since("signals", t)

		t = time.Now()
		agg.Add(sig)
		var counted []events.Event
		for _, d := range detectors {
			if d.Observe(sig) {
				counted = append(counted, d.LastEvent())
			}
		}
		stages.since("events", t)
		last = sig

		metrics.FramesProcessedTotal.Inc()
		if sig.FaceFound {
			metrics.FramesWithFaceTotal.Inc()
		}
		countEvents(counted)
		if onFrame != nil {
			onFrame(Progress{Signal: sig, Blinks: blink.Total(), Yawns: yawn.Total(), Events: counted})
		}
	}

	// Runs still open at the end of the clip get the same window check
	var closing []events.Event
	for _, d := range detectors {
		if d.Finish() {
			closing = append(closing, d.LastEvent())
		}
	}
	countEvents(closing)
	if len(closing) > 0 && onFrame != nil {
		onFrame(Progress{Signal: last, Blinks: blink.Total(), Yawns: yawn.Total(), Events: closing, Final: true})
	}

	if agg.FramesProcessed() == 0 {
		return types.SummaryRecord{}, ErrEmptyClip
	}
	return agg.Summary(blink.Total(), yawn.Total(), p.thresholds.SamplingFPS), nil
}

func countEvents(evs []events.Event) {
	for _, ev := range evs {
		metrics.EventsCountedTotal.WithLabelValues(ev.Kind).Inc()
	}
}

func asDecodeError(err error) error {
	if errors.Is(err, ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDecode, err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyClip):
		return "empty_clip"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrDecode):
		return "decode_error"
	default:
		return "error"
	}
}
