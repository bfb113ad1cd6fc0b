package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/metrics"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"go.uber.org/zap"
)

// landmarker is what the pool needs from a model process.
type landmarker interface {
	ProcessFrame(data []byte) (*types.LandmarkSet, error)
	Kill()
	Close()
}

type spawnFunc func(id int) (landmarker, error)

// slot is one seat in the pool. A nil w means the process died and must be respawned.
type slot struct {
	id int
	w  landmarker
}

// PoolOptions configures the shared extractor.
type PoolOptions struct {
	Worker             Options
	Size               int
	DetectionThreshold float64
}

// Pool is a bounded set of model processes shared by every clip in the process.
// Callers block until a process is free.
type Pool struct {
	slots     chan *slot
	spawn     spawnFunc
	threshold float64
	timeout   time.Duration
	logger    *zap.Logger

	closeOnce sync.Once
}

// NewPool starts opts.Size model processes. They live until Close or until ctx is cancelled.
// Any startup failure is reported as ErrModelUnavailable.
func NewPool(ctx context.Context, opts PoolOptions, logger *zap.Logger) (*Pool, error) {
	spawn := func(id int) (landmarker, error) {
		w, err := NewLandmarkWorker(ctx, id, opts.Worker)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	return newPool(opts.Size, spawn, opts.DetectionThreshold, opts.Worker.Timeout, logger)
}

func newPool(size int, spawn spawnFunc, threshold float64, timeout time.Duration, logger *zap.Logger) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		slots:     make(chan *slot, size),
		spawn:     spawn,
		threshold: threshold,
		timeout:   timeout,
		logger:    logger,
	}

	for i := 0; i < size; i++ {
		w, err := spawn(i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}
		p.slots <- &slot{id: i, w: w}
	}
	logger.Info("landmark pool ready", zap.Int("workers", size))
	return p, nil
}

// Extract runs the landmark model on one frame. It returns nil when no face was found
// or the detection confidence is below the pool threshold.
func (p *Pool) Extract(ctx context.Context, frame types.Frame) (*types.LandmarkSet, error) {
	data, err := encodeFrame(frame)
	if err != nil {
		// An unencodable frame is a single absent frame, not a broken model
		p.logger.Warn("frame could not be encoded for the model", zap.Int("frame", frame.Index), zap.Error(err))
		return nil, nil
	}

	waitStart := time.Now()
	var s *slot
	select {
	case s = <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	metrics.WorkerWaitSeconds.Observe(time.Since(waitStart).Seconds())
	defer func() { p.slots <- s }()

	if s.w == nil {
		if err := p.respawn(s); err != nil {
			return nil, err
		}
	}

	var lm *types.LandmarkSet
	w := s.w
	err = withTimeout(p.timeout, func() error {
		var perr error
		lm, perr = w.ProcessFrame(data)
		return perr
	})

	var logicErr *LogicError
	switch {
	case err == nil:
	case errors.As(err, &logicErr):
		p.logger.Warn("landmark worker logic error", zap.Int("worker", s.id), zap.Int("frame", frame.Index), zap.String("error", logicErr.Message))
		return nil, nil
	default:
		// Protocol failure or timeout: the process cannot be trusted any more
		p.logger.Error("landmark worker died", zap.Int("worker", s.id), zap.Int("frame", frame.Index), zap.Error(err))
		w.Kill()
		s.w = nil
		return nil, fmt.Errorf("%w: worker %d: %w", ErrModelUnavailable, s.id, err)
	}

	if lm == nil || lm.Confidence < p.threshold {
		return nil, nil
	}
	lm.FrameIndex = frame.Index
	return lm, nil
}

func (p *Pool) respawn(s *slot) error {
	w, err := p.spawn(s.id)
	if err != nil {
		return fmt.Errorf("%w: respawn worker %d: %w", ErrModelUnavailable, s.id, err)
	}
	metrics.WorkerRestartsTotal.Inc()
	p.logger.Info("landmark worker respawned", zap.Int("worker", s.id))
	s.w = w
	return nil
}

// Close stops every idle process. It must not race with Extract.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		for {
			select {
			case s := <-p.slots:
				if s.w != nil {
					s.w.Close()
				}
			default:
				return
			}
		}
	})
}

func encodeFrame(frame types.Frame) ([]byte, error) {
	if len(frame.JPEG) > 0 {
		return frame.JPEG, nil
	}
	if frame.Image == nil {
		return nil, errors.New("frame has no image data")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
