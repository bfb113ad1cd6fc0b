package worker

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/config"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	process func(data []byte) (*types.LandmarkSet, error)
	killed  atomic.Bool
	closed  atomic.Bool
}

func (f *fakeWorker) ProcessFrame(data []byte) (*types.LandmarkSet, error) { return f.process(data) }
func (f *fakeWorker) Kill() { f.killed.Store(true) }
func (f *fakeWorker) Close() { f.closed.Store(true) }

func landmarksWith(conf float64) *types.LandmarkSet {
	return &types.LandmarkSet{Points: make([]image.Point, types.LandmarkCount), Confidence: conf}
}

func jpegFrame(index int) types.Frame {
	return types.Frame{Index: index, JPEG: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
}

func TestPool_ConfidenceThreshold(t *testing.T) {
	conf := 0.9
	spawn := func(id int) (landmarker, error) {
		return &fakeWorker{process: func([]byte) (*types.LandmarkSet, error) { return landmarksWith(conf), nil }}, nil
	}
	p, err := newPool(1, spawn, 0.5, 0, nil)
	require.NoError(t, err)
	defer p.Close()

	lm, err := p.Extract(context.Background(), jpegFrame(12))
	require.NoError(t, err)
	require.NotNil(t, lm)
	assert.Equal(t, 12, lm.FrameIndex)

	conf = 0.3
	lm, err = p.Extract(context.Background(), jpegFrame(13))
	require.NoError(t, err)
	assert.Nil(t, lm)
}

// Confidences are sigmoid(dlib score); the default threshold must reject weak positive scores.
func TestPool_DefaultThresholdRejectsWeakDetections(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	sigmoid := func(score float64) float64 { return 1 / (1 + math.Exp(-score)) }
	score := 0.1
	spawn := func(id int) (landmarker, error) {
		return &fakeWorker{process: func([]byte) (*types.LandmarkSet, error) { return landmarksWith(sigmoid(score)), nil }}, nil
	}
	p, err := newPool(1, spawn, cfg.DetectionThreshold, 0, nil)
	require.NoError(t, err)
	defer p.Close()

	lm, err := p.Extract(context.Background(), jpegFrame(1))
	require.NoError(t, err)
	assert.Nil(t, lm, "a barely positive detector score should not count as a face")

	score = 2
	lm, err = p.Extract(context.Background(), jpegFrame(2))
	require.NoError(t, err)
	assert.NotNil(t, lm)
}

func TestPool_EncodesImageWhenNoJPEG(t *testing.T) {
	var got []byte
	spawn := func(id int) (landmarker, error) {
		return &fakeWorker{process: func(data []byte) (*types.LandmarkSet, error) {
			got = data
			return nil, nil
		}}, nil
	}
	p, err := newPool(1, spawn, 0.5, 0, nil)
	require.NoError(t, err)
	defer p.Close()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	lm, err := p.Extract(context.Background(), types.Frame{Image: img})
	require.NoError(t, err)
	assert.Nil(t, lm)
	require.True(t, len(got) > 4)
	assert.Equal(t, []byte{0xFF, 0xD8}, got[:2])
}

func TestPool_LogicErrorIsAbsentFrame(t *testing.T) {
	spawn := func(id int) (landmarker, error) {
		return &fakeWorker{process: func([]byte) (*types.LandmarkSet, error) {
			return nil, &LogicError{Message: "bad image"}
		}}, nil
	}
	p, err := newPool(1, spawn, 0.5, 0, nil)
	require.NoError(t, err)
	defer p.Close()

	lm, err := p.Extract(context.Background(), jpegFrame(0))
	assert.NoError(t, err)
	assert.Nil(t, lm)
}

func TestPool_DeadWorkerIsRespawned(t *testing.T) {
	var spawned []*fakeWorker
	spawn := func(id int) (landmarker, error) {
		first := len(spawned) == 0
		w := &fakeWorker{process: func([]byte) (*types.LandmarkSet, error) {
			if first {
				return nil, errors.New("broken pipe")
			}
			return landmarksWith(1), nil
		}}
		spawned = append(spawned, w)
		return w, nil
	}
	p, err := newPool(1, spawn, 0.5, 0, nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Extract(context.Background(), jpegFrame(0))
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.True(t, spawned[0].killed.Load())

	lm, err := p.Extract(context.Background(), jpegFrame(1))
	require.NoError(t, err)
	assert.NotNil(t, lm)
	assert.Len(t, spawned, 2)
}

func TestPool_RespawnFailure(t *testing.T) {
	calls := 0
	spawn := func(id int) (landmarker, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("model file missing")
		}
		return &fakeWorker{process: func([]byte) (*types.LandmarkSet, error) { return nil, errors.New("EOF") }}, nil
	}
	p, err := newPool(1, spawn, 0.5, 0, nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Extract(context.Background(), jpegFrame(0))
	assert.ErrorIs(t, err, ErrModelUnavailable)

	// The slot stays in the pool so later callers fail fast instead of blocking
	for i := 0; i < 3; i++ {
		_, err = p.Extract(context.Background(), jpegFrame(i))
		assert.ErrorIs(t, err, ErrModelUnavailable)
	}
}

func TestPool_StartupFailure(t *testing.T) {
	var started []*fakeWorker
	spawn := func(id int) (landmarker, error) {
		if id == 2 {
			return nil, errors.New("exec: python3: not found")
		}
		w := &fakeWorker{}
		started = append(started, w)
		return w, nil
	}

	_, err := newPool(3, spawn, 0.5, 0, nil)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	require.Len(t, started, 2)
	for _, w := range started {
		assert.True(t, w.closed.Load(), "already started workers must be shut down")
	}
}

func TestPool_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	spawn := func(id int) (landmarker, error) {
		return &fakeWorker{process: func([]byte) (*types.LandmarkSet, error) {
			<-release
			return nil, nil
		}}, nil
	}
	p, err := newPool(1, spawn, 0.5, 20*time.Millisecond, nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Extract(context.Background(), jpegFrame(0))
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestPool_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	spawn := func(id int) (landmarker, error) {
		return &fakeWorker{process: func([]byte) (*types.LandmarkSet, error) {
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return landmarksWith(1), nil
		}}, nil
	}
	p, err := newPool(2, spawn, 0.5, 0, nil)
	require.NoError(t, err)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Extract(context.Background(), jpegFrame(i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_ContextCancelledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	spawn := func(id int) (landmarker, error) {
		return &fakeWorker{process: func([]byte) (*types.LandmarkSet, error) {
			<-release
			return nil, nil
		}}, nil
	}
	p, err := newPool(1, spawn, 0.5, 0, nil)
	require.NoError(t, err)
	defer p.Close()

	busy := make(chan struct{})
	go func() {
		p.Extract(context.Background(), jpegFrame(0))
		close(busy)
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Extract(ctx, jpegFrame(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-busy
}
