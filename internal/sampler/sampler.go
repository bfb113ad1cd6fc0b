// Package sampler decodes a clip into a lazy, finite sequence of sampled frames.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"go.uber.org/zap"
)

// ErrDecode means the clip could not be opened or a frame could not be decoded.
var ErrDecode = errors.New("video decode failed")

// Backend names accepted by Options.Backend.
const (
	BackendFFmpeg = "ffmpeg"
	BackendGoCV   = "gocv"
)

// Options controls how frames are sampled.
type Options struct {
	FPS       float64
	MaxWidth  int
	MaxFrames int
	Backend   string
}

// decoder is the part a backend provides: the next sampled, downscaled still.
// The encoded bytes are optional.
type decoder interface {
	next() (types.Frame, error)
	close() error
}

// Stream yields frames in order. It is not restartable and not safe for concurrent use.
type Stream struct {
	dec    decoder
	opts   Options
	count  int
	done   bool
	logger *zap.Logger
}

// Open starts decoding r. Nothing is read until the first call to Next.
func Open(ctx context.Context, r io.Reader, opts Options, logger *zap.Logger) (*Stream, error) {
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("sampling fps must be > 0, got %v", opts.FPS)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		dec decoder
		err error
	)
	switch opts.Backend {
	case "", BackendFFmpeg:
		dec, err = openFFmpeg(ctx, r, opts)
	case BackendGoCV:
		dec, err = openGoCV(ctx, r, opts)
	default:
		return nil, fmt.Errorf("unknown sampler backend %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	logger.Debug("sampler opened",
		zap.String("backend", opts.Backend),
		zap.Float64("fps", opts.FPS),
		zap.Int("max_frames", opts.MaxFrames),
	)
	return &Stream{dec: dec, opts: opts, logger: logger}, nil
}

// Next returns the next sampled frame, or io.EOF once the clip or the frame cap is exhausted.
func (s *Stream) Next() (types.Frame, error) {
	if s.done {
		return types.Frame{}, io.EOF
	}
	if s.opts.MaxFrames > 0 && s.count >= s.opts.MaxFrames {
		s.logger.Debug("frame cap reached", zap.Int("frames", s.count))
		s.done = true
		return types.Frame{}, io.EOF
	}

	frame, err := s.dec.next()
	if errors.Is(err, io.EOF) {
		s.done = true
		return types.Frame{}, io.EOF
	}
	if err != nil {
		s.done = true
		return types.Frame{}, fmt.Errorf("%w: frame %d: %w", ErrDecode, s.count, err)
	}

	frame.Index = s.count
	frame.Timestamp = float64(s.count) / s.opts.FPS
	s.count++
	return frame, nil
}

// Count is the number of frames returned so far.
func (s *Stream) Count() int { return s.count }

// Close stops the backend and releases its resources. It is safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	if s.dec == nil {
		return nil
	}
	err := s.dec.close()
	s.dec = nil
	return err
}
