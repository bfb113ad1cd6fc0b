package sampler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func encodeFrame(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// pipeStream builds a Stream over an in-memory MJPEG pipe, bypassing the ffmpeg process.
func pipeStream(data []byte, opts Options) *Stream {
	dec := newFFmpegDecoder(nil, func() {}, io.NopCloser(bytes.NewReader(data)))
	return &Stream{dec: dec, opts: opts, logger: zap.NewNop()}
}

func TestStream_IndexesAndTimestamps(t *testing.T) {
	var mjpeg []byte
	for _, c := range []color.Color{color.White, color.Black, color.Gray{128}} {
		mjpeg = append(mjpeg, encodeFrame(t, 16, 8, c)...)
	}

	s := pipeStream(mjpeg, Options{FPS: 5})
	defer s.Close()

	for i := 0; i < 3; i++ {
		f, err := s.Next()
		require.NoError(t, err)
		assert.Equal(t, i, f.Index)
		assert.InDelta(t, float64(i)/5, f.Timestamp, 1e-12)
		assert.Equal(t, image.Rect(0, 0, 16, 8), f.Image.Bounds())
		assert.NotEmpty(t, f.JPEG)
	}

	_, err := s.Next()
	assert.ErrorIs(t, err, io.EOF)
	// Not restartable
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, s.Count())
}

func TestStream_FrameCap(t *testing.T) {
	var mjpeg []byte
	for i := 0; i < 5; i++ {
		mjpeg = append(mjpeg, encodeFrame(t, 8, 8, color.White)...)
	}

	s := pipeStream(mjpeg, Options{FPS: 5, MaxFrames: 2})
	defer s.Close()

	n := 0
	for {
		_, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 2, n)
}

func TestStream_CorruptFrame(t *testing.T) {
	s := pipeStream([]byte{0xFF, 0xD8, 0x00, 0x01, 0xFF, 0xD9}, Options{FPS: 5})
	defer s.Close()

	_, err := s.Next()
	assert.ErrorIs(t, err, ErrDecode)
}

func TestStream_EmptyInput(t *testing.T) {
	s := pipeStream(nil, Options{FPS: 5})
	defer s.Close()

	_, err := s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpen_RejectsBadOptions(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, bytes.NewReader(nil), Options{FPS: 0}, nil)
	assert.Error(t, err)

	_, err = Open(ctx, bytes.NewReader(nil), Options{FPS: 5, Backend: "vhs"}, nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDecode)
}

// TestOpen_FFmpeg runs the real decoder against a synthetic clip. It requires ffmpeg on PATH.
func TestOpen_FFmpeg(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ffmpeg test in short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found")
	}

	// 2 seconds of 25fps 800x600 test pattern
	gen := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=2:size=800x600:rate=25",
		"-f", "matroska", "-")
	clip, err := gen.Output()
	require.NoError(t, err)

	s, err := Open(context.Background(), bytes.NewReader(clip), Options{FPS: 5, MaxWidth: 640, MaxFrames: 450}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	n := 0
	for {
		f, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 640, f.Image.Bounds().Dx())
		n++
	}
	assert.InDelta(t, 10, n, 1)
}

func TestOpen_FFmpegGarbage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ffmpeg test in short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found")
	}

	s, err := Open(context.Background(), bytes.NewReader([]byte("definitely not a video")), Options{FPS: 5}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next()
	assert.ErrorIs(t, err, ErrDecode)
}
