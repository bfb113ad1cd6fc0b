//go:build gocv

package sampler

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"gocv.io/x/gocv"
)

// gocvDecoder reads the clip with OpenCV. The clip is spooled to a temp file
// because VideoCapture only opens paths and URLs.
type gocvDecoder struct {
	ctx      context.Context
	capture  *gocv.VideoCapture
	mat      gocv.Mat
	tmpPath  string
	step     float64
	maxWidth int
	read     int
	emitted  int
}

func openGoCV(ctx context.Context, r io.Reader, opts Options) (decoder, error) {
	tmp, err := os.CreateTemp("", "sleepdebt-clip-*")
	if err != nil {
		return nil, fmt.Errorf("create temp clip: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("spool clip: %w", err)
	}
	tmp.Close()

	capture, err := gocv.VideoCaptureFile(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("open video capture: %w", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("video capture is not opened")
	}

	// Keep one source frame per 1/fps seconds; unknown source rates keep every frame
	step := 1.0
	if srcFPS := capture.Get(gocv.VideoCaptureFPS); srcFPS > opts.FPS && opts.FPS > 0 {
		step = srcFPS / opts.FPS
	}

	return &gocvDecoder{
		ctx:      ctx,
		capture:  capture,
		mat:      gocv.NewMat(),
		tmpPath:  tmp.Name(),
		step:     step,
		maxWidth: opts.MaxWidth,
	}, nil
}

func (d *gocvDecoder) next() (types.Frame, error) {
	for {
		if err := d.ctx.Err(); err != nil {
			return types.Frame{}, err
		}
		if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
			return types.Frame{}, io.EOF
		}
		i := d.read
		d.read++

		// Emit source frame i when it is the first one at or past the next sampling instant
		if float64(i) < math.Floor(float64(d.emitted)*d.step) {
			continue
		}
		d.emitted++
		return d.convert()
	}
}

func (d *gocvDecoder) convert() (types.Frame, error) {
	src := d.mat
	if d.maxWidth > 0 && src.Cols() > d.maxWidth {
		scaled := gocv.NewMat()
		defer scaled.Close()
		scale := float64(d.maxWidth) / float64(src.Cols())
		if err := gocv.Resize(src, &scaled, image.Point{}, scale, scale, gocv.InterpolationArea); err != nil {
			return types.Frame{}, fmt.Errorf("resize: %w", err)
		}
		src = scaled
	}

	img, err := src.ToImage()
	if err != nil {
		return types.Frame{}, fmt.Errorf("mat to image: %w", err)
	}
	buf, err := gocv.IMEncode(".jpg", src)
	if err != nil {
		return types.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	return types.Frame{Image: img, JPEG: data}, nil
}

func (d *gocvDecoder) close() error {
	d.mat.Close()
	err := d.capture.Close()
	os.Remove(d.tmpPath)
	return err
}
