package sampler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"strings"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/utils"
)

const megabyte = 1024 * 1024

// ffmpegDecoder pipes the clip through ffmpeg, which does the frame dropping and
// downscaling, and splits the MJPEG output on SOI/EOI markers.
type ffmpegDecoder struct {
	cmd     *utils.SafeCommand
	cancel  context.CancelFunc
	scanner *bufio.Scanner
	stdout  io.ReadCloser
	waited  bool
	waitErr error
}

func openFFmpeg(ctx context.Context, r io.Reader, opts Options) (decoder, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewSafeCommand(ctx, "ffmpeg", utils.FFmpegArgs(opts.FPS, opts.MaxWidth)...)
	cmd.Stdin = r

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return newFFmpegDecoder(cmd, cancel, stdout), nil
}

func newFFmpegDecoder(cmd *utils.SafeCommand, cancel context.CancelFunc, stdout io.ReadCloser) *ffmpegDecoder {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &ffmpegDecoder{cmd: cmd, cancel: cancel, scanner: scanner, stdout: stdout}
}

func (d *ffmpegDecoder) next() (types.Frame, error) {
	if d.scanner.Scan() {
		data := append([]byte(nil), d.scanner.Bytes()...)
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return types.Frame{}, fmt.Errorf("jpeg: %w", err)
		}
		return types.Frame{Image: img, JPEG: data}, nil
	}
	if err := d.scanner.Err(); err != nil {
		return types.Frame{}, fmt.Errorf("frame scanner failed: %w", err)
	}

	// stdout is drained; a bad container shows up as a non-zero exit
	if err := d.wait(); err != nil {
		return types.Frame{}, err
	}
	return types.Frame{}, io.EOF
}

func (d *ffmpegDecoder) wait() error {
	if d.waited || d.cmd == nil {
		return d.waitErr
	}
	d.waited = true
	if err := d.cmd.Wait(); err != nil {
		if logs := strings.TrimSpace(d.cmd.Stderr.String()); logs != "" {
			d.waitErr = fmt.Errorf("ffmpeg: %w: %s", err, logs)
		} else {
			d.waitErr = fmt.Errorf("ffmpeg: %w", err)
		}
	}
	return d.waitErr
}

func (d *ffmpegDecoder) close() error {
	// Stop ffmpeg early when the frame cap is hit; its exit status is irrelevant then
	d.cancel()
	d.stdout.Close()
	if !d.waited && d.cmd != nil {
		d.waited = true
		_ = d.cmd.Wait()
	}
	return nil
}
