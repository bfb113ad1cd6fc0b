package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/utils" // Using the SafeCommand wrapper
)

// ErrModelUnavailable means the landmark model process could not be started or died.
var ErrModelUnavailable = errors.New("landmark model unavailable")

// Response status bytes written by the model process.
const (
	statusOK    = 0
	statusError = 1
	statusReady = 2
)

// maxResponse bounds a single response so a corrupted length header cannot exhaust memory.
const maxResponse = 1 << 20

// Options describes how to launch one model process.
type Options struct {
	Command   []string
	ModelPath string
	// Timeout bounds the startup handshake and each frame round-trip.
	Timeout time.Duration
}

// LandmarkWorker is one landmark-model subprocess.
type LandmarkWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewLandmarkWorker starts a model process and waits for its ready message.
func NewLandmarkWorker(ctx context.Context, id int, opts Options) (*LandmarkWorker, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("worker %d: empty command", id)
	}
	args := append([]string{}, opts.Command[1:]...)
	if opts.ModelPath != "" {
		args = append(args, "--model", opts.ModelPath)
	}
	py := utils.NewSafeCommand(ctx, opts.Command[0], args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	lw := &LandmarkWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}

	if err := withTimeout(opts.Timeout, lw.handshake); err != nil {
		lw.Kill()
		return nil, fmt.Errorf("worker %d handshake failed: %w", id, err)
	}
	return lw, nil
}

// handshake waits for the model to finish loading. The process writes a single
// status-ready response once the predictor is in memory.
func (w *LandmarkWorker) handshake() error {
	resp, err := w.readResponse()
	if err != nil {
		return err
	}
	if len(resp) == 0 || resp[0] != statusReady {
		return fmt.Errorf("unexpected handshake payload %X", resp)
	}
	return nil
}

// Communicate sends one frame and returns the raw response payload.
func (w *LandmarkWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}
	return w.readResponse()
}

func (w *LandmarkWorker) readResponse() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch an import or model-load crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// LogicError is a per-frame failure reported by the model, e.g. an image it could not read.
// The process is still healthy after one.
type LogicError struct {
	Message string
}

func (e *LogicError) Error() string { return "landmark worker error: " + e.Message }

// ProcessFrame runs the model on one encoded frame. A nil set means no face was found.
//
// Response layout:
//
//	[status u8]
//	status 0: [found u8] then, when found, [confidence f32][box 4*i32][68 * (x i32, y i32)]
//	status 1: [msgLen u32][msg]
func (w *LandmarkWorker) ProcessFrame(data []byte) (*types.LandmarkSet, error) {
	resp, err := w.Communicate(data)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

func decodeResponse(resp []byte) (*types.LandmarkSet, error) {
	reader := bytes.NewReader(resp)

	status, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty response: %w", err)
	}

	switch status {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(reader, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("truncated error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(reader, msg); err != nil {
			return nil, fmt.Errorf("truncated error message: %w", err)
		}
		return nil, &LogicError{Message: string(msg)}
	default:
		return nil, fmt.Errorf("unknown status byte %d", status)
	}

	found, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("truncated response: %w", err)
	}
	if found == 0 {
		return nil, nil
	}

	var payload struct {
		Confidence float32
		Box        [4]int32
		Points     [types.LandmarkCount][2]int32
	}
	if err := binary.Read(reader, binary.BigEndian, &payload); err != nil {
		return nil, fmt.Errorf("truncated landmark payload: %w", err)
	}

	lm := &types.LandmarkSet{
		Points:     make([]image.Point, types.LandmarkCount),
		Confidence: float64(payload.Confidence),
		Box:        image.Rect(int(payload.Box[0]), int(payload.Box[1]), int(payload.Box[2]), int(payload.Box[3])),
	}
	for i, p := range payload.Points {
		lm.Points[i] = image.Pt(int(p[0]), int(p[1]))
	}
	return lm, nil
}

// Close shuts the process down by closing its stdin and waiting for it to exit.
func (w *LandmarkWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// Kill terminates a worker that is stuck or misbehaving.
func (w *LandmarkWorker) Kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	w.Close()
}

// withTimeout runs fn, giving up after d. A zero d waits forever.
// fn keeps running in the background after a timeout; callers must kill what it is blocked on.
func withTimeout(d time.Duration, fn func() error) error {
	if d <= 0 {
		return fn()
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("timed out after %s", d)
	}
}
