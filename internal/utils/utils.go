package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (model worker logs)
// so a crashed worker can still be diagnosed after the fact.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints the formatted error box, including captured worker logs when available.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 SLEEPDEBT ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nWORKER LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// Die is the unified exit strategy for the CLI.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Video Engine (Shared by the sampler and the analyze command) ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// EstimateSampledFrames uses ffprobe to guess how many frames the sampler will produce
// for the progress bar. It returns 0 if the probe fails, letting the caller fall back to a spinner.
func EstimateSampledFrames(ctx context.Context, path string, fps float64, maxFrames int) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	type ffprobeOutput struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe JSON parse error: %v\n", err)
		return 0
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(res.Format.Duration), 64)
	if err != nil || duration <= 0 {
		return 0
	}

	count := int(math.Ceil(duration * fps))
	if maxFrames > 0 && count > maxFrames {
		count = maxFrames
	}
	return count
}

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FFmpegArgs builds the decoder arguments: read the clip from stdin, drop frames down to fps,
// shrink anything wider than maxWidth and emit MJPEG frames on stdout.
func FFmpegArgs(fps float64, maxWidth int) []string {
	filter := fmt.Sprintf("fps=%s", strconv.FormatFloat(fps, 'f', -1, 64))
	if maxWidth > 0 {
		// -2 keeps the height even, which mjpeg requires for yuv420
		filter += fmt.Sprintf(",scale='min(%d,iw)':-2", maxWidth)
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-vf", filter,
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3",
		"-",
	}
}

// GenerateClipID creates a deterministic hash for a clip based on its bytes,
// so re-submitting the same recording maps to the same id.
func GenerateClipID(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
