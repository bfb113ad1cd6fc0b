package utils

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// The trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpeg_BackToBack(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xBB, 0xFF, 0xD9}
	stream := append(append([]byte{}, a...), b...)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("Frames split incorrectly: %X", got)
	}
}

func TestFFmpegArgs(t *testing.T) {
	args := strings.Join(FFmpegArgs(5, 640), " ")

	for _, want := range []string{"-i pipe:0", "fps=5,scale='min(640,iw)':-2", "-f image2pipe", "-vcodec mjpeg"} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected args to contain %q, got %q", want, args)
		}
	}

	noScale := strings.Join(FFmpegArgs(2.5, 0), " ")
	if strings.Contains(noScale, "scale") {
		t.Errorf("Expected no scale filter when maxWidth is 0, got %q", noScale)
	}
	if !strings.Contains(noScale, "fps=2.5") {
		t.Errorf("Expected fractional fps to be preserved, got %q", noScale)
	}
}

func TestGenerateClipID(t *testing.T) {
	id := GenerateClipID([]byte("fake video content"))
	if len(id) != 64 {
		t.Fatalf("Expected 64 hex chars, got %d", len(id))
	}

	// Verify Determinism
	if id2 := GenerateClipID([]byte("fake video content")); id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	if id3 := GenerateClipID([]byte("fake video content modification")); id == id3 {
		t.Error("Hash did not change after content modification")
	}
}
