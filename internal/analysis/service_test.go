package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/messaging"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/objectstore"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/pipeline"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/store"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	rec  types.SummaryRecord
	err  error
	seen []string
}

func (f *fakeRunner) Run(_ context.Context, r io.Reader, onFrame func(pipeline.Progress)) (types.SummaryRecord, error) {
	data, _ := io.ReadAll(r)
	f.seen = append(f.seen, string(data))
	if onFrame != nil {
		onFrame(pipeline.Progress{Blinks: f.rec.BlinkCount})
	}
	return f.rec, f.err
}

type fakePublisher struct {
	summaries []messaging.SummaryMessage
	failures  []messaging.FailureMessage
	err       error
}

func (f *fakePublisher) PublishSummary(_ context.Context, msg messaging.SummaryMessage) error {
	f.summaries = append(f.summaries, msg)
	return f.err
}

func (f *fakePublisher) PublishFailure(_ context.Context, msg messaging.FailureMessage) error {
	f.failures = append(f.failures, msg)
	return f.err
}

type fakeClips map[string]string

func (f fakeClips) GetClip(_ context.Context, key string) (io.ReadCloser, int64, error) {
	body, ok := f[key]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", objectstore.ErrClipNotFound, key)
	}
	return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}

// failingStore rejects every write.
type failingStore struct{ store.Store }

func (failingStore) InsertSummary(context.Context, types.StoredSummary) error {
	return errors.New("disk full")
}

func newSQLite(t *testing.T) store.Store {
	s, err := store.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestAnalyze_PersistsAndPublishes(t *testing.T) {
	runner := &fakeRunner{rec: types.SummaryRecord{BlinkCount: 6, FramesProcessed: 50, FramesWithFace: 50}}
	pub := &fakePublisher{}
	st := newSQLite(t)
	svc := NewService(runner, Options{Store: st, Publisher: pub}, nil)
	fixed := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	var frames int
	out, err := svc.Analyze(context.Background(), []byte("clip bytes"), Request{Source: "upload"}, func(pipeline.Progress) { frames++ })
	require.NoError(t, err)

	assert.NotEmpty(t, out.RequestID, "a request id is generated")
	assert.Equal(t, utils.GenerateClipID([]byte("clip bytes")), out.ClipID)
	assert.Equal(t, "upload", out.Source)
	assert.Equal(t, fixed, out.ReceivedAt)
	assert.Equal(t, 6, out.Summary.BlinkCount)
	assert.Equal(t, 1, frames)

	rows, err := st.ListSummaries(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, out.RequestID, rows[0].RequestID)

	require.Len(t, pub.summaries, 1)
	assert.Equal(t, out, pub.summaries[0].StoredSummary)
	assert.Empty(t, pub.failures)
}

func TestAnalyze_SinkFailuresDoNotFailRequest(t *testing.T) {
	runner := &fakeRunner{rec: types.SummaryRecord{YawnCount: 1, FramesProcessed: 10}}
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := NewService(runner, Options{Store: failingStore{}, Publisher: pub}, nil)

	out, err := svc.Analyze(context.Background(), []byte("x"), Request{RequestID: "fixed"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed", out.RequestID)
	assert.Equal(t, 1, out.Summary.YawnCount)
}

func TestAnalyze_PipelineErrorPublishesFailure(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("%w: moov atom not found", pipeline.ErrDecode)}
	pub := &fakePublisher{}
	svc := NewService(runner, Options{Publisher: pub}, nil)

	_, err := svc.Analyze(context.Background(), []byte("x"), Request{RequestID: "r1", ObjectKey: "k"}, nil)
	require.ErrorIs(t, err, pipeline.ErrDecode)
	require.Len(t, pub.failures, 1)
	assert.Equal(t, "decode_error", pub.failures[0].Outcome)
	assert.Equal(t, "k", pub.failures[0].ObjectKey)
	assert.Empty(t, pub.summaries)
}

func TestAnalyzeReader_Limit(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewService(runner, Options{MaxBytes: 4}, nil)

	_, err := svc.AnalyzeReader(context.Background(), strings.NewReader("12345"), Request{}, nil)
	assert.ErrorIs(t, err, ErrClipTooLarge)
	assert.Empty(t, runner.seen)

	_, err = svc.AnalyzeReader(context.Background(), strings.NewReader("1234"), Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1234"}, runner.seen)
}

func TestAnalyzeObject(t *testing.T) {
	runner := &fakeRunner{rec: types.SummaryRecord{FramesProcessed: 3}}
	svc := NewService(runner, Options{Clips: fakeClips{"clips/a.webm": "video"}}, nil)

	out, err := svc.AnalyzeObject(context.Background(), Request{ObjectKey: "clips/a.webm"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "object", out.Source)
	assert.Equal(t, []string{"video"}, runner.seen)

	_, err = svc.AnalyzeObject(context.Background(), Request{ObjectKey: "missing"}, nil)
	assert.ErrorIs(t, err, objectstore.ErrClipNotFound)

	_, err = NewService(runner, Options{}, nil).AnalyzeObject(context.Background(), Request{ObjectKey: "x"}, nil)
	assert.ErrorIs(t, err, ErrNoClipStorage)
}

func TestHandleMessage(t *testing.T) {
	clips := fakeClips{"ok.webm": "video", "bad.webm": "garbage"}

	tests := []struct {
		name          string
		body          string
		runErr        error
		wantErr       bool
		wantPermanent bool
	}{
		{"success", `{"request_id":"r1","object_key":"ok.webm"}`, nil, false, false},
		{"malformed body", `{`, nil, true, true},
		{"missing object", `{"object_key":"nope.webm"}`, nil, true, true},
		{"undecodable clip", `{"object_key":"bad.webm"}`, fmt.Errorf("%w: eof", pipeline.ErrDecode), true, true},
		{"empty clip", `{"object_key":"bad.webm"}`, pipeline.ErrEmptyClip, true, true},
		{"model down is retried", `{"object_key":"ok.webm"}`, pipeline.ErrModelUnavailable, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&fakeRunner{err: tt.runErr}, Options{Clips: clips}, nil)
			err := svc.HandleMessage(context.Background(), []byte(tt.body))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, errors.Is(err, messaging.ErrPermanent))
		})
	}
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "empty_clip", Outcome(pipeline.ErrEmptyClip))
	assert.Equal(t, "model_unavailable", Outcome(fmt.Errorf("wrap: %w", pipeline.ErrModelUnavailable)))
	assert.Equal(t, "clip_too_large", Outcome(ErrClipTooLarge))
	assert.Equal(t, "error", Outcome(errors.New("x")))
}
