// Package analysis runs the fatigue pipeline for one request and hands the
// result to persistence and the narrative service.
package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/messaging"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/metrics"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/objectstore"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/pipeline"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/store"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrClipTooLarge  = errors.New("clip exceeds upload limit")
	ErrNoClipStorage = errors.New("object storage is not configured")
)

// Runner is satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, r io.Reader, onFrame func(pipeline.Progress)) (types.SummaryRecord, error)
}

type Publisher interface {
	PublishSummary(ctx context.Context, msg messaging.SummaryMessage) error
	PublishFailure(ctx context.Context, msg messaging.FailureMessage) error
}

type ClipStorage interface {
	GetClip(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

// Request identifies where a clip came from. An empty RequestID gets a fresh uuid.
type Request struct {
	RequestID string
	Source    string
	ObjectKey string
}

// Service is safe for concurrent use. Store, publisher and clip storage are optional.
type Service struct {
	runner    Runner
	store     store.Store
	publisher Publisher
	clips     ClipStorage
	maxBytes  int64
	logger    *zap.Logger
	now       func() time.Time
}

type Options struct {
	Store     store.Store
	Publisher Publisher
	Clips     ClipStorage
	// MaxBytes caps clips read into memory; 0 means unlimited.
	MaxBytes int64
}

func NewService(runner Runner, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		runner:    runner,
		store:     opts.Store,
		publisher: opts.Publisher,
		clips:     opts.Clips,
		maxBytes:  opts.MaxBytes,
		logger:    logger,
		now:       time.Now,
	}
}

// AnalyzeReader reads the whole clip, bounded by MaxBytes, then analyses it.
func (s *Service) AnalyzeReader(ctx context.Context, r io.Reader, req Request, onFrame func(pipeline.Progress)) (types.StoredSummary, error) {
	data, err := s.readClip(r)
	if err != nil {
		return types.StoredSummary{}, err
	}
	return s.Analyze(ctx, data, req, onFrame)
}

// AnalyzeObject fetches the clip from object storage first.
func (s *Service) AnalyzeObject(ctx context.Context, req Request, onFrame func(pipeline.Progress)) (types.StoredSummary, error) {
	if s.clips == nil {
		return types.StoredSummary{}, ErrNoClipStorage
	}
	dlCtx, span := otel.Tracer("analysis").Start(ctx, "download_clip")
	obj, size, err := s.clips.GetClip(dlCtx, req.ObjectKey)
	if err != nil {
		span.End()
		return types.StoredSummary{}, err
	}
	data, err := s.readClip(obj)
	obj.Close()
	span.SetAttributes(attribute.Int64("clip.size", size))
	span.End()
	if err != nil {
		return types.StoredSummary{}, err
	}
	if req.Source == "" {
		req.Source = "object"
	}
	return s.Analyze(ctx, data, req, onFrame)
}

func (s *Service) readClip(r io.Reader) ([]byte, error) {
	if s.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read clip: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrClipTooLarge, s.maxBytes)
	}
	return data, nil
}

// Analyze runs the pipeline over an in-memory clip. Persistence and publishing
// failures are logged and counted but never fail the request.
func (s *Service) Analyze(ctx context.Context, data []byte, req Request, onFrame func(pipeline.Progress)) (types.StoredSummary, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	clipID := utils.GenerateClipID(data)
	log := s.logger.With(zap.String("request_id", req.RequestID), zap.String("clip_id", clipID[:12]))

	rec, err := s.runner.Run(ctx, bytes.NewReader(data), onFrame)
	if err != nil {
		s.publishFailure(ctx, req, err, log)
		return types.StoredSummary{}, err
	}

	stored := types.StoredSummary{
		RequestID:  req.RequestID,
		ClipID:     clipID,
		Source:     req.Source,
		ReceivedAt: s.now().UTC(),
		Summary:    rec,
	}

	if s.store != nil {
		if err := s.store.InsertSummary(ctx, stored); err != nil {
			metrics.PersistFailuresTotal.WithLabelValues("store").Inc()
			log.Error("failed to persist summary", zap.Error(err))
		}
	}
	if s.publisher != nil {
		msg := messaging.SummaryMessage{StoredSummary: stored, ObjectKey: req.ObjectKey}
		if err := s.publisher.PublishSummary(ctx, msg); err != nil {
			metrics.PersistFailuresTotal.WithLabelValues("amqp").Inc()
			log.Error("failed to publish summary", zap.Error(err))
		}
	}
	return stored, nil
}

func (s *Service) publishFailure(ctx context.Context, req Request, cause error, log *zap.Logger) {
	if s.publisher == nil || errors.Is(cause, context.Canceled) {
		return
	}
	msg := messaging.FailureMessage{
		RequestID: req.RequestID,
		ObjectKey: req.ObjectKey,
		Outcome:   Outcome(cause),
		Error:     cause.Error(),
	}
	if err := s.publisher.PublishFailure(ctx, msg); err != nil {
		metrics.PersistFailuresTotal.WithLabelValues("amqp").Inc()
		log.Error("failed to publish failure", zap.Error(err))
	}
}

// HandleMessage is the AMQP handler for analysis requests. Clips that can never
// be analysed are permanent failures; a missing model is retried.
func (s *Service) HandleMessage(ctx context.Context, body []byte) error {
	req, err := messaging.ParseAnalysisRequest(body)
	if err != nil {
		return err
	}
	_, err = s.AnalyzeObject(ctx, Request{RequestID: req.RequestID, ObjectKey: req.ObjectKey, Source: "amqp"}, nil)
	if err != nil && IsClientError(err) {
		return messaging.Permanent(err)
	}
	return err
}

// IsClientError reports whether err is the clip's fault rather than the service's.
func IsClientError(err error) bool {
	return errors.Is(err, pipeline.ErrDecode) ||
		errors.Is(err, pipeline.ErrEmptyClip) ||
		errors.Is(err, ErrClipTooLarge) ||
		errors.Is(err, objectstore.ErrClipNotFound)
}

// Outcome names an error for failure messages and responses.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pipeline.ErrEmptyClip):
		return "empty_clip"
	case errors.Is(err, pipeline.ErrDecode):
		return "decode_error"
	case errors.Is(err, pipeline.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrClipTooLarge):
		return "clip_too_large"
	case errors.Is(err, objectstore.ErrClipNotFound):
		return "clip_not_found"
	default:
		return "error"
	}
}
