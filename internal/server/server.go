// Package server exposes the analysis service over HTTP with a websocket progress feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/analysis"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/metrics"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/pipeline"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/store"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// multipartSlack covers boundaries and small form fields around the clip.
const multipartSlack = 1 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Analyzer is satisfied by *analysis.Service.
type Analyzer interface {
	AnalyzeReader(ctx context.Context, r io.Reader, req analysis.Request, onFrame func(pipeline.Progress)) (types.StoredSummary, error)
}

// ProgressMessage is one websocket frame.
type ProgressMessage struct {
	RequestID string            `json:"request_id"`
	Progress  pipeline.Progress `json:"progress"`
}

type Options struct {
	MaxUploadBytes int64
	// History is optional; without it GET /summaries returns 404.
	History store.Store
}

type Server struct {
	analyzer Analyzer
	hub      *Hub
	opts     Options
	logger   *zap.Logger
}

func New(analyzer Analyzer, hub *Hub, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{analyzer: analyzer, hub: hub, opts: opts, logger: logger}
}

// Handler routes the API, the progress feed and the metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze-sleep", s.handleAnalyze)
	mux.HandleFunc("GET /ws/progress", s.handleProgress)
	if s.opts.History != nil {
		mux.HandleFunc("GET /summaries", s.handleSummaries)
	}
	m := metrics.Handler()
	mux.Handle("/metrics", m)
	mux.Handle("/healthz", m)
	return cors(mux)
}

// cors allows any origin, matching the browser client that uploads from a different host.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleAnalyze streams the multipart body. A request_id field sent before the
// video part lets a viewer subscribe to progress ahead of time.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartSlack)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "", fmt.Errorf("expected multipart/form-data: %w", err))
		return
	}

	requestID := r.URL.Query().Get("request_id")
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "", errors.New("missing form field \"video\""))
			return
		}
		if err != nil {
			writeError(w, statusFor(err), "", fmt.Errorf("read multipart: %w", err))
			return
		}

		switch part.FormName() {
		case "request_id":
			b, _ := io.ReadAll(io.LimitReader(part, 128))
			if id := string(b); id != "" {
				requestID = id
			}
		case "video":
			if requestID == "" {
				requestID = uuid.NewString()
			}
			s.analyze(w, r, part, requestID)
			part.Close()
			return
		}
		part.Close()
	}
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request, body io.Reader, requestID string) {
	log := s.logger.With(zap.String("request_id", requestID))
	started := time.Now()

	var onFrame func(pipeline.Progress)
	if s.hub != nil {
		onFrame = func(p pipeline.Progress) {
			s.hub.Publish(requestID, ProgressMessage{RequestID: requestID, Progress: p})
		}
	}

	out, err := s.analyzer.AnalyzeReader(r.Context(), body, analysis.Request{RequestID: requestID, Source: "upload"}, onFrame)
	if err != nil {
		status := statusFor(err)
		log.Warn("analysis failed", zap.Int("status", status), zap.Error(err))
		writeError(w, status, analysis.Outcome(err), err)
		return
	}
	log.Info("analysis served", zap.Duration("took", time.Since(started)))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.NotFound(w, r)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.serve(conn, r.URL.Query().Get("request_id"))
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "", fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	rows, err := s.opts.History.ListSummaries(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	if rows == nil {
		rows = []types.StoredSummary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// statusFor maps pipeline failures onto HTTP: bad clips are the client's problem,
// a missing model is ours.
func statusFor(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, analysis.ErrClipTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrDecode), errors.Is(err, pipeline.ErrEmptyClip):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, outcome string, err error) {
	writeJSON(w, status, types.ErrorResult{Error: err.Error(), Outcome: outcome})
}
