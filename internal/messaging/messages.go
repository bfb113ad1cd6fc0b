// Package messaging carries analysis requests in and fatigue summaries out over RabbitMQ.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
)

// Routing keys on the fatigue exchange.
const (
	RoutingAnalysis = "fatigue.analysis"
	RoutingSummary  = "fatigue.summary"
	RoutingFailed   = "fatigue.failed"
)

// ErrPermanent marks a delivery that will never succeed; it is dropped instead of requeued.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the consumer acknowledges it away.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// AnalysisRequest asks a worker to analyse a clip already uploaded to object storage.
type AnalysisRequest struct {
	RequestID string `json:"request_id"`
	ObjectKey string `json:"object_key"`
}

// ParseAnalysisRequest decodes and validates a request body. Bad bodies are permanent failures.
func ParseAnalysisRequest(body []byte) (AnalysisRequest, error) {
	var req AnalysisRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, Permanent(fmt.Errorf("unmarshal analysis request: %w", err))
	}
	if req.ObjectKey == "" {
		return req, Permanent(errors.New("analysis request has no object_key"))
	}
	return req, nil
}

// SummaryMessage is what the narrative service consumes.
type SummaryMessage struct {
	types.StoredSummary
	ObjectKey string `json:"object_key,omitempty"`
}

// FailureMessage reports a clip that could not be analysed.
type FailureMessage struct {
	RequestID string `json:"request_id"`
	ObjectKey string `json:"object_key,omitempty"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error"`
}
