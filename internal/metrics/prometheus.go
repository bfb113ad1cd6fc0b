package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClipsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepdebt_clips_processed_total",
		Help: "Total number of clips analysed, by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sleepdebt_stage_duration_seconds",
		Help:    "Time spent per clip in each pipeline stage",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"stage"})

	ClipDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sleepdebt_clip_duration_seconds",
		Help:    "Wall-clock time to analyse one clip",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sleepdebt_frames_processed_total",
		Help: "Total number of sampled frames across all clips",
	})

	FramesWithFaceTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sleepdebt_frames_with_face_total",
		Help: "Total number of sampled frames in which a face was resolved",
	})

	EventsCountedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepdebt_events_counted_total",
		Help: "Total number of debounced events counted, by kind",
	}, []string{"kind"})

	ActiveClips = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sleepdebt_active_clips",
		Help: "Number of clips currently being analysed",
	})

	WorkerWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sleepdebt_worker_wait_seconds",
		Help:    "Time a frame waited for a free landmark worker",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})

	WorkerRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sleepdebt_worker_restarts_total",
		Help: "Total number of landmark worker processes respawned after a failure",
	})

	PersistFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleepdebt_persist_failures_total",
		Help: "Summaries that could not be handed to a downstream sink, by sink",
	}, []string{"sink"})
)
