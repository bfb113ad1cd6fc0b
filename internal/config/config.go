package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Thresholds are the tuning constants of the event detectors and the sampler.
// Implementations and their tests must agree on these values for count parity.
type Thresholds struct {
	BlinkEARThreshold     float64 `env:"BLINK_EAR_THRESHOLD"      envDefault:"0.21"`
	BlinkMinFrames        int     `env:"BLINK_MIN_FRAMES"         envDefault:"1"`
	BlinkMaxFrames        int     `env:"BLINK_MAX_FRAMES"         envDefault:"4"`
	YawnMARThreshold      float64 `env:"YAWN_MAR_THRESHOLD"       envDefault:"0.6"`
	YawnMinFrames         int     `env:"YAWN_MIN_FRAMES"          envDefault:"5"`
	YawnMaxFrames         int     `env:"YAWN_MAX_FRAMES"          envDefault:"40"`
	MaxGapToleranceFrames int     `env:"MAX_GAP_TOLERANCE_FRAMES" envDefault:"2"`
	SamplingFPS           float64 `env:"SAMPLING_FPS"             envDefault:"5"`
}

// DefaultThresholds returns the same values as the env defaults above.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BlinkEARThreshold:     0.21,
		BlinkMinFrames:        1,
		BlinkMaxFrames:        4,
		YawnMARThreshold:      0.6,
		YawnMinFrames:         5,
		YawnMaxFrames:         40,
		MaxGapToleranceFrames: 2,
		SamplingFPS:           5,
	}
}

// Validate rejects thresholds that would make the detectors meaningless.
func (t Thresholds) Validate() error {
	var errs []error
	if t.BlinkEARThreshold <= 0 {
		errs = append(errs, fmt.Errorf("blink EAR threshold must be > 0, got %v", t.BlinkEARThreshold))
	}
	if t.YawnMARThreshold <= 0 {
		errs = append(errs, fmt.Errorf("yawn MAR threshold must be > 0, got %v", t.YawnMARThreshold))
	}
	if t.BlinkMinFrames < 1 || t.BlinkMaxFrames < t.BlinkMinFrames {
		errs = append(errs, fmt.Errorf("blink window must satisfy 1 <= min <= max, got [%d, %d]", t.BlinkMinFrames, t.BlinkMaxFrames))
	}
	if t.YawnMinFrames < 1 || t.YawnMaxFrames < t.YawnMinFrames {
		errs = append(errs, fmt.Errorf("yawn window must satisfy 1 <= min <= max, got [%d, %d]", t.YawnMinFrames, t.YawnMaxFrames))
	}
	if t.MaxGapToleranceFrames < 0 {
		errs = append(errs, fmt.Errorf("gap tolerance must be >= 0, got %d", t.MaxGapToleranceFrames))
	}
	if t.SamplingFPS <= 0 {
		errs = append(errs, fmt.Errorf("sampling fps must be > 0, got %v", t.SamplingFPS))
	}
	return errors.Join(errs...)
}

type Config struct {
	Thresholds

	SamplerBackend string `env:"SAMPLER_BACKEND" envDefault:"ffmpeg"`
	MaxFrames      int    `env:"MAX_FRAMES"      envDefault:"450"`
	MaxWidth       int    `env:"MAX_WIDTH"       envDefault:"640"`

	WorkerCommand      []string      `env:"LANDMARK_WORKER_CMD" envSeparator:" " envDefault:"python3 -u python/landmark_worker.py"`
	ModelPath          string        `env:"LANDMARK_MODEL_PATH" envDefault:"shape_predictor_68_face_landmarks.dat"`
	ModelWorkers       int           `env:"MODEL_WORKERS"       envDefault:"2"`
	DetectionThreshold float64       `env:"DETECTION_THRESHOLD" envDefault:"0.6"`
	WorkerTimeout      time.Duration `env:"WORKER_TIMEOUT"      envDefault:"30s"`

	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/sleepdebt.db"`

	MinIOEndpoint  string `env:"MINIO_ENDPOINT"     envDefault:"localhost:9000"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY"   envDefault:"minioadmin"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY"   envDefault:"minioadmin"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL"      envDefault:"false"`
	MinIOBucket    string `env:"MINIO_CLIP_BUCKET"  envDefault:"clips"`

	RabbitMQURL      string `env:"RABBITMQ_URL"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE" envDefault:"sleepdebt.fatigue"`
	RabbitMQQueue    string `env:"RABBITMQ_QUEUE"    envDefault:"fatigue.analysis"`
	RabbitMQPrefetch int    `env:"RABBITMQ_PREFETCH" envDefault:"2"`
	ConsumerWorkers  int    `env:"CONSUMER_WORKERS"  envDefault:"2"`

	HTTPPort     int    `env:"HTTP_PORT"     envDefault:"8000"`
	MaxUploadMB  int64  `env:"MAX_UPLOAD_MB" envDefault:"64"`
	MetricsPort  int    `env:"METRICS_PORT"  envDefault:"9102"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL"     envDefault:"info"`
}

// Load reads an optional .env file and then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
