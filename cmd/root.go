package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/config"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/logger"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/pipeline"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/store"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/tracing"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// storeAnnotation marks commands that need the summary store opened before they run.
const storeAnnotation = "needs-store"

var (
	// Cfg is loaded from the environment (and .env) before any subcommand runs
	Cfg *config.Config
	// Log is the process logger
	Log *zap.Logger
	// DB is the summary store shared by subcommands; nil unless the command needs it
	DB store.Store

	dbURL      string
	tracer     *sdktrace.TracerProvider
	thresholds thresholdFlags
)

// thresholdFlags override the detector configuration for a single run.
type thresholdFlags struct {
	BlinkEAR    float64
	BlinkMin    int
	BlinkMax    int
	YawnMAR     float64
	YawnMin     int
	YawnMax     int
	MaxGap      int
	SamplingFPS float64
}

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "sleepdebt",
	Short:   "Fatigue signal extraction from short webcam clips",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if dbURL != "" {
			Cfg.DatabaseURL = dbURL
		}
		applyThresholdFlags(cmd.Flags(), &Cfg.Thresholds)
		if err := Cfg.Thresholds.Validate(); err != nil {
			return fmt.Errorf("invalid thresholds: %w", err)
		}

		Log, err = logger.New(Cfg.LogLevel)
		if err != nil {
			return err
		}

		if Cfg.OTLPEndpoint != "" {
			if tracer, err = tracing.InitTracer(cmd.Context(), Cfg.OTLPEndpoint); err != nil {
				Log.Warn("tracing disabled", zap.Error(err))
			}
		}

		if cmd.Annotations[storeAnnotation] == "true" {
			return openStore(cmd.Context())
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if DB != nil {
			DB.Close()
		}
		if tracer != nil {
			tracer.Shutdown(ctx)
		}
		if Log != nil {
			Log.Sync()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: $DATABASE_URL, else SQLite at $SQLITE_PATH)")
	pf.Float64Var(&thresholds.BlinkEAR, "blink-ear", 0, "EAR below which the eyes count as closed")
	pf.IntVar(&thresholds.BlinkMin, "blink-min", 0, "Minimum closed frames for a blink")
	pf.IntVar(&thresholds.BlinkMax, "blink-max", 0, "Maximum closed frames for a blink")
	pf.Float64Var(&thresholds.YawnMAR, "yawn-mar", 0, "MAR above which the mouth counts as open")
	pf.IntVar(&thresholds.YawnMin, "yawn-min", 0, "Minimum open frames for a yawn")
	pf.IntVar(&thresholds.YawnMax, "yawn-max", 0, "Maximum open frames for a yawn")
	pf.IntVar(&thresholds.MaxGap, "max-gap", 0, "Consecutive no-face frames tolerated inside a run")
	pf.Float64Var(&thresholds.SamplingFPS, "fps", 0, "Frames sampled per second of video")
}

// applyThresholdFlags copies only the flags the user actually set.
func applyThresholdFlags(flags *pflag.FlagSet, t *config.Thresholds) {
	set := func(name string, apply func()) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	set("blink-ear", func() { t.BlinkEARThreshold = thresholds.BlinkEAR })
	set("blink-min", func() { t.BlinkMinFrames = thresholds.BlinkMin })
	set("blink-max", func() { t.BlinkMaxFrames = thresholds.BlinkMax })
	set("yawn-mar", func() { t.YawnMARThreshold = thresholds.YawnMAR })
	set("yawn-min", func() { t.YawnMinFrames = thresholds.YawnMin })
	set("yawn-max", func() { t.YawnMaxFrames = thresholds.YawnMax })
	set("max-gap", func() { t.MaxGapToleranceFrames = thresholds.MaxGap })
	set("fps", func() { t.SamplingFPS = thresholds.SamplingFPS })
}

func openStore(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	var err error
	DB, err = store.Open(ctx, Cfg.DatabaseURL, Cfg.SQLitePath, Log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

// buildPipeline starts the landmark worker pool and wires the pipeline around it.
// The caller closes the pool.
func buildPipeline(ctx context.Context) (*pipeline.Pipeline, *worker.Pool, error) {
	pool, err := worker.NewPool(ctx, worker.PoolOptions{
		Worker: worker.Options{
			Command:   Cfg.WorkerCommand,
			ModelPath: Cfg.ModelPath,
			Timeout:   Cfg.WorkerTimeout,
		},
		Size:               Cfg.ModelWorkers,
		DetectionThreshold: Cfg.DetectionThreshold,
	}, Log.With(zap.String("component", "landmark-pool")))
	if err != nil {
		return nil, nil, err
	}
	return pipeline.FromConfig(Cfg, pool, Log.With(zap.String("component", "pipeline"))), pool, nil
}

func errMissingEnv(name string) error {
	return fmt.Errorf("%s is not set", name)
}
