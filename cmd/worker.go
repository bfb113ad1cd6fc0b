package cmd

import (
	"context"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/analysis"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/messaging"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/metrics"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/objectstore"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var consumerWorkers int

var workerCmd = &cobra.Command{
	Use:         "worker",
	Short:       "Consume analysis requests from RabbitMQ and publish fatigue summaries",
	Annotations: map[string]string{storeAnnotation: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runWorker(cmd.Context()); err != nil {
			utils.Die("Worker failed", err, nil)
		}
	},
}

func init() {
	workerCmd.Flags().IntVarP(&consumerWorkers, "consumers", "c", 0, "Concurrent deliveries (default: $CONSUMER_WORKERS)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(ctx context.Context) error {
	if Cfg.RabbitMQURL == "" {
		return errMissingEnv("RABBITMQ_URL")
	}
	if consumerWorkers > 0 {
		Cfg.ConsumerWorkers = consumerWorkers
	}

	clips, err := objectstore.NewStorage(minioConfig())
	if err != nil {
		return err
	}
	if err := clips.EnsureBucket(ctx); err != nil {
		return err
	}

	pub, err := messaging.DialPublisher(Cfg.RabbitMQURL, Cfg.RabbitMQExchange)
	if err != nil {
		return err
	}
	defer pub.Close()

	p, pool, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := analysis.NewService(p, analysis.Options{
		Store:     DB,
		Publisher: pub,
		Clips:     clips,
		MaxBytes:  Cfg.MaxUploadMB * 1024 * 1024,
	}, Log.With(zap.String("component", "analysis")))

	consumer, err := messaging.NewConsumer(messaging.ConsumerConfig{
		URL:         Cfg.RabbitMQURL,
		Exchange:    Cfg.RabbitMQExchange,
		Queue:       Cfg.RabbitMQQueue,
		Prefetch:    Cfg.RabbitMQPrefetch,
		WorkerCount: Cfg.ConsumerWorkers,
		BaseDelay:   time.Second,
	}, svc.HandleMessage, Log.With(zap.String("component", "consumer")))
	if err != nil {
		return err
	}
	defer consumer.Close()

	metricsSrv := metrics.StartMetricsServer(Cfg.MetricsPort, Log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}()

	return consumer.Start(ctx)
}
