package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/analysis"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/messaging"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/server"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve POST /analyze-sleep with a websocket progress feed and /metrics",
	Annotations: map[string]string{storeAnnotation: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd.Context()); err != nil {
			utils.Die("Server failed", err, nil)
		}
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (default: $HTTP_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	port := Cfg.HTTPPort
	if servePort > 0 {
		port = servePort
	}

	p, pool, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	svcOpts := analysis.Options{Store: DB, MaxBytes: Cfg.MaxUploadMB * 1024 * 1024}
	if Cfg.RabbitMQURL != "" {
		pub, err := messaging.DialPublisher(Cfg.RabbitMQURL, Cfg.RabbitMQExchange)
		if err != nil {
			// Narrative hand-off is best effort; the API still answers without it
			Log.Warn("summary publishing disabled", zap.Error(err))
		} else {
			defer pub.Close()
			svcOpts.Publisher = pub
		}
	}
	svc := analysis.NewService(p, svcOpts, Log.With(zap.String("component", "analysis")))

	hub := server.NewHub(Log.With(zap.String("component", "progress-hub")))
	go hub.Run(ctx)

	api := server.New(svc, hub, server.Options{
		MaxUploadBytes: svcOpts.MaxBytes,
		History:        DB,
	}, Log.With(zap.String("component", "http")))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		Log.Info("http server starting", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	Log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
