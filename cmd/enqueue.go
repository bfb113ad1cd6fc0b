package cmd

import (
	"fmt"
	"os"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/messaging"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/objectstore"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var enqueueKey string

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a clip already in object storage for the worker pool",
	Run: func(cmd *cobra.Command, args []string) {
		if Cfg.RabbitMQURL == "" {
			utils.Die("Cannot enqueue", errMissingEnv("RABBITMQ_URL"), nil)
		}
		key, err := objectstore.CleanKey(enqueueKey)
		if err != nil {
			utils.Die("Invalid object key", err, nil)
		}

		pub, err := messaging.DialPublisher(Cfg.RabbitMQURL, Cfg.RabbitMQExchange)
		if err != nil {
			utils.Die("RabbitMQ unavailable", err, nil)
		}
		defer pub.Close()

		req := messaging.AnalysisRequest{RequestID: uuid.NewString(), ObjectKey: key}
		if err := pub.PublishRequest(cmd.Context(), req); err != nil {
			utils.Die("Failed to enqueue clip", err, nil)
		}
		fmt.Fprintf(os.Stderr, "📨 Queued %s\n", key)
		fmt.Println(req.RequestID)
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueKey, "object", "", "Object key of the clip in the MinIO clip bucket")
	enqueueCmd.MarkFlagRequired("object")
	rootCmd.AddCommand(enqueueCmd)
}
