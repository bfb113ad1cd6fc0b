package cmd

import (
	"fmt"
	"math"
	"os"
	"text/tabwriter"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:         "history",
	Short:       "List persisted fatigue summaries, newest first",
	Annotations: map[string]string{storeAnnotation: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		runHistory(cmd)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of rows to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command) {
	rows, err := DB.ListSummaries(cmd.Context(), historyLimit)
	if err != nil {
		utils.Die("Failed to list summaries", err, nil)
	}

	if len(rows) == 0 {
		fmt.Println("No summaries found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "REQUEST\tRECEIVED\tSOURCE\tBLINKS\tYAWNS\tREDNESS\tDARKNESS\tCOVERAGE\tDURATION")
	fmt.Fprintln(w, "-------\t--------\t------\t------\t-----\t-------\t--------\t--------\t--------")

	for _, s := range rows {
		r := s.Summary
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%.0f%%\t%s\n",
			shortID(s.RequestID),
			s.ReceivedAt.Local().Format("2006-01-02 15:04"),
			s.Source,
			r.BlinkCount,
			r.YawnCount,
			fmtScore(r.MeanRedness),
			fmtScore(r.MeanDarkness),
			r.Coverage*100,
			fmtTime(r.DurationSeconds),
		)
	}
	w.Flush()
}

// fmtScore renders an optional mean; no face frames means no score.
func fmtScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}

func fmtTime(seconds float64) string {
	total := int(math.Round(seconds))
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
