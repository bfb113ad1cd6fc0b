package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/analysis"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/objectstore"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/pipeline"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"github.com/AryanV-Coder/SleepDebtPredictor/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// Options holds the flags of the analyze command
type Options struct {
	InputPath string
	ObjectKey string
	Save      bool
	FramesOut string
	Quiet     bool
}

var analyzeOpts Options

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Count blinks and yawns and score eye redness and dark circles in one clip",
	Example: `  sleepdebt analyze -i clip.webm
  sleepdebt analyze --object uploads/clip.webm --save --frames signals.jsonl`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := validateAnalyzeFlags(&analyzeOpts); err != nil {
			utils.Die("Invalid flags", err, nil)
		}
		runAnalyze(cmd, analyzeOpts)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOpts.InputPath, "input", "i", "", "Path to a local clip")
	analyzeCmd.Flags().StringVar(&analyzeOpts.ObjectKey, "object", "", "Object key of a clip in the MinIO clip bucket")
	analyzeCmd.Flags().BoolVarP(&analyzeOpts.Save, "save", "s", false, "Persist the summary to the database")
	analyzeCmd.Flags().StringVar(&analyzeOpts.FramesOut, "frames", "", "Write per-frame signals, running counts and counted events as JSON lines to this file")
	analyzeCmd.Flags().BoolVarP(&analyzeOpts.Quiet, "quiet", "q", false, "Hide the progress bar")
	rootCmd.AddCommand(analyzeCmd)
}

func validateAnalyzeFlags(opts *Options) error {
	if (opts.InputPath == "") == (opts.ObjectKey == "") {
		return errors.New("exactly one of --input or --object is required")
	}
	if opts.InputPath != "" {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			return fmt.Errorf("input file error: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path is a directory, not a file: %s", opts.InputPath)
		}
	}
	if opts.ObjectKey != "" {
		key, err := objectstore.CleanKey(opts.ObjectKey)
		if err != nil {
			return err
		}
		opts.ObjectKey = key
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, opts Options) {
	ctx := cmd.Context()

	if opts.Save {
		if err := openStore(ctx); err != nil {
			utils.Die("Database unavailable", err, nil)
		}
	}

	svcOpts := analysis.Options{MaxBytes: Cfg.MaxUploadMB * 1024 * 1024}
	if DB != nil {
		svcOpts.Store = DB
	}
	if opts.ObjectKey != "" {
		clips, err := objectstore.NewStorage(minioConfig())
		if err != nil {
			utils.Die("Object storage unavailable", err, nil)
		}
		svcOpts.Clips = clips
	}

	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d landmark workers...\n", Cfg.ModelWorkers)
	p, pool, err := buildPipeline(ctx)
	if err != nil {
		utils.Die("Landmark model unavailable", err, nil)
	}
	defer pool.Close()

	total := -1
	if opts.InputPath != "" {
		if n := utils.EstimateSampledFrames(ctx, opts.InputPath, Cfg.SamplingFPS, Cfg.MaxFrames); n > 0 {
			total = n
		}
	}
	var bar *progressbar.ProgressBar
	if !opts.Quiet {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("👁️  Analysing"),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
		)
	}

	var frames *bufio.Writer
	var enc *json.Encoder
	if opts.FramesOut != "" {
		f, err := os.Create(opts.FramesOut)
		if err != nil {
			utils.Die("Failed to create frames file", err, nil)
		}
		defer f.Close()
		frames = bufio.NewWriter(f)
		defer frames.Flush()
		enc = json.NewEncoder(frames)
	}

	onFrame := func(pr pipeline.Progress) {
		if bar != nil && !pr.Final {
			bar.Add(1)
		}
		if enc != nil {
			enc.Encode(pr)
		}
	}

	svc := analysis.NewService(p, svcOpts, Log)
	var out types.StoredSummary
	if opts.ObjectKey != "" {
		out, err = svc.AnalyzeObject(ctx, analysis.Request{ObjectKey: opts.ObjectKey, Source: "cli"}, onFrame)
	} else {
		f, ferr := os.Open(opts.InputPath)
		if ferr != nil {
			utils.Die("Failed to open input", ferr, nil)
		}
		out, err = svc.AnalyzeReader(ctx, f, analysis.Request{Source: "cli"}, onFrame)
		f.Close()
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		utils.Die(fmt.Sprintf("Analysis failed (%s)", analysis.Outcome(err)), err, nil)
	}

	printSummary(out)
	if opts.Save {
		fmt.Fprintf(os.Stderr, "💾 Saved summary %s\n", out.RequestID)
	}
}

func printSummary(out types.StoredSummary) {
	r := out.Summary
	fmt.Fprintf(os.Stderr, "🏁 %d blinks, %d yawns over %s (%d/%d frames with a face)\n",
		r.BlinkCount, r.YawnCount, fmtTime(r.DurationSeconds), r.FramesWithFace, r.FramesProcessed)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		utils.Die("Failed to encode summary", err, nil)
	}
}

func minioConfig() objectstore.Config {
	return objectstore.Config{
		Endpoint:  Cfg.MinIOEndpoint,
		AccessKey: Cfg.MinIOAccessKey,
		SecretKey: Cfg.MinIOSecretKey,
		UseSSL:    Cfg.MinIOUseSSL,
		Bucket:    Cfg.MinIOBucket,
	}
}
