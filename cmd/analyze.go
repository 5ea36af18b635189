package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/lenswatch/internal/alert"
	"github.com/andresmejia3/lenswatch/internal/engine"
	"github.com/andresmejia3/lenswatch/internal/source"
	"github.com/andresmejia3/lenswatch/internal/types"
	"github.com/spf13/cobra"
)

var (
	analyzeOpts     Options
	analyzePrevious string
	analyzeTop      int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image_path>",
	Short: "Run one detection pass on a still image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		analyzeOpts.InputPath = args[0]
		return runAnalyze(cmd.Context(), analyzeOpts, os.Stdout)
	},
}

func init() {
	defaults := types.DefaultSessionConfig()

	analyzeCmd.Flags().StringVarP(&analyzeOpts.Mode, "mode", "m", string(defaults.Mode), "Detection mode: ir, motion, pattern")
	analyzeCmd.Flags().Float64VarP(&analyzeOpts.Sensitivity, "sensitivity", "s", defaults.Sensitivity, "Brightness sensitivity (0.1 - 0.9)")
	analyzeCmd.Flags().Float64Var(&analyzeOpts.MotionThreshold, "motion-threshold", defaults.MotionThreshold, "Block brightness change that counts as motion (0.0 - 1.0)")
	analyzeCmd.Flags().Float64Var(&analyzeOpts.PatternThreshold, "pattern-threshold", defaults.PatternThreshold, "Minimum classifier score in pattern mode (0.0 - 1.0)")
	analyzeCmd.Flags().IntVar(&analyzeOpts.MotionBlockSize, "motion-block", engine.DefaultBlockSize, "Edge length in pixels of a motion comparison block")
	analyzeCmd.Flags().IntVar(&analyzeOpts.MaxWidth, "max-width", 0, "Downscale images wider than this before analysis (0 keeps full size)")
	analyzeCmd.Flags().StringVar(&analyzePrevious, "previous", "", "Earlier image of the same scene, compared against in motion mode")
	analyzeCmd.Flags().IntVar(&analyzeTop, "top", 20, "Show at most this many spots, strongest first (0 shows all)")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.Annotate, "annotate", "a", "", "Write a copy of the image with spot markers (.png or .jpg)")
	rootCmd.AddCommand(analyzeCmd)
}

func validateAnalyzeFlags(opts Options) (types.SessionConfig, error) {
	if info, err := os.Stat(opts.InputPath); err != nil {
		return types.SessionConfig{}, fmt.Errorf("input %q: %w", opts.InputPath, err)
	} else if info.IsDir() {
		return types.SessionConfig{}, fmt.Errorf("input %q is a directory, expected an image", opts.InputPath)
	}

	mode, err := types.ParseMode(opts.Mode)
	if err != nil {
		return types.SessionConfig{}, err
	}
	cfg := types.SessionConfig{
		Sensitivity:      opts.Sensitivity,
		MotionThreshold:  opts.MotionThreshold,
		PatternThreshold: opts.PatternThreshold,
		Mode:             mode,
	}
	if err := cfg.Validate(); err != nil {
		return types.SessionConfig{}, err
	}
	if opts.MotionBlockSize < 1 {
		return types.SessionConfig{}, fmt.Errorf("motion block must be >= 1, got %d", opts.MotionBlockSize)
	}
	if opts.Annotate != "" && !isAnnotateTarget(opts.Annotate) {
		return types.SessionConfig{}, fmt.Errorf("annotate output %q must end in .png, .jpg or .jpeg", opts.Annotate)
	}
	return cfg, nil
}

// loadStill decodes an image file into a frame, downscaled to maxWidth.
func loadStill(path string, maxWidth int) (*types.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := source.Decode(data, time.Now())
	if err != nil {
		return nil, err
	}
	return source.Downscale(f, maxWidth), nil
}

func runAnalyze(ctx context.Context, opts Options, out io.Writer) error {
	// 1. Validate
	cfg, err := validateAnalyzeFlags(opts)
	if err != nil {
		return fail("Configuration Error", err, nil)
	}

	// 2. Decode
	frame, err := loadStill(opts.InputPath, opts.MaxWidth)
	if err != nil {
		return fail("Failed to decode image", err, nil)
	}

	state := types.SessionState{Status: types.StatusDetecting, Config: cfg}
	if analyzePrevious != "" {
		prev, err := loadStill(analyzePrevious, opts.MaxWidth)
		if err != nil {
			return fail("Failed to decode previous image", err, nil)
		}
		state.Previous = prev
	} else if cfg.Mode == types.ModeMotion {
		fmt.Fprintln(os.Stderr, "⚠️  Motion mode without --previous is a cold start and finds nothing.")
	}

	// 3. Analyze
	fmt.Fprintf(os.Stderr, "🔍 Analyzing %dx%d image in %s mode...\n", frame.Width, frame.Height, cfg.Mode.Title())
	pipeline := engine.NewPipeline(nil, engine.BlockDelta{BlockSize: opts.MotionBlockSize})
	result, err := pipeline.Analyze(ctx, frame, state)
	if err != nil {
		return fail("Analysis failed", err, nil)
	}

	// 4. Report
	printSpotTable(out, result.Spots, analyzeTop)
	fmt.Fprintf(out, "\nConfidence: %.0f%%\n", result.Confidence*100)
	if result.Alerting() {
		fmt.Fprintf(out, "🚨 %s\n", alert.Message(result))
	} else {
		fmt.Fprintln(out, "✅ No camera detected.")
	}

	// 5. Annotate
	if opts.Annotate != "" {
		if err := writeAnnotated(opts.Annotate, frame, result); err != nil {
			return fail("Failed to write annotated image", err, nil)
		}
		fmt.Fprintf(os.Stderr, "🖼️  Annotated image written to %s\n", opts.Annotate)
	}
	return nil
}

// printSpotTable lists spots strongest first, at most top rows (0 means all).
func printSpotTable(out io.Writer, spots []types.BrightSpot, top int) {
	if len(spots) == 0 {
		fmt.Fprintln(out, "No bright spots found.")
		return
	}

	ranked := make([]types.BrightSpot, len(spots))
	copy(ranked, spots)
	sort.SliceStable(ranked, func(i, j int) bool {
		return engine.SpotScore(ranked[i]) > engine.SpotScore(ranked[j])
	})
	shown := ranked
	if top > 0 && len(shown) > top {
		shown = shown[:top]
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tX\tY\tINTENSITY\tSIZE\tPATTERN\tSCORE")
	fmt.Fprintln(w, "-\t-\t-\t---------\t----\t-------\t-----")
	for i, s := range shown {
		fmt.Fprintf(w, "%d\t%.3f\t%.3f\t%.2f\t%.2f\t%s\t%.2f\n", i+1, s.X, s.Y, s.Intensity, s.Size, s.Pattern, engine.SpotScore(s))
	}
	w.Flush()

	if rest := len(ranked) - len(shown); rest > 0 {
		fmt.Fprintf(out, "... and %d more\n", rest)
	}
}
