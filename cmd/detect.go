package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/lenswatch/internal/alert"
	"github.com/andresmejia3/lenswatch/internal/config"
	"github.com/andresmejia3/lenswatch/internal/engine"
	"github.com/andresmejia3/lenswatch/internal/monitoring"
	"github.com/andresmejia3/lenswatch/internal/session"
	"github.com/andresmejia3/lenswatch/internal/source"
	"github.com/andresmejia3/lenswatch/internal/store"
	"github.com/andresmejia3/lenswatch/internal/types"
	"github.com/andresmejia3/lenswatch/internal/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var detectOpts Options

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run a live detection session against a camera, stream, video, or image folder",
	Long: `Runs the detection session: one frame is captured and analyzed per interval, and an alert is
raised whenever the confidence climbs above 70%. Stops on Ctrl+C, after --duration, or when the input runs out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runDetect(cmd.Context(), detectOpts, cmd.Flags().Changed)
	},
}

func init() {
	defaults := types.DefaultSessionConfig()
	camera := types.DefaultCameraSettings()

	detectCmd.Flags().StringVarP(&detectOpts.InputPath, "input", "i", "", "Video file, image folder, still image, capture device (/dev/video0) or stream URL")
	detectCmd.Flags().StringVar(&detectOpts.Format, "format", "", "Force the ffmpeg input format (e.g. v4l2, avfoundation)")
	detectCmd.Flags().StringVarP(&detectOpts.Mode, "mode", "m", string(defaults.Mode), "Detection mode: ir, motion, pattern")
	detectCmd.Flags().Float64VarP(&detectOpts.Sensitivity, "sensitivity", "s", defaults.Sensitivity, "Brightness sensitivity (0.1 - 0.9)")
	detectCmd.Flags().Float64Var(&detectOpts.MotionThreshold, "motion-threshold", defaults.MotionThreshold, "Block brightness change that counts as motion (0.0 - 1.0)")
	detectCmd.Flags().Float64Var(&detectOpts.PatternThreshold, "pattern-threshold", defaults.PatternThreshold, "Minimum classifier score in pattern mode (0.0 - 1.0)")
	detectCmd.Flags().IntVar(&detectOpts.MotionBlockSize, "motion-block", engine.DefaultBlockSize, "Edge length in pixels of a motion comparison block")
	detectCmd.Flags().StringVar(&detectOpts.Interval, "interval", session.DefaultInterval.String(), "Time between ticks")
	detectCmd.Flags().StringVarP(&detectOpts.Duration, "duration", "d", "0s", "Stop the session after this long (0 runs until interrupted)")
	detectCmd.Flags().StringVar(&detectOpts.CaptureTimeout, "capture-timeout", source.DefaultCaptureTimeout.String(), "How long a tick waits for a frame from a stream")
	detectCmd.Flags().StringVar(&detectOpts.Cooldown, "cooldown", "0s", "Minimum time between two alerts (0 alerts on every qualifying tick)")
	detectCmd.Flags().IntVar(&detectOpts.MaxWidth, "max-width", 0, "Downscale frames wider than this before analysis (0 keeps full size)")
	detectCmd.Flags().Float64Var(&detectOpts.FPS, "fps", 0, "Resample stream inputs to this frame rate (0 keeps the native rate)")
	detectCmd.Flags().BoolVar(&detectOpts.Loop, "loop", false, "Restart an image folder from the first still when it runs out")
	detectCmd.Flags().IntVar(&detectOpts.ISO, "iso", camera.ISO, "Camera ISO handed to the capture side")
	detectCmd.Flags().Float64Var(&detectOpts.Exposure, "exposure", camera.Exposure, "Camera exposure compensation handed to the capture side")
	detectCmd.Flags().Float64Var(&detectOpts.WhiteBalance, "white-balance", camera.WhiteBalance, "Camera white balance handed to the capture side")
	detectCmd.Flags().StringVar(&detectOpts.HookCommand, "hook", "", "Command that receives alerts on stdin (e.g. 'python3 notify.py')")
	detectCmd.Flags().StringVar(&detectOpts.RedisAddr, "redis", "", "Redis address (host:port) to publish alerts to")
	detectCmd.Flags().StringVar(&detectOpts.RedisChannel, "redis-channel", alert.DefaultChannel, "Redis channel for published alerts")
	detectCmd.Flags().BoolVarP(&detectOpts.Record, "record", "r", false, "Record the session and its alerts in the database")
	detectCmd.Flags().StringVar(&detectOpts.SessionName, "name", "", "Name for the recorded session")
	detectCmd.Flags().BoolVar(&detectOpts.Bell, "bell", true, "Ring the terminal bell on every alert")
	detectCmd.Flags().BoolVar(&detectOpts.Interactive, "interactive", false, "Read controls from stdin: + / - sensitivity, ir / motion / pattern, q to stop")
	detectCmd.Flags().StringVarP(&detectOpts.ConfigPath, "config", "c", "", "JSON tuning file (flags given explicitly win over it)")

	detectCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(detectCmd)
}

// detectPlan is the fully resolved configuration of one session.
type detectPlan struct {
	Session        types.SessionConfig
	Camera         types.CameraSettings
	Interval       time.Duration
	Duration       time.Duration
	CaptureTimeout time.Duration
	Cooldown       time.Duration
	MaxWidth       int
	BlockSize      int
}

// resolveDetectPlan layers defaults, the tuning file, and explicitly set flags, in that order.
func resolveDetectPlan(opts Options, changed func(string) bool) (detectPlan, error) {
	tuning := config.EmptyTuningConfig()
	if opts.ConfigPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(opts.ConfigPath); err != nil {
			return detectPlan{}, err
		}
	}

	plan := detectPlan{
		Session:        types.DefaultSessionConfig(),
		Camera:         types.DefaultCameraSettings(),
		Interval:       tuning.GetInterval(session.DefaultInterval),
		CaptureTimeout: tuning.GetCaptureTimeout(source.DefaultCaptureTimeout),
		Cooldown:       tuning.GetAlertCooldown(0),
		MaxWidth:       tuning.GetMaxWidth(0),
		BlockSize:      tuning.GetMotionBlockSize(engine.DefaultBlockSize),
	}
	tuning.ApplySession(&plan.Session)
	tuning.ApplyCamera(&plan.Camera)

	if changed("mode") {
		m, err := types.ParseMode(opts.Mode)
		if err != nil {
			return detectPlan{}, err
		}
		plan.Session.Mode = m
	}
	if changed("sensitivity") {
		plan.Session.Sensitivity = opts.Sensitivity
	}
	if changed("motion-threshold") {
		plan.Session.MotionThreshold = opts.MotionThreshold
	}
	if changed("pattern-threshold") {
		plan.Session.PatternThreshold = opts.PatternThreshold
	}
	if changed("motion-block") {
		plan.BlockSize = opts.MotionBlockSize
	}
	if changed("max-width") {
		plan.MaxWidth = opts.MaxWidth
	}
	if changed("iso") {
		plan.Camera.ISO = opts.ISO
	}
	if changed("exposure") {
		plan.Camera.Exposure = opts.Exposure
	}
	if changed("white-balance") {
		plan.Camera.WhiteBalance = opts.WhiteBalance
	}

	durations := []struct {
		flag string
		val  string
		dst  *time.Duration
	}{
		{"interval", opts.Interval, &plan.Interval},
		{"capture-timeout", opts.CaptureTimeout, &plan.CaptureTimeout},
		{"cooldown", opts.Cooldown, &plan.Cooldown},
		{"duration", opts.Duration, &plan.Duration},
	}
	for _, d := range durations {
		if !changed(d.flag) {
			continue
		}
		v, err := time.ParseDuration(d.val)
		if err != nil {
			return detectPlan{}, fmt.Errorf("invalid %s format (use '1s', '500ms'): %w", d.flag, err)
		}
		*d.dst = v
	}

	if err := plan.Session.Validate(); err != nil {
		return detectPlan{}, err
	}
	if plan.Interval <= 0 {
		return detectPlan{}, fmt.Errorf("interval must be positive, got %v", plan.Interval)
	}
	if plan.Duration < 0 || plan.Cooldown < 0 || plan.CaptureTimeout < 0 {
		return detectPlan{}, fmt.Errorf("durations must not be negative")
	}
	if plan.BlockSize < 1 {
		return detectPlan{}, fmt.Errorf("motion block must be >= 1, got %d", plan.BlockSize)
	}
	if plan.MaxWidth < 0 {
		return detectPlan{}, fmt.Errorf("max width must be >= 0, got %d", plan.MaxWidth)
	}
	return plan, nil
}

// validateDetectInput accepts existing paths, live inputs, and anything behind a forced --format.
func validateDetectInput(opts Options) error {
	if opts.InputPath == "" {
		return fmt.Errorf("--input is required")
	}
	if opts.Format != "" || utils.IsLiveInput(opts.InputPath) {
		return nil
	}
	if _, err := os.Stat(opts.InputPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input %q does not exist", opts.InputPath)
		}
		return fmt.Errorf("unable to access input %q: %w", opts.InputPath, err)
	}
	return nil
}

// runDetect wires source, engine, dispatchers and the session controller, then runs until the
// session ends.
func runDetect(ctx context.Context, opts Options, changed func(string) bool) error {
	// 1. Resolve configuration
	plan, err := resolveDetectPlan(opts, changed)
	if err != nil {
		return fail("Configuration Error", err, nil)
	}
	if err := validateDetectInput(opts); err != nil {
		return fail("Invalid input", err, nil)
	}

	if !verbose {
		monitoring.SetLogger(nil)
	}

	sessionID := uuid.New()
	fmt.Fprintf(os.Stderr, "📷 Session %s\n", sessionID.String()[:8])
	fmt.Fprintf(os.Stderr, "⚙️  Mode %s | Sensitivity %.1f | Interval %v\n", plan.Session.Mode.Title(), plan.Session.Sensitivity, plan.Interval)

	// 2. Open the frame source
	src, err := source.Open(ctx, opts.InputPath, source.Options{
		Format:         opts.Format,
		FPS:            opts.FPS,
		Loop:           opts.Loop,
		MaxWidth:       plan.MaxWidth,
		CaptureTimeout: plan.CaptureTimeout,
		Settings:       plan.Camera,
	})
	if err != nil {
		return fail("Failed to open input", err, nil)
	}
	defer src.Close()

	// 3. Alert dispatchers
	dispatchers := alert.Multi{alert.NewConsole(os.Stdout, opts.Bell)}

	if opts.HookCommand != "" {
		parts := strings.Fields(opts.HookCommand)
		hook, err := alert.NewHook(ctx, sessionID.String(), parts[0], parts[1:]...)
		if err != nil {
			return fail("Failed to start alert hook", err, nil)
		}
		defer func() {
			if err := hook.Close(); err != nil {
				utils.ShowError("Alert hook exited with an error", err, hook.Cmd)
			}
		}()
		dispatchers = append(dispatchers, hook)
		fmt.Fprintf(os.Stderr, "🪝 Alert hook started: %s\n", parts[0])
	}

	if opts.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fail("Failed to reach Redis", err, nil)
		}
		dispatchers = append(dispatchers, alert.NewRedisDispatcher(client, sessionID.String(), opts.RedisChannel, 0))
		fmt.Fprintf(os.Stderr, "📡 Publishing alerts to redis %s (%s)\n", opts.RedisAddr, opts.RedisChannel)
	}

	if opts.Record {
		if err := openDB(ctx); err != nil {
			return fail("Database unavailable", err, nil)
		}
		rec := store.SessionRecord{
			ID:          sessionID,
			Name:        opts.SessionName,
			Source:      opts.InputPath,
			Mode:        plan.Session.Mode,
			Sensitivity: plan.Session.Sensitivity,
			Camera:      src.Settings(),
			StartedAt:   time.Now(),
		}
		if err := DB.CreateSession(ctx, rec); err != nil {
			return fail("Failed to register session", err, nil)
		}
		dispatchers = append(dispatchers, &alert.Recorder{Store: DB, SessionID: sessionID})
		fmt.Fprintln(os.Stderr, "🗄️  Recording alerts to the database")
	}

	cooldown := alert.NewCooldown(dispatchers, plan.Cooldown, nil)

	// 4. Progress display
	var mediaSeconds float64
	if isPlayableFile(opts) {
		mediaSeconds = utils.GetMediaDuration(ctx, opts.InputPath)
	}
	bar := newSessionBar(expectedTicks(plan, mediaSeconds))
	obs := &sessionObserver{bar: bar}

	// 5. Session controller
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if plan.Duration > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, plan.Duration)
		defer cancel()
	}

	feed := &sessionFeed{src: src, onEnd: cancel}
	ctrl, err := session.New(session.Config{
		Source:        feed,
		Dispatcher:    cooldown,
		Analyzer:      engine.NewPipeline(nil, engine.BlockDelta{BlockSize: plan.BlockSize}),
		Interval:      plan.Interval,
		SessionConfig: plan.Session,
		Observer:      obs.observe,
	})
	if err != nil {
		return fail("Failed to create session", err, nil)
	}

	started := time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := ctrl.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		ctrl.Stop()
		ctrl.Wait()
		return nil
	})
	if opts.Interactive {
		lines := readLines(os.Stdin)
		g.Go(func() error {
			return runControls(gctx, ctrl, lines, os.Stderr, cancel)
		})
	}

	runErr := g.Wait()
	bar.Finish()

	// 6. Summary
	stats := ctrl.Stats()
	if opts.Record {
		if err := DB.EndSession(context.Background(), sessionID, time.Now(), stats.Ticks); err != nil {
			utils.ShowError("Failed to close session record", err, nil)
		}
	}
	printSummary(os.Stderr, sessionID, time.Since(started), stats, cooldown.Suppressed(), src)

	if runErr != nil {
		return fail("Session failed", runErr, nil)
	}
	if endErr := feed.Err(); endErr != nil && !errors.Is(endErr, source.ErrExhausted) {
		var cmd *utils.SafeCommand
		if fs, ok := src.(*source.FFmpegSource); ok {
			cmd = fs.Command()
		}
		return fail("Input stream ended with an error", endErr, cmd)
	}
	return nil
}

// sessionFeed ends the session once the source has nothing more to give.
type sessionFeed struct {
	src   source.Source
	onEnd func()

	mu  sync.Mutex
	err error
}

type streamEnder interface {
	Done() <-chan struct{}
}

func (f *sessionFeed) Capture(ctx context.Context) (*types.Frame, error) {
	frame, err := f.src.Capture(ctx)
	if err != nil && f.ended(err) {
		f.mu.Lock()
		if f.err == nil {
			f.err = unwrapCapture(err)
		}
		f.mu.Unlock()
		f.onEnd()
	}
	return frame, err
}

func (f *sessionFeed) ended(err error) bool {
	if errors.Is(err, source.ErrExhausted) {
		return true
	}
	if errors.Is(err, source.ErrSourceClosed) || errors.Is(err, context.Canceled) {
		return false
	}
	if s, ok := f.src.(streamEnder); ok {
		select {
		case <-s.Done():
			return true
		default:
		}
	}
	return false
}

// Err is the reason the source ran dry, if it did.
func (f *sessionFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func unwrapCapture(err error) error {
	var ce *types.CaptureError
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err
	}
	return err
}

// isPlayableFile reports whether the input is a local video file that ffprobe can measure.
func isPlayableFile(opts Options) bool {
	if opts.Format != "" {
		return false
	}
	fi, err := os.Stat(opts.InputPath)
	return err == nil && !fi.IsDir() && !source.IsImageFile(opts.InputPath)
}

// expectedTicks estimates how many ticks the session runs: the shorter of --duration and the
// media length, divided by the interval. It returns -1 for open-ended sessions.
func expectedTicks(plan detectPlan, mediaSeconds float64) int {
	length := plan.Duration
	if media := time.Duration(mediaSeconds * float64(time.Second)); media > 0 && (length == 0 || media < length) {
		length = media
	}
	if n := int(length / plan.Interval); n > 0 {
		return n
	}
	return -1
}

func newSessionBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 LensWatch Detecting"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

// sessionObserver renders every delivered tick on the progress bar.
type sessionObserver struct {
	bar *progressbar.ProgressBar
}

func (o *sessionObserver) observe(r types.DetectionResult) {
	o.bar.Describe(describeTick(r))
	o.bar.Add(1)
}

func describeTick(r types.DetectionResult) string {
	icon := "🔍"
	if r.Alerting() {
		icon = "🚨"
	}
	return fmt.Sprintf("%s %s | spots %d | confidence %3.0f%%", icon, r.Mode.Title(), len(r.Spots), r.Confidence*100)
}

// readLines feeds r line by line until EOF. The goroutine lives as long as r stays open.
func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}

// runControls applies interactive commands to a running session until ctx ends or input closes.
func runControls(ctx context.Context, ctrl *session.Controller, lines <-chan string, w io.Writer, quit func()) error {
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
		case "":
		case "+":
			fmt.Fprintf(w, "\n🎚️  Sensitivity %.1f\n", ctrl.AdjustSensitivity(types.SensitivityStep))
		case "-":
			fmt.Fprintf(w, "\n🎚️  Sensitivity %.1f\n", ctrl.AdjustSensitivity(-types.SensitivityStep))
		case "q", "quit", "stop":
			quit()
			return nil
		default:
			mode, err := types.ParseMode(cmd)
			if err != nil {
				fmt.Fprintf(w, "\n⚠️  Unknown control %q (use +, -, ir, motion, pattern, q)\n", cmd)
				continue
			}
			if err := ctrl.SetMode(mode); err != nil {
				return err
			}
			fmt.Fprintf(w, "\n🔀 Mode %s\n", mode.Title())
		}
	}
}

type frameCounter interface {
	Stats() (received, dropped uint64)
}

func printSummary(w io.Writer, id uuid.UUID, elapsed time.Duration, stats session.Stats, suppressed uint64, src source.Source) {
	fmt.Fprintf(w, "\n🏁 Session %s complete after %s.\n", id.String()[:8], elapsed.Round(time.Second))
	fmt.Fprintf(w, "   Ticks: %d (skipped %d, capture failures %d, decode failures %d, discarded %d)\n",
		stats.Ticks, stats.Skipped, stats.CaptureFailures, stats.DecodeFailures, stats.Discarded)
	fmt.Fprintf(w, "   Alerts: %d (suppressed by cooldown %d, dispatch failures %d, dropped %d)\n",
		stats.Alerts, suppressed, stats.DispatchFailures, stats.DispatchDropped)
	if fc, ok := src.(frameCounter); ok {
		received, dropped := fc.Stats()
		fmt.Fprintf(w, "   Frames: %d received, %d never analyzed\n", received, dropped)
	}
}
