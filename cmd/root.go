package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/lenswatch/internal/store"
	"github.com/andresmejia3/lenswatch/internal/utils"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the detect and analyze commands
type Options struct {
	InputPath        string
	Format           string
	Mode             string
	Sensitivity      float64
	MotionThreshold  float64
	PatternThreshold float64
	MotionBlockSize  int
	Interval         string
	Duration         string
	CaptureTimeout   string
	Cooldown         string
	MaxWidth         int
	FPS              float64
	Loop             bool
	ISO              int
	Exposure         float64
	WhiteBalance     float64
	HookCommand      string
	RedisAddr        string
	RedisChannel     string
	Record           bool
	SessionName      string
	Bell             bool
	Interactive      bool
	Annotate         string
	ConfigPath       string
}

// dbAnnotation marks commands that cannot run without the database.
const dbAnnotation = "lenswatch/needs-db"

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// dbURL is the connection string
	dbURL string
	// verbose keeps library logs visible while the progress bar is running
	verbose bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "lenswatch",
	Short:   "Hidden Camera Detection Engine",
	Version: Version, // This enables the --version flag
	// Execute prints errors itself, once
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[dbAnnotation] == "" {
			return nil
		}
		return openDB(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// resolveDBURL returns --db, or builds the connection string from the POSTGRES_* environment.
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/lenswatch"
}

// openDB connects the shared DB handle once.
func openDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	var err error
	DB, err = store.New(ctx, resolveDBURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if msg := exitMessage(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(1)
	}
}

// reportedError is an error the user has already seen in a framed error box.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// fail shows err in a framed error box and returns it marked as reported.
func fail(title string, err error, cmd *utils.SafeCommand) error {
	utils.ShowError(title, err, cmd)
	return &reportedError{err: err}
}

// exitMessage is what Execute prints for err; empty when err was already reported.
func exitMessage(err error) string {
	var reported *reportedError
	if errors.As(err, &reported) {
		return ""
	}
	return "Error: " + err.Error()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/lenswatch)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show library logs while detecting")
}
