package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/lenswatch/internal/store"
	"github.com/andresmejia3/lenswatch/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	alertsSession  string
	alertsLimit    int
	alertsSessions bool
	alertsSpots    bool
)

var alertsCmd = &cobra.Command{
	Use:         "alerts",
	Short:       "List recorded alerts (or sessions with --sessions)",
	Annotations: map[string]string{dbAnnotation: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		if alertsSessions {
			runListSessions(cmd.Context(), os.Stdout)
			return
		}
		runListAlerts(cmd.Context(), os.Stdout)
	},
}

func init() {
	alertsCmd.Flags().StringVar(&alertsSession, "session", "", "Only show alerts of this session ID")
	alertsCmd.Flags().IntVarP(&alertsLimit, "limit", "n", 50, "Maximum number of alerts to show")
	alertsCmd.Flags().BoolVar(&alertsSessions, "sessions", false, "List recorded sessions instead of alerts")
	alertsCmd.Flags().BoolVar(&alertsSpots, "spots", false, "Print the spots of every listed alert")
	rootCmd.AddCommand(alertsCmd)
}

func runListAlerts(ctx context.Context, out io.Writer) {
	filter := store.AlertFilter{Limit: alertsLimit}
	if alertsSession != "" {
		id, err := uuid.Parse(alertsSession)
		if err != nil {
			utils.Die("Invalid session ID", err, nil)
		}
		filter.SessionID = id
	}

	alerts, err := DB.ListAlerts(ctx, filter)
	if err != nil {
		utils.Die("Failed to list alerts", err, nil)
	}

	if len(alerts) == 0 {
		fmt.Fprintln(out, "No alerts found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSESSION\tTICK\tMODE\tSPOTS\tCONFIDENCE\tCAPTURED")
	fmt.Fprintln(w, "--\t-------\t----\t----\t-----\t----------\t--------")
	for _, a := range alerts {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\t%.0f%%\t%s\n",
			a.ID, sessionLabel(a.SessionID, a.SessionName), a.Tick, a.Mode.Title(), a.SpotCount,
			a.Confidence*100, a.CapturedAt.Local().Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	if !alertsSpots {
		return
	}
	for _, a := range alerts {
		spots, err := DB.AlertSpots(ctx, a.ID)
		if err != nil {
			utils.Die("Failed to load alert spots", err, nil)
		}
		fmt.Fprintf(out, "\nAlert %d:\n", a.ID)
		printSpotTable(out, spots, 0)
	}
}

func runListSessions(ctx context.Context, out io.Writer) {
	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}

	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSOURCE\tMODE\tTICKS\tALERTS\tSTARTED\tDURATION")
	fmt.Fprintln(w, "--\t----\t------\t----\t-----\t------\t-------\t--------")
	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = fmtDuration(s.EndedAt.Sub(s.StartedAt).Seconds())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			s.ID, s.Name, s.Source, s.Mode.Title(), s.Ticks, s.Alerts,
			s.StartedAt.Local().Format("2006-01-02 15:04"), duration)
	}
	w.Flush()
}

// sessionLabel prefers the session name over its short ID.
func sessionLabel(id uuid.UUID, name string) string {
	if name != "" {
		return name
	}
	return id.String()[:8]
}

func fmtDuration(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
