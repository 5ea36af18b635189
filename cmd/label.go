package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/lenswatch/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <session_id> <name>",
	Short:       "Assign a name to a recorded detection session",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{dbAnnotation: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			utils.Die("Invalid session ID", err, nil)
		}
		name := args[1]

		runLabel(cmd.Context(), id, name)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, id uuid.UUID, name string) {
	// 1. Database is initialized in Root PersistentPreRun
	// 2. Rename the existing session
	if err := DB.RenameSession(ctx, id, name); err != nil {
		utils.Die("Failed to label session", err, nil)
	}

	fmt.Printf("✅ Session %s labeled as '%s'\n", id.String()[:8], name)
}
