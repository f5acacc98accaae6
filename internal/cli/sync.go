package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSyncCmd replays the stored offline attempts once.
func NewSyncCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync offline attempts with the site",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEngine(cmd, *configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.reconciler.SyncAll(cmd.Context(), force); err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sync complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", true, "sync quizzes synced recently too")
	return cmd
}
