package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCmd lists the stored offline attempts and the last sync outcome of their quizzes.
func NewStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show offline attempts waiting to be synced",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEngine(cmd, *configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			ctx := cmd.Context()

			attempts, err := e.offline.AllAttempts(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(attempts) == 0 {
				fmt.Fprintln(out, "no offline attempts")
				return nil
			}
			sort.Slice(attempts, func(i, j int) bool {
				if attempts[i].QuizID != attempts[j].QuizID {
					return attempts[i].QuizID < attempts[j].QuizID
				}
				return attempts[i].Number < attempts[j].Number
			})

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUIZ\tATTEMPT\tNUMBER\tFINISHED\tMODIFIED\tLAST SYNC")
			warnings := make(map[int64][]string)
			for _, a := range attempts {
				synced := "never"
				if at, err := e.store.SyncTime(ctx, a.QuizID); err == nil && !at.IsZero() {
					synced = at.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%d\t%d\t%t\t%s\t%s\n", a.QuizID, a.ID, a.Number, a.Finished, a.TimeModified.Format(time.RFC3339), synced)
				if _, seen := warnings[a.QuizID]; !seen {
					warnings[a.QuizID], _ = e.reconciler.SyncWarnings(ctx, a.QuizID)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			quizIDs := make([]int64, 0, len(warnings))
			for id := range warnings {
				quizIDs = append(quizIDs, id)
			}
			sort.Slice(quizIDs, func(i, j int) bool { return quizIDs[i] < quizIDs[j] })
			for _, id := range quizIDs {
				for _, warning := range warnings[id] {
					fmt.Fprintf(out, "quiz %d: %s\n", id, warning)
				}
			}
			return nil
		},
	}
}
