package cmd

import (
	"github.com/spf13/cobra"

	"ghmirror/internal/db"
)

func newStatusCommand(a *app) *cobra.Command {
	var accountID int64
	var kind string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which repositories still need a first sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			integ, err := a.resolveIntegration(cmd, accountID)
			if err != nil {
				return err
			}

			statuses, err := a.store.SyncStatusByRepository(cmd.Context(), integ.ID, kind)
			if err != nil {
				return err
			}
			if statuses == nil {
				statuses = []db.RepoSyncStatus{}
			}

			return printJSON(map[string]any{
				"integration_id": integ.ID,
				"sync_status":    integ.SyncStatus,
				"kind":           kind,
				"repositories":   statuses,
			})
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to report on")
	cmd.Flags().StringVar(&kind, "kind", "commits", "record kind to report (commits, issues, pull_requests)")
	return cmd
}
