package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"ghmirror/internal/api"
	"ghmirror/internal/models"
)

// integrationView is the JSON shape for a connected account. The access
// token never leaves the database.
type integrationView struct {
	ID          int64     `json:"id"`
	GitHubID    int64     `json:"github_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	Status      string    `json:"status"`
	SyncStatus  string    `json:"sync_status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func viewIntegration(integ *models.Integration) integrationView {
	return integrationView{
		ID:          integ.ID,
		GitHubID:    integ.GitHubID,
		Username:    integ.Username,
		DisplayName: integ.DisplayName,
		Email:       integ.Email,
		Status:      integ.Status,
		SyncStatus:  integ.SyncStatus,
		CreatedAt:   integ.CreatedAt,
		UpdatedAt:   integ.UpdatedAt,
	}
}

func newIntegrationCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integration",
		Short: "Manage connected GitHub accounts",
	}
	cmd.AddCommand(
		newIntegrationAddCommand(a),
		newIntegrationListCommand(a),
		newIntegrationRemoveCommand(a),
	)
	return cmd
}

func newIntegrationAddCommand(a *app) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Connect a GitHub account by personal access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			if token == "" {
				token = a.cfg.GitHubToken
			}
			if token == "" {
				return fmt.Errorf("no token given, pass --token or set GHMIRROR_GITHUB_TOKEN")
			}

			viewer, err := api.NewViewerClient(token).Viewer(cmd.Context())
			if err != nil {
				return err
			}

			integ, err := a.store.CreateIntegration(cmd.Context(), &models.Integration{
				GitHubID:    viewer.DatabaseID,
				Username:    viewer.Login,
				DisplayName: viewer.Name,
				Email:       viewer.Email,
				AccessToken: token,
			})
			if err != nil {
				return err
			}
			return printJSON(viewIntegration(integ))
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "GitHub personal access token")
	return cmd
}

func newIntegrationListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connected accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			integrations, err := a.store.ListIntegrations(cmd.Context())
			if err != nil {
				return err
			}

			views := make([]integrationView, 0, len(integrations))
			for _, integ := range integrations {
				views = append(views, viewIntegration(integ))
			}
			return printJSON(views)
		},
	}
}

func newIntegrationRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Disconnect an account and delete everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integration id %q", args[0])
			}

			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			if err := a.store.DeleteIntegration(cmd.Context(), id); err != nil {
				return err
			}
			return printJSON(map[string]int64{"removed": id})
		},
	}
}
