package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ghmirror/internal/api"
)

func newSyncCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull GitHub data into the local database",
	}
	cmd.AddCommand(
		newSyncOrgsCommand(a),
		newSyncReposCommand(a),
		newSyncCommitsCommand(a),
		newSyncIssuesCommand(a),
		newSyncPullsCommand(a),
		newSyncEventsCommand(a),
		newSyncMembersCommand(a),
	)
	return cmd
}

func newSyncOrgsCommand(a *app) *cobra.Command {
	var accountID int64

	cmd := &cobra.Command{
		Use:   "orgs",
		Short: "Sync the account's organizations",
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
			result, err := a.syncer().SyncOrganizations(cmd.Context(), integ)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to sync as")
	return cmd
}

func newSyncReposCommand(a *app) *cobra.Command {
	var accountID, orgID int64

	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Sync repositories, optionally scoped to one organization",
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
			result, err := a.syncer().SyncRepositories(cmd.Context(), integ, orgID)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to sync as")
	cmd.Flags().Int64Var(&orgID, "org", 0, "organization id to scope the sync to")
	return cmd
}

func newSyncCommitsCommand(a *app) *cobra.Command {
	var accountID, repoID int64
	var since, until string

	cmd := &cobra.Command{
		Use:   "commits",
		Short: "Sync a repository's commits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := commitFilter(since, until)
			if err != nil {
				return err
			}

			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			integ, err := a.resolveIntegration(cmd, accountID)
			if err != nil {
				return err
			}
			result, err := a.syncer().SyncCommits(cmd.Context(), integ, repoID, filter)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to sync as")
	cmd.Flags().Int64Var(&repoID, "repo", 0, "repository id to sync")
	cmd.Flags().StringVar(&since, "since", "", "only commits after this date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&until, "until", "", "only commits before this date (YYYY-MM-DD or RFC 3339)")
	cmd.MarkFlagRequired("repo")
	return cmd
}

func newSyncIssuesCommand(a *app) *cobra.Command {
	var accountID, repoID int64
	var state string
	var labels []string

	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Sync a repository's issues",
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
			result, err := a.syncer().SyncIssues(cmd.Context(), integ, repoID, api.IssueFilter{
				State:  state,
				Labels: labels,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to sync as")
	cmd.Flags().Int64Var(&repoID, "repo", 0, "repository id to sync")
	cmd.Flags().StringVar(&state, "state", "all", "issue state filter (open, closed, all)")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "only issues carrying these labels")
	cmd.MarkFlagRequired("repo")
	return cmd
}

func newSyncPullsCommand(a *app) *cobra.Command {
	var accountID, repoID int64
	var state string

	cmd := &cobra.Command{
		Use:   "pulls",
		Short: "Sync a repository's pull requests",
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
			result, err := a.syncer().SyncPullRequests(cmd.Context(), integ, repoID, state)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to sync as")
	cmd.Flags().Int64Var(&repoID, "repo", 0, "repository id to sync")
	cmd.Flags().StringVar(&state, "state", "all", "pull request state filter (open, closed, all)")
	cmd.MarkFlagRequired("repo")
	return cmd
}

func newSyncEventsCommand(a *app) *cobra.Command {
	var accountID, issueID int64

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Sync an issue's timeline events",
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
			result, err := a.syncer().SyncIssueChangelog(cmd.Context(), integ, issueID)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to sync as")
	cmd.Flags().Int64Var(&issueID, "issue", 0, "issue id to sync events for")
	cmd.MarkFlagRequired("issue")
	return cmd
}

func newSyncMembersCommand(a *app) *cobra.Command {
	var orgID int64

	cmd := &cobra.Command{
		Use:   "members",
		Short: "Sync an organization's member roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			// The owning account is resolved from the organization record,
			// so no --account flag is needed here.
			result, err := a.syncer().SyncOrgMembers(cmd.Context(), orgID)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().Int64Var(&orgID, "org", 0, "organization id to sync members for")
	cmd.MarkFlagRequired("org")
	return cmd
}

func commitFilter(since, until string) (api.CommitFilter, error) {
	var filter api.CommitFilter
	var err error

	if since != "" {
		if filter.Since, err = parseTime(since); err != nil {
			return filter, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if filter.Until, err = parseTime(until); err != nil {
			return filter, fmt.Errorf("invalid --until: %w", err)
		}
	}
	return filter, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
