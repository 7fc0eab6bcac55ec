package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ghmirror/internal/models"
	"ghmirror/internal/tenant"
)

func newStatsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate already-synced records",
	}
	cmd.AddCommand(
		newStatsCommitsCommand(a),
		newStatsIssuesCommand(a),
		newStatsPullsCommand(a),
		newStatsEventsCommand(a),
		newStatsMembersCommand(a),
		newStatsRepoCommand(a),
	)
	return cmd
}

// Every stats read resolves the calling account and checks the record's
// ownership chain before querying, the same boundary the sync paths enforce.

func (a *app) ownedRepository(cmd *cobra.Command, accountID, repoID int64) (*models.Repository, error) {
	integ, err := a.resolveIntegration(cmd, accountID)
	if err != nil {
		return nil, err
	}
	repo, err := a.store.GetRepository(cmd.Context(), repoID)
	if err != nil {
		return nil, err
	}
	if err := tenant.RequireOwnership(integ, repo.IntegrationID); err != nil {
		return nil, fmt.Errorf("repository %d: %w", repoID, err)
	}
	return repo, nil
}

func (a *app) ownedOrganization(cmd *cobra.Command, accountID, orgID int64) (*models.Organization, error) {
	integ, err := a.resolveIntegration(cmd, accountID)
	if err != nil {
		return nil, err
	}
	org, err := a.store.GetOrganization(cmd.Context(), orgID)
	if err != nil {
		return nil, err
	}
	if err := tenant.RequireOwnership(integ, org.IntegrationID); err != nil {
		return nil, fmt.Errorf("organization %d: %w", orgID, err)
	}
	return org, nil
}

func (a *app) ownedIssue(cmd *cobra.Command, accountID, issueID int64) (*models.Issue, error) {
	integ, err := a.resolveIntegration(cmd, accountID)
	if err != nil {
		return nil, err
	}
	issue, err := a.store.GetIssue(cmd.Context(), issueID)
	if err != nil {
		return nil, err
	}
	if err := tenant.RequireOwnership(integ, issue.IntegrationID); err != nil {
		return nil, fmt.Errorf("issue %d: %w", issueID, err)
	}
	return issue, nil
}

func newStatsCommitsCommand(a *app) *cobra.Command {
	var accountID, repoID int64
	var days int

	cmd := &cobra.Command{
		Use:   "commits",
		Short: "Commit activity for a repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			repo, err := a.ownedRepository(cmd, accountID, repoID)
			if err != nil {
				return err
			}

			since := time.Now().UTC().AddDate(0, 0, -days)
			activity, err := a.store.CommitStats(cmd.Context(), repo.ID, since)
			if err != nil {
				return err
			}
			return printJSON(activity)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to read as")
	cmd.Flags().Int64Var(&repoID, "repo", 0, "repository id")
	cmd.Flags().IntVar(&days, "days", 30, "look-back window in days")
	cmd.MarkFlagRequired("repo")
	return cmd
}

func newStatsIssuesCommand(a *app) *cobra.Command {
	var accountID, repoID int64

	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Issue counts by state for a repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			repo, err := a.ownedRepository(cmd, accountID, repoID)
			if err != nil {
				return err
			}

			counts, err := a.store.IssueCountsByState(cmd.Context(), repo.ID)
			if err != nil {
				return err
			}
			return printJSON(counts)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to read as")
	cmd.Flags().Int64Var(&repoID, "repo", 0, "repository id")
	cmd.MarkFlagRequired("repo")
	return cmd
}

func newStatsPullsCommand(a *app) *cobra.Command {
	var accountID, repoID int64

	cmd := &cobra.Command{
		Use:   "pulls",
		Short: "Pull request counts by state for a repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			repo, err := a.ownedRepository(cmd, accountID, repoID)
			if err != nil {
				return err
			}

			counts, err := a.store.PullRequestCountsByState(cmd.Context(), repo.ID)
			if err != nil {
				return err
			}
			return printJSON(counts)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to read as")
	cmd.Flags().Int64Var(&repoID, "repo", 0, "repository id")
	cmd.MarkFlagRequired("repo")
	return cmd
}

func newStatsEventsCommand(a *app) *cobra.Command {
	var accountID, issueID int64

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Timeline event counts by type for an issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			issue, err := a.ownedIssue(cmd, accountID, issueID)
			if err != nil {
				return err
			}

			counts, err := a.store.ChangelogCountsByEvent(cmd.Context(), issue.ID)
			if err != nil {
				return err
			}
			return printJSON(counts)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to read as")
	cmd.Flags().Int64Var(&issueID, "issue", 0, "issue id")
	cmd.MarkFlagRequired("issue")
	return cmd
}

func newStatsMembersCommand(a *app) *cobra.Command {
	var accountID, orgID int64

	cmd := &cobra.Command{
		Use:   "members",
		Short: "Member counts by role and type for an organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			org, err := a.ownedOrganization(cmd, accountID, orgID)
			if err != nil {
				return err
			}

			stats, err := a.store.OrgMemberStats(cmd.Context(), org.ID)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to read as")
	cmd.Flags().Int64Var(&orgID, "org", 0, "organization id")
	cmd.MarkFlagRequired("org")
	return cmd
}

func newStatsRepoCommand(a *app) *cobra.Command {
	var accountID, repoID int64

	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Synced record counts for a repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			repo, err := a.ownedRepository(cmd, accountID, repoID)
			if err != nil {
				return err
			}

			summary, err := a.store.RepositoryStats(cmd.Context(), repo.ID)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "GitHub account id to read as")
	cmd.Flags().Int64Var(&repoID, "repo", 0, "repository id")
	cmd.MarkFlagRequired("repo")
	return cmd
}
