package db

import (
	"context"
	"fmt"
	"time"

	"ghmirror/internal/models"
)

// Each upsert below is a single conditional write keyed by the entity's
// uniqueness invariant. The insert carries the full record including ownership
// refs; the conflict branch touches only mutable fields plus updated_at, so
// internal ids, created_at, external ids, and ownership never change once a
// record exists. RETURNING created_at tells us whether the row was inserted on
// this call: only a fresh insert carries the timestamp we just passed in.

// UpsertOrganization creates or updates an organization keyed by
// (github_id, integration_id).
func (db *DB) UpsertOrganization(ctx context.Context, org *models.Organization) (*models.Organization, bool, error) {
	if org.GitHubID == 0 {
		return nil, false, fmt.Errorf("organization is missing a GitHub id")
	}
	if org.IntegrationID == 0 {
		return nil, false, fmt.Errorf("organization is missing an owning integration")
	}

	now := time.Now().UTC()
	query := `
	INSERT INTO organizations (github_id, login, name, description, avatar_url, integration_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(github_id, integration_id) DO UPDATE SET
		login = excluded.login,
		name = excluded.name,
		description = excluded.description,
		avatar_url = excluded.avatar_url,
		updated_at = excluded.updated_at
	RETURNING id, created_at
	`

	out := *org
	err := db.QueryRowContext(ctx, query,
		org.GitHubID, org.Login, org.Name, org.Description, org.AvatarURL, org.IntegrationID, now, now,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save organization %s: %w", org.Login, err)
	}
	out.UpdatedAt = now

	return &out, out.CreatedAt.Equal(now), nil
}

// UpsertRepository creates or updates a repository keyed by its GitHub id.
func (db *DB) UpsertRepository(ctx context.Context, repo *models.Repository) (*models.Repository, bool, error) {
	if repo.GitHubID == 0 {
		return nil, false, fmt.Errorf("repository is missing a GitHub id")
	}
	if repo.IntegrationID == 0 {
		return nil, false, fmt.Errorf("repository is missing an owning integration")
	}

	now := time.Now().UTC()
	query := `
	INSERT INTO repositories (github_id, name, full_name, description, private, fork, language,
		stargazers_count, watchers_count, forks_count, open_issues_count, default_branch, html_url,
		organization_id, integration_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(github_id) DO UPDATE SET
		name = excluded.name,
		full_name = excluded.full_name,
		description = excluded.description,
		private = excluded.private,
		fork = excluded.fork,
		language = excluded.language,
		stargazers_count = excluded.stargazers_count,
		watchers_count = excluded.watchers_count,
		forks_count = excluded.forks_count,
		open_issues_count = excluded.open_issues_count,
		default_branch = excluded.default_branch,
		html_url = excluded.html_url,
		updated_at = excluded.updated_at
	RETURNING id, created_at
	`

	out := *repo
	err := db.QueryRowContext(ctx, query,
		repo.GitHubID, repo.Name, repo.FullName, repo.Description, repo.Private, repo.Fork, repo.Language,
		repo.StargazersCount, repo.WatchersCount, repo.ForksCount, repo.OpenIssuesCount, repo.DefaultBranch,
		repo.HTMLURL, repo.OrganizationID, repo.IntegrationID, now, now,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save repository %s: %w", repo.FullName, err)
	}
	out.UpdatedAt = now

	return &out, out.CreatedAt.Equal(now), nil
}

// UpsertCommit creates or updates a commit keyed by (sha, repository_id).
func (db *DB) UpsertCommit(ctx context.Context, commit *models.Commit) (*models.Commit, bool, error) {
	if commit.SHA == "" {
		return nil, false, fmt.Errorf("commit is missing a sha")
	}
	if commit.RepositoryID == 0 || commit.IntegrationID == 0 {
		return nil, false, fmt.Errorf("commit %s is missing its ownership chain", commit.SHA)
	}

	now := time.Now().UTC()
	query := `
	INSERT INTO commits (sha, message, author_name, author_email, author_date,
		committer_name, committer_email, committer_date, branch, html_url,
		repository_id, organization_id, integration_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(sha, repository_id) DO UPDATE SET
		message = excluded.message,
		author_name = excluded.author_name,
		author_email = excluded.author_email,
		author_date = excluded.author_date,
		committer_name = excluded.committer_name,
		committer_email = excluded.committer_email,
		committer_date = excluded.committer_date,
		updated_at = excluded.updated_at
	RETURNING id, created_at
	`

	out := *commit
	err := db.QueryRowContext(ctx, query,
		commit.SHA, commit.Message, commit.Author.Name, commit.Author.Email, commit.Author.Date,
		commit.Committer.Name, commit.Committer.Email, commit.Committer.Date, commit.Branch, commit.HTMLURL,
		commit.RepositoryID, commit.OrganizationID, commit.IntegrationID, now, now,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save commit %s: %w", commit.SHA, err)
	}
	out.UpdatedAt = now

	return &out, out.CreatedAt.Equal(now), nil
}

// UpsertIssue creates or updates an issue keyed by its GitHub id. The
// reporting user is recorded at creation and left alone afterwards.
func (db *DB) UpsertIssue(ctx context.Context, issue *models.Issue) (*models.Issue, bool, error) {
	if issue.GitHubID == 0 {
		return nil, false, fmt.Errorf("issue is missing a GitHub id")
	}
	if issue.RepositoryID == 0 || issue.IntegrationID == 0 {
		return nil, false, fmt.Errorf("issue #%d is missing its ownership chain", issue.Number)
	}

	user, err := jsonRef(&issue.User)
	if err != nil {
		return nil, false, err
	}
	milestone, err := jsonRef(issue.Milestone)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	query := `
	INSERT INTO issues (github_id, number, title, body, state, locked, user, assignees, labels, milestone,
		closed_at, html_url, repository_id, organization_id, integration_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(github_id) DO UPDATE SET
		number = excluded.number,
		title = excluded.title,
		body = excluded.body,
		state = excluded.state,
		locked = excluded.locked,
		assignees = excluded.assignees,
		labels = excluded.labels,
		milestone = excluded.milestone,
		closed_at = excluded.closed_at,
		updated_at = excluded.updated_at
	RETURNING id, created_at
	`

	out := *issue
	err = db.QueryRowContext(ctx, query,
		issue.GitHubID, issue.Number, issue.Title, issue.Body, issue.State, issue.Locked,
		user, issue.Assignees, issue.Labels, milestone, issue.ClosedAt, issue.HTMLURL,
		issue.RepositoryID, issue.OrganizationID, issue.IntegrationID, now, now,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save issue #%d: %w", issue.Number, err)
	}
	out.UpdatedAt = now

	return &out, out.CreatedAt.Equal(now), nil
}

// UpsertPullRequest creates or updates a pull request keyed by its GitHub id.
func (db *DB) UpsertPullRequest(ctx context.Context, pr *models.PullRequest) (*models.PullRequest, bool, error) {
	if pr.GitHubID == 0 {
		return nil, false, fmt.Errorf("pull request is missing a GitHub id")
	}
	if pr.RepositoryID == 0 || pr.IntegrationID == 0 {
		return nil, false, fmt.Errorf("pull request #%d is missing its ownership chain", pr.Number)
	}

	user, err := jsonRef(&pr.User)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	query := `
	INSERT INTO pull_requests (github_id, number, title, body, state, locked, draft, merged, mergeable_state,
		merged_at, closed_at, user, assignees, labels, head_ref, head_sha, base_ref, base_sha, html_url,
		repository_id, organization_id, integration_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(github_id) DO UPDATE SET
		number = excluded.number,
		title = excluded.title,
		body = excluded.body,
		state = excluded.state,
		locked = excluded.locked,
		draft = excluded.draft,
		merged = excluded.merged,
		mergeable_state = excluded.mergeable_state,
		merged_at = excluded.merged_at,
		closed_at = excluded.closed_at,
		user = excluded.user,
		assignees = excluded.assignees,
		labels = excluded.labels,
		head_ref = excluded.head_ref,
		head_sha = excluded.head_sha,
		base_ref = excluded.base_ref,
		base_sha = excluded.base_sha,
		updated_at = excluded.updated_at
	RETURNING id, created_at
	`

	out := *pr
	err = db.QueryRowContext(ctx, query,
		pr.GitHubID, pr.Number, pr.Title, pr.Body, pr.State, pr.Locked, pr.Draft, pr.Merged, pr.MergeableState,
		pr.MergedAt, pr.ClosedAt, user, pr.Assignees, pr.Labels, pr.HeadRef, pr.HeadSHA, pr.BaseRef, pr.BaseSHA,
		pr.HTMLURL, pr.RepositoryID, pr.OrganizationID, pr.IntegrationID, now, now,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save pull request #%d: %w", pr.Number, err)
	}
	out.UpdatedAt = now

	return &out, out.CreatedAt.Equal(now), nil
}

// UpsertIssueChangelog creates or updates a timeline event keyed by its
// GitHub event id.
func (db *DB) UpsertIssueChangelog(ctx context.Context, cl *models.IssueChangelog) (*models.IssueChangelog, bool, error) {
	if cl.GitHubID == 0 {
		return nil, false, fmt.Errorf("changelog event is missing a GitHub id")
	}
	if cl.IssueID == 0 || cl.RepositoryID == 0 || cl.IntegrationID == 0 {
		return nil, false, fmt.Errorf("changelog event %d is missing its ownership chain", cl.GitHubID)
	}

	actor, err := jsonRef(cl.Actor)
	if err != nil {
		return nil, false, err
	}
	assignee, err := jsonRef(cl.Assignee)
	if err != nil {
		return nil, false, err
	}
	assigner, err := jsonRef(cl.Assigner)
	if err != nil {
		return nil, false, err
	}
	label, err := jsonRef(cl.Label)
	if err != nil {
		return nil, false, err
	}
	milestone, err := jsonRef(cl.Milestone)
	if err != nil {
		return nil, false, err
	}
	rename, err := jsonRef(cl.Rename)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	query := `
	INSERT INTO issue_changelogs (github_id, event, actor, assignee, assigner, label, milestone, "rename",
		commit_id, commit_url, issue_id, repository_id, organization_id, integration_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(github_id) DO UPDATE SET
		event = excluded.event,
		actor = excluded.actor,
		assignee = excluded.assignee,
		assigner = excluded.assigner,
		label = excluded.label,
		milestone = excluded.milestone,
		"rename" = excluded."rename",
		commit_id = excluded.commit_id,
		commit_url = excluded.commit_url,
		updated_at = excluded.updated_at
	RETURNING id, created_at
	`

	out := *cl
	err = db.QueryRowContext(ctx, query,
		cl.GitHubID, cl.Event, actor, assignee, assigner, label, milestone, rename,
		cl.CommitID, cl.CommitURL, cl.IssueID, cl.RepositoryID, cl.OrganizationID, cl.IntegrationID, now, now,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save changelog event %d: %w", cl.GitHubID, err)
	}
	out.UpdatedAt = now

	return &out, out.CreatedAt.Equal(now), nil
}

// UpsertGitHubUser creates or updates an organization member keyed by
// (github_id, organization_id). The role assigned at creation survives
// re-syncs; membership listings do not carry role information.
func (db *DB) UpsertGitHubUser(ctx context.Context, user *models.GitHubUser) (*models.GitHubUser, bool, error) {
	if user.GitHubID == 0 {
		return nil, false, fmt.Errorf("github user is missing a GitHub id")
	}
	if user.OrganizationID == 0 || user.IntegrationID == 0 {
		return nil, false, fmt.Errorf("github user %s is missing its ownership chain", user.Login)
	}
	if user.Role == "" {
		user.Role = "member"
	}

	now := time.Now().UTC()
	query := `
	INSERT INTO github_users (github_id, login, avatar_url, html_url, type, site_admin, role,
		organization_id, integration_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(github_id, organization_id) DO UPDATE SET
		login = excluded.login,
		avatar_url = excluded.avatar_url,
		html_url = excluded.html_url,
		type = excluded.type,
		site_admin = excluded.site_admin,
		updated_at = excluded.updated_at
	RETURNING id, created_at
	`

	out := *user
	err := db.QueryRowContext(ctx, query,
		user.GitHubID, user.Login, user.AvatarURL, user.HTMLURL, user.Type, user.SiteAdmin, user.Role,
		user.OrganizationID, user.IntegrationID, now, now,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save github user %s: %w", user.Login, err)
	}
	out.UpdatedAt = now

	return &out, out.CreatedAt.Equal(now), nil
}
