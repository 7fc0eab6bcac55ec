package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ghmirror/internal/models"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// DB represents the database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Pragmas ride on the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS integrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		github_id INTEGER NOT NULL UNIQUE,
		username TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		sync_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		github_id INTEGER NOT NULL,
		login TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		integration_id INTEGER NOT NULL REFERENCES integrations(id),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(github_id, integration_id)
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		github_id INTEGER NOT NULL UNIQUE,
		name TEXT NOT NULL,
		full_name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		private BOOLEAN NOT NULL DEFAULT 0,
		fork BOOLEAN NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT '',
		stargazers_count INTEGER NOT NULL DEFAULT 0,
		watchers_count INTEGER NOT NULL DEFAULT 0,
		forks_count INTEGER NOT NULL DEFAULT 0,
		open_issues_count INTEGER NOT NULL DEFAULT 0,
		default_branch TEXT NOT NULL DEFAULT '',
		html_url TEXT NOT NULL DEFAULT '',
		organization_id INTEGER NOT NULL DEFAULT 0,
		integration_id INTEGER NOT NULL REFERENCES integrations(id),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sha TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		author_name TEXT NOT NULL DEFAULT '',
		author_email TEXT NOT NULL DEFAULT '',
		author_date TIMESTAMP,
		committer_name TEXT NOT NULL DEFAULT '',
		committer_email TEXT NOT NULL DEFAULT '',
		committer_date TIMESTAMP,
		branch TEXT NOT NULL DEFAULT '',
		html_url TEXT NOT NULL DEFAULT '',
		repository_id INTEGER NOT NULL REFERENCES repositories(id),
		organization_id INTEGER NOT NULL DEFAULT 0,
		integration_id INTEGER NOT NULL REFERENCES integrations(id),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(sha, repository_id)
	);

	CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		github_id INTEGER NOT NULL UNIQUE,
		number INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		locked BOOLEAN NOT NULL DEFAULT 0,
		user TEXT NOT NULL DEFAULT '{}',
		assignees TEXT NOT NULL DEFAULT '[]',
		labels TEXT NOT NULL DEFAULT '[]',
		milestone TEXT,
		closed_at TIMESTAMP,
		html_url TEXT NOT NULL DEFAULT '',
		repository_id INTEGER NOT NULL REFERENCES repositories(id),
		organization_id INTEGER NOT NULL DEFAULT 0,
		integration_id INTEGER NOT NULL REFERENCES integrations(id),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pull_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		github_id INTEGER NOT NULL UNIQUE,
		number INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		locked BOOLEAN NOT NULL DEFAULT 0,
		draft BOOLEAN NOT NULL DEFAULT 0,
		merged BOOLEAN NOT NULL DEFAULT 0,
		mergeable_state TEXT NOT NULL DEFAULT '',
		merged_at TIMESTAMP,
		closed_at TIMESTAMP,
		user TEXT NOT NULL DEFAULT '{}',
		assignees TEXT NOT NULL DEFAULT '[]',
		labels TEXT NOT NULL DEFAULT '[]',
		head_ref TEXT NOT NULL DEFAULT '',
		head_sha TEXT NOT NULL DEFAULT '',
		base_ref TEXT NOT NULL DEFAULT '',
		base_sha TEXT NOT NULL DEFAULT '',
		html_url TEXT NOT NULL DEFAULT '',
		repository_id INTEGER NOT NULL REFERENCES repositories(id),
		organization_id INTEGER NOT NULL DEFAULT 0,
		integration_id INTEGER NOT NULL REFERENCES integrations(id),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS issue_changelogs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		github_id INTEGER NOT NULL UNIQUE,
		event TEXT NOT NULL,
		actor TEXT,
		assignee TEXT,
		assigner TEXT,
		label TEXT,
		milestone TEXT,
		"rename" TEXT,
		commit_id TEXT NOT NULL DEFAULT '',
		commit_url TEXT NOT NULL DEFAULT '',
		issue_id INTEGER NOT NULL REFERENCES issues(id),
		repository_id INTEGER NOT NULL REFERENCES repositories(id),
		organization_id INTEGER NOT NULL DEFAULT 0,
		integration_id INTEGER NOT NULL REFERENCES integrations(id),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS github_users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		github_id INTEGER NOT NULL,
		login TEXT NOT NULL,
		avatar_url TEXT NOT NULL DEFAULT '',
		html_url TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'User',
		site_admin BOOLEAN NOT NULL DEFAULT 0,
		role TEXT NOT NULL DEFAULT 'member',
		organization_id INTEGER NOT NULL REFERENCES organizations(id),
		integration_id INTEGER NOT NULL REFERENCES integrations(id),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(github_id, organization_id)
	);

	CREATE INDEX IF NOT EXISTS idx_repositories_integration ON repositories(integration_id);
	CREATE INDEX IF NOT EXISTS idx_commits_repository ON commits(repository_id);
	CREATE INDEX IF NOT EXISTS idx_issues_repository ON issues(repository_id);
	CREATE INDEX IF NOT EXISTS idx_pull_requests_repository ON pull_requests(repository_id);
	CREATE INDEX IF NOT EXISTS idx_issue_changelogs_issue ON issue_changelogs(issue_id);
	CREATE INDEX IF NOT EXISTS idx_github_users_organization ON github_users(organization_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// CreateIntegration records a connected GitHub account. A re-authorization of
// the same account refreshes the credential and reactivates the integration
// instead of creating a duplicate.
func (db *DB) CreateIntegration(ctx context.Context, integ *models.Integration) (*models.Integration, error) {
	if integ.GitHubID == 0 {
		return nil, fmt.Errorf("integration is missing a GitHub account id")
	}
	if integ.AccessToken == "" {
		return nil, fmt.Errorf("integration is missing an access token")
	}

	now := time.Now().UTC()
	query := `
	INSERT INTO integrations (github_id, username, display_name, email, access_token, status, sync_status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 'active', 'pending', ?, ?)
	ON CONFLICT(github_id) DO UPDATE SET
		username = excluded.username,
		display_name = excluded.display_name,
		email = excluded.email,
		access_token = excluded.access_token,
		status = 'active',
		updated_at = excluded.updated_at
	RETURNING id, status, sync_status, created_at
	`

	out := *integ
	err := db.QueryRowContext(ctx, query,
		integ.GitHubID, integ.Username, integ.DisplayName, integ.Email, integ.AccessToken, now, now,
	).Scan(&out.ID, &out.Status, &out.SyncStatus, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save integration: %w", err)
	}
	out.UpdatedAt = now

	return &out, nil
}

const integrationColumns = `id, github_id, username, display_name, email, access_token, status, sync_status, created_at, updated_at`

func scanIntegration(row *sql.Row) (*models.Integration, error) {
	var integ models.Integration
	err := row.Scan(&integ.ID, &integ.GitHubID, &integ.Username, &integ.DisplayName, &integ.Email,
		&integ.AccessToken, &integ.Status, &integ.SyncStatus, &integ.CreatedAt, &integ.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return &integ, nil
}

// GetIntegration gets an integration by its internal id.
func (db *DB) GetIntegration(ctx context.Context, id int64) (*models.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE id = ?`
	return scanIntegration(db.QueryRowContext(ctx, query, id))
}

// GetActiveIntegrationByAccount gets the active integration for an external
// GitHub account id. Inactive and errored integrations do not match.
func (db *DB) GetActiveIntegrationByAccount(ctx context.Context, githubID int64) (*models.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE github_id = ? AND status = 'active'`
	return scanIntegration(db.QueryRowContext(ctx, query, githubID))
}

// ListIntegrations lists all connected accounts, newest first.
func (db *DB) ListIntegrations(ctx context.Context) ([]*models.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []*models.Integration
	for rows.Next() {
		var integ models.Integration
		if err := rows.Scan(&integ.ID, &integ.GitHubID, &integ.Username, &integ.DisplayName, &integ.Email,
			&integ.AccessToken, &integ.Status, &integ.SyncStatus, &integ.CreatedAt, &integ.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		integrations = append(integrations, &integ)
	}
	return integrations, rows.Err()
}

// SetIntegrationStatus updates the integration status (active/inactive/error).
func (db *DB) SetIntegrationStatus(ctx context.Context, id int64, status string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE integrations SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update integration status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetIntegrationSyncStatus updates the sync status shown on the integration.
func (db *DB) SetIntegrationSyncStatus(ctx context.Context, id int64, syncStatus string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE integrations SET sync_status = ?, updated_at = ? WHERE id = ?`,
		syncStatus, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update integration sync status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteIntegration removes an integration and all records it owns. The
// descendant tables are cleared in one transaction so a failed delete never
// leaves orphaned records behind.
func (db *DB) DeleteIntegration(ctx context.Context, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"issue_changelogs", "github_users", "pull_requests", "issues", "commits", "repositories", "organizations",
	} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE integration_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s for integration: %w", table, err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM integrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// GetOrganization gets an organization by its internal id.
func (db *DB) GetOrganization(ctx context.Context, id int64) (*models.Organization, error) {
	query := `SELECT id, github_id, login, name, description, avatar_url, integration_id, created_at, updated_at
	FROM organizations WHERE id = ?`

	var org models.Organization
	err := db.QueryRowContext(ctx, query, id).Scan(&org.ID, &org.GitHubID, &org.Login, &org.Name,
		&org.Description, &org.AvatarURL, &org.IntegrationID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

const repositoryColumns = `id, github_id, name, full_name, description, private, fork, language,
	stargazers_count, watchers_count, forks_count, open_issues_count, default_branch, html_url,
	organization_id, integration_id, created_at, updated_at`

func scanRepository(scan func(...any) error) (*models.Repository, error) {
	var repo models.Repository
	err := scan(&repo.ID, &repo.GitHubID, &repo.Name, &repo.FullName, &repo.Description, &repo.Private,
		&repo.Fork, &repo.Language, &repo.StargazersCount, &repo.WatchersCount, &repo.ForksCount,
		&repo.OpenIssuesCount, &repo.DefaultBranch, &repo.HTMLURL, &repo.OrganizationID,
		&repo.IntegrationID, &repo.CreatedAt, &repo.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// GetRepository gets a repository by its internal id.
func (db *DB) GetRepository(ctx context.Context, id int64) (*models.Repository, error) {
	row := db.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)
	repo, err := scanRepository(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// ListRepositories lists the repositories owned by an integration.
func (db *DB) ListRepositories(ctx context.Context, integrationID int64) ([]*models.Repository, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE integration_id = ? ORDER BY created_at DESC`,
		integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		repo, err := scanRepository(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// GetIssue gets an issue by its internal id.
func (db *DB) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	query := `SELECT id, github_id, number, title, body, state, locked, user, assignees, labels, milestone,
	closed_at, html_url, repository_id, organization_id, integration_id, created_at, updated_at
	FROM issues WHERE id = ?`

	var issue models.Issue
	var user, milestone sql.NullString
	err := db.QueryRowContext(ctx, query, id).Scan(&issue.ID, &issue.GitHubID, &issue.Number, &issue.Title,
		&issue.Body, &issue.State, &issue.Locked, &user, &issue.Assignees, &issue.Labels, &milestone,
		&issue.ClosedAt, &issue.HTMLURL, &issue.RepositoryID, &issue.OrganizationID, &issue.IntegrationID,
		&issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}

	if user.Valid && user.String != "" {
		if err := json.Unmarshal([]byte(user.String), &issue.User); err != nil {
			return nil, fmt.Errorf("failed to decode issue user: %w", err)
		}
	}
	if milestone.Valid && milestone.String != "" {
		issue.Milestone = &models.MilestoneRef{}
		if err := json.Unmarshal([]byte(milestone.String), issue.Milestone); err != nil {
			return nil, fmt.Errorf("failed to decode issue milestone: %w", err)
		}
	}
	return &issue, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// jsonRef encodes an optional nested payload for storage, keeping NULL for
// absent values so queries can distinguish "no actor" from an empty one.
func jsonRef(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ref := v.(type) {
	case *models.ActorRef:
		if ref == nil {
			return nil, nil
		}
	case *models.LabelRef:
		if ref == nil {
			return nil, nil
		}
	case *models.MilestoneRef:
		if ref == nil {
			return nil, nil
		}
	case *models.RenameRef:
		if ref == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal nested payload: %w", err)
	}
	return string(data), nil
}
