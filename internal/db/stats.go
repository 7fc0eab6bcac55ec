package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Read-only aggregations over already-synced records. Nothing in this file
// touches the GitHub API or mutates state; callers are responsible for
// ownership checks on the scope ids they pass in.

// DayCount is the number of commits authored on one calendar day.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// AuthorCount is the number of commits by one author within a period.
type AuthorCount struct {
	Name   string   `json:"name"`
	Emails []string `json:"emails"`
	Count  int      `json:"count"`
}

// CommitActivity summarizes commit volume for a repository over a period.
type CommitActivity struct {
	Total   int           `json:"total_commits"`
	Authors []AuthorCount `json:"top_contributors"`
	Daily   []DayCount    `json:"daily_activity"`
}

// CommitStats aggregates commit counts for a repository since the given time:
// total, per-author tallies (top authors first), and per-day buckets.
func (db *DB) CommitStats(ctx context.Context, repositoryID int64, since time.Time) (*CommitActivity, error) {
	activity := &CommitActivity{}

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commits WHERE repository_id = ? AND author_date >= ?`,
		repositoryID, since).Scan(&activity.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to count commits: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
	SELECT author_name, GROUP_CONCAT(DISTINCT author_email), COUNT(*) AS n
	FROM commits
	WHERE repository_id = ? AND author_date >= ?
	GROUP BY author_name
	ORDER BY n DESC
	LIMIT 10`, repositoryID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate commit authors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ac AuthorCount
		var emails string
		if err := rows.Scan(&ac.Name, &emails, &ac.Count); err != nil {
			return nil, fmt.Errorf("failed to scan author stats: %w", err)
		}
		ac.Emails = splitNonEmpty(emails)
		activity.Authors = append(activity.Authors, ac)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	daily, err := db.QueryContext(ctx, `
	SELECT strftime('%Y-%m-%d', author_date), COUNT(*)
	FROM commits
	WHERE repository_id = ? AND author_date >= ?
	GROUP BY 1
	ORDER BY 1`, repositoryID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily commits: %w", err)
	}
	defer daily.Close()

	for daily.Next() {
		var dc DayCount
		if err := daily.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		activity.Daily = append(activity.Daily, dc)
	}
	return activity, daily.Err()
}

// IssueCountsByState returns per-state issue counts for a repository.
func (db *DB) IssueCountsByState(ctx context.Context, repositoryID int64) (map[string]int, error) {
	return db.countsBy(ctx,
		`SELECT state, COUNT(*) FROM issues WHERE repository_id = ? GROUP BY state`, repositoryID)
}

// PullRequestCountsByState returns per-state pull request counts for a repository.
func (db *DB) PullRequestCountsByState(ctx context.Context, repositoryID int64) (map[string]int, error) {
	return db.countsBy(ctx,
		`SELECT state, COUNT(*) FROM pull_requests WHERE repository_id = ? GROUP BY state`, repositoryID)
}

// ChangelogCountsByEvent returns per-event-type counts for an issue's timeline.
func (db *DB) ChangelogCountsByEvent(ctx context.Context, issueID int64) (map[string]int, error) {
	return db.countsBy(ctx,
		`SELECT event, COUNT(*) FROM issue_changelogs WHERE issue_id = ? GROUP BY event`, issueID)
}

// MemberStats summarizes an organization's synced membership.
type MemberStats struct {
	Total  int            `json:"total"`
	ByRole map[string]int `json:"by_role"`
	ByType map[string]int `json:"by_type"`
}

// OrgMemberStats returns member counts grouped by role and by account type.
func (db *DB) OrgMemberStats(ctx context.Context, organizationID int64) (*MemberStats, error) {
	byRole, err := db.countsBy(ctx,
		`SELECT role, COUNT(*) FROM github_users WHERE organization_id = ? GROUP BY role`, organizationID)
	if err != nil {
		return nil, err
	}
	byType, err := db.countsBy(ctx,
		`SELECT type, COUNT(*) FROM github_users WHERE organization_id = ? GROUP BY type`, organizationID)
	if err != nil {
		return nil, err
	}

	stats := &MemberStats{ByRole: byRole, ByType: byType}
	for _, n := range byRole {
		stats.Total += n
	}
	return stats, nil
}

// RepositorySummary holds record counts for one repository.
type RepositorySummary struct {
	Commits      int `json:"commits"`
	Issues       int `json:"issues"`
	PullRequests int `json:"pull_requests"`
}

// RepositoryStats counts the synced records attached to a repository.
func (db *DB) RepositoryStats(ctx context.Context, repositoryID int64) (*RepositorySummary, error) {
	summary := &RepositorySummary{}
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"commits", &summary.Commits},
		{"issues", &summary.Issues},
		{"pull_requests", &summary.PullRequests},
	} {
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM `+q.table+` WHERE repository_id = ?`, repositoryID).Scan(q.dst)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", q.table, err)
		}
	}
	return summary, nil
}

// RepoSyncStatus reports whether a repository has any synced records of a kind.
type RepoSyncStatus struct {
	RepositoryID int64  `json:"repository_id"`
	Name         string `json:"repository_name"`
	FullName     string `json:"full_name"`
	Count        int    `json:"count"`
	NeedsSync    bool   `json:"needs_sync"`
}

// SyncStatusByRepository reports, for every repository an integration owns,
// how many records of the given kind ("commits", "issues" or "pull_requests")
// have been synced and whether a first sync is still outstanding.
func (db *DB) SyncStatusByRepository(ctx context.Context, integrationID int64, kind string) ([]RepoSyncStatus, error) {
	var table string
	switch kind {
	case "commits", "issues", "pull_requests":
		table = kind
	default:
		return nil, fmt.Errorf("unknown sync status kind %q", kind)
	}

	query := `
	SELECT r.id, r.name, r.full_name, COUNT(t.id)
	FROM repositories r
	LEFT JOIN ` + table + ` t ON t.repository_id = r.id
	WHERE r.integration_id = ?
	GROUP BY r.id, r.name, r.full_name
	ORDER BY r.full_name`

	rows, err := db.QueryContext(ctx, query, integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync status: %w", err)
	}
	defer rows.Close()

	var statuses []RepoSyncStatus
	for rows.Next() {
		var st RepoSyncStatus
		if err := rows.Scan(&st.RepositoryID, &st.Name, &st.FullName, &st.Count); err != nil {
			return nil, fmt.Errorf("failed to scan sync status: %w", err)
		}
		st.NeedsSync = st.Count == 0
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (db *DB) countsBy(ctx context.Context, query string, scopeID int64) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, query, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan counts: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
