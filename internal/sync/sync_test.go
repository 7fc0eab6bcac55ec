package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghmirror/internal/api"
	"ghmirror/internal/db"
	"ghmirror/internal/models"
	"ghmirror/internal/tenant"
)

func newTestStore(t *testing.T) *db.DB {
	t.Helper()

	store, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestSyncer(t *testing.T, store *db.DB, handler http.Handler) *Syncer {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s := NewSyncer(store, Config{Workers: 4, Timeout: 30 * time.Second})
	s.SetClientFactory(func(token string) *api.Client {
		client := api.NewClient(token)
		require.NoError(t, client.SetBaseURL(server.URL))
		client.SetRetryConfig(api.RetryConfig{
			MaxRetries:    1,
			InitialDelay:  time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 1,
		})
		return client
	})
	return s
}

func addIntegration(t *testing.T, store *db.DB, githubID int64) *models.Integration {
	t.Helper()

	integ, err := store.CreateIntegration(context.Background(), &models.Integration{
		GitHubID:    githubID,
		Username:    "alice",
		AccessToken: "test-token",
	})
	require.NoError(t, err)
	return integ
}

func addRepository(t *testing.T, store *db.DB, integ *models.Integration, githubID int64, fullName string) *models.Repository {
	t.Helper()

	parts := strings.SplitN(fullName, "/", 2)
	repo, _, err := store.UpsertRepository(context.Background(), &models.Repository{
		GitHubID:      githubID,
		Name:          parts[1],
		FullName:      fullName,
		DefaultBranch: "main",
		HTMLURL:       "https://github.com/" + fullName,
		IntegrationID: integ.ID,
	})
	require.NoError(t, err)
	return repo
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

func TestSyncOrganizations(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.Handle("/user/orgs", jsonHandler(`[
		{"id": 100, "login": "acme", "description": "widgets"},
		{"id": 101, "login": "globex"}
	]`))

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)

	result, err := s.SyncOrganizations(context.Background(), integ)
	require.NoError(t, err)
	assert.Equal(t, "organizations", result.Kind)
	assert.Equal(t, 2, result.Synced)
	assert.Zero(t, result.Failed)
	require.Len(t, result.Records, 2)

	first, ok := result.Records[0].(*models.Organization)
	require.True(t, ok)
	assert.Equal(t, int64(100), first.GitHubID)
	assert.NotZero(t, first.ID)

	got, err := store.GetIntegration(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCompleted, got.SyncStatus)
}

func TestSyncOrganizationsRenameUpdatesInPlace(t *testing.T) {
	store := newTestStore(t)
	login := "acme"
	mux := http.NewServeMux()
	mux.HandleFunc("/user/orgs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[{"id": 100, "login": %q}]`, login)
	})

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)

	_, err := s.SyncOrganizations(context.Background(), integ)
	require.NoError(t, err)

	login = "acme-renamed"
	result, err := s.SyncOrganizations(context.Background(), integ)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	var count int
	var gotLogin string
	require.NoError(t, store.QueryRow(`SELECT COUNT(*) FROM organizations`).Scan(&count))
	require.NoError(t, store.QueryRow(`SELECT login FROM organizations WHERE github_id = 100`).Scan(&gotLogin))
	assert.Equal(t, 1, count)
	assert.Equal(t, "acme-renamed", gotLogin)
}

func TestSyncOrganizationsPagination(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/user/orgs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"id": 101, "login": "globex"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/user/orgs?page=2>; rel="next"`, r.Host))
		fmt.Fprint(w, `[{"id": 100, "login": "acme"}]`)
	})

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)

	result, err := s.SyncOrganizations(context.Background(), integ)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
}

func TestSyncRepositoriesAttributesOrganizations(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.Handle("/user/orgs", jsonHandler(`[{"id": 100, "login": "acme"}]`))
	mux.Handle("/user/repos", jsonHandler(`[
		{"id": 555, "name": "widgets", "full_name": "acme/widgets",
		 "owner": {"id": 100, "login": "acme", "type": "Organization"}},
		{"id": 556, "name": "dotfiles", "full_name": "alice/dotfiles",
		 "owner": {"id": 1001, "login": "alice", "type": "User"}}
	]`))

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)

	_, err := s.SyncOrganizations(context.Background(), integ)
	require.NoError(t, err)

	result, err := s.SyncRepositories(context.Background(), integ, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)

	var orgID int64
	require.NoError(t, store.QueryRow(`SELECT organization_id FROM repositories WHERE github_id = 555`).Scan(&orgID))
	assert.NotZero(t, orgID)

	require.NoError(t, store.QueryRow(`SELECT organization_id FROM repositories WHERE github_id = 556`).Scan(&orgID))
	assert.Zero(t, orgID)
}

func TestSyncRepositoriesScopedToOrganization(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.Handle("/orgs/acme/repos", jsonHandler(`[
		{"id": 555, "name": "widgets", "full_name": "acme/widgets"}
	]`))

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)
	org, _, err := store.UpsertOrganization(context.Background(), &models.Organization{
		GitHubID: 100, Login: "acme", IntegrationID: integ.ID,
	})
	require.NoError(t, err)

	result, err := s.SyncRepositories(context.Background(), integ, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	var orgID int64
	require.NoError(t, store.QueryRow(`SELECT organization_id FROM repositories WHERE github_id = 555`).Scan(&orgID))
	assert.Equal(t, org.ID, orgID)
}

func TestSyncRepositoriesUnknownOrganization(t *testing.T) {
	store := newTestStore(t)
	s := newTestSyncer(t, store, http.NewServeMux())
	integ := addIntegration(t, store, 1001)

	_, err := s.SyncRepositories(context.Background(), integ, 999)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSyncCommits(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.Handle("/repos/acme/widgets/commits", jsonHandler(`[
		{"sha": "abc123", "commit": {
			"message": "fix the widget",
			"author": {"name": "Alice", "email": "alice@example.com", "date": "2024-03-01T12:00:00Z"}
		}},
		{"sha": "def456", "commit": {
			"message": "add gadget",
			"author": {"name": "Bob", "email": "bob@example.com", "date": "2024-03-02T12:00:00Z"}
		}}
	]`))

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)
	repo := addRepository(t, store, integ, 555, "acme/widgets")

	result, err := s.SyncCommits(context.Background(), integ, repo.ID, api.CommitFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)
	assert.Zero(t, result.Failed)

	var branch string
	require.NoError(t, store.QueryRow(`SELECT branch FROM commits WHERE sha = 'abc123'`).Scan(&branch))
	assert.Equal(t, "main", branch)
}

func TestSyncCommitsEmptyRepository(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/commits", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"message": "Git Repository is empty."}`)
	})

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)
	repo := addRepository(t, store, integ, 555, "acme/widgets")

	result, err := s.SyncCommits(context.Background(), integ, repo.ID, api.CommitFilter{})
	require.NoError(t, err)
	assert.Equal(t, "commits", result.Kind)
	assert.Zero(t, result.Synced)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Records)

	got, err := store.GetIntegration(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCompleted, got.SyncStatus)
}

func TestSyncCommitsPartialFailure(t *testing.T) {
	store := newTestStore(t)

	var commits []string
	for i := 0; i < 9; i++ {
		commits = append(commits, fmt.Sprintf(`{"sha": "sha%d", "commit": {"message": "change %d"}}`, i, i))
	}
	// One payload without a sha cannot be saved.
	commits = append(commits, `{"commit": {"message": "broken"}}`)

	mux := http.NewServeMux()
	mux.Handle("/repos/acme/widgets/commits", jsonHandler("["+strings.Join(commits, ",")+"]"))

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)
	repo := addRepository(t, store, integ, 555, "acme/widgets")

	result, err := s.SyncCommits(context.Background(), integ, repo.ID, api.CommitFilter{})
	require.NoError(t, err)
	assert.Equal(t, 9, result.Synced)
	assert.Equal(t, 1, result.Failed)
}

func TestSyncCommitsOwnershipRejected(t *testing.T) {
	store := newTestStore(t)
	s := newTestSyncer(t, store, http.NewServeMux())

	owner := addIntegration(t, store, 1001)
	intruder := addIntegration(t, store, 1002)
	repo := addRepository(t, store, owner, 555, "acme/widgets")

	_, err := s.SyncCommits(context.Background(), intruder, repo.ID, api.CommitFilter{})
	assert.ErrorIs(t, err, tenant.ErrNotOwned)
}

func TestSyncIssuesSkipsPullRequests(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.Handle("/repos/acme/widgets/issues", jsonHandler(`[
		{"id": 9001, "number": 1, "title": "widget breaks", "state": "open"},
		{"id": 9002, "number": 2, "title": "add gadget", "state": "open",
		 "pull_request": {"url": "https://api.github.com/repos/acme/widgets/pulls/2"}}
	]`))

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)
	repo := addRepository(t, store, integ, 555, "acme/widgets")

	result, err := s.SyncIssues(context.Background(), integ, repo.ID, api.IssueFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	var count int
	require.NoError(t, store.QueryRow(`SELECT COUNT(*) FROM issues`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSyncPullRequests(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.Handle("/repos/acme/widgets/pulls", jsonHandler(`[
		{"id": 8001, "number": 41, "title": "add widget", "state": "closed",
		 "merged_at": "2024-05-01T08:00:00Z",
		 "head": {"ref": "feature", "sha": "head1"},
		 "base": {"ref": "main", "sha": "base1"}}
	]`))

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)
	repo := addRepository(t, store, integ, 555, "acme/widgets")

	result, err := s.SyncPullRequests(context.Background(), integ, repo.ID, "all")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	var merged bool
	require.NoError(t, store.QueryRow(`SELECT merged FROM pull_requests WHERE github_id = 8001`).Scan(&merged))
	assert.True(t, merged)
}

func TestSyncIssueChangelog(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.Handle("/repos/acme/widgets/issues/1/events", jsonHandler(`[
		{"id": 31337, "event": "renamed",
		 "actor": {"id": 77, "login": "alice"},
		 "rename": {"from": "widget breaks", "to": "widget crashes on start"}},
		{"id": 31338, "event": "labeled",
		 "actor": {"id": 77, "login": "alice"},
		 "label": {"name": "bug", "color": "ff0000"}},
		{"id": 31339, "event": "referenced", "commit_id": "abc123"}
	]`))

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)
	repo := addRepository(t, store, integ, 555, "acme/widgets")
	issue, _, err := store.UpsertIssue(context.Background(), &models.Issue{
		GitHubID: 9001, Number: 1, Title: "widget breaks", State: "open",
		RepositoryID: repo.ID, IntegrationID: integ.ID,
	})
	require.NoError(t, err)

	result, err := s.SyncIssueChangelog(context.Background(), integ, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Synced)

	counts, err := store.ChangelogCountsByEvent(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"renamed": 1, "labeled": 1, "referenced": 1}, counts)

	var commitURL string
	require.NoError(t, store.QueryRow(`SELECT commit_url FROM issue_changelogs WHERE github_id = 31339`).Scan(&commitURL))
	assert.Equal(t, "https://github.com/acme/widgets/commit/abc123", commitURL)
}

func TestSyncIssueChangelogUnknownIssue(t *testing.T) {
	store := newTestStore(t)
	s := newTestSyncer(t, store, http.NewServeMux())
	integ := addIntegration(t, store, 1001)

	_, err := s.SyncIssueChangelog(context.Background(), integ, 999)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestSyncOrgMembersResolvesIntegrationFromOrganization(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.Handle("/orgs/acme/members", jsonHandler(`[
		{"id": 77, "login": "alice", "type": "User"},
		{"id": 78, "login": "build-bot", "type": "Bot"}
	]`))

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)
	org, _, err := store.UpsertOrganization(context.Background(), &models.Organization{
		GitHubID: 100, Login: "acme", IntegrationID: integ.ID,
	})
	require.NoError(t, err)

	result, err := s.SyncOrgMembers(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)

	stats, err := store.OrgMemberStats(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, map[string]int{"member": 2}, stats.ByRole)
	assert.Equal(t, map[string]int{"User": 1, "Bot": 1}, stats.ByType)
}

func TestSyncOrgMembersInactiveIntegration(t *testing.T) {
	store := newTestStore(t)
	s := newTestSyncer(t, store, http.NewServeMux())

	integ := addIntegration(t, store, 1001)
	org, _, err := store.UpsertOrganization(context.Background(), &models.Organization{
		GitHubID: 100, Login: "acme", IntegrationID: integ.ID,
	})
	require.NoError(t, err)
	require.NoError(t, store.SetIntegrationStatus(context.Background(), integ.ID, models.IntegrationInactive))

	_, err = s.SyncOrgMembers(context.Background(), org.ID)
	assert.ErrorIs(t, err, tenant.ErrIntegrationRequired)
}

func TestSyncRejectedCredentialDeactivatesIntegration(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/user/orgs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "Bad credentials"}`)
	})

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)

	_, err := s.SyncOrganizations(context.Background(), integ)
	require.Error(t, err)
	assert.True(t, api.IsType(err, api.ErrorTypeAuth))

	got, err := store.GetIntegration(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntegrationError, got.Status)
	assert.Equal(t, models.SyncFailed, got.SyncStatus)
}

func TestSyncTimeoutDuringWritesMarksRunFailed(t *testing.T) {
	store := newTestStore(t)

	blocker, err := store.Conn(context.Background())
	require.NoError(t, err)
	defer blocker.Close()

	// The handler grabs the database write lock before responding, so the
	// fetch succeeds but the upsert phase cannot finish inside the run
	// deadline. The lock is released well after the deadline has passed.
	mux := http.NewServeMux()
	mux.HandleFunc("/user/orgs", func(w http.ResponseWriter, r *http.Request) {
		if _, err := blocker.ExecContext(context.Background(), "BEGIN IMMEDIATE"); err == nil {
			time.AfterFunc(time.Second, func() {
				blocker.ExecContext(context.Background(), "ROLLBACK")
			})
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id": 100, "login": "acme"}, {"id": 101, "login": "globex"}]`)
	})

	s := newTestSyncer(t, store, mux)
	s.timeout = 250 * time.Millisecond
	integ := addIntegration(t, store, 1001)

	_, err = s.SyncOrganizations(context.Background(), integ)
	require.Error(t, err)
	assert.True(t, api.IsType(err, api.ErrorTypeTimeout))

	got, err := store.GetIntegration(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, got.SyncStatus)
}

func TestSyncIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	mux := http.NewServeMux()
	mux.Handle("/repos/acme/widgets/commits", jsonHandler(`[
		{"sha": "abc123", "commit": {"message": "fix the widget"}}
	]`))

	s := newTestSyncer(t, store, mux)
	integ := addIntegration(t, store, 1001)
	repo := addRepository(t, store, integ, 555, "acme/widgets")

	for i := 0; i < 3; i++ {
		result, err := s.SyncCommits(context.Background(), integ, repo.ID, api.CommitFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Synced)
	}

	var count int
	require.NoError(t, store.QueryRow(`SELECT COUNT(*) FROM commits`).Scan(&count))
	assert.Equal(t, 1, count)
}
