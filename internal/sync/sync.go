// Package sync pulls data from GitHub into the local store, one record kind
// at a time, scoped to the integration that owns the records.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ghmirror/internal/api"
	"ghmirror/internal/db"
	"ghmirror/internal/models"
	"ghmirror/internal/tenant"
)

const (
	defaultWorkers = 5
	defaultTimeout = 10 * time.Minute
)

// Config tunes a Syncer.
type Config struct {
	Workers int           // concurrent record writes per run
	Timeout time.Duration // wall clock budget per run
}

// Result summarizes one sync run. Failed counts records that could not be
// saved; the run itself still succeeds when Failed is non-zero.
type Result struct {
	Kind    string `json:"kind"`
	Synced  int    `json:"synced"`
	Failed  int    `json:"failed"`
	Records []any  `json:"records,omitempty"`
}

func newResult(kind string, records []any, failed int) *Result {
	return &Result{Kind: kind, Synced: len(records), Failed: failed, Records: records}
}

// Syncer runs pull syncs against GitHub and lands the results in the store.
// Each run serializes on its (kind, scope) pair, flips the owning
// integration's sync status around the work, and isolates per-record
// failures so one bad payload never aborts the rest of a run.
type Syncer struct {
	store     *db.DB
	newClient func(token string) *api.Client
	workers   int
	timeout   time.Duration
	locks     *scopeLocks
}

// NewSyncer creates a syncer over the given store.
func NewSyncer(store *db.DB, cfg Config) *Syncer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Syncer{
		store:     store,
		newClient: api.NewClient,
		workers:   workers,
		timeout:   timeout,
		locks:     newScopeLocks(),
	}
}

// SetClientFactory overrides how API clients are built from integration
// tokens. Tests point the factory at a local server.
func (s *Syncer) SetClientFactory(f func(token string) *api.Client) {
	s.newClient = f
}

// SyncOrganizations mirrors the organizations the integration's account
// belongs to.
func (s *Syncer) SyncOrganizations(ctx context.Context, integ *models.Integration) (*Result, error) {
	return s.run(ctx, integ, "organizations", integ.ID, func(ctx context.Context, client *api.Client, logf logFunc) (*Result, error) {
		orgs, err := client.ListOrganizations(ctx)
		if err != nil {
			return nil, err
		}
		logf("fetched %d organizations", len(orgs))

		records, failed := s.forEach(ctx, len(orgs), logf, func(ctx context.Context, i int) (any, error) {
			rec, _, err := s.store.UpsertOrganization(ctx, api.ConvertOrganization(orgs[i], integ.ID))
			if err != nil {
				return nil, err
			}
			return rec, nil
		})
		return newResult("organizations", records, failed), nil
	})
}

// SyncRepositories mirrors repositories. With organizationID zero it covers
// everything the account can see; otherwise it is scoped to one already
// synced organization.
func (s *Syncer) SyncRepositories(ctx context.Context, integ *models.Integration, organizationID int64) (*Result, error) {
	var org *models.Organization
	if organizationID != 0 {
		var err error
		org, err = s.resolveOrganization(ctx, integ, organizationID)
		if err != nil {
			return nil, err
		}
	}

	return s.run(ctx, integ, "repositories", integ.ID, func(ctx context.Context, client *api.Client, logf logFunc) (*Result, error) {
		var repos []*githubRepository
		if org != nil {
			raw, err := client.ListOrgRepositories(ctx, org.Login)
			if err != nil {
				return nil, err
			}
			for _, r := range raw {
				repos = append(repos, &githubRepository{repo: r, organizationID: org.ID})
			}
		} else {
			raw, err := client.ListUserRepositories(ctx)
			if err != nil {
				return nil, err
			}
			orgIDs, err := s.organizationIndex(ctx, integ.ID)
			if err != nil {
				return nil, err
			}
			for _, r := range raw {
				var orgID int64
				if owner := r.GetOwner(); owner != nil && owner.GetType() == "Organization" {
					orgID = orgIDs[owner.GetID()]
				}
				repos = append(repos, &githubRepository{repo: r, organizationID: orgID})
			}
		}
		logf("fetched %d repositories", len(repos))

		records, failed := s.forEach(ctx, len(repos), logf, func(ctx context.Context, i int) (any, error) {
			rec, _, err := s.store.UpsertRepository(ctx, api.ConvertRepository(repos[i].repo, repos[i].organizationID, integ.ID))
			if err != nil {
				return nil, err
			}
			return rec, nil
		})
		return newResult("repositories", records, failed), nil
	})
}

// SyncCommits mirrors a repository's commits from its default branch,
// optionally windowed by date. An upstream conflict (empty repository)
// yields an empty result rather than an error.
func (s *Syncer) SyncCommits(ctx context.Context, integ *models.Integration, repositoryID int64, filter api.CommitFilter) (*Result, error) {
	repo, err := s.resolveRepository(ctx, integ, repositoryID)
	if err != nil {
		return nil, err
	}
	owner, name, err := api.SplitFullName(repo.FullName)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, integ, "commits", repo.ID, func(ctx context.Context, client *api.Client, logf logFunc) (*Result, error) {
		commits, err := client.ListCommits(ctx, owner, name, filter)
		if err != nil {
			return nil, err
		}
		logf("fetched %d commits for %s", len(commits), repo.FullName)

		records, failed := s.forEach(ctx, len(commits), logf, func(ctx context.Context, i int) (any, error) {
			c := api.ConvertCommit(commits[i], repo.DefaultBranch, repo.ID, repo.OrganizationID, integ.ID)
			rec, _, err := s.store.UpsertCommit(ctx, c)
			if err != nil {
				return nil, err
			}
			return rec, nil
		})
		return newResult("commits", records, failed), nil
	})
}

// SyncIssues mirrors a repository's issues. Pull requests reported through
// the issue listing are skipped; they have their own sync.
func (s *Syncer) SyncIssues(ctx context.Context, integ *models.Integration, repositoryID int64, filter api.IssueFilter) (*Result, error) {
	repo, err := s.resolveRepository(ctx, integ, repositoryID)
	if err != nil {
		return nil, err
	}
	owner, name, err := api.SplitFullName(repo.FullName)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, integ, "issues", repo.ID, func(ctx context.Context, client *api.Client, logf logFunc) (*Result, error) {
		raw, err := client.ListIssues(ctx, owner, name, filter)
		if err != nil {
			return nil, err
		}

		issues := raw[:0]
		for _, issue := range raw {
			if issue.IsPullRequest() {
				continue
			}
			issues = append(issues, issue)
		}
		logf("fetched %d issues for %s", len(issues), repo.FullName)

		records, failed := s.forEach(ctx, len(issues), logf, func(ctx context.Context, i int) (any, error) {
			rec, _, err := s.store.UpsertIssue(ctx, api.ConvertIssue(issues[i], repo.ID, repo.OrganizationID, integ.ID))
			if err != nil {
				return nil, err
			}
			return rec, nil
		})
		return newResult("issues", records, failed), nil
	})
}

// SyncPullRequests mirrors a repository's pull requests.
func (s *Syncer) SyncPullRequests(ctx context.Context, integ *models.Integration, repositoryID int64, state string) (*Result, error) {
	repo, err := s.resolveRepository(ctx, integ, repositoryID)
	if err != nil {
		return nil, err
	}
	owner, name, err := api.SplitFullName(repo.FullName)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, integ, "pull_requests", repo.ID, func(ctx context.Context, client *api.Client, logf logFunc) (*Result, error) {
		prs, err := client.ListPullRequests(ctx, owner, name, state)
		if err != nil {
			return nil, err
		}
		logf("fetched %d pull requests for %s", len(prs), repo.FullName)

		records, failed := s.forEach(ctx, len(prs), logf, func(ctx context.Context, i int) (any, error) {
			rec, _, err := s.store.UpsertPullRequest(ctx, api.ConvertPullRequest(prs[i], repo.ID, repo.OrganizationID, integ.ID))
			if err != nil {
				return nil, err
			}
			return rec, nil
		})
		return newResult("pull_requests", records, failed), nil
	})
}

// SyncIssueChangelog mirrors the event timeline of one already synced issue.
func (s *Syncer) SyncIssueChangelog(ctx context.Context, integ *models.Integration, issueID int64) (*Result, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("issue %d has not been synced yet: %w", issueID, err)
		}
		return nil, err
	}
	if err := tenant.RequireOwnership(integ, issue.IntegrationID); err != nil {
		return nil, fmt.Errorf("issue %d: %w", issueID, err)
	}

	repo, err := s.store.GetRepository(ctx, issue.RepositoryID)
	if err != nil {
		return nil, fmt.Errorf("repository for issue %d: %w", issueID, err)
	}
	owner, name, err := api.SplitFullName(repo.FullName)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, integ, "issue_changelogs", issue.ID, func(ctx context.Context, client *api.Client, logf logFunc) (*Result, error) {
		events, err := client.ListIssueEvents(ctx, owner, name, issue.Number)
		if err != nil {
			return nil, err
		}
		logf("fetched %d timeline events for %s#%d", len(events), repo.FullName, issue.Number)

		records, failed := s.forEach(ctx, len(events), logf, func(ctx context.Context, i int) (any, error) {
			rec, _, err := s.store.UpsertIssueChangelog(ctx, api.ConvertIssueEvent(events[i], repo.HTMLURL, issue.ID, repo.ID, repo.OrganizationID, integ.ID))
			if err != nil {
				return nil, err
			}
			return rec, nil
		})
		return newResult("issue_changelogs", records, failed), nil
	})
}

// SyncOrgMembers mirrors an organization's member roster. The owning
// integration is resolved from the organization record itself, so callers
// only need the organization id.
func (s *Syncer) SyncOrgMembers(ctx context.Context, organizationID int64) (*Result, error) {
	org, err := s.store.GetOrganization(ctx, organizationID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("organization %d has not been synced yet: %w", organizationID, err)
		}
		return nil, err
	}

	integ, err := s.store.GetIntegration(ctx, org.IntegrationID)
	if err != nil {
		return nil, fmt.Errorf("integration for organization %s: %w", org.Login, err)
	}
	if integ.Status != models.IntegrationActive {
		return nil, fmt.Errorf("organization %s: %w", org.Login, tenant.ErrIntegrationRequired)
	}

	return s.run(ctx, integ, "github_users", org.ID, func(ctx context.Context, client *api.Client, logf logFunc) (*Result, error) {
		members, err := client.ListOrgMembers(ctx, org.Login)
		if err != nil {
			return nil, err
		}
		logf("fetched %d members for %s", len(members), org.Login)

		records, failed := s.forEach(ctx, len(members), logf, func(ctx context.Context, i int) (any, error) {
			rec, _, err := s.store.UpsertGitHubUser(ctx, api.ConvertOrgMember(members[i], org.ID, integ.ID))
			if err != nil {
				return nil, err
			}
			return rec, nil
		})
		return newResult("github_users", records, failed), nil
	})
}

// CheckSyncStatus reports which of the integration's repositories still need
// a first sync of the given record kind.
func (s *Syncer) CheckSyncStatus(ctx context.Context, integ *models.Integration, kind string) ([]db.RepoSyncStatus, error) {
	return s.store.SyncStatusByRepository(ctx, integ.ID, kind)
}

type logFunc func(format string, args ...any)

type githubRepository struct {
	repo           *github.Repository
	organizationID int64
}

// run wraps one sync pass: serializes on the (kind, scope) pair, applies the
// run timeout, flips the integration's sync status around the work, and
// deactivates the integration when GitHub rejects its credential.
func (s *Syncer) run(ctx context.Context, integ *models.Integration, kind string, scopeID int64, fn func(context.Context, *api.Client, logFunc) (*Result, error)) (*Result, error) {
	unlock := s.locks.acquire(kind, scopeID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	runID := uuid.New().String()
	logf := func(format string, args ...any) {
		log.Printf("sync %s run=%s integration=%d: %s", kind, runID, integ.ID, fmt.Sprintf(format, args...))
	}
	logf("starting")

	if err := s.store.SetIntegrationSyncStatus(ctx, integ.ID, models.SyncInProgress); err != nil {
		return nil, err
	}

	result, err := fn(ctx, s.newClient(integ.AccessToken), logf)
	if err == nil && ctx.Err() != nil {
		// The budget ran out mid-write; the partial run counts as failed.
		err = api.WrapError(ctx.Err(), kind)
	}

	// Status bookkeeping must outlive an expired run context.
	bg := context.WithoutCancel(ctx)

	if err != nil {
		logf("failed: %v", err)
		if statusErr := s.store.SetIntegrationSyncStatus(bg, integ.ID, models.SyncFailed); statusErr != nil {
			logf("could not record failed status: %v", statusErr)
		}
		if api.IsType(err, api.ErrorTypeAuth) {
			if statusErr := s.store.SetIntegrationStatus(bg, integ.ID, models.IntegrationError); statusErr != nil {
				logf("could not deactivate integration: %v", statusErr)
			}
		}
		return nil, err
	}

	if err := s.store.SetIntegrationSyncStatus(bg, integ.ID, models.SyncCompleted); err != nil {
		return nil, err
	}
	logf("done: %d synced, %d failed", result.Synced, result.Failed)

	return result, nil
}

// forEach writes n records through the worker pool and returns the saved
// records in input order. A record that fails to save is counted and logged
// without aborting the others.
func (s *Syncer) forEach(ctx context.Context, n int, logf logFunc, handle func(ctx context.Context, i int) (any, error)) ([]any, int) {
	saved := make([]any, n)
	var failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				failures.Add(1)
				return nil
			}
			rec, err := handle(gctx, i)
			if err != nil {
				failures.Add(1)
				logf("record %d/%d failed: %v", i+1, n, err)
				return nil
			}
			saved[i] = rec
			return nil
		})
	}
	g.Wait()

	records := make([]any, 0, n)
	for _, rec := range saved {
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, int(failures.Load())
}

// organizationIndex maps the integration's synced organizations by their
// GitHub id, for attributing repositories to organizations during a full
// repository sync.
func (s *Syncer) organizationIndex(ctx context.Context, integrationID int64) (map[int64]int64, error) {
	rows, err := s.store.QueryContext(ctx,
		`SELECT github_id, id FROM organizations WHERE integration_id = ?`, integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to index organizations: %w", err)
	}
	defer rows.Close()

	index := make(map[int64]int64)
	for rows.Next() {
		var githubID, id int64
		if err := rows.Scan(&githubID, &id); err != nil {
			return nil, fmt.Errorf("failed to scan organization index: %w", err)
		}
		index[githubID] = id
	}
	return index, rows.Err()
}

func (s *Syncer) resolveOrganization(ctx context.Context, integ *models.Integration, id int64) (*models.Organization, error) {
	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("organization %d has not been synced yet: %w", id, err)
		}
		return nil, err
	}
	if err := tenant.RequireOwnership(integ, org.IntegrationID); err != nil {
		return nil, fmt.Errorf("organization %d: %w", id, err)
	}
	return org, nil
}

func (s *Syncer) resolveRepository(ctx context.Context, integ *models.Integration, id int64) (*models.Repository, error) {
	repo, err := s.store.GetRepository(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("repository %d has not been synced yet: %w", id, err)
		}
		return nil, err
	}
	if err := tenant.RequireOwnership(integ, repo.IntegrationID); err != nil {
		return nil, fmt.Errorf("repository %d: %w", id, err)
	}
	return repo, nil
}
