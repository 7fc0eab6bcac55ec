package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

const perPage = 100

// Client is a thin wrapper around the GitHub REST API scoped to one
// credential. Every list method follows pagination to the end and classifies
// failures with WrapError.
type Client struct {
	client *github.Client
	retry  RetryConfig
}

// NewClient creates a client authenticated with the given bearer token.
func NewClient(token string) *Client {
	var tc *http.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}

	return &Client{
		client: github.NewClient(tc),
		retry:  DefaultRetryConfig(),
	}
}

// SetRetryConfig overrides the default backoff schedule.
func (c *Client) SetRetryConfig(cfg RetryConfig) {
	c.retry = cfg
}

// SetBaseURL points the client at a different API endpoint. Used by tests and
// GitHub Enterprise installs.
func (c *Client) SetBaseURL(raw string) error {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	c.client.BaseURL = u
	return nil
}

// ListOrganizations lists the organizations the authenticated account
// belongs to.
func (c *Client) ListOrganizations(ctx context.Context) ([]*github.Organization, error) {
	var all []*github.Organization
	opts := &github.ListOptions{PerPage: perPage}

	for {
		var orgs []*github.Organization
		var resp *github.Response
		err := withRetry(ctx, c.retry, func() error {
			var err error
			orgs, resp, err = c.client.Organizations.List(ctx, "", opts)
			if err != nil {
				return WrapError(err, "organizations")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		all = append(all, orgs...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListUserRepositories lists repositories the authenticated account can see.
func (c *Client) ListUserRepositories(ctx context.Context) ([]*github.Repository, error) {
	var all []*github.Repository
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		var repos []*github.Repository
		var resp *github.Response
		err := withRetry(ctx, c.retry, func() error {
			var err error
			repos, resp, err = c.client.Repositories.ListByAuthenticatedUser(ctx, opts)
			if err != nil {
				return WrapError(err, "repositories")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		all = append(all, repos...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListOrgRepositories lists an organization's repositories.
func (c *Client) ListOrgRepositories(ctx context.Context, org string) ([]*github.Repository, error) {
	var all []*github.Repository
	opts := &github.RepositoryListByOrgOptions{
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		var repos []*github.Repository
		var resp *github.Response
		err := withRetry(ctx, c.retry, func() error {
			var err error
			repos, resp, err = c.client.Repositories.ListByOrg(ctx, org, opts)
			if err != nil {
				return WrapError(err, fmt.Sprintf("organization %s repositories", org))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		all = append(all, repos...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// CommitFilter narrows a commit listing to a date window.
type CommitFilter struct {
	Since time.Time
	Until time.Time
}

// ListCommits lists a repository's commits, optionally windowed by date.
// A 409 from GitHub means the repository has no commits yet and yields an
// empty result rather than an error.
func (c *Client) ListCommits(ctx context.Context, owner, repo string, filter CommitFilter) ([]*github.RepositoryCommit, error) {
	var all []*github.RepositoryCommit
	opts := &github.CommitsListOptions{
		Since:       filter.Since,
		Until:       filter.Until,
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		var commits []*github.RepositoryCommit
		var resp *github.Response
		err := withRetry(ctx, c.retry, func() error {
			var err error
			commits, resp, err = c.client.Repositories.ListCommits(ctx, owner, repo, opts)
			if err != nil {
				return WrapError(err, fmt.Sprintf("repository %s/%s commits", owner, repo))
			}
			return nil
		})
		if err != nil {
			if IsType(err, ErrorTypeConflict) {
				return nil, nil
			}
			return nil, err
		}

		all = append(all, commits...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// IssueFilter narrows an issue listing.
type IssueFilter struct {
	State  string // open, closed, all
	Labels []string
}

// ListIssues lists a repository's issues. GitHub's issue listing includes
// pull requests; callers that only want true issues skip the entries with a
// pull request link.
func (c *Client) ListIssues(ctx context.Context, owner, repo string, filter IssueFilter) ([]*github.Issue, error) {
	state := filter.State
	if state == "" {
		state = "all"
	}

	var all []*github.Issue
	opts := &github.IssueListByRepoOptions{
		State:       state,
		Labels:      filter.Labels,
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		var issues []*github.Issue
		var resp *github.Response
		err := withRetry(ctx, c.retry, func() error {
			var err error
			issues, resp, err = c.client.Issues.ListByRepo(ctx, owner, repo, opts)
			if err != nil {
				return WrapError(err, fmt.Sprintf("repository %s/%s issues", owner, repo))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		all = append(all, issues...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListPullRequests lists a repository's pull requests.
func (c *Client) ListPullRequests(ctx context.Context, owner, repo, state string) ([]*github.PullRequest, error) {
	if state == "" {
		state = "all"
	}

	var all []*github.PullRequest
	opts := &github.PullRequestListOptions{
		State:       state,
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		var prs []*github.PullRequest
		var resp *github.Response
		err := withRetry(ctx, c.retry, func() error {
			var err error
			prs, resp, err = c.client.PullRequests.List(ctx, owner, repo, opts)
			if err != nil {
				return WrapError(err, fmt.Sprintf("repository %s/%s pull requests", owner, repo))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		all = append(all, prs...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListIssueEvents lists the event timeline of one issue.
func (c *Client) ListIssueEvents(ctx context.Context, owner, repo string, number int) ([]*github.IssueEvent, error) {
	var all []*github.IssueEvent
	opts := &github.ListOptions{PerPage: perPage}

	for {
		var events []*github.IssueEvent
		var resp *github.Response
		err := withRetry(ctx, c.retry, func() error {
			var err error
			events, resp, err = c.client.Issues.ListIssueEvents(ctx, owner, repo, number, opts)
			if err != nil {
				return WrapError(err, fmt.Sprintf("issue %s/%s#%d events", owner, repo, number))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		all = append(all, events...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListOrgMembers lists an organization's members.
func (c *Client) ListOrgMembers(ctx context.Context, org string) ([]*github.User, error) {
	var all []*github.User
	opts := &github.ListMembersOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	for {
		var members []*github.User
		var resp *github.Response
		err := withRetry(ctx, c.retry, func() error {
			var err error
			members, resp, err = c.client.Organizations.ListMembers(ctx, org, opts)
			if err != nil {
				return WrapError(err, fmt.Sprintf("organization %s members", org))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		all = append(all, members...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// SplitFullName splits "owner/name" into its parts.
func SplitFullName(fullName string) (string, string, error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository name, expected 'owner/name', got %q", fullName)
	}
	return parts[0], parts[1], nil
}
