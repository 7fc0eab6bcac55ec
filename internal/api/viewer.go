package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// Viewer is the identity of the account behind a token, fetched through the
// GraphQL API. DatabaseID matches the numeric id the REST API reports.
type Viewer struct {
	DatabaseID int64
	Login      string
	Name       string
	Email      string
}

// ViewerClient resolves token identities through the GitHub GraphQL API.
type ViewerClient struct {
	client *githubv4.Client
}

// NewViewerClient creates a GraphQL client authenticated with the given token.
func NewViewerClient(token string) *ViewerClient {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	return &ViewerClient{
		client: githubv4.NewClient(oauth2.NewClient(context.Background(), ts)),
	}
}

// NewViewerClientForURL creates a GraphQL client against a non-default
// endpoint. Used by tests and GitHub Enterprise installs.
func NewViewerClientForURL(rawURL string, httpClient *http.Client) *ViewerClient {
	return &ViewerClient{
		client: githubv4.NewEnterpriseClient(rawURL, httpClient),
	}
}

// Viewer fetches the authenticated account's identity.
func (c *ViewerClient) Viewer(ctx context.Context) (*Viewer, error) {
	var query struct {
		Viewer struct {
			DatabaseID githubv4.Int
			Login      githubv4.String
			Name       githubv4.String
			Email      githubv4.String
		}
	}

	if err := c.client.Query(ctx, &query, nil); err != nil {
		return nil, fmt.Errorf("failed to resolve token identity: %w", err)
	}

	return &Viewer{
		DatabaseID: int64(query.Viewer.DatabaseID),
		Login:      string(query.Viewer.Login),
		Name:       string(query.Viewer.Name),
		Email:      string(query.Viewer.Email),
	}, nil
}
