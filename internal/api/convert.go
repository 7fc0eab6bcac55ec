package api

import (
	"time"

	"github.com/google/go-github/v57/github"

	"ghmirror/internal/models"
)

// Converters from go-github payloads into local records. They are pure and
// nil-tolerant: missing nested objects become zero values or nil references,
// and GitHub's numeric ids are carried over verbatim.

// ConvertOrganization normalizes a GitHub organization. The display name
// falls back to the login when GitHub has no name on file.
func ConvertOrganization(org *github.Organization, integrationID int64) *models.Organization {
	name := org.GetName()
	if name == "" {
		name = org.GetLogin()
	}

	return &models.Organization{
		GitHubID:      org.GetID(),
		Login:         org.GetLogin(),
		Name:          name,
		Description:   org.GetDescription(),
		AvatarURL:     org.GetAvatarURL(),
		IntegrationID: integrationID,
	}
}

// ConvertRepository normalizes a GitHub repository. organizationID is zero
// for user-owned repositories.
func ConvertRepository(repo *github.Repository, organizationID, integrationID int64) *models.Repository {
	return &models.Repository{
		GitHubID:        repo.GetID(),
		Name:            repo.GetName(),
		FullName:        repo.GetFullName(),
		Description:     repo.GetDescription(),
		Private:         repo.GetPrivate(),
		Fork:            repo.GetFork(),
		Language:        repo.GetLanguage(),
		StargazersCount: repo.GetStargazersCount(),
		WatchersCount:   repo.GetWatchersCount(),
		ForksCount:      repo.GetForksCount(),
		OpenIssuesCount: repo.GetOpenIssuesCount(),
		DefaultBranch:   repo.GetDefaultBranch(),
		HTMLURL:         repo.GetHTMLURL(),
		OrganizationID:  organizationID,
		IntegrationID:   integrationID,
	}
}

// ConvertCommit normalizes one commit from a repository listing. The branch
// is whichever ref the listing was taken from, typically the default branch.
func ConvertCommit(rc *github.RepositoryCommit, branch string, repositoryID, organizationID, integrationID int64) *models.Commit {
	c := &models.Commit{
		SHA:            rc.GetSHA(),
		Branch:         branch,
		HTMLURL:        rc.GetHTMLURL(),
		RepositoryID:   repositoryID,
		OrganizationID: organizationID,
		IntegrationID:  integrationID,
	}

	if commit := rc.GetCommit(); commit != nil {
		c.Message = commit.GetMessage()
		c.Author = convertSignature(commit.GetAuthor())
		c.Committer = convertSignature(commit.GetCommitter())
	}

	return c
}

// ConvertIssue normalizes a GitHub issue. Callers should skip entries where
// IsPullRequest is true; GitHub reports pull requests through the issue
// listing as well.
func ConvertIssue(issue *github.Issue, repositoryID, organizationID, integrationID int64) *models.Issue {
	return &models.Issue{
		GitHubID:       issue.GetID(),
		Number:         issue.GetNumber(),
		Title:          issue.GetTitle(),
		Body:           issue.GetBody(),
		State:          issue.GetState(),
		Locked:         issue.GetLocked(),
		User:           convertActor(issue.GetUser()),
		Assignees:      convertActors(issue.Assignees),
		Labels:         convertLabels(issue.Labels),
		Milestone:      convertMilestoneRef(issue.GetMilestone()),
		ClosedAt:       timeRef(issue.ClosedAt),
		HTMLURL:        issue.GetHTMLURL(),
		RepositoryID:   repositoryID,
		OrganizationID: organizationID,
		IntegrationID:  integrationID,
	}
}

// ConvertPullRequest normalizes a GitHub pull request.
func ConvertPullRequest(pr *github.PullRequest, repositoryID, organizationID, integrationID int64) *models.PullRequest {
	return &models.PullRequest{
		GitHubID:       pr.GetID(),
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		State:          pr.GetState(),
		Locked:         pr.GetLocked(),
		Draft:          pr.GetDraft(),
		Merged:         pr.GetMerged() || pr.MergedAt != nil,
		MergeableState: pr.GetMergeableState(),
		MergedAt:       timeRef(pr.MergedAt),
		ClosedAt:       timeRef(pr.ClosedAt),
		User:           convertActor(pr.GetUser()),
		Assignees:      convertActors(pr.Assignees),
		Labels:         convertLabels(pr.Labels),
		HeadRef:        pr.GetHead().GetRef(),
		HeadSHA:        pr.GetHead().GetSHA(),
		BaseRef:        pr.GetBase().GetRef(),
		BaseSHA:        pr.GetBase().GetSHA(),
		HTMLURL:        pr.GetHTMLURL(),
		RepositoryID:   repositoryID,
		OrganizationID: organizationID,
		IntegrationID:  integrationID,
	}
}

// ConvertIssueEvent normalizes one entry from an issue's event timeline.
// A referenced commit is linked through the owning repository's page,
// built from repoHTMLURL and the commit sha.
func ConvertIssueEvent(ev *github.IssueEvent, repoHTMLURL string, issueID, repositoryID, organizationID, integrationID int64) *models.IssueChangelog {
	cl := &models.IssueChangelog{
		GitHubID:       ev.GetID(),
		Event:          ev.GetEvent(),
		Actor:          actorRef(ev.GetActor()),
		Assignee:       actorRef(ev.GetAssignee()),
		Assigner:       actorRef(ev.GetAssigner()),
		Label:          labelRef(ev.GetLabel()),
		Milestone:      convertMilestoneRef(ev.GetMilestone()),
		CommitID:       ev.GetCommitID(),
		IssueID:        issueID,
		RepositoryID:   repositoryID,
		OrganizationID: organizationID,
		IntegrationID:  integrationID,
	}

	if sha := ev.GetCommitID(); sha != "" && repoHTMLURL != "" {
		cl.CommitURL = repoHTMLURL + "/commit/" + sha
	}

	if ev.Rename != nil {
		cl.Rename = &models.RenameRef{
			From: ev.Rename.GetFrom(),
			To:   ev.Rename.GetTo(),
		}
	}

	return cl
}

// ConvertOrgMember normalizes an organization member. The members listing
// does not carry role information, so the role is left for the store to
// default or preserve.
func ConvertOrgMember(user *github.User, organizationID, integrationID int64) *models.GitHubUser {
	return &models.GitHubUser{
		GitHubID:       user.GetID(),
		Login:          user.GetLogin(),
		AvatarURL:      user.GetAvatarURL(),
		HTMLURL:        user.GetHTMLURL(),
		Type:           user.GetType(),
		SiteAdmin:      user.GetSiteAdmin(),
		OrganizationID: organizationID,
		IntegrationID:  integrationID,
	}
}

func convertSignature(author *github.CommitAuthor) models.Signature {
	if author == nil {
		return models.Signature{}
	}
	return models.Signature{
		Name:  author.GetName(),
		Email: author.GetEmail(),
		Date:  author.GetDate().Time,
	}
}

func convertActor(user *github.User) models.ActorRef {
	if user == nil {
		return models.ActorRef{}
	}
	return models.ActorRef{
		GitHubID:  user.GetID(),
		Login:     user.GetLogin(),
		AvatarURL: user.GetAvatarURL(),
	}
}

func actorRef(user *github.User) *models.ActorRef {
	if user == nil {
		return nil
	}
	ref := convertActor(user)
	return &ref
}

func convertActors(users []*github.User) models.ActorList {
	if len(users) == 0 {
		return nil
	}
	out := make(models.ActorList, 0, len(users))
	for _, u := range users {
		out = append(out, convertActor(u))
	}
	return out
}

func labelRef(label *github.Label) *models.LabelRef {
	if label == nil {
		return nil
	}
	return &models.LabelRef{
		Name:        label.GetName(),
		Color:       label.GetColor(),
		Description: label.GetDescription(),
	}
}

func convertLabels(labels []*github.Label) models.LabelList {
	if len(labels) == 0 {
		return nil
	}
	out := make(models.LabelList, 0, len(labels))
	for _, l := range labels {
		if ref := labelRef(l); ref != nil {
			out = append(out, *ref)
		}
	}
	return out
}

func convertMilestoneRef(m *github.Milestone) *models.MilestoneRef {
	if m == nil {
		return nil
	}
	return &models.MilestoneRef{
		GitHubID:    m.GetID(),
		Number:      m.GetNumber(),
		Title:       m.GetTitle(),
		Description: m.GetDescription(),
		State:       m.GetState(),
	}
}

func timeRef(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.Time.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}
