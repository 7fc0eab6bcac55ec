package models

import (
	"time"
)

// Integration statuses.
const (
	IntegrationActive   = "active"
	IntegrationInactive = "inactive"
	IntegrationError    = "error"
)

// Sync statuses tracked on an Integration.
const (
	SyncPending    = "pending"
	SyncInProgress = "in_progress"
	SyncCompleted  = "completed"
	SyncFailed     = "failed"
)

// Integration is a connected GitHub account and its credential. It is the
// root of all ownership scoping: every other record carries the owning
// integration's id.
type Integration struct {
	ID          int64
	GitHubID    int64
	Username    string
	DisplayName string
	Email       string
	AccessToken string
	Status      string
	SyncStatus  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Organization represents a GitHub organization the account belongs to.
type Organization struct {
	ID            int64
	GitHubID      int64
	Login         string
	Name          string
	Description   string
	AvatarURL     string
	IntegrationID int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository represents a GitHub repository.
type Repository struct {
	ID              int64
	GitHubID        int64
	Name            string
	FullName        string
	Description     string
	Private         bool
	Fork            bool
	Language        string
	StargazersCount int
	WatchersCount   int
	ForksCount      int
	OpenIssuesCount int
	DefaultBranch   string
	HTMLURL         string
	OrganizationID  int64 // zero when the repository is user-owned
	IntegrationID   int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Signature is the author or committer stamp on a commit.
type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

// Commit represents a commit reachable from a repository's default branch.
type Commit struct {
	ID             int64
	SHA            string
	Message        string
	Author         Signature
	Committer      Signature
	Branch         string
	HTMLURL        string
	RepositoryID   int64
	OrganizationID int64
	IntegrationID  int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ActorRef is a minimal reference to a GitHub user embedded in another record.
type ActorRef struct {
	GitHubID  int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// LabelRef is a label embedded in an issue or pull request.
type LabelRef struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// MilestoneRef is a milestone embedded in an issue or changelog event.
type MilestoneRef struct {
	GitHubID    int64  `json:"id"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	State       string `json:"state,omitempty"`
}

// RenameRef records a title change on an issue.
type RenameRef struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Issue represents a GitHub issue.
type Issue struct {
	ID             int64
	GitHubID       int64
	Number         int
	Title          string
	Body           string
	State          string
	Locked         bool
	User           ActorRef
	Assignees      ActorList
	Labels         LabelList
	Milestone      *MilestoneRef
	ClosedAt       *time.Time
	HTMLURL        string
	RepositoryID   int64
	OrganizationID int64
	IntegrationID  int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	ID             int64
	GitHubID       int64
	Number         int
	Title          string
	Body           string
	State          string
	Locked         bool
	Draft          bool
	Merged         bool
	MergeableState string
	MergedAt       *time.Time
	ClosedAt       *time.Time
	User           ActorRef
	Assignees      ActorList
	Labels         LabelList
	HeadRef        string
	HeadSHA        string
	BaseRef        string
	BaseSHA        string
	HTMLURL        string
	RepositoryID   int64
	OrganizationID int64
	IntegrationID  int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IssueChangelog represents one event on an issue's timeline.
type IssueChangelog struct {
	ID             int64
	GitHubID       int64
	Event          string
	Actor          *ActorRef
	Assignee       *ActorRef
	Assigner       *ActorRef
	Label          *LabelRef
	Milestone      *MilestoneRef
	Rename         *RenameRef
	CommitID       string
	CommitURL      string
	IssueID        int64
	RepositoryID   int64
	OrganizationID int64
	IntegrationID  int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GitHubUser represents a member of a synced organization.
type GitHubUser struct {
	ID             int64
	GitHubID       int64
	Login          string
	AvatarURL      string
	HTMLURL        string
	Type           string // "User" or "Bot"
	SiteAdmin      bool
	Role           string // member, admin, owner
	OrganizationID int64
	IntegrationID  int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
