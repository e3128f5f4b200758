// Package forge defines the forge-provider (GitHub) external
// collaborator: repository metadata, blob content at a ref, and pull
// request creation. github.go provides one concrete implementation over
// the GitHub REST API; token.go caches a per-installation access token
// in memory and renews it on use once it is within its expiry window.
package forge

import "context"

// PullRequestInput describes the pull request the generation pipeline
// wants opened once a generation iteration passes validation.
type PullRequestInput struct {
	Owner string
	Repo  string
	Head  string // branch name the commits were pushed to
	Base  string // base branch, e.g. the repo's default branch
	Title string
	Body  string
}

// PullRequest is the subset of the created pull request the pipeline
// reports back to the caller.
type PullRequest struct {
	Number int
	URL    string
}

// Client is the forge-provider contract the generation pipeline depends
// on. Every method is scoped to a single owner/repo.
type Client interface {
	// DefaultBranch returns repo's default branch name (e.g. "main" or
	// "master").
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)

	// FileContent returns the text content of path at ref. exists is
	// false when the path does not exist at that ref (a newly created
	// file), in which case content is empty and err is nil.
	FileContent(ctx context.Context, owner, repo, path, ref string) (content string, exists bool, err error)

	// CreatePullRequest opens a pull request and returns its number and
	// URL.
	CreatePullRequest(ctx context.Context, in PullRequestInput) (*PullRequest, error)
}
