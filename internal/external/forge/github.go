package forge

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"

	cferrors "codeforge/internal/shared/errors"
)

// githubClient implements Client over the GitHub REST API, authenticated
// with a bearer token (either a personal access token or an installation
// access token minted by the caller via a TokenCache).
type githubClient struct {
	gh *github.Client
}

// NewGitHubClient constructs a Client authenticated with token. httpClient
// lets callers plug in a custom transport (e.g. for tests); pass nil to
// use oauth2's default.
func NewGitHubClient(ctx context.Context, token string, httpClient *http.Client) Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(ctx, ts)
	if httpClient != nil {
		oauthClient.Transport = &tokenInjectingTransport{base: httpClient.Transport, token: token}
	}
	return &githubClient{gh: github.NewClient(oauthClient)}
}

// tokenInjectingTransport lets a caller-supplied http.Client (e.g. a
// pooled test transport) still carry the bearer token.
type tokenInjectingTransport struct {
	base  http.RoundTripper
	token string
}

func (t *tokenInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func (c *githubClient) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", cferrors.Wrap(cferrors.KindUpstreamUnavailable, "fetch repository metadata", err)
	}
	return r.GetDefaultBranch(), nil
}

func (c *githubClient) FileContent(ctx context.Context, owner, repo, path, ref string) (string, bool, error) {
	fileContent, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, cferrors.Wrap(cferrors.KindUpstreamUnavailable, "fetch file content", err)
	}
	if fileContent == nil {
		return "", false, nil
	}

	if fileContent.Content != nil && fileContent.GetEncoding() == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(*fileContent.Content)
		if err != nil {
			return "", true, cferrors.Wrap(cferrors.KindIntegrityError, "decode file content", err)
		}
		return string(decoded), true, nil
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return "", true, cferrors.Wrap(cferrors.KindIntegrityError, "decode file content", err)
	}
	return content, true, nil
}

func (c *githubClient) CreatePullRequest(ctx context.Context, in PullRequestInput) (*PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Create(ctx, in.Owner, in.Repo, &github.NewPullRequest{
		Title: github.String(in.Title),
		Head:  github.String(in.Head),
		Base:  github.String(in.Base),
		Body:  github.String(in.Body),
	})
	if err != nil {
		return nil, cferrors.Wrap(cferrors.KindUpstreamUnavailable, "create pull request", err)
	}
	return &PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}
