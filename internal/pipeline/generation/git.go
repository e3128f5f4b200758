package generation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	gen "codeforge/internal/domain/generation"
	"codeforge/internal/diff"
	"codeforge/internal/external/forge"
	cferrors "codeforge/internal/shared/errors"
)

// createPullRequest commits the working tree produced by the final
// passing iteration, pushes it to a fresh branch, and opens a pull
// request against the repo's default branch.
func (p *Pipeline) createPullRequest(ctx context.Context, payload Payload, output *gen.GenerateOutput) (*Result, error) {
	owner, repo, ok := forge.OwnerRepo(payload.RepoURL)
	if !ok {
		return nil, cferrors.New(cferrors.KindInvalidInput, "repository URL could not be split into owner/repo")
	}

	branchName := fmt.Sprintf("feat/%s-%s", slugify(payload.Task), strconv.FormatInt(time.Now().UnixMilli(), 36))

	cloneURL := payload.RepoURL
	if payload.InstallationToken != "" {
		cloneURL = forge.RewriteCloneURL(payload.RepoURL, payload.InstallationToken)
	}

	commitCmd := fmt.Sprintf("git -c user.email=%s -c user.name=%s commit -m %s",
		shellQuote(p.authorEmail), shellQuote(p.authorName), shellQuote(commitMessage(payload.Task)))

	cmds := []string{
		fmt.Sprintf("git checkout -b %s", shellQuote(branchName)),
		"git add -A",
		commitCmd,
		fmt.Sprintf("git push %s HEAD:%s", shellQuote(cloneURL), shellQuote(branchName)),
	}
	results, err := p.sandboxes.RunCommands(ctx, payload.ProjectID, cmds, "", 3*time.Minute)
	if err != nil {
		return nil, cferrors.Wrap(cferrors.KindUpstreamUnavailable, "push generated branch", err)
	}
	for _, r := range results {
		if r.ExitErr != nil {
			return nil, cferrors.Wrap(cferrors.KindUpstreamUnavailable, fmt.Sprintf("command %q failed", r.Command), r.ExitErr)
		}
	}

	defaultBranch, err := p.forge.DefaultBranch(ctx, owner, repo)
	if err != nil {
		return nil, cferrors.Wrap(cferrors.KindUpstreamUnavailable, "resolve default branch", err)
	}

	fileDiffs, err := p.buildFileDiffs(ctx, payload.ProjectID, owner, repo, defaultBranch, output.FileOperations)
	if err != nil {
		return nil, err
	}

	pr, err := p.forge.CreatePullRequest(ctx, forge.PullRequestInput{
		Owner: owner,
		Repo:  repo,
		Head:  branchName,
		Base:  defaultBranch,
		Title: "AI: " + payload.Task,
		Body:  output.Explanation,
	})
	if err != nil {
		return nil, cferrors.Wrap(cferrors.KindUpstreamUnavailable, "create pull request", err)
	}

	return &Result{
		PRURL:       pr.URL,
		PRNumber:    pr.Number,
		FileDiffs:   fileDiffs,
		Operations:  output.FileOperations,
		Explanation: output.Explanation,
	}, nil
}

// buildFileDiffs fetches each touched path's pre-change content from the
// repo's default branch (a created file simply has no prior content)
// and the post-change content from the sandbox working tree, then
// synthesizes a unified diff for the pull request body.
func (p *Pipeline) buildFileDiffs(ctx context.Context, projectID, owner, repo, defaultBranch string, ops []gen.FileOp) ([]diff.FileDiff, error) {
	paths := make([]string, 0, len(ops))
	for _, op := range ops {
		paths = append(paths, op.Path)
	}

	oldContents := make(map[string]string, len(paths))
	for _, path := range paths {
		content, exists, err := p.forge.FileContent(ctx, owner, repo, path, defaultBranch)
		if err != nil {
			return nil, cferrors.Wrap(cferrors.KindUpstreamUnavailable, fmt.Sprintf("fetch prior content of %s", path), err)
		}
		if exists {
			oldContents[path] = content
		}
	}

	newContents, err := p.sandboxes.ReadFiles(projectID, paths, 0)
	if err != nil {
		return nil, fmt.Errorf("generation: read new file contents: %w", err)
	}

	return diff.GenerateFileDiffs(p.diffGen, ops, oldContents, newContents)
}

func commitMessage(task string) string {
	msg := strings.TrimSpace(task)
	if msg == "" {
		return "AI-generated change"
	}
	if len(msg) > 72 {
		msg = msg[:72]
	}
	return msg
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// slugify reduces task to a short, lowercase, hyphenated branch-name
// segment.
func slugify(task string) string {
	s := strings.ToLower(strings.TrimSpace(task))
	s = nonSlugChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "task"
	}
	if len(s) > 40 {
		s = strings.Trim(s[:40], "-")
	}
	return s
}

// shellQuote single-quotes s for safe embedding in an sh -c command,
// escaping any embedded single quote.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
