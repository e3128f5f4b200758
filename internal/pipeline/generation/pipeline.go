// Package generation implements the generate-validate pipeline: wait on
// an upstream indexing job, retrieve candidate chunks for a user task,
// build per-file skeletons, drive a bounded generate-validate loop
// against an LLM inside a sandbox, and on success push a branch and open
// a pull request.
package generation

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	gen "codeforge/internal/domain/generation"
	"codeforge/internal/domain/indexstate"
	"codeforge/internal/domain/job"
	"codeforge/internal/codegraph"
	"codeforge/internal/diff"
	"codeforge/internal/external/forge"
	"codeforge/internal/external/llm"
	"codeforge/internal/indexing/bm25"
	"codeforge/internal/indexing/embed"
	"codeforge/internal/indexing/retrieve"
	"codeforge/internal/indexing/vector"
	"codeforge/internal/sandbox"
	cferrors "codeforge/internal/shared/errors"
	"codeforge/internal/shared/logging"
	"codeforge/internal/validate"
)

// IndexSource is the subset of the indexing pipeline the generation
// pipeline needs: the shared in-memory lexical index and the shared
// vector store, so a hybrid retrieval always sees whatever the indexing
// pipeline has written, without the two pipelines importing each other's
// concrete types.
type IndexSource interface {
	BM25For(repoID, branch string) *bm25.Index
	Vectors() *vector.Store
	Meta() indexstate.Store
}

// JobStatusSource is the subset of the queue client needed to poll an
// upstream indexing job's terminal state.
type JobStatusSource interface {
	GetJob(ctx context.Context, queueName, jobID string) (*job.Job, error)
}

// ProgressReporter receives 0-100 progress milestones.
type ProgressReporter interface {
	UpdateProgress(ctx context.Context, queueName, jobID string, progress int) error
}

// Config wires the generation pipeline's collaborators.
type Config struct {
	Sandbox   *sandbox.Manager
	Indexes   IndexSource
	Embedder  *embed.Embedder
	CodeGraph *codegraph.Builder
	LLM       llm.Client
	Validator *validate.Validator
	Forge     forge.Client
	DiffGen   *diff.Generator
	Jobs      JobStatusSource
	Progress  ProgressReporter

	RetrieveTopK      int
	MaxIterations     int
	IndexPollInterval time.Duration
	IndexWaitTimeout  time.Duration
	CommitAuthorName  string
	CommitAuthorEmail string

	Logger logging.Logger
}

// Pipeline runs the generate-validate loop for one task at a time.
type Pipeline struct {
	sandboxes *sandbox.Manager
	indexes   IndexSource
	embedder  *embed.Embedder
	codeGraph *codegraph.Builder
	llmClient llm.Client
	validator *validate.Validator
	forge     forge.Client
	diffGen   *diff.Generator
	jobs      JobStatusSource
	progress  ProgressReporter

	retrieveTopK      int
	maxIterations     int
	indexPollInterval time.Duration
	indexWaitTimeout  time.Duration
	authorName        string
	authorEmail       string

	logger logging.Logger
}

// New constructs a Pipeline, applying spec defaults (topK 20, 3
// iterations, 5s poll / 10m wait, bot@codeforge.dev author) for any
// zero-valued tuning field.
func New(cfg Config) *Pipeline {
	topK := cfg.RetrieveTopK
	if topK <= 0 {
		topK = 20
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 3
	}
	poll := cfg.IndexPollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	wait := cfg.IndexWaitTimeout
	if wait <= 0 {
		wait = 10 * time.Minute
	}
	name := cfg.CommitAuthorName
	if name == "" {
		name = "codeforge-bot"
	}
	email := cfg.CommitAuthorEmail
	if email == "" {
		email = "bot@codeforge.dev"
	}
	return &Pipeline{
		sandboxes:         cfg.Sandbox,
		indexes:           cfg.Indexes,
		embedder:          cfg.Embedder,
		codeGraph:         cfg.CodeGraph,
		llmClient:         cfg.LLM,
		validator:         cfg.Validator,
		forge:             cfg.Forge,
		diffGen:           cfg.DiffGen,
		jobs:              cfg.Jobs,
		progress:          cfg.Progress,
		retrieveTopK:      topK,
		maxIterations:     maxIter,
		indexPollInterval: poll,
		indexWaitTimeout:  wait,
		authorName:        name,
		authorEmail:       email,
		logger:            logging.OrNop(cfg.Logger),
	}
}

// Payload is the `process` job payload.
type Payload struct {
	ProjectID         string `json:"projectId"`
	RepoURL           string `json:"repoUrl"`
	Task              string `json:"task"`
	RepoID            string `json:"repoId"`
	Branch            string `json:"branch,omitempty"`
	IndexingJobID     string `json:"indexingJobId,omitempty"`
	InstallationToken string `json:"installationToken,omitempty"`
	UserID            string `json:"userId"`
	Username          string `json:"username"`
	JobID             string `json:"-"`
}

// Result is what a successful run reports back to the caller.
type Result struct {
	PRURL       string
	PRNumber    int
	FileDiffs   []diff.FileDiff
	Operations  []gen.FileOp
	Explanation string
}

func (p *Pipeline) reportProgress(ctx context.Context, jobID string, pct int) {
	if p.progress == nil || jobID == "" {
		return
	}
	if err := p.progress.UpdateProgress(ctx, job.QueueGeneration, jobID, pct); err != nil {
		p.logger.Warn("update progress for %s to %d: %v", jobID, pct, err)
	}
}

// Run drives one generation task end to end: wait on indexing,
// retrieve+skeleton, iterate generate-validate, then open a pull
// request.
func (p *Pipeline) Run(ctx context.Context, payload Payload) (*Result, error) {
	branch := payload.Branch
	if branch == "" {
		branch = "main"
	}

	if err := forge.ValidateCloneURL(payload.RepoURL); err != nil {
		return nil, err
	}

	p.reportProgress(ctx, payload.JobID, 10)

	if payload.IndexingJobID != "" {
		if err := p.waitForIndexing(ctx, payload.IndexingJobID); err != nil {
			return nil, err
		}
	}

	if err := p.cloneRepo(ctx, payload.ProjectID, payload.RepoURL, payload.InstallationToken); err != nil {
		return nil, err
	}
	p.reportProgress(ctx, payload.JobID, 20)

	pm := p.sandboxes.DetectPackageManager(payload.ProjectID)
	p.reportProgress(ctx, payload.JobID, 25)

	hits, err := p.retrieveCandidates(ctx, payload.RepoID, branch, payload.Task)
	if err != nil {
		return nil, err
	}
	candidateFiles := retrieve.UniqueFilesFromResults(hits)
	p.reportProgress(ctx, payload.JobID, 40)

	contents, err := p.sandboxes.ReadFiles(payload.ProjectID, candidateFiles, 0)
	if err != nil {
		return nil, fmt.Errorf("generation: read candidate files: %w", err)
	}
	graph := p.codeGraph.Build(toByteMap(contents))
	skeletons := buildSkeletons(graph, candidateFiles)
	p.reportProgress(ctx, payload.JobID, 50)
	p.reportProgress(ctx, payload.JobID, 60)

	selectedFiles := p.selectFiles(ctx, payload.Task, candidateFiles, skeletons)

	state := gen.NewState(p.maxIterations)
	for {
		state.Iteration++

		output, err := p.generateIteration(ctx, payload.Task, selectedFiles, skeletons, state.ValidationErrors)
		if err != nil {
			return nil, err
		}
		state.LastOutput = output

		if err := p.sandboxes.ExecuteFileOperations(payload.ProjectID, output.FileOperations); err != nil {
			return nil, fmt.Errorf("generation: apply file operations: %w", err)
		}
		p.runShellCommands(ctx, payload.ProjectID, output.ShellCommands)

		report, err := p.validator.Validate(ctx, payload.ProjectID, pm, validate.Options{CheckSyntax: true, CheckTypes: true})
		if err != nil {
			return nil, fmt.Errorf("generation: validate iteration %d: %w", state.Iteration, err)
		}

		errs := toValidationErrors(report)
		phase := gen.Transition(state, report.AllPassed, errs)
		p.reportProgress(ctx, payload.JobID, iterationProgress(state.Iteration, p.maxIterations))

		if phase == gen.PhaseCreatePR {
			break
		}
		if phase == gen.PhaseFailed {
			return nil, cferrors.New(cferrors.KindValidationFailure,
				fmt.Sprintf("generation failed validation after %d iterations: %s", state.Iteration, summarizeErrors(errs)))
		}
	}

	result, err := p.createPullRequest(ctx, payload, state.LastOutput)
	if err != nil {
		return nil, err
	}
	p.reportProgress(ctx, payload.JobID, 100)
	return result, nil
}

// iterationProgress spreads the validation loop's iterations across the
// 70-95 progress band.
func iterationProgress(iteration, maxIterations int) int {
	span := 95 - 70
	pct := 70 + (span*iteration)/maxIterations
	if pct > 95 {
		pct = 95
	}
	return pct
}

func (p *Pipeline) waitForIndexing(ctx context.Context, jobID string) error {
	deadline := time.Now().Add(p.indexWaitTimeout)
	for {
		j, err := p.jobs.GetJob(ctx, job.QueueIndexing, jobID)
		if err != nil {
			return fmt.Errorf("generation: poll indexing job %s: %w", jobID, err)
		}
		if j.State.IsTerminal() {
			if j.State == job.StateFailed {
				return cferrors.New(cferrors.KindUpstreamUnavailable, fmt.Sprintf("indexing job %s failed: %s", jobID, j.FailedReason))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return cferrors.New(cferrors.KindUpstreamUnavailable, fmt.Sprintf("indexing job %s did not complete within %s", jobID, p.indexWaitTimeout))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.indexPollInterval):
		}
	}
}

func (p *Pipeline) cloneRepo(ctx context.Context, projectID, repoURL, installationToken string) error {
	cloneURL := repoURL
	if installationToken != "" {
		cloneURL = forge.RewriteCloneURL(repoURL, installationToken)
	}
	results, err := p.sandboxes.RunCommands(ctx, projectID, []string{fmt.Sprintf("git clone %s .", cloneURL)}, "", 5*time.Minute)
	if err != nil {
		return cferrors.Wrap(cferrors.KindUpstreamUnavailable, "clone repository", err)
	}
	for _, r := range results {
		if r.ExitErr != nil {
			return cferrors.Wrap(cferrors.KindUpstreamUnavailable, "git clone failed", r.ExitErr)
		}
	}
	return nil
}

func (p *Pipeline) retrieveCandidates(ctx context.Context, repoID, branch, task string) ([]retrieve.Hit, error) {
	idx := p.indexes.BM25For(repoID, branch)
	retriever := retrieve.New(idx, p.indexes.Vectors(), p.embedder, repoID, branch)
	return retriever.Query(ctx, task, p.retrieveTopK)
}

func (p *Pipeline) runShellCommands(ctx context.Context, projectID string, cmds []string) {
	if len(cmds) == 0 {
		return
	}
	results, err := p.sandboxes.RunCommands(ctx, projectID, cmds, "", 3*time.Minute)
	if err != nil {
		p.logger.Warn("generation: shell commands failed to run: %v", err)
		return
	}
	for _, r := range results {
		if r.ExitErr != nil {
			p.logger.Warn("generation: shell command %q failed: %v", r.Command, r.ExitErr)
		}
	}
}

func buildSkeletons(graph *codegraph.Graph, files []string) map[string]string {
	skeletons := make(map[string]string, len(files))
	for _, f := range files {
		skeletons[f] = codegraph.FormatSkeleton(graph, f)
	}
	return skeletons
}

func toByteMap(in map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		out[k] = []byte(v)
	}
	return out
}

func toValidationErrors(report *validate.Report) []gen.ValidationError {
	var errs []gen.ValidationError
	addCheck := func(name string, r *validate.CheckResult) {
		if r == nil || r.Passed {
			return
		}
		for _, msg := range r.Errors {
			errs = append(errs, gen.ValidationError{Check: name, Message: msg})
		}
		if len(r.Errors) == 0 {
			errs = append(errs, gen.ValidationError{Check: name, Message: "check failed"})
		}
	}
	addCheck("syntax", report.Syntax)
	addCheck("types", report.Types)
	addCheck("tests", report.Tests)
	addCheck("build", report.Build)
	return errs
}

func summarizeErrors(errs []gen.ValidationError) string {
	if len(errs) == 0 {
		return "no detail"
	}
	out := errs[0].Check + ": " + errs[0].Message
	for _, e := range errs[1:] {
		out += "; " + e.Check + ": " + e.Message
	}
	return out
}

// knownSourceExtensions bounds the LLM file-selection parser: a line
// only counts as a file path if it ends in one of these.
var knownSourceExtensions = map[string]bool{
	".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".ts": true, ".tsx": true,
	".py": true, ".rb": true, ".go": true, ".java": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cc": true,
	".rs": true, ".php": true, ".cs": true,
}

func isKnownSourceFile(path string) bool {
	return knownSourceExtensions[filepath.Ext(path)]
}
