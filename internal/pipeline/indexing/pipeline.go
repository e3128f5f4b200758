// Package indexing implements the indexing pipeline: clone, enumerate,
// chunk, embed, and upsert into the BM25 and vector indexes, either for
// an entire repository (full) or for just the files a push touched
// (incremental).
package indexing

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	domainchunk "codeforge/internal/domain/chunk"
	"codeforge/internal/domain/indexstate"
	"codeforge/internal/indexing/bm25"
	"codeforge/internal/indexing/chunk"
	"codeforge/internal/indexing/embed"
	"codeforge/internal/indexing/vector"
	"codeforge/internal/sandbox"
	cferrors "codeforge/internal/shared/errors"
	"codeforge/internal/shared/logging"
)

// knownCodeExtensions bounds full-indexing file enumeration to
// syntactically meaningful source files; everything else (images,
// lockfiles, binaries) is never chunked.
var knownCodeExtensions = map[string]bool{
	".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".ts": true, ".tsx": true,
	".py": true, ".rb": true, ".go": true, ".java": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cc": true,
	".rs": true, ".php": true, ".cs": true,
}

// excludedDirs are never descended into during full-repository
// enumeration.
var excludedDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true, "build": true,
	".next": true, "coverage": true,
}

// ProgressReporter receives 0-100 progress milestones as the pipeline
// advances. Implemented by the job queue in production; tests can pass
// a no-op.
type ProgressReporter interface {
	UpdateProgress(ctx context.Context, queueName, jobID string, progress int) error
}

// Config wires the indexing pipeline's collaborators.
type Config struct {
	Sandbox  *sandbox.Manager
	Chunker  *chunk.Chunker
	Embedder *embed.Embedder
	Vectors  *vector.Store
	Meta     indexstate.Store
	Progress ProgressReporter
	Logger   logging.Logger
}

// Pipeline runs full and incremental reindexing.
type Pipeline struct {
	sandboxes *sandbox.Manager
	chunker   *chunk.Chunker
	embedder  *embed.Embedder
	vectors   *vector.Store
	meta      indexstate.Store
	progress  ProgressReporter
	bm25s     *bm25Registry
	logger    logging.Logger
}

// New constructs a Pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		sandboxes: cfg.Sandbox,
		chunker:   cfg.Chunker,
		embedder:  cfg.Embedder,
		vectors:   cfg.Vectors,
		meta:      cfg.Meta,
		progress:  cfg.Progress,
		bm25s:     newBM25Registry(),
		logger:    logging.OrNop(cfg.Logger),
	}
}

// FullPayload is the `index-repo` job payload.
type FullPayload struct {
	ProjectID string `json:"projectId"`
	RepoURL   string `json:"repoUrl"`
	RepoID    string `json:"repoId"`
	Branch    string `json:"branch"`
	AfterSHA  string `json:"afterSha,omitempty"`
	JobID     string `json:"-"`
}

// IncrementalPayload is the `incremental-index` job payload.
type IncrementalPayload struct {
	ProjectID         string   `json:"projectId"`
	RepoURL           string   `json:"repoUrl"`
	RepoID            string   `json:"repoId"`
	Branch            string   `json:"branch"`
	BeforeSHA         string   `json:"beforeSha"`
	AfterSHA          string   `json:"afterSha"`
	Added             []string `json:"added,omitempty"`
	Modified          []string `json:"modified,omitempty"`
	Removed           []string `json:"removed,omitempty"`
	TotalChangedFiles int      `json:"totalChangedFiles"`
	JobID             string   `json:"-"`
}

func (p *Pipeline) reportProgress(ctx context.Context, jobID string, queue string, pct int) {
	if p.progress == nil || jobID == "" {
		return
	}
	if err := p.progress.UpdateProgress(ctx, queue, jobID, pct); err != nil {
		p.logger.Warn("update progress for %s to %d: %v", jobID, pct, err)
	}
}

// RunFull clones the repository, enumerates every known-extension
// source file, chunks, embeds, and rebuilds both indexes from scratch,
// then writes the new meta record. It cleans up the sandbox on exit and
// fails fatally if zero chunks were produced or zero vectors survived
// filtering.
func (p *Pipeline) RunFull(ctx context.Context, payload FullPayload) error {
	defer func() {
		if err := p.sandboxes.Cleanup(ctx, payload.ProjectID); err != nil {
			p.logger.Warn("cleanup sandbox %s: %v", payload.ProjectID, err)
		}
	}()

	p.reportProgress(ctx, payload.JobID, "indexing", 10)

	if err := p.cloneRepo(ctx, payload.ProjectID, payload.RepoURL, payload.AfterSHA); err != nil {
		return err
	}
	p.reportProgress(ctx, payload.JobID, "indexing", 25)

	files, err := p.enumerateCodeFiles(payload.ProjectID)
	if err != nil {
		return err
	}

	chunks, err := p.chunkFiles(payload.ProjectID, payload.RepoID, files)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return cferrors.New(cferrors.KindIntegrityError, "full index produced zero chunks")
	}
	p.reportProgress(ctx, payload.JobID, "indexing", 50)

	vectors, err := p.embedAndBuildVectors(ctx, payload.RepoID, payload.Branch, chunks)
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		return cferrors.New(cferrors.KindIntegrityError, "full index produced zero vectors after filtering")
	}
	p.reportProgress(ctx, payload.JobID, "indexing", 65)

	idx := p.bm25s.getOrCreate(registryKey(payload.RepoID, payload.Branch))
	idx.Build(chunks)
	p.reportProgress(ctx, payload.JobID, "indexing", 90)

	if err := p.vectors.Initialize(payload.RepoID, payload.Branch); err != nil {
		return err
	}
	if err := p.vectors.UpsertVectors(ctx, payload.RepoID, payload.Branch, vectors); err != nil {
		return err
	}

	sha := payload.AfterSHA
	if sha == "" {
		sha = "unknown"
	}
	if err := p.meta.Put(indexstate.Meta{
		RepoID:         payload.RepoID,
		Branch:         payload.Branch,
		LastIndexedAt:  time.Now(),
		LastIndexType:  indexstate.IndexTypeFull,
		LastIndexedSha: sha,
	}); err != nil {
		return fmt.Errorf("indexing: write meta: %w", err)
	}

	p.reportProgress(ctx, payload.JobID, "indexing", 100)
	return nil
}

// RunIncremental reuses (or re-clones) the project's sandbox, removes
// chunks/vectors for removed files, and re-chunks/re-embeds only the
// added and modified files. The sandbox is intentionally retained for
// reuse across incremental runs (no Cleanup call here).
func (p *Pipeline) RunIncremental(ctx context.Context, payload IncrementalPayload) error {
	p.reportProgress(ctx, payload.JobID, "indexing", 10)

	if err := p.cloneRepo(ctx, payload.ProjectID, payload.RepoURL, payload.AfterSHA); err != nil {
		return err
	}
	p.reportProgress(ctx, payload.JobID, "indexing", 25)

	idx := p.bm25s.getOrCreate(registryKey(payload.RepoID, payload.Branch))

	for _, removed := range payload.Removed {
		idx.RemoveFile(removed)
		if err := p.vectors.DeleteByFilePath(ctx, payload.RepoID, payload.Branch, removed); err != nil {
			return err
		}
	}
	p.reportProgress(ctx, payload.JobID, "indexing", 50)

	touched := uniqueStrings(append(append([]string{}, payload.Added...), payload.Modified...))
	var newChunks []domainchunk.Chunk
	if len(touched) > 0 {
		contents, err := p.sandboxes.ReadFiles(payload.ProjectID, touched, 0)
		if err != nil {
			return fmt.Errorf("indexing: read changed files: %w", err)
		}
		for _, path := range touched {
			content, ok := contents[path]
			if !ok {
				continue
			}
			newChunks = append(newChunks, p.chunker.ChunkFile(payload.RepoID, path, filepath.Ext(path), []byte(content))...)
		}
	}
	p.reportProgress(ctx, payload.JobID, "indexing", 65)

	if len(newChunks) > 0 {
		vectors, err := p.embedAndBuildVectors(ctx, payload.RepoID, payload.Branch, newChunks)
		if err != nil {
			return err
		}
		idx.UpdateFiles(newChunks)
		if err := p.vectors.UpsertVectors(ctx, payload.RepoID, payload.Branch, vectors); err != nil {
			return err
		}
	}
	p.reportProgress(ctx, payload.JobID, "indexing", 90)

	if err := p.meta.Put(indexstate.Meta{
		RepoID:         payload.RepoID,
		Branch:         payload.Branch,
		LastIndexedAt:  time.Now(),
		LastIndexType:  indexstate.IndexTypeIncremental,
		LastIndexedSha: payload.AfterSHA,
	}); err != nil {
		return fmt.Errorf("indexing: write meta: %w", err)
	}

	p.reportProgress(ctx, payload.JobID, "indexing", 100)
	return nil
}

func (p *Pipeline) cloneRepo(ctx context.Context, projectID, repoURL, sha string) error {
	cmds := []string{fmt.Sprintf("git clone --depth 50 %s .", repoURL)}
	if sha != "" {
		cmds = append(cmds, fmt.Sprintf("git checkout %s", sha))
	}
	results, err := p.sandboxes.RunCommands(ctx, projectID, cmds, "", 5*time.Minute)
	if err != nil {
		return cferrors.Wrap(cferrors.KindUpstreamUnavailable, "clone repository", err)
	}
	for _, r := range results {
		if r.ExitErr != nil {
			return cferrors.Wrap(cferrors.KindUpstreamUnavailable, fmt.Sprintf("command %q failed", r.Command), r.ExitErr)
		}
	}
	return nil
}

func (p *Pipeline) enumerateCodeFiles(projectID string) ([]string, error) {
	nodes, err := p.sandboxes.FileTree(projectID, "")
	if err != nil {
		return nil, fmt.Errorf("indexing: enumerate files: %w", err)
	}
	var files []string
	for _, n := range nodes {
		if n.IsDir {
			continue
		}
		if inExcludedDir(n.Path) {
			continue
		}
		if knownCodeExtensions[strings.ToLower(filepath.Ext(n.Path))] {
			files = append(files, n.Path)
		}
	}
	return files, nil
}

func inExcludedDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if excludedDirs[part] {
			return true
		}
	}
	return false
}

func (p *Pipeline) chunkFiles(projectID, repoID string, files []string) ([]domainchunk.Chunk, error) {
	var all []domainchunk.Chunk
	for _, path := range files {
		contents, err := p.sandboxes.ReadFiles(projectID, []string{path}, 0)
		if err != nil {
			return nil, fmt.Errorf("indexing: read %s: %w", path, err)
		}
		all = append(all, p.chunker.ChunkFile(repoID, path, filepath.Ext(path), []byte(contents[path]))...)
	}
	return all, nil
}

func (p *Pipeline) embedAndBuildVectors(ctx context.Context, repoID, branch string, chunks []domainchunk.Chunk) ([]vector.Vector, error) {
	embeddings := p.embedder.EmbedChunks(ctx, chunks)
	vectors := make([]vector.Vector, 0, len(chunks))
	for i, c := range chunks {
		if len(embeddings[i]) == 0 {
			continue
		}
		vectors = append(vectors, vector.Vector{
			ChunkID:   c.ID,
			FilePath:  c.FilePath,
			LineStart: c.LineStart,
			LineEnd:   c.LineEnd,
			ChunkType: string(c.Kind),
			Preview:   c.Content,
			Embedding: embeddings[i],
		})
	}
	return vectors, nil
}

// BM25For returns the in-memory lexical index for repoID+branch,
// creating an empty one if this process has not indexed it yet. The
// generation pipeline shares this Pipeline instance so its hybrid
// retriever always reads the same registry the indexing pipeline
// writes to.
func (p *Pipeline) BM25For(repoID, branch string) *bm25.Index {
	return p.bm25s.getOrCreate(registryKey(repoID, branch))
}

// Vectors exposes the shared vector store for the generation pipeline's
// retriever.
func (p *Pipeline) Vectors() *vector.Store {
	return p.vectors
}

// Meta exposes the shared index-state store so the generation pipeline
// can check repoIndexed(repoId, branch) before waiting on an indexing
// job.
func (p *Pipeline) Meta() indexstate.Store {
	return p.meta
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
