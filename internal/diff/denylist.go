package diff

import (
	"path/filepath"

	"codeforge/internal/domain/generation"
)

// denylistedNames are lock-file basenames excluded from diff
// presentation — they're still written and committed as part of the PR,
// just not rendered as noisy generated diffs.
var denylistedNames = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"Cargo.lock":        true,
	"Gemfile.lock":      true,
	"poetry.lock":       true,
	"go.sum":            true,
}

// IsDenylisted reports whether path is a lock file excluded from diff
// presentation.
func IsDenylisted(path string) bool {
	return denylistedNames[filepath.Base(path)]
}

// FileDiff pairs a changed file's path with its synthesized diff. A
// denylisted path still appears here with Presented=false so callers can
// list it in the PR body without rendering its (often huge, generated)
// diff.
type FileDiff struct {
	Path      string
	Result    *DiffResult
	Presented bool
}

// GenerateFileDiffs synthesizes a FileDiff for every file touched by ops,
// given the pre-change content each path had (oldContents[path] is ""
// for a newly created file). Denylisted paths are skipped in Presented
// but still returned so the caller can surface "N lock-file changes
// omitted" in the PR body.
func GenerateFileDiffs(gen *Generator, ops []generation.FileOp, oldContents, newContents map[string]string) ([]FileDiff, error) {
	diffs := make([]FileDiff, 0, len(ops))
	seen := make(map[string]bool)
	for _, op := range ops {
		if seen[op.Path] {
			continue
		}
		seen[op.Path] = true

		if IsDenylisted(op.Path) {
			diffs = append(diffs, FileDiff{Path: op.Path, Presented: false})
			continue
		}

		old := oldContents[op.Path]
		newer, ok := newContents[op.Path]
		if !ok {
			newer = old
		}
		result, err := gen.GenerateUnified(old, newer, op.Path)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, FileDiff{Path: op.Path, Result: result, Presented: true})
	}
	return diffs, nil
}

// OmittedCount returns how many of diffs were excluded from
// presentation by the denylist.
func OmittedCount(diffs []FileDiff) int {
	n := 0
	for _, d := range diffs {
		if !d.Presented {
			n++
		}
	}
	return n
}
