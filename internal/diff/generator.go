// Package diff synthesizes unified diffs for the file operations a
// generation iteration produced, for display in a pull request body and
// in job status details. Hunks can optionally be colorized for terminal
// display; the PR path always renders plain text.
package diff

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// maxDiffableSize is the size above which a diff is skipped for
// performance and a placeholder hunk is returned instead.
const maxDiffableSize = 10 * 1024 * 1024

// Generator produces unified diffs between an old and a new file content.
type Generator struct {
	contextLines int
	colorEnabled bool
}

// NewGenerator constructs a Generator. contextLines and colorEnabled are
// carried over from the CLI-facing generator; the PR path always
// constructs one with colorEnabled=false.
func NewGenerator(contextLines int, colorEnabled bool) *Generator {
	return &Generator{contextLines: contextLines, colorEnabled: colorEnabled}
}

// DiffResult holds one file's generated diff and its line statistics.
type DiffResult struct {
	UnifiedDiff  string
	AddedLines   int
	DeletedLines int
	ChangedFiles int
	IsBinary     bool
}

// GenerateUnified produces a unified diff between oldContent and
// newContent for filename, short-circuiting on identical content, binary
// content, or content over maxDiffableSize.
func (g *Generator) GenerateUnified(oldContent, newContent, filename string) (*DiffResult, error) {
	if oldContent == newContent {
		return &DiffResult{}, nil
	}

	if isBinary(oldContent) || isBinary(newContent) {
		return &DiffResult{
			UnifiedDiff:  fmt.Sprintf("Binary file %s has changed", filename),
			ChangedFiles: 1,
			IsBinary:     true,
		}, nil
	}

	if len(oldContent) > maxDiffableSize || len(newContent) > maxDiffableSize {
		return &DiffResult{
			UnifiedDiff: fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ Large file (>10MB), diff skipped for performance @@",
				filename, filename),
			ChangedFiles: 1,
		}, nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	patches := dmp.PatchMake(oldContent, diffs)
	unifiedDiff := dmp.PatchToText(patches)
	if len(patches) == 0 || unifiedDiff == "" {
		return g.generateLineDiff(oldContent, newContent, filename)
	}

	added, deleted := g.countChanges(diffs)
	return &DiffResult{
		UnifiedDiff:  g.formatUnifiedDiff(unifiedDiff, filename),
		AddedLines:   added,
		DeletedLines: deleted,
		ChangedFiles: 1,
	}, nil
}

// generateLineDiff is the fallback line-based unified diff used when
// diffmatchpatch's patch text is empty despite differing content.
func (g *Generator) generateLineDiff(oldContent, newContent, filename string) (*DiffResult, error) {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	var body strings.Builder
	added, deleted := 0, 0
	oldIdx, newIdx := 0, 0

	for oldIdx < len(oldLines) || newIdx < len(newLines) {
		switch {
		case oldIdx >= len(oldLines):
			for ; newIdx < len(newLines); newIdx++ {
				body.WriteString(g.colorize(fmt.Sprintf("+%s\n", newLines[newIdx]), color.FgGreen))
				added++
			}
		case newIdx >= len(newLines):
			for ; oldIdx < len(oldLines); oldIdx++ {
				body.WriteString(g.colorize(fmt.Sprintf("-%s\n", oldLines[oldIdx]), color.FgRed))
				deleted++
			}
		case oldLines[oldIdx] == newLines[newIdx]:
			body.WriteString(fmt.Sprintf(" %s\n", oldLines[oldIdx]))
			oldIdx++
			newIdx++
		default:
			body.WriteString(g.colorize(fmt.Sprintf("-%s\n", oldLines[oldIdx]), color.FgRed))
			body.WriteString(g.colorize(fmt.Sprintf("+%s\n", newLines[newIdx]), color.FgGreen))
			deleted++
			added++
			oldIdx++
			newIdx++
		}
	}

	header := g.colorize("--- a/"+filename+"\n", color.FgRed) +
		g.colorize("+++ b/"+filename+"\n", color.FgGreen) +
		g.colorize(fmt.Sprintf("@@ -%d,%d +%d,%d @@\n", 1, len(oldLines), 1, len(newLines)), color.FgCyan)

	return &DiffResult{
		UnifiedDiff:  header + body.String(),
		AddedLines:   added,
		DeletedLines: deleted,
		ChangedFiles: 1,
	}, nil
}

func (g *Generator) formatUnifiedDiff(patchText, filename string) string {
	var out strings.Builder
	out.WriteString(g.colorize("--- a/"+filename+"\n", color.FgRed))
	out.WriteString(g.colorize("+++ b/"+filename+"\n", color.FgGreen))

	for _, line := range strings.Split(patchText, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			out.WriteString(g.colorize(line+"\n", color.FgCyan))
		case strings.HasPrefix(line, "+"):
			out.WriteString(g.colorize(line+"\n", color.FgGreen))
		case strings.HasPrefix(line, "-"):
			out.WriteString(g.colorize(line+"\n", color.FgRed))
		case line != "":
			out.WriteString(line + "\n")
		}
	}
	return out.String()
}

func (g *Generator) countChanges(diffs []diffmatchpatch.Diff) (added, deleted int) {
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += countLines(d.Text)
		}
	}
	return
}

func countLines(text string) int {
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func (g *Generator) colorize(text string, attr color.Attribute) string {
	if !g.colorEnabled {
		return text
	}
	return color.New(attr).Sprint(text)
}

// isBinary reports whether content looks binary: a null byte within its
// first 8000 bytes.
func isBinary(content string) bool {
	checkLen := len(content)
	if checkLen > 8000 {
		checkLen = 8000
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// FormatSummary renders a short human-readable summary of a DiffResult.
func (dr *DiffResult) FormatSummary() string {
	if dr.IsBinary {
		return "Binary file changed"
	}
	if dr.AddedLines == 0 && dr.DeletedLines == 0 {
		return "No changes"
	}
	var parts []string
	if dr.AddedLines > 0 {
		parts = append(parts, fmt.Sprintf("+%d lines", dr.AddedLines))
	}
	if dr.DeletedLines > 0 {
		parts = append(parts, fmt.Sprintf("-%d lines", dr.DeletedLines))
	}
	return strings.Join(parts, ", ")
}
