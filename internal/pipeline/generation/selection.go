package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gen "codeforge/internal/domain/generation"
	cferrors "codeforge/internal/shared/errors"

	"github.com/kaptinlin/jsonrepair"
)

// selectFiles asks the LLM which of candidateFiles (shown only as
// skeletons, never raw content, to keep the prompt small) are relevant
// to task. Any selected path the LLM hallucinates outside
// candidateFiles is rejected; if the call fails or nothing valid
// survives, selectFiles returns the top min(5, len(candidateFiles))
// candidates instead.
func (p *Pipeline) selectFiles(ctx context.Context, task string, candidateFiles []string, skeletons map[string]string) []string {
	prompt := buildSelectionPrompt(task, candidateFiles, skeletons)
	raw, err := p.llmClient.Complete(ctx, selectionSystemPrompt, prompt)
	if err != nil {
		p.logger.Warn("generation: file selection call failed, falling back to top candidates: %v", err)
		return fallbackFiles(candidateFiles)
	}

	selected := parseSelectedFiles(raw, candidateFiles)
	if len(selected) == 0 {
		return fallbackFiles(candidateFiles)
	}
	return selected
}

func fallbackFiles(candidateFiles []string) []string {
	n := 5
	if len(candidateFiles) < n {
		n = len(candidateFiles)
	}
	return candidateFiles[:n]
}

const selectionSystemPrompt = `You select which files a code-change task needs to touch.
Respond with one file path per line, chosen only from the candidate list. No commentary.`

func buildSelectionPrompt(task string, candidateFiles []string, skeletons map[string]string) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(task)
	b.WriteString("\n\nCandidate files:\n")
	for _, f := range candidateFiles {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
		if sk := skeletons[f]; sk != "" {
			b.WriteString(sk)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// parseSelectedFiles liberally parses the LLM's line-oriented file list:
// stripping bullet/markdown/quote decoration, requiring a path
// separator and a known source extension, and intersecting against
// candidateFiles to reject hallucinated paths.
func parseSelectedFiles(raw string, candidateFiles []string) []string {
	allowed := make(map[string]bool, len(candidateFiles))
	for _, f := range candidateFiles {
		allowed[f] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		path := cleanSelectionLine(line)
		if path == "" || !strings.Contains(path, "/") || !isKnownSourceFile(path) {
			continue
		}
		if !allowed[path] || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}

func cleanSelectionLine(line string) string {
	s := strings.TrimSpace(line)
	for _, prefix := range []string{"- ", "* ", "1. ", "`", "'", "\""} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.Trim(s, "`'\"")
	s = strings.TrimSpace(s)
	return s
}

// generateIteration asks the LLM for one GenerateOutput given the
// current set of selected files, their skeletons, the task, and any
// validation errors from the prior iteration.
func (p *Pipeline) generateIteration(ctx context.Context, task string, selectedFiles []string, skeletons map[string]string, priorErrors []gen.ValidationError) (*gen.GenerateOutput, error) {
	prompt := buildGenerationPrompt(task, selectedFiles, skeletons, priorErrors)
	raw, err := p.llmClient.Complete(ctx, generationSystemPrompt, prompt)
	if err != nil {
		return nil, cferrors.Wrap(cferrors.KindUpstreamUnavailable, "generation completion", err)
	}
	return parseGenerateOutput(raw)
}

const generationSystemPrompt = `You make code changes to satisfy a task. Respond with a single JSON object
matching: {"fileOperations":[{"type":"createFile|rewriteFile|updateFile|deleteFile","path":"...","content":"...","searchReplace":[{"search":"...","replace":"..."}]}],"shellCommands":["..."],"explanation":"..."}
No markdown fences, no commentary outside the JSON object.`

func buildGenerationPrompt(task string, selectedFiles []string, skeletons map[string]string, priorErrors []gen.ValidationError) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(task)
	b.WriteString("\n\nFiles:\n")
	for _, f := range selectedFiles {
		b.WriteString("### ")
		b.WriteString(f)
		b.WriteString("\n")
		b.WriteString(skeletons[f])
		b.WriteString("\n")
	}
	if len(priorErrors) > 0 {
		b.WriteString("\nThe previous attempt failed validation:\n")
		for _, e := range priorErrors {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", e.Check, e.Message))
		}
	}
	return b.String()
}

// parseGenerateOutput decodes raw as a GenerateOutput, stripping a
// markdown code fence if present, then falling back to jsonrepair
// before giving up.
func parseGenerateOutput(raw string) (*gen.GenerateOutput, error) {
	candidate := stripCodeFence(raw)

	var out gen.GenerateOutput
	if err := json.Unmarshal([]byte(candidate), &out); err == nil {
		return &out, nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, cferrors.Wrap(cferrors.KindValidationFailure, "generation response was not valid JSON", err)
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, cferrors.Wrap(cferrors.KindValidationFailure, "repaired generation response still not valid JSON", err)
	}
	return &out, nil
}

func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}
