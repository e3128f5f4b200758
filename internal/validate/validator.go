// Package validate runs syntax, type, test, and build checks inside a
// sandbox and reduces them to a single weighted score, short-circuiting
// on a syntax failure. The detect -> run -> parse line-oriented output
// -> score shape grades one generation-loop iteration the same way an
// evaluation harness grades a patch against a sandboxed checkout.
package validate

import (
	"context"
	"regexp"
	"strings"
	"time"

	"codeforge/internal/sandbox"
	"codeforge/internal/shared/logging"
)

// Options selects which checks to run.
type Options struct {
	CheckSyntax bool
	CheckTypes  bool
	RunTests    bool
	RunBuild    bool
}

// CheckResult is one check's outcome.
type CheckResult struct {
	Passed bool
	Errors []string
	Pass   int // tests only
	Fail   int // tests only
}

// Report is the Validator's return value.
type Report struct {
	AllPassed     bool
	Score         float64
	ErrorCount    int
	Syntax        *CheckResult
	Types         *CheckResult
	Tests         *CheckResult
	Build         *CheckResult
	ExecutionTime time.Duration
}

const (
	weightSyntax = 0.2
	weightTypes  = 0.2
	weightTests  = 0.6
)

// toolchainCommands names the command run per check, per detected
// package manager.
var toolchainCommands = map[sandbox.PackageManager]struct {
	syntax string
	types  string
	test   string
	build  string
}{
	sandbox.PackageManagerNPM:    {syntax: "node --check index.js", types: "npx tsc --noEmit", test: "npm test --silent", build: "npm run build --silent"},
	sandbox.PackageManagerYarn:   {syntax: "node --check index.js", types: "yarn tsc --noEmit", test: "yarn test --silent", build: "yarn build"},
	sandbox.PackageManagerPNPM:   {syntax: "node --check index.js", types: "pnpm exec tsc --noEmit", test: "pnpm test", build: "pnpm build"},
	sandbox.PackageManagerPip:    {syntax: "python -m py_compile $(git ls-files '*.py')", types: "mypy .", test: "pytest -q", build: ""},
	sandbox.PackageManagerGo:     {syntax: "gofmt -l .", types: "go vet ./...", test: "go test ./...", build: "go build ./..."},
	sandbox.PackageManagerCargo:  {syntax: "cargo check --message-format short", types: "cargo check --message-format short", test: "cargo test", build: "cargo build"},
	sandbox.PackageManagerBundle: {syntax: "ruby -c $(git ls-files '*.rb')", types: "", test: "bundle exec rspec", build: ""},
}

// Validator runs checks inside a sandbox.Manager.
type Validator struct {
	sandboxes *sandbox.Manager
	timeout   time.Duration
	logger    logging.Logger
}

// New constructs a Validator.
func New(sandboxes *sandbox.Manager, timeout time.Duration, logger logging.Logger) *Validator {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Validator{sandboxes: sandboxes, timeout: timeout, logger: logging.OrNop(logger)}
}

// Validate runs opts's selected checks for projectID under pm, returning
// a weighted Report.
func (v *Validator) Validate(ctx context.Context, projectID string, pm sandbox.PackageManager, opts Options) (*Report, error) {
	start := time.Now()
	cmds := toolchainCommands[pm]
	report := &Report{AllPassed: true}

	if opts.CheckSyntax {
		report.Syntax = v.runCheck(ctx, projectID, cmds.syntax)
		if !report.Syntax.Passed {
			report.AllPassed = false
			report.ErrorCount += len(report.Syntax.Errors)
			report.Score = 0
			report.ExecutionTime = time.Since(start)
			return report, nil // short-circuit: a syntax failure skips subsequent checks
		}
	}

	var score float64
	if opts.CheckSyntax {
		score += weightSyntax
	} else {
		score += weightSyntax // not requested: contributes neutrally, same as passed
	}

	if opts.CheckTypes {
		report.Types = v.runCheck(ctx, projectID, cmds.types)
		if report.Types.Passed {
			score += weightTypes
		} else {
			report.AllPassed = false
			report.ErrorCount += len(report.Types.Errors)
		}
	} else {
		score += weightTypes
	}

	if opts.RunTests {
		report.Tests = v.runTests(ctx, projectID, cmds.test)
		total := report.Tests.Pass + report.Tests.Fail
		if total == 0 {
			score += weightTests // no detectable test runner: neutral
		} else {
			ratio := float64(report.Tests.Pass) / float64(total)
			score += weightTests * ratio
			if report.Tests.Fail > 0 {
				report.AllPassed = false
				report.ErrorCount += report.Tests.Fail
			}
		}
	} else {
		score += weightTests
	}

	if opts.RunBuild {
		report.Build = v.runCheck(ctx, projectID, cmds.build)
		if !report.Build.Passed {
			report.AllPassed = false
			report.ErrorCount += len(report.Build.Errors)
		}
	}

	report.Score = score
	report.ExecutionTime = time.Since(start)
	return report, nil
}

func (v *Validator) runCheck(ctx context.Context, projectID, cmd string) *CheckResult {
	if strings.TrimSpace(cmd) == "" {
		return &CheckResult{Passed: true}
	}
	results, err := v.sandboxes.RunCommands(ctx, projectID, []string{cmd}, "", v.timeout)
	if err != nil {
		return &CheckResult{Passed: false, Errors: []string{err.Error()}}
	}
	if len(results) == 0 {
		return &CheckResult{Passed: false, Errors: []string{"no command output"}}
	}
	res := results[0]
	if res.ExitErr != nil {
		return &CheckResult{Passed: false, Errors: extractErrorLines(res.Output)}
	}
	return &CheckResult{Passed: true}
}

var testSummaryPattern = regexp.MustCompile(`(\d+)\s+passed.*?(\d+)\s+failed|(\d+)\s+failed.*?(\d+)\s+passed`)

func (v *Validator) runTests(ctx context.Context, projectID, cmd string) *CheckResult {
	if strings.TrimSpace(cmd) == "" {
		return &CheckResult{Passed: true}
	}
	results, err := v.sandboxes.RunCommands(ctx, projectID, []string{cmd}, "", v.timeout)
	if err != nil || len(results) == 0 {
		return &CheckResult{Passed: false, Errors: []string{"test runner did not produce output"}}
	}
	pass, fail := parseTestSummary(results[0].Output)
	return &CheckResult{Passed: fail == 0, Pass: pass, Fail: fail, Errors: extractErrorLines(results[0].Output)}
}

// parseTestSummary extracts pass/fail counts from common test-runner
// summary lines ("12 passed, 1 failed" / "1 failed, 12 passed").
func parseTestSummary(output string) (pass, fail int) {
	m := testSummaryPattern.FindStringSubmatch(output)
	if m == nil {
		return 0, 0
	}
	if m[1] != "" {
		pass = atoiSafe(m[1])
		fail = atoiSafe(m[2])
		return
	}
	fail = atoiSafe(m[3])
	pass = atoiSafe(m[4])
	return
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// errorLinePattern matches common "file:line: message" compiler output.
var errorLinePattern = regexp.MustCompile(`(?m)^.+:\d+(:\d+)?:.*(error|Error).*$`)

func extractErrorLines(output string) []string {
	matches := errorLinePattern.FindAllString(output, -1)
	if len(matches) == 0 && strings.TrimSpace(output) != "" {
		return []string{strings.TrimSpace(output)}
	}
	return matches
}
