package validate

import (
	"context"
	"testing"
	"time"

	"codeforge/internal/sandbox"
)

type scriptedContainerClient struct {
	outputs map[string]string // command substring -> output
	fail    map[string]bool   // command substring -> should error
}

func (c *scriptedContainerClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (c *scriptedContainerClient) ContainerRunning(ctx context.Context, name string) (bool, error) {
	return true, nil
}
func (c *scriptedContainerClient) ContainerCreate(ctx context.Context, opts sandbox.CreateOpts) error {
	return nil
}
func (c *scriptedContainerClient) ContainerStart(ctx context.Context, name string) error { return nil }
func (c *scriptedContainerClient) ContainerStop(ctx context.Context, name string, timeout time.Duration) error {
	return nil
}
func (c *scriptedContainerClient) ContainerRemove(ctx context.Context, name string) error { return nil }
func (c *scriptedContainerClient) ContainerInspect(ctx context.Context, name string) (*sandbox.ContainerInfo, error) {
	return &sandbox.ContainerInfo{Name: name}, nil
}
func (c *scriptedContainerClient) Exec(ctx context.Context, container string, cmd []string, opts sandbox.ExecOpts) (string, error) {
	full := cmd[len(cmd)-1]
	for substr, out := range c.outputs {
		if contains(full, substr) {
			if c.fail[substr] {
				return out, errExec
			}
			return out, nil
		}
	}
	return "", nil
}
func (c *scriptedContainerClient) CopyTo(ctx context.Context, container string, src, dst string) error {
	return nil
}
func (c *scriptedContainerClient) ImagePull(ctx context.Context, image string) error { return nil }

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

var errExec = &execError{"command failed"}

type execError struct{ msg string }

func (e *execError) Error() string { return e.msg }

func newTestValidator(t *testing.T, client *scriptedContainerClient) *Validator {
	t.Helper()
	mgr := sandbox.NewManager(sandbox.Config{Client: client, Image: "codeforge/sandbox:latest", BaseDir: t.TempDir()})
	return New(mgr, time.Second, nil)
}

func TestValidate_SyntaxFailureShortCircuits(t *testing.T) {
	client := &scriptedContainerClient{
		outputs: map[string]string{"node --check": "index.js:3: SyntaxError: unexpected token"},
		fail:    map[string]bool{"node --check": true},
	}
	v := newTestValidator(t, client)

	report, err := v.Validate(context.Background(), "proj1", sandbox.PackageManagerNPM, Options{CheckSyntax: true, CheckTypes: true, RunTests: true})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.AllPassed {
		t.Fatal("expected AllPassed=false on syntax failure")
	}
	if report.Score != 0 {
		t.Fatalf("expected score 0 on syntax short-circuit, got %v", report.Score)
	}
	if report.Types != nil || report.Tests != nil {
		t.Fatal("expected types/tests to be skipped after syntax failure")
	}
}

func TestValidate_NoTestRunnerIsNeutral(t *testing.T) {
	client := &scriptedContainerClient{outputs: map[string]string{}}
	v := newTestValidator(t, client)

	report, err := v.Validate(context.Background(), "proj2", sandbox.PackageManagerGo, Options{RunTests: true})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.AllPassed {
		t.Fatal("expected AllPassed=true when no test runner output present")
	}
	if report.Score != 1.0 {
		t.Fatalf("expected full neutral score 1.0, got %v", report.Score)
	}
}

func TestValidate_PartialTestFailureWeightsScoreProportionally(t *testing.T) {
	client := &scriptedContainerClient{
		outputs: map[string]string{"go test": "8 passed, 2 failed"},
		fail:    map[string]bool{},
	}
	v := newTestValidator(t, client)

	report, err := v.Validate(context.Background(), "proj3", sandbox.PackageManagerGo, Options{RunTests: true})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.AllPassed {
		t.Fatal("expected AllPassed=false with failing tests")
	}
	want := weightSyntax + weightTypes + weightTests*0.8
	if diff := report.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected score %v, got %v", want, report.Score)
	}
}

func TestValidate_AllChecksPassingScoresOne(t *testing.T) {
	client := &scriptedContainerClient{
		outputs: map[string]string{
			"gofmt":   "",
			"go vet":  "",
			"go test": "10 passed, 0 failed",
			"go build": "",
		},
	}
	v := newTestValidator(t, client)

	report, err := v.Validate(context.Background(), "proj4", sandbox.PackageManagerGo, Options{
		CheckSyntax: true, CheckTypes: true, RunTests: true, RunBuild: true,
	})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.AllPassed {
		t.Fatalf("expected AllPassed=true, got report %+v", report)
	}
	if report.Score != 1.0 {
		t.Fatalf("expected score 1.0, got %v", report.Score)
	}
}
