package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"codeforge/internal/domain/generation"
)

type fakeContainerClient struct {
	mu      sync.Mutex
	created []string
	removed []string
}

func (f *fakeContainerClient) ContainerExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (f *fakeContainerClient) ContainerRunning(ctx context.Context, name string) (bool, error) {
	return true, nil
}
func (f *fakeContainerClient) ContainerCreate(ctx context.Context, opts CreateOpts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, opts.Name)
	return nil
}
func (f *fakeContainerClient) ContainerStart(ctx context.Context, name string) error { return nil }
func (f *fakeContainerClient) ContainerStop(ctx context.Context, name string, timeout time.Duration) error {
	return nil
}
func (f *fakeContainerClient) ContainerRemove(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}
func (f *fakeContainerClient) ContainerInspect(ctx context.Context, name string) (*ContainerInfo, error) {
	return &ContainerInfo{Name: name, Running: true}, nil
}
func (f *fakeContainerClient) Exec(ctx context.Context, container string, cmd []string, opts ExecOpts) (string, error) {
	return "ok", nil
}
func (f *fakeContainerClient) CopyTo(ctx context.Context, container string, src, dst string) error {
	return nil
}
func (f *fakeContainerClient) ImagePull(ctx context.Context, image string) error { return nil }

func newTestManager(t *testing.T) (*Manager, *fakeContainerClient) {
	t.Helper()
	client := &fakeContainerClient{}
	mgr := NewManager(Config{Client: client, Image: "codeforge/sandbox:latest", BaseDir: t.TempDir()})
	return mgr, client
}

func TestWorkdirFor_SanitizesPathSeparators(t *testing.T) {
	mgr, _ := newTestManager(t)
	dir := mgr.WorkdirFor("acme/widgets")
	if filepath.Base(dir) != "acme_widgets" {
		t.Fatalf("expected sanitized project id in workdir, got %s", dir)
	}
}

func TestGetOrCreate_ReusesExistingEntry(t *testing.T) {
	mgr, client := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.GetOrCreate(ctx, "acme/widgets"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := mgr.GetOrCreate(ctx, "acme/widgets"); err != nil {
		t.Fatalf("GetOrCreate (second call): %v", err)
	}
	if len(client.created) != 1 {
		t.Fatalf("expected exactly 1 container creation, got %d", len(client.created))
	}
}

func TestCleanup_RemovesMapEntryBeforeKill(t *testing.T) {
	mgr, client := newTestManager(t)
	ctx := context.Background()
	if _, err := mgr.GetOrCreate(ctx, "acme/widgets"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if err := mgr.Cleanup(ctx, "acme/widgets"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(client.removed) != 1 {
		t.Fatalf("expected container removal, got %v", client.removed)
	}

	mgr.mu.Lock()
	_, stillPresent := mgr.entries["acme/widgets"]
	mgr.mu.Unlock()
	if stillPresent {
		t.Fatal("expected map entry to be gone after cleanup")
	}
}

func TestWriteReadDeleteFile_RoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.WriteFile("proj1", "nested/app.go", "package main\n"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	contents, err := mgr.ReadFiles("proj1", []string{"nested/app.go"}, 0)
	if err != nil {
		t.Fatalf("ReadFiles: %v", err)
	}
	if contents["nested/app.go"] != "package main\n" {
		t.Fatalf("unexpected content: %q", contents["nested/app.go"])
	}
	if err := mgr.DeleteFile("proj1", "nested/app.go"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mgr.WorkdirFor("proj1"), "nested/app.go")); !os.IsNotExist(err) {
		t.Fatal("expected file to be gone after delete")
	}
}

func TestExecuteFileOperations_CreateRewriteDelete(t *testing.T) {
	mgr, _ := newTestManager(t)
	ops := []generation.FileOp{
		{Type: generation.OpCreateFile, Path: "a.go", Content: "package a\n"},
		{Type: generation.OpRewriteFile, Path: "a.go", Content: "package a // rewritten\n"},
	}
	if err := mgr.ExecuteFileOperations("proj2", ops); err != nil {
		t.Fatalf("ExecuteFileOperations: %v", err)
	}
	out, err := mgr.ReadFiles("proj2", []string{"a.go"}, 0)
	if err != nil {
		t.Fatalf("ReadFiles: %v", err)
	}
	if out["a.go"] != "package a // rewritten\n" {
		t.Fatalf("expected rewritten content, got %q", out["a.go"])
	}

	if err := mgr.ExecuteFileOperations("proj2", []generation.FileOp{{Type: generation.OpDeleteFile, Path: "a.go"}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mgr.WorkdirFor("proj2"), "a.go")); !os.IsNotExist(err) {
		t.Fatal("expected a.go to be deleted")
	}
}

func TestExecuteFileOperations_UpdateFileRegexThenLiteralFallback(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.WriteFile("proj3", "b.go", "const version = \"1.0.0\"\n"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ops := []generation.FileOp{{
		Type: generation.OpUpdateFile,
		Path: "b.go",
		SearchReplace: []generation.SearchReplace{
			{Search: `"\d+\.\d+\.\d+"`, Replace: `"2.0.0"`},
		},
	}}
	if err := mgr.ExecuteFileOperations("proj3", ops); err != nil {
		t.Fatalf("ExecuteFileOperations: %v", err)
	}
	out, err := mgr.ReadFiles("proj3", []string{"b.go"}, 0)
	if err != nil {
		t.Fatalf("ReadFiles: %v", err)
	}
	if out["b.go"] != "const version = \"2.0.0\"\n" {
		t.Fatalf("expected regex-substituted version, got %q", out["b.go"])
	}

	literalOps := []generation.FileOp{{
		Type: generation.OpUpdateFile,
		Path: "b.go",
		SearchReplace: []generation.SearchReplace{
			{Search: `const version = "2.0.0"`, Replace: `const version = "3.0.0"`},
		},
	}}
	if err := mgr.ExecuteFileOperations("proj3", literalOps); err != nil {
		t.Fatalf("ExecuteFileOperations (literal): %v", err)
	}
	out2, err := mgr.ReadFiles("proj3", []string{"b.go"}, 0)
	if err != nil {
		t.Fatalf("ReadFiles: %v", err)
	}
	if out2["b.go"] != "const version = \"3.0.0\"\n" {
		t.Fatalf("expected literal-substituted version, got %q", out2["b.go"])
	}
}

func TestExecuteFileOperations_UpdateFileNoMatchWritesBackUnchanged(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.WriteFile("proj4", "c.go", "package c\n"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ops := []generation.FileOp{{
		Type:          generation.OpUpdateFile,
		Path:          "c.go",
		SearchReplace: []generation.SearchReplace{{Search: "nonexistent-token", Replace: "replacement"}},
	}}
	if err := mgr.ExecuteFileOperations("proj4", ops); err != nil {
		t.Fatalf("ExecuteFileOperations: %v", err)
	}
	out, err := mgr.ReadFiles("proj4", []string{"c.go"}, 0)
	if err != nil {
		t.Fatalf("ReadFiles: %v", err)
	}
	if out["c.go"] != "package c\n" {
		t.Fatalf("expected unchanged content, got %q", out["c.go"])
	}
}

func TestDetectPackageManager_PrefersLockfileOverPackageJSON(t *testing.T) {
	mgr, _ := newTestManager(t)
	base := mgr.WorkdirFor("proj5")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "package.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write package.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "yarn.lock"), []byte(""), 0o644); err != nil {
		t.Fatalf("write yarn.lock: %v", err)
	}
	if pm := mgr.DetectPackageManager("proj5"); pm != PackageManagerYarn {
		t.Fatalf("expected yarn detected ahead of npm, got %s", pm)
	}
}

func TestDetectPackageManager_NoneWhenNoMarkers(t *testing.T) {
	mgr, _ := newTestManager(t)
	base := mgr.WorkdirFor("proj6")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if pm := mgr.DetectPackageManager("proj6"); pm != PackageManagerNone {
		t.Fatalf("expected none, got %s", pm)
	}
}

func TestFileTree_SkipsDependencyDirectories(t *testing.T) {
	mgr, _ := newTestManager(t)
	base := mgr.WorkdirFor("proj7")
	if err := os.MkdirAll(filepath.Join(base, "node_modules", "pkg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "node_modules", "pkg", "index.js"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "main.go"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	nodes, err := mgr.FileTree("proj7", ".")
	if err != nil {
		t.Fatalf("FileTree: %v", err)
	}
	for _, n := range nodes {
		if n.Path == "node_modules" || strings.HasPrefix(n.Path, "node_modules"+string(filepath.Separator)) {
			t.Fatalf("expected node_modules to be skipped, found %s", n.Path)
		}
	}
}
