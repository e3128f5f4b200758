package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"codeforge/internal/domain/generation"
	"codeforge/internal/shared/logging"
)

// FileNode is one entry in a fileTree listing.
type FileNode struct {
	Path  string
	IsDir bool
}

// CommandResult is the outcome of one shell command.
type CommandResult struct {
	Command  string
	Output   string
	ExitErr  error
	Duration time.Duration
}

// PackageManager is a detected project toolchain tag.
type PackageManager string

const (
	PackageManagerNPM    PackageManager = "npm"
	PackageManagerYarn   PackageManager = "yarn"
	PackageManagerPNPM   PackageManager = "pnpm"
	PackageManagerPip    PackageManager = "pip"
	PackageManagerGo     PackageManager = "go"
	PackageManagerCargo  PackageManager = "cargo"
	PackageManagerBundle PackageManager = "bundler"
	PackageManagerNone   PackageManager = "none"
)

// Config tunes the sandbox pool.
type Config struct {
	Client            ContainerClient
	Image             string
	BaseDir           string
	InactivityTimeout time.Duration
	Logger            logging.Logger
}

// sandboxEntry tracks one live sandbox.
type sandboxEntry struct {
	projectID  string
	container  string
	workdir    string
	lastUsedAt time.Time
	timer      *time.Timer
}

// Manager owns the pool of live sandboxes, one per project id: lazily
// created, killed by a 30-minute inactivity timer or on pipeline finish.
type Manager struct {
	mu       sync.Mutex
	entries  map[string]*sandboxEntry
	client   ContainerClient
	image    string
	baseDir  string
	timeout  time.Duration
	logger   logging.Logger
}

// NewManager constructs a Manager. Default inactivity timeout is 30
// minutes.
func NewManager(cfg Config) *Manager {
	timeout := cfg.InactivityTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = "./data/sandboxes"
	}
	return &Manager{
		entries: make(map[string]*sandboxEntry),
		client:  cfg.Client,
		image:   cfg.Image,
		baseDir: baseDir,
		timeout: timeout,
		logger:  logging.OrNop(cfg.Logger),
	}
}

// WorkdirFor resolves a project id to its sandbox-local working
// directory: filepath.Join(baseDir, sanitized(projectId)) with "/"
// mapped to "_" so a project id containing path separators can't escape
// baseDir.
func (m *Manager) WorkdirFor(projectID string) string {
	return filepath.Join(m.baseDir, strings.ReplaceAll(projectID, "/", "_"))
}

// GetOrCreate returns the live sandbox for projectID, creating a fresh
// container-backed one if none exists yet.
func (m *Manager) GetOrCreate(ctx context.Context, projectID string) (*sandboxEntry, error) {
	m.mu.Lock()
	if e, ok := m.entries[projectID]; ok {
		e.lastUsedAt = time.Now()
		m.resetTimerLocked(e)
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	workdir := m.WorkdirFor(projectID)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create workdir %s: %w", workdir, err)
	}

	containerName := "codeforge-" + strings.ReplaceAll(projectID, "/", "-")
	exists, err := m.client.ContainerExists(ctx, containerName)
	if err != nil {
		return nil, fmt.Errorf("sandbox: check container: %w", err)
	}
	if !exists {
		if err := m.client.ContainerCreate(ctx, CreateOpts{
			Name:    containerName,
			Image:   m.image,
			Volumes: map[string]string{workdir: "/workspace"},
		}); err != nil {
			return nil, fmt.Errorf("sandbox: create container: %w", err)
		}
	}
	if err := m.client.ContainerStart(ctx, containerName); err != nil {
		return nil, fmt.Errorf("sandbox: start container: %w", err)
	}

	entry := &sandboxEntry{projectID: projectID, container: containerName, workdir: workdir, lastUsedAt: time.Now()}

	m.mu.Lock()
	m.entries[projectID] = entry
	m.resetTimerLocked(entry)
	m.mu.Unlock()

	return entry, nil
}

func (m *Manager) resetTimerLocked(e *sandboxEntry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(m.timeout, func() {
		m.logger.Info("sandbox %s idle past timeout, killing", e.projectID)
		_ = m.Cleanup(context.Background(), e.projectID)
	})
}

// Cleanup removes projectID's map entry before stopping and removing
// its container, so a concurrent GetOrCreate never hands out a reference
// to a container that is mid-teardown.
func (m *Manager) Cleanup(ctx context.Context, projectID string) error {
	m.mu.Lock()
	e, ok := m.entries[projectID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.entries, projectID)
	m.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}
	if err := m.client.ContainerStop(ctx, e.container, 10*time.Second); err != nil {
		m.logger.Warn("sandbox: stop %s failed: %v", e.container, err)
	}
	if err := m.client.ContainerRemove(ctx, e.container); err != nil {
		return fmt.Errorf("sandbox: remove container %s: %w", e.container, err)
	}
	return nil
}

// FileTree lists files under dir (relative to the project's workdir)
// recursively, skipping common dependency/VCS directories.
func (m *Manager) FileTree(projectID, dir string) ([]FileNode, error) {
	root := filepath.Join(m.WorkdirFor(projectID), dir)
	var nodes []FileNode
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		name := info.Name()
		if info.IsDir() && (name == "node_modules" || name == ".git" || name == "dist" || name == "build" || name == ".next" || name == "coverage") {
			return filepath.SkipDir
		}
		rel, _ := filepath.Rel(root, path)
		nodes = append(nodes, FileNode{Path: rel, IsDir: info.IsDir()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox: file tree %s: %w", root, err)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes, nil
}

// ReadFiles reads each path (relative to the project's workdir),
// truncating to at most maxLines lines per file when maxLines > 0.
func (m *Manager) ReadFiles(projectID string, paths []string, maxLines int) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	base := m.WorkdirFor(projectID)
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(base, p))
		if err != nil {
			return nil, fmt.Errorf("sandbox: read %s: %w", p, err)
		}
		content := string(data)
		if maxLines > 0 {
			lines := strings.Split(content, "\n")
			if len(lines) > maxLines {
				content = strings.Join(lines[:maxLines], "\n")
			}
		}
		out[p] = content
	}
	return out, nil
}

// WriteFile writes content to path (relative to the project's workdir),
// creating parent directories as needed.
func (m *Manager) WriteFile(projectID, path, content string) error {
	full := filepath.Join(m.WorkdirFor(projectID), path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("sandbox: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("sandbox: write %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes path (relative to the project's workdir).
func (m *Manager) DeleteFile(projectID, path string) error {
	full := filepath.Join(m.WorkdirFor(projectID), path)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sandbox: delete %s: %w", path, err)
	}
	return nil
}

// RunCommands runs cmds in sequence inside the project's sandbox
// container, each bounded by timeout, stopping at the first non-zero
// exit.
func (m *Manager) RunCommands(ctx context.Context, projectID string, cmds []string, cwd string, timeout time.Duration) ([]CommandResult, error) {
	entry, err := m.GetOrCreate(ctx, projectID)
	if err != nil {
		return nil, err
	}

	workDir := "/workspace"
	if cwd != "" {
		workDir = filepath.Join("/workspace", cwd)
	}

	results := make([]CommandResult, 0, len(cmds))
	for _, cmd := range cmds {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		out, runErr := m.client.Exec(cctx, entry.container, []string{"sh", "-c", cmd}, ExecOpts{WorkDir: workDir})
		cancel()
		results = append(results, CommandResult{Command: cmd, Output: out, ExitErr: runErr, Duration: time.Since(start)})
		if runErr != nil {
			return results, nil
		}
	}
	return results, nil
}

// ExecuteFileOperations applies ops against repoRoot (the project's
// workdir). An updateFile op tries its search pattern as a regex first,
// falling back to a literal substring replace if the pattern doesn't
// compile or doesn't match.
func (m *Manager) ExecuteFileOperations(projectID string, ops []generation.FileOp) error {
	base := m.WorkdirFor(projectID)
	for _, op := range ops {
		full := filepath.Join(base, op.Path)
		switch op.Type {
		case generation.OpCreateFile, generation.OpRewriteFile:
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return fmt.Errorf("sandbox: mkdir for %s: %w", op.Path, err)
			}
			if err := os.WriteFile(full, []byte(op.Content), 0o644); err != nil {
				return fmt.Errorf("sandbox: write %s: %w", op.Path, err)
			}
		case generation.OpDeleteFile:
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("sandbox: delete %s: %w", op.Path, err)
			}
		case generation.OpUpdateFile:
			if err := m.applySearchReplace(full, op); err != nil {
				return err
			}
		default:
			return fmt.Errorf("sandbox: unknown file operation type %q for %s", op.Type, op.Path)
		}
	}
	return nil
}

func (m *Manager) applySearchReplace(full string, op generation.FileOp) error {
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("sandbox: read %s for update: %w", op.Path, err)
	}
	buf := string(data)

	for _, sr := range op.SearchReplace {
		substituted := false
		if re, reErr := regexp.Compile(sr.Search); reErr == nil {
			if re.MatchString(buf) {
				buf = re.ReplaceAllString(buf, sr.Replace)
				substituted = true
			}
		}
		if !substituted && strings.Contains(buf, sr.Search) {
			buf = strings.ReplaceAll(buf, sr.Search, sr.Replace)
			substituted = true
		}
		if !substituted {
			m.logger.Warn("sandbox: no match for search/replace in %s: %q", op.Path, sr.Search)
		}
	}

	if err := os.WriteFile(full, []byte(buf), 0o644); err != nil {
		return fmt.Errorf("sandbox: write back %s: %w", op.Path, err)
	}
	return nil
}

// markerFiles maps a toolchain marker filename to its package manager
// tag.
var markerFiles = []struct {
	name string
	pm   PackageManager
}{
	{"pnpm-lock.yaml", PackageManagerPNPM},
	{"yarn.lock", PackageManagerYarn},
	{"package-lock.json", PackageManagerNPM},
	{"package.json", PackageManagerNPM},
	{"requirements.txt", PackageManagerPip},
	{"go.mod", PackageManagerGo},
	{"Cargo.toml", PackageManagerCargo},
	{"Gemfile", PackageManagerBundle},
}

// DetectPackageManager inspects repoRoot for known toolchain marker
// files, preferring a lockfile over its corresponding manifest.
func (m *Manager) DetectPackageManager(projectID string) PackageManager {
	base := m.WorkdirFor(projectID)
	for _, marker := range markerFiles {
		if _, err := os.Stat(filepath.Join(base, marker.name)); err == nil {
			return marker.pm
		}
	}
	return PackageManagerNone
}
