// Package workspace manages the per-request work directories under the engine's temp dir and
// sweeps the ones a crashed or killed request left behind.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const namePrefix = "transform-"

// Manager creates work directories under root and removes stale ones.
type Manager struct {
	root   string
	maxAge time.Duration // 0 disables sweeping

	mu      sync.Mutex
	live    map[string]struct{} // created and not yet released
	stopped bool
}

// SweepResult describes one sweep.
type SweepResult struct {
	Removed        int
	RemovedBytes   int64
	RemainingBytes int64
}

// New returns a Manager for root. Directories are created lazily.
func New(root string, maxAge time.Duration) *Manager {
	return &Manager{root: root, maxAge: maxAge, live: make(map[string]struct{})}
}

// MaxAge returns the age at which abandoned directories are swept; 0 disables sweeping.
func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Root returns the directory holding all work directories.
func (m *Manager) Root() string {
	return m.root
}

// Create makes a fresh work directory for kind ("request", "probe").
func (m *Manager) Create(kind string) (string, error) {
	if err := os.MkdirAll(m.root, 0o750); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	dir, err := os.MkdirTemp(m.root, namePrefix+kind+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	m.mu.Lock()
	m.live[dir] = struct{}{}
	m.mu.Unlock()
	return dir, nil
}

// Release removes a work directory created by Create.
func (m *Manager) Release(dir string) error {
	m.mu.Lock()
	delete(m.live, dir)
	m.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove work directory: %w", err)
	}
	return nil
}

type workDir struct {
	path    string
	size    int64
	modTime time.Time
}

// list returns the work directories directly under root. Other entries are ignored.
func (m *Manager) list() ([]workDir, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read temp directory: %w", err)
	}

	var dirs []workDir
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), namePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(m.root, entry.Name())
		dirs = append(dirs, workDir{path: path, size: treeSize(path), modTime: info.ModTime()})
	}
	return dirs, nil
}

func treeSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // entries can vanish while a request finishes
		}
		if !d.IsDir() {
			if info, infoErr := d.Info(); infoErr == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

// Sweep removes work directories last modified longer ago than the maximum age. Directories
// of requests still running in this process are never removed.
func (m *Manager) Sweep() (SweepResult, error) {
	var result SweepResult

	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return result, nil
	}

	dirs, err := m.list()
	if err != nil {
		return result, err
	}

	now := time.Now()
	for _, dir := range dirs {
		age := now.Sub(dir.modTime)
		if m.maxAge <= 0 || age <= m.maxAge || m.isLive(dir.path) {
			result.RemainingBytes += dir.size
			continue
		}
		if err := os.RemoveAll(dir.path); err != nil {
			slog.Warn("Failed to remove stale work directory", "path", dir.path, "error", err)
			result.RemainingBytes += dir.size
			continue
		}
		result.Removed++
		result.RemovedBytes += dir.size
		slog.Debug("Removed stale work directory", "path", dir.path, "age", age)
	}

	if result.Removed > 0 {
		slog.Info("Work directory sweep completed",
			"removed_dirs", result.Removed,
			"removed_bytes", result.RemovedBytes,
			"remaining_bytes", result.RemainingBytes)
	}
	return result, nil
}

// Run sweeps every interval until ctx is done, reporting each result to record. A
// non-positive interval or a zero maximum age makes Run wait for ctx only.
func (m *Manager) Run(ctx context.Context, interval time.Duration, record func(SweepResult)) error {
	defer m.stop()
	if interval <= 0 || m.maxAge <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result, err := m.Sweep()
			if err != nil {
				slog.Warn("Work directory sweep failed", "error", err)
				continue
			}
			if record != nil {
				record(result)
			}
		}
	}
}

func (m *Manager) isLive(dir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[dir]
	return ok
}

func (m *Manager) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}
