package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func age(t *testing.T, dir string, by time.Duration) {
	t.Helper()
	old := time.Now().Add(-by)
	require.NoError(t, os.Chtimes(dir, old, old))
}

// abandoned makes a work directory the way a previous, crashed process would have left it.
func abandoned(t *testing.T, root, name string, by time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	age(t, dir, by)
	return dir
}

func TestCreateAndRelease(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "tmp")
	m := New(root, time.Hour)

	dir, err := m.Create("request")
	require.NoError(t, err)
	assert.Equal(t, root, filepath.Dir(dir))
	assert.True(t, strings.HasPrefix(filepath.Base(dir), "transform-request-"))

	require.NoError(t, m.Release(dir))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestSweepRemovesOnlyStaleWorkDirs(t *testing.T) {
	root := t.TempDir()
	m := New(root, time.Hour)

	stale := abandoned(t, root, "transform-request-1", 2*time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(stale, "source.md"), []byte("12345"), 0o600))
	age(t, stale, 2*time.Hour)

	fresh, err := m.Create("probe")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(fresh, "source.md"), []byte("123"), 0o600))

	unrelated := filepath.Join(root, "keep-me")
	require.NoError(t, os.Mkdir(unrelated, 0o750))
	age(t, unrelated, 2*time.Hour)

	result, err := m.Sweep()
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Removed: 1, RemovedBytes: 5, RemainingBytes: 3}, result)

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, unrelated)
}

func TestSweepDisabled(t *testing.T) {
	m := New(t.TempDir(), 0)
	dir, err := m.Create("request")
	require.NoError(t, err)
	age(t, dir, 24*time.Hour)

	result, err := m.Sweep()
	require.NoError(t, err)
	assert.Zero(t, result.Removed)
	assert.DirExists(t, dir)
}

func TestSweepMissingRoot(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "absent"), time.Hour)

	result, err := m.Sweep()
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
}

func TestSweepKeepsRunningRequests(t *testing.T) {
	m := New(t.TempDir(), 50*time.Millisecond)
	dir, err := m.Create("request")
	require.NoError(t, err)
	age(t, dir, time.Hour)

	result, err := m.Sweep()
	require.NoError(t, err)
	assert.Zero(t, result.Removed)
	assert.DirExists(t, dir)

	require.NoError(t, m.Release(dir))
	assert.NoDirExists(t, dir)
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	root := t.TempDir()
	m := New(root, time.Minute)
	abandoned(t, root, "transform-request-1", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan SweepResult, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, 10*time.Millisecond, func(r SweepResult) { swept <- r })
	}()

	select {
	case r := <-swept:
		assert.Equal(t, 1, r.Removed)
	case <-time.After(5 * time.Second):
		t.Fatal("no sweep ran")
	}
	cancel()
	require.NoError(t, <-done)

	// stopped managers leave directories alone
	late := abandoned(t, root, "transform-request-2", time.Hour)
	result, err := m.Sweep()
	require.NoError(t, err)
	assert.Zero(t, result.Removed)
	assert.DirExists(t, late)
}

func TestRunWithoutMaxAgeWaits(t *testing.T) {
	m := New(t.TempDir(), 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, m.Run(ctx, time.Millisecond, nil))
}
