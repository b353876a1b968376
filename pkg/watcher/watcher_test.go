package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) process(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) processed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.paths...)
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("book"), 0644))
	return path
}

func TestStartSkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := writeFile(t, dir, "existing.epub")

	rec := &recorder{}
	w := New(dir, 10*time.Millisecond, false, rec.process)
	require.NoError(t, w.Start())
	defer w.Shutdown()

	// Give the poll loop a few ticks to prove it stays quiet.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.processed())
	assert.NotContains(t, rec.processed(), existing)
}

func TestStartProcessesExistingFilesWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	existing := writeFile(t, dir, "existing.epub")

	rec := &recorder{}
	w := New(dir, 10*time.Millisecond, true, rec.process)
	require.NoError(t, w.Start())
	defer w.Shutdown()

	assert.Equal(t, []string{existing}, rec.processed())
}

func TestDetectsNewFileExactlyOnce(t *testing.T) {
	dir := t.TempDir()

	rec := &recorder{}
	w := New(dir, 10*time.Millisecond, false, rec.process)
	require.NoError(t, w.Start())
	defer w.Shutdown()

	added := writeFile(t, dir, "new.epub")

	require.Eventually(t, func() bool {
		return len(rec.processed()) > 0
	}, time.Second, 5*time.Millisecond)

	// Let several more polls run; the file must not be handed over again.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{added}, rec.processed())
}

func TestIgnoresDirectories(t *testing.T) {
	dir := t.TempDir()

	rec := &recorder{}
	w := New(dir, 10*time.Millisecond, false, rec.process)
	require.NoError(t, w.Start())
	defer w.Shutdown()

	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))
	added := writeFile(t, dir, "new.epub")

	require.Eventually(t, func() bool {
		return len(rec.processed()) > 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{added}, rec.processed())
}

func TestStartFailsOnMissingDirectory(t *testing.T) {
	rec := &recorder{}
	w := New("/nonexistent/books", 10*time.Millisecond, false, rec.process)

	err := w.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read watched directory")
}

func TestShutdownStopsPolling(t *testing.T) {
	dir := t.TempDir()

	rec := &recorder{}
	w := New(dir, 10*time.Millisecond, false, rec.process)
	require.NoError(t, w.Start())

	w.Shutdown()

	// Files appearing after shutdown are never handed over.
	writeFile(t, dir, "late.epub")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.processed())
}
