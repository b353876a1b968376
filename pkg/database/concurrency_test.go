package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shelfstonebooks/shelfstone/pkg/config"
	"github.com/shelfstonebooks/shelfstone/pkg/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConfig creates a config with a temp file database.
// Using a file instead of :memory: ensures multiple connections share
// the same database, which is required to test lock contention.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := config.NewForTest()
	cfg.DatabaseFilePath = filepath.Join(tmpDir, "test.db")
	// Reduce retry safety nets so lock errors would surface quickly if the
	// connection setup stopped serializing writers properly.
	cfg.DatabaseMaxRetries = 0
	cfg.DatabaseBusyTimeout = 1_000_000 // 1ms
	return cfg
}

// TestConcurrentWrites verifies that the ingestion writer and other
// connections can insert concurrently without "database is locked" errors.
func TestConcurrentWrites(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)
	db, err := New(cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	const numWorkers = 20
	const writesPerWorker = 50

	var wg sync.WaitGroup
	var successCount atomic.Int32
	errs := make(chan error, numWorkers*writesPerWorker)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := 0; i < writesPerWorker; i++ {
				_, err := db.Exec(
					"INSERT INTO authors (name) VALUES (?)",
					fmt.Sprintf("Author %d-%d", workerID, i),
				)
				if err != nil {
					errs <- fmt.Errorf("worker %d write %d: %w", workerID, i, err)
				} else {
					successCount.Add(1)
				}
			}
		}(w)
	}

	wg.Wait()
	close(errs)

	var allErrors []error
	for err := range errs {
		allErrors = append(allErrors, err)
	}

	assert.Empty(t, allErrors, "concurrent writes should not produce errors")
	assert.Equal(t, int32(numWorkers*writesPerWorker), successCount.Load())

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM authors").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, numWorkers*writesPerWorker, count)
}

// TestConcurrentMixedOperations runs the realistic workload: one goroutine
// inserting books while others read the catalog.
func TestConcurrentMixedOperations(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)
	db, err := New(cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	const numBooks = 50
	const numReaders = 5

	var wg sync.WaitGroup
	errs := make(chan error, numBooks*(numReaders+1))

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numBooks; i++ {
			_, err := db.Exec(
				"INSERT INTO books (title, filepath, format, processed_at) VALUES (?, ?, 'EPUB', CURRENT_TIMESTAMP)",
				fmt.Sprintf("Book %d", i),
				fmt.Sprintf("/books/book-%d.epub", i),
			)
			if err != nil {
				errs <- fmt.Errorf("write %d: %w", i, err)
			}
		}
	}()

	for r := 0; r < numReaders; r++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()
			for i := 0; i < numBooks; i++ {
				var count int
				err := db.QueryRow("SELECT COUNT(*) FROM books").Scan(&count)
				if err != nil {
					errs <- fmt.Errorf("reader %d iteration %d: %w", readerID, i, err)
				}
			}
		}(r)
	}

	wg.Wait()
	close(errs)

	var allErrors []error
	for err := range errs {
		allErrors = append(allErrors, err)
	}
	assert.Empty(t, allErrors, "mixed reads and writes should not produce errors")

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM books").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, numBooks, count)
}
