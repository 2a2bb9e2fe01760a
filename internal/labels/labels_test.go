package labels

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = `
[button24]
Name: "Results"
Table.ColumnHeaders:
  "Depth  (ft)"
  "Min Surface Weight"
  "Max Pipe   Stress"
BoundingRectangle: {l:0 t:0 r:100 b:100}

[button10]
Name: "Parameter Matrix"
Children:
  "Density of Pipe Fluid"
  "(PPG)" header
  "Input Depth (ft)" header
BoundingRectangle: {l:0 t:0 r:100 b:100}

[button1]
Name: "Sensitivity"
`

func TestParseDump_ColumnHeaders(t *testing.T) {
	parsed := ParseDump(sampleDump)

	assert.Equal(t, []string{"Depth (ft)", "Min Surface Weight", "Max Pipe Stress"}, parsed["button24"],
		"internal whitespace collapses to single spaces")
}

func TestParseDump_ChildrenFallback(t *testing.T) {
	parsed := ParseDump(sampleDump)

	// Wrapped caption lines join with the closing header entry.
	assert.Equal(t, []string{"Density of Pipe Fluid (PPG)", "Input Depth (ft)"}, parsed["button10"])
}

func TestParseDump_SectionWithoutHeaders(t *testing.T) {
	parsed := ParseDump(sampleDump)
	_, ok := parsed["button1"]
	assert.False(t, ok)
}

func TestReconcile(t *testing.T) {
	headers := []string{"Depth", "Weight"}
	assert.Equal(t, []string{"Depth", "Weight", "Column 2"}, Reconcile(headers, 3))
	assert.Equal(t, []string{"Depth"}, Reconcile(headers, 1))
	assert.Empty(t, Reconcile(headers, 0))
}

func TestRepository_LoadAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleDump), 0644))

	repo := NewRepository(path, nil)
	require.NoError(t, repo.Load())

	assert.Len(t, repo.HeadersFor("button24"), 3)
	assert.Nil(t, repo.HeadersFor("missing"))
	assert.Len(t, repo.Keys(), 2)
}

func TestRepository_MissingFileIsNotAnError(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "absent.txt"), nil)
	require.NoError(t, repo.Load())
	assert.Empty(t, repo.Keys())
}

func TestRepository_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.txt")
	require.NoError(t, os.WriteFile(path, []byte("[a]\nName: \"x\"\n"), 0644))

	repo := NewRepository(path, nil)
	require.NoError(t, repo.Load())
	assert.Empty(t, repo.HeadersFor("button24"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = repo.Watch(ctx)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(sampleDump), 0644))

	deadline := time.After(3 * time.Second)
	for len(repo.HeadersFor("button24")) == 0 {
		select {
		case <-deadline:
			t.Fatal("watcher never reloaded the dump")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}
