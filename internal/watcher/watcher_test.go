package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAtomic(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatcherFiresOnContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	writeAtomic(t, path, `{"version":1,"accounts":[]}`)

	fired := make(chan struct{}, 8)
	w, err := NewWatcher(path, func() { fired <- struct{}{} })
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	writeAtomic(t, path, `{"version":1,"accounts":[{"email":"a@x"}]}`)
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcherDedupesIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	content := `{"version":1,"accounts":[]}`
	writeAtomic(t, path, content)

	fired := make(chan struct{}, 8)
	w, err := NewWatcher(path, func() { fired <- struct{}{} })
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// Rewriting identical bytes must not trigger a reload.
	writeAtomic(t, path, content)
	select {
	case <-fired:
		t.Fatal("reload fired for unchanged content")
	case <-time.After(1 * time.Second):
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	writeAtomic(t, path, `{}`)

	fired := make(chan struct{}, 8)
	w, err := NewWatcher(path, func() { fired <- struct{}{} })
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	select {
	case <-fired:
		t.Fatal("reload fired for an unrelated file")
	case <-time.After(500 * time.Millisecond):
	}
	assert.NoError(t, ctx.Err())
}
