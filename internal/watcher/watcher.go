// Package watcher monitors accounts.json for external edits and reloads the
// account pool when the file content actually changes. Hot reload lets a
// second process (or a manual edit) add and remove accounts without
// restarting the proxy.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const (
	readMaxAttempts = 5
	readRetryDelay  = 100 * time.Millisecond
)

// Watcher watches the directory containing accounts.json and invokes the
// reload callback on content changes.
type Watcher struct {
	accountsPath   string
	reloadCallback func()
	watcher        *fsnotify.Watcher

	mu       sync.Mutex
	lastHash string
}

// NewWatcher builds a watcher for the given accounts file. The callback runs
// on the watcher goroutine and should be quick.
func NewWatcher(accountsPath string, reloadCallback func()) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		accountsPath:   accountsPath,
		reloadCallback: reloadCallback,
		watcher:        fsWatcher,
	}
	w.lastHash = w.currentHash()
	return w, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself so atomic rename-into-place writes are seen.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.accountsPath)
	if err := w.watcher.Add(dir); err != nil {
		log.Errorf("failed to watch account directory %s: %v", dir, err)
		return err
	}
	log.Debugf("watching account store: %s", w.accountsPath)

	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name != w.accountsPath {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	log.Debugf("account store event: %s %s", event.Op.String(), event.Name)

	newHash := w.currentHash()
	w.mu.Lock()
	unchanged := newHash != "" && newHash == w.lastHash
	if !unchanged {
		w.lastHash = newHash
	}
	w.mu.Unlock()

	if unchanged {
		log.Debugf("account store content unchanged (hash match), skipping reload")
		return
	}
	if newHash == "" {
		// Likely an intermediate state while the file is being rewritten.
		return
	}
	log.Infof("account store changed, reloading pool")
	if w.reloadCallback != nil {
		w.reloadCallback()
	}
}

// currentHash reads the accounts file with retries to work around
// short-lived locks while it is being written.
func (w *Watcher) currentHash() string {
	var data []byte
	var err error
	for i := 0; i < readMaxAttempts; i++ {
		data, err = os.ReadFile(w.accountsPath)
		if err == nil {
			break
		}
		time.Sleep(readRetryDelay)
	}
	if err != nil || len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
