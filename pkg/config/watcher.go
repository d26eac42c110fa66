// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the burst of write events a single save
// produces (most editors write-then-rename, firing Create and Write
// back to back) into one reload.
const debounceDelay = 100 * time.Millisecond

// Watcher reloads a RuntimeConfig file whenever it changes on disk and
// hands the new value to OnChange. It watches the containing directory
// rather than the file itself, since atomic-rename saves replace the
// watched inode and a direct watch would go silently stale.
type Watcher struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewWatcher returns a Watcher for the runtime config file at path. The
// file need not exist yet; Watch only fails if the containing directory
// cannot be watched.
func NewWatcher(path string) *Watcher {
	return &Watcher{path: path}
}

// Watch starts watching the config file's directory and calls onChange
// with a freshly loaded RuntimeConfig each time the file is written,
// created, or rewritten via rename. onChange errors are logged and do
// not stop the watch; ctx cancellation stops it. Watch returns once the
// watcher goroutine has started; it does not block.
func (w *Watcher) Watch(ctx context.Context, onChange func(*RuntimeConfig)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("config: watcher is closed")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create file watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("config: watch directory %s: %w", dir, err)
	}
	w.watcher = fsw

	go w.loop(ctx, fsw, onChange)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, onChange func(*RuntimeConfig)) {
	defer fsw.Close()

	base := filepath.Base(w.path)
	var timer *time.Timer
	reload := func() {
		cfg, err := LoadFile(w.path)
		if err != nil {
			slog.Error("config reload failed", "path", w.path, "error", err)
			return
		}
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, reload)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "path", w.path, "error", err)
		}
	}
}

// Close stops the watch. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
