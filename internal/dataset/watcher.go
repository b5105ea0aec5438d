package dataset

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// UpdateCallback is called with the current set of available datasets when
// files under the data directory change.
type UpdateCallback func(available []string)

// Watcher monitors the data directory so newly downloaded dataset files show
// up without a restart.
type Watcher struct {
	store    *Store
	callback UpdateCallback

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
}

// NewWatcher creates a watcher for the store's data directory.
func NewWatcher(store *Store, callback UpdateCallback) *Watcher {
	return &Watcher{store: store, callback: callback}
}

// Start begins watching. It fails if the data directory does not exist.
func (w *Watcher) Start() error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := addDirsRecursive(fsW, w.store.DataDir()); err != nil {
		fsW.Close()
		return err
	}

	w.mu.Lock()
	w.fsWatcher = fsW
	w.cancel = make(chan struct{})
	w.mu.Unlock()

	go w.watchLoop(fsW, w.cancel)
	return nil
}

func addDirsRecursive(fsW *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsW.Add(path)
		}
		return nil
	})
}

func (w *Watcher) watchLoop(fsW *fsnotify.Watcher, cancel chan struct{}) {
	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-cancel:
			return

		case event, ok := <-fsW.Events:
			if !ok {
				return
			}
			// New subdirectories (e.g. a freshly unpacked dataset) need
			// their own watch.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					fsW.Add(event.Name)
				}
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceInterval)
				debounceCh = debounce.C
			} else {
				debounce.Reset(debounceInterval)
			}

		case <-debounceCh:
			debounce = nil
			debounceCh = nil
			if w.callback != nil {
				w.callback(w.store.Available())
			}

		case err, ok := <-fsW.Errors:
			if !ok {
				return
			}
			log.Printf("dataset watcher error: %v", err)
		}
	}
}

// Shutdown stops watching.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		close(w.cancel)
		w.cancel = nil
	}
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
		w.fsWatcher = nil
	}
}
