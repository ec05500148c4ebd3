package localstore

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const defaultDebounce = 150 * time.Millisecond

// Watcher reports writes to the database file made by any process, including
// other client instances sharing the data directory. Events are only a hint
// to refresh; nothing relies on them for correctness.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	base      string
	debounce  time.Duration
	events    chan struct{}
	log       logrus.FieldLogger

	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher watches the directory holding dbPath. Changes to dbPath and its
// -wal/-journal companions are coalesced within debounce.
func NewWatcher(dbPath string, debounce time.Duration, log logrus.FieldLogger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(dbPath)); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		base:      filepath.Base(dbPath),
		debounce:  debounce,
		events:    make(chan struct{}, 1),
		log:       log.WithField("component", "storage-watcher"),
		done:      make(chan struct{}),
	}
	return w, nil
}

// Events delivers at most one pending notification at a time.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Run processes file system events until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("file watcher error")
		case <-fire:
			fire = nil
			select {
			case w.events <- struct{}{}:
			default:
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	return strings.HasPrefix(filepath.Base(ev.Name), w.base)
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	return err
}
