package shaders

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gogpu/rhi"
)

// DefaultSettle is how long a bundle file must stay quiet before a change
// is reported.
const DefaultSettle = 100 * time.Millisecond

// Watcher reports bundle files in a directory that were written, created,
// renamed or removed. Bursts of events on one file are merged.
type Watcher struct {
	fs      *fsnotify.Watcher
	changes chan string
	done    chan struct{}
	settle  time.Duration
	wg      sync.WaitGroup
	once    sync.Once
}

// Watch starts watching dir. A settle of 0 means DefaultSettle.
func Watch(dir string, settle time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	w := &Watcher{
		fs:      fw,
		changes: make(chan string, 16),
		done:    make(chan struct{}),
		settle:  settle,
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Changes delivers the paths of changed bundles. It is closed by Close.
func (w *Watcher) Changes() <-chan string { return w.changes }

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
		close(w.changes)
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	pending := make(map[string]time.Time)
	tick := time.NewTicker(w.settle / 2)
	defer tick.Stop()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != Ext {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				pending[ev.Name] = time.Now()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			rhi.Logger().Warn("shaders: watch error", "err", err)
		case now := <-tick.C:
			for path, at := range pending {
				if now.Sub(at) < w.settle {
					continue
				}
				delete(pending, path)
				select {
				case w.changes <- path:
				case <-w.done:
					return
				}
			}
		}
	}
}
