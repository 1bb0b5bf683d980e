package orgconfig

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads a Registry from a directory whenever one of its YAML files
// changes. A reload that fails keeps the previous policies.
type Watcher struct {
	dir      string
	registry *Registry
	debounce time.Duration
	reloads  atomic.Uint64

	// OnReload, when set, is called after every reload attempt.
	OnReload func(slugs []string, err error)
}

// NewWatcher loads dir into a new Registry and returns a Watcher for it.
func NewWatcher(dir string) (*Watcher, error) {
	policies, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		registry: NewRegistry(policies),
		debounce: defaultDebounce,
	}, nil
}

// Registry returns the registry kept current by w.
func (w *Watcher) Registry() *Registry {
	return w.registry
}

// Reloads returns the number of successful reloads since start.
func (w *Watcher) Reloads() uint64 {
	return w.reloads.Load()
}

// SetDebounce changes the quiet period between the last event and a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Run watches the directory until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = fw.Close()
	}()

	if err := fw.Add(w.dir); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isConfigFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				timer.Reset(w.debounce)
				continue
			}
			log.Printf("goPortal: orgconfig watch %s: %v", w.dir, err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	policies, err := LoadDir(w.dir)
	if err != nil {
		log.Printf("goPortal: orgconfig reload %s: %v", w.dir, err)
		if w.OnReload != nil {
			w.OnReload(nil, err)
		}
		return
	}
	w.registry.Replace(policies)
	w.reloads.Add(1)
	if w.OnReload != nil {
		w.OnReload(w.registry.Slugs(), nil)
	}
}
