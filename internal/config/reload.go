/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches a config file for changes and re-parses it on write,
// supplementing the original source (which only ever loaded config once at
// startup). It watches the containing directory rather than the file
// directly so that editors which replace-by-rename still trigger a reload.
type Reloader struct {
	watcher *fsnotify.Watcher
	path    string
	done    chan struct{}
}

// NewReloader starts watching path's directory. onReload is invoked with the
// freshly parsed config on every write/create event that targets path; parse
// errors are reported via onError and the previous config is left in place.
func NewReloader(path string, onReload func(*Config), onError func(error)) (*Reloader, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	r := &Reloader{watcher: w, path: filepath.Clean(path), done: make(chan struct{})}
	go r.run(onReload, onError)
	return r, nil
}

func (r *Reloader) run(onReload func(*Config), onError func(error)) {
	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(r.path)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		case <-r.done:
			return
		}
	}
}

// Close stops the reloader and releases its fsnotify watcher.
func (r *Reloader) Close() error {
	close(r.done)
	return r.watcher.Close()
}
