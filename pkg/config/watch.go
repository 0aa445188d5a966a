// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	logger "github.com/intel/vmcore/pkg/log"
)

var log = logger.Get("config")

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	notify  func(*Config)
	done    chan struct{}
}

// Watch starts watching the given configuration file. Every time the file is
// written, created or renamed into place it is reloaded and, if valid, passed
// to notify. Invalid configurations are logged and ignored.
func Watch(path string, notify func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, configError("failed to create file watcher: %v", err)
	}
	// Watch the directory, editors tend to replace files instead of writing them.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, configError("failed to watch %q: %v", path, err)
	}

	w := &Watcher{
		path:    filepath.Clean(path),
		watcher: fsw,
		notify:  notify,
		done:    make(chan struct{}),
	}
	go w.run()

	return w, nil
}

// Stop stops watching.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Error("ignoring configuration update: %v", err)
				continue
			}
			log.Info("configuration %s reloaded", w.path)
			w.notify(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("configuration watch error: %v", err)
		}
	}
}
