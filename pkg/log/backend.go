// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

//
// Logging backend interface and default fmt-based backend implementation.
//

// BackendFn is a functions that creates a Backend instance.
type BackendFn func() Backend

// Backend can format and emit log messages.
type Backend interface {
	// Name returns the name of this backend.
	Name() string
	// Log emits log messages with the given severity, source, and Printf-like arguments.
	Log(Level, string, string, ...interface{})
	// Block emits a multi-line log messages, with an additional line prefix.
	Block(Level, string, string, string, ...interface{})
	// Sync waits for all messages to get emitted.
	Sync()
	// Stop stops the backend instance.
	Stop()
	// SetSourceAlignment sets the maximum prefix length for optional alignment.
	SetSourceAlignment(int)
}

const (
	// FmtBackendName is the name of our simple fmt-based logging backend.
	FmtBackendName = "fmt"
)

// RegisterBackend registers a logger backend.
func RegisterBackend(name string, fn BackendFn) {
	log.Lock()
	defer log.Unlock()
	log.backend[name] = fn
}

// Backends returns the names of all registered backends.
func Backends() []string {
	log.RLock()
	defer log.RUnlock()
	names := make([]string, 0, len(log.backend))
	for name := range log.backend {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetBackend activates the named backend.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()

	if log.active != nil && log.active.Name() == name {
		return nil
	}
	fn, ok := log.backend[name]
	if !ok {
		return fmt.Errorf("log: unknown backend %q", name)
	}
	if log.active != nil {
		log.active.Stop()
	}
	log.active = fn()
	log.active.SetSourceAlignment(log.align)
	return nil
}

// severity tags fmtBackend uses to prefix emitted messages with.
var fmtTags = map[Level]string{
	LevelDebug: "D:",
	LevelInfo:  "I:",
	LevelWarn:  "W:",
	LevelError: "E:",
	LevelFatal: "FATAL ERROR:",
	LevelPanic: "PANIC:",
}

// fmtBackend is our simple, default fmt.Fprintln-based Backend.
type fmtBackend struct {
	sync.Mutex
	w     io.Writer
	align int
}

func createFmtBackend() Backend {
	return &fmtBackend{w: os.Stderr}
}

func (*fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) Log(level Level, source, format string, args ...interface{}) {
	f.emit(level, source, "", fmt.Sprintf(format, args...))
}

func (f *fmtBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	f.emit(level, source, prefix, fmt.Sprintf(format, args...))
}

func (f *fmtBackend) Sync() {}

func (f *fmtBackend) Stop() {}

func (f *fmtBackend) SetSourceAlignment(align int) {
	f.Lock()
	defer f.Unlock()
	f.align = align
}

// emit formats and emits a single, possibly multi-line, log message.
func (f *fmtBackend) emit(level Level, source, prefix, msg string) {
	f.Lock()
	defer f.Unlock()

	length := len(source)
	suflen := (f.align - length) / 2
	prelen := f.align - (length + suflen)
	if suflen < 0 {
		suflen, prelen = 0, 0
	}
	src := "[" + strings.Repeat(" ", prelen) + source + strings.Repeat(" ", suflen) + "]"

	for _, line := range strings.Split(msg, "\n") {
		if prefix == "" {
			fmt.Fprintln(f.w, fmtTags[level], src, line)
		} else {
			fmt.Fprintln(f.w, fmtTags[level], src, prefix, line)
		}
	}
}

func init() {
	RegisterBackend(FmtBackendName, createFmtBackend)
	log.active = createFmtBackend()
}
