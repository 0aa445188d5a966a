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
	"os"
	"strings"
	"sync"
)

// Level describes the severity of log messages.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
	// LevelPanic is the severity for panic messages.
	LevelPanic
	// LevelFatal is the severity for fatal errors.
	LevelFatal
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})
	// WarnBlock formats and emits a multiline warning message.
	WarnBlock(prefix string, format string, args ...interface{})
	// ErrorBlock formats and emits a multiline error message.
	ErrorBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// logger implements Logger for a single source.
type logger struct {
	source string
}

// state is the runtime state shared by all loggers.
type state struct {
	sync.RWMutex
	level   Level                // lowest emitted non-debug severity
	debug   map[string]bool      // sources with debugging enabled
	forced  bool                 // debugging forced on for all sources
	loggers map[string]*logger   // loggers by source
	backend map[string]BackendFn // registered backends
	active  Backend              // active backend
	align   int                  // longest source name seen
}

var log = &state{
	level:   LevelInfo,
	debug:   make(map[string]bool),
	loggers: make(map[string]*logger),
	backend: make(map[string]BackendFn),
}

// Get returns the Logger for the given source, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return log.get(source)
}

func (s *state) get(source string) *logger {
	source = strings.Trim(source, "[] ")

	s.Lock()
	defer s.Unlock()

	if l, ok := s.loggers[source]; ok {
		return l
	}
	l := &logger{source: source}
	s.loggers[source] = l
	if len(source) > s.align {
		s.align = len(source)
		if s.active != nil {
			s.active.SetSourceAlignment(s.align)
		}
	}
	return l
}

// emitter returns the active backend if a message of level should be emitted.
func (l *logger) emitter(level Level) (Backend, bool) {
	log.RLock()
	defer log.RUnlock()

	switch {
	case level == LevelDebug:
		return log.active, log.forced || log.debug[l.source] || log.debug["*"]
	case level >= LevelError:
		return log.active, true
	default:
		return log.active, level >= log.level
	}
}

func (l *logger) Source() string {
	return l.source
}

func (l *logger) EnableDebug(enable bool) bool {
	log.Lock()
	defer log.Unlock()
	old := log.debug[l.source]
	if enable {
		log.debug[l.source] = true
	} else {
		delete(log.debug, l.source)
	}
	return old
}

func (l *logger) DebugEnabled() bool {
	log.RLock()
	defer log.RUnlock()
	return log.forced || log.debug[l.source] || log.debug["*"]
}

func (l *logger) Debug(format string, args ...interface{}) {
	if b, ok := l.emitter(LevelDebug); ok {
		b.Log(LevelDebug, l.source, format, args...)
	}
}

func (l *logger) Info(format string, args ...interface{}) {
	if b, ok := l.emitter(LevelInfo); ok {
		b.Log(LevelInfo, l.source, format, args...)
	}
}

func (l *logger) Warn(format string, args ...interface{}) {
	if b, ok := l.emitter(LevelWarn); ok {
		b.Log(LevelWarn, l.source, format, args...)
	}
}

func (l *logger) Error(format string, args ...interface{}) {
	if b, ok := l.emitter(LevelError); ok {
		b.Log(LevelError, l.source, format, args...)
	}
}

// Fatal logs a fatal error message and os.Exit(1)'s.
func (l *logger) Fatal(format string, args ...interface{}) {
	b, _ := l.emitter(LevelFatal)
	b.Log(LevelFatal, l.source, format, args...)
	b.Sync()
	os.Exit(1)
}

// Panic logs a panic message and panic()'s.
func (l *logger) Panic(format string, args ...interface{}) {
	b, _ := l.emitter(LevelPanic)
	b.Log(LevelPanic, l.source, format, args...)
	b.Sync()
	panic(fmt.Sprintf(l.source+": "+format, args...))
}

func (l *logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if b, ok := l.emitter(LevelDebug); ok {
		b.Block(LevelDebug, l.source, prefix, format, args...)
	}
}

func (l *logger) InfoBlock(prefix string, format string, args ...interface{}) {
	if b, ok := l.emitter(LevelInfo); ok {
		b.Block(LevelInfo, l.source, prefix, format, args...)
	}
}

func (l *logger) WarnBlock(prefix string, format string, args ...interface{}) {
	if b, ok := l.emitter(LevelWarn); ok {
		b.Block(LevelWarn, l.source, prefix, format, args...)
	}
}

func (l *logger) ErrorBlock(prefix string, format string, args ...interface{}) {
	if b, ok := l.emitter(LevelError); ok {
		b.Block(LevelError, l.source, prefix, format, args...)
	}
}
