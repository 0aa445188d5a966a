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
	"encoding/json"
	"fmt"
	"strings"
)

// Options is the runtime configuration of logging.
type Options struct {
	// Level is the lowest severity of non-debug messages emitted.
	Level Level `json:"level,omitempty"`
	// Debug lists the sources to enable debugging for, '*' for all.
	Debug []string `json:"debug,omitempty"`
	// Backend is the name of the backend to use.
	Backend string `json:"backend,omitempty"`
	// Klog holds options passed to klog when it is the active backend.
	Klog map[string]string `json:"klog,omitempty"`
}

// Configure applies the given options.
func Configure(o Options) error {
	backend := o.Backend
	if backend == "" {
		backend = FmtBackendName
	}
	if backend == KlogBackendName && len(o.Klog) > 0 {
		if err := ConfigureKlog(o.Klog); err != nil {
			return err
		}
	}
	if err := SetBackend(backend); err != nil {
		return err
	}

	log.Lock()
	defer log.Unlock()
	log.level = o.Level
	log.debug = make(map[string]bool)
	for _, src := range o.Debug {
		if src = strings.TrimSpace(src); src != "" {
			log.debug[src] = true
		}
	}
	return nil
}

// SetLevel sets the lowest severity of non-debug messages emitted.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// EnableDebug enables/disables debugging for the given source, '*' for all.
func EnableDebug(source string, enable bool) {
	log.Lock()
	defer log.Unlock()
	if enable {
		log.debug[source] = true
	} else {
		delete(log.debug, source)
	}
}

// ParseLevel parses the given string as a Level.
func ParseLevel(value string) (Level, error) {
	switch strings.ToLower(value) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "panic":
		return LevelPanic, nil
	case "fatal":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("log: invalid level %q", value)
}

// Set implements flag.Value.
func (l *Level) Set(value string) error {
	level, err := ParseLevel(value)
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// String implements flag.Value.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelPanic:
		return "panic"
	case LevelFatal:
		return "fatal"
	}
	return fmt.Sprintf("<unknown log level %d>", int(l))
}

// MarshalJSON marshals a Level as its name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts a Level by name.
func (l *Level) UnmarshalJSON(raw []byte) error {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return fmt.Errorf("log: invalid level %s: %v", string(raw), err)
	}
	return l.Set(name)
}
