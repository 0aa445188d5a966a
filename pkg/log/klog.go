// Copyright 2020 Intel Corporation. All Rights Reserved.
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
	"flag"
	"fmt"
	"sort"
	"strings"

	"k8s.io/klog/v2"
)

const (
	// KlogBackendName is the name of the backend emitting messages through klog.
	KlogBackendName = "klog"
)

// klogBackend emits messages using k8s.io/klog/v2.
type klogBackend struct{}

// klog flags, registered once into a private FlagSet.
var klogFlags *flag.FlagSet

func createKlogBackend() Backend {
	return &klogBackend{}
}

func (*klogBackend) Name() string {
	return KlogBackendName
}

func (k *klogBackend) Log(level Level, source, format string, args ...interface{}) {
	k.emit(level, "["+source+"] "+fmt.Sprintf(format, args...))
}

func (k *klogBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		k.emit(level, "["+source+"] "+prefix+line)
	}
}

func (k *klogBackend) emit(level Level, msg string) {
	switch level {
	case LevelDebug:
		if klog.V(2).Enabled() {
			klog.InfoDepth(3, msg)
		} else {
			klog.InfoDepth(3, "DEBUG: "+msg)
		}
	case LevelInfo:
		klog.InfoDepth(3, msg)
	case LevelWarn:
		klog.WarningDepth(3, msg)
	default:
		klog.ErrorDepth(3, msg)
	}
}

func (*klogBackend) Sync() {
	klog.Flush()
}

func (*klogBackend) Stop() {
	klog.Flush()
}

func (*klogBackend) SetSourceAlignment(int) {}

// ConfigureKlog sets the given klog flags, for instance "v" or "logtostderr".
func ConfigureKlog(options map[string]string) error {
	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := options[name]
		if name == "stderrthreshold" { // klog expects thresholds in ALL CAPS
			value = strings.ToUpper(value)
		}
		if klogFlags.Lookup(name) == nil {
			return fmt.Errorf("log: unknown klog option %q", name)
		}
		if err := klogFlags.Set(name, value); err != nil {
			return fmt.Errorf("log: failed to set klog option %q to %q: %v", name, value, err)
		}
	}
	return nil
}

func init() {
	klogFlags = flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	RegisterBackend(KlogBackendName, createKlogBackend)
}
