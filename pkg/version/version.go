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

// Package version tags binaries with version metadata.
//
// Two pieces of metadata are tracked:
//   - Version: version number, by convention one provided by 'git describe'
//   - Build:   build id, by convention the git SHA1 the binary has been built from.
//
// Both are overridden at link time, for instance:
//
//	LDFLAGS=-ldflags \
//	  "-X=github.com/intel/vmcore/pkg/version.Version=<version> \
//	   -X=github.com/intel/vmcore/pkg/version.Build=<build-id>"
//
// Importing the package registers a -version command line flag.
package version

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

const unset = "<unset, not built with version metadata>"

// Default values of variables we'll override with the linker.
var (
	// Version is our version as given by 'git describe'.
	Version = unset
	// Build is the SHA1 of the repository we've been built from.
	Build = unset
)

// Info returns a one-line version summary.
func Info() string {
	return fmt.Sprintf("%s %s (build %s)", filepath.Base(os.Args[0]), Version, Build)
}

// WriteVersionInfo writes version information about this binary to w.
func WriteVersionInfo(w io.Writer) {
	fmt.Fprintf(w, "%s version information:\n", filepath.Base(os.Args[0]))
	fmt.Fprintf(w, "  - version: %s\n", Version)
	fmt.Fprintf(w, "  - build:   %s\n", Build)
}

// versionFlag hooks into flag.Value.Set of -version during command line parsing.
type versionFlag struct{}

// IsBoolFlag tells flag that -version takes no argument.
func (versionFlag) IsBoolFlag() bool {
	return true
}

func (versionFlag) Set(value string) error {
	print, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	if print {
		WriteVersionInfo(os.Stdout)
		os.Exit(0)
	}
	return nil
}

func (versionFlag) String() string {
	return "false"
}

func init() {
	flag.Var(versionFlag{}, "version", "Print version information about "+filepath.Base(os.Args[0]))
}
