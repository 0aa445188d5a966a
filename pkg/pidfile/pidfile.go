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

// Package pidfile implements ownership of a directory by a process through
// a PID file stored in it.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// ErrBusy is returned when the PID file is owned by a live process.
var ErrBusy = errors.New("PID file owned by another process")

// PidFile is a PID file at a fixed path.
type PidFile struct {
	path string
	file *os.File
}

// New returns the PID file at path.
func New(path string) *PidFile {
	return &PidFile{path: path}
}

// Path returns the path of the PID file.
func (p *PidFile) Path() string {
	return p.path
}

// Acquire writes os.Getpid() to the PID file and keeps it open. A file
// left behind by a process which no longer exists is replaced. If a live
// process owns the file, including this one through another PidFile,
// Acquire fails with ErrBusy.
func (p *PidFile) Acquire() error {
	if p.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create PID file")
	}

	for retry := 0; retry < 2; retry++ {
		file, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			p.file = file
			if _, err := file.Write([]byte(fmt.Sprintf("%d\n", os.Getpid()))); err != nil {
				p.close()
				os.Remove(p.path)
				return errors.Wrap(err, "failed to write PID file")
			}
			return nil
		}
		if !os.IsExist(err) {
			return errors.Wrap(err, "failed to create PID file")
		}

		pid, err := p.OwnerPid()
		switch {
		case err != nil:
			return err
		case pid != 0:
			return errors.Wrapf(ErrBusy, "%s: owned by process %d", p.path, pid)
		}
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove stale PID file")
		}
	}

	return errors.Wrapf(ErrBusy, "%s: failed to take over stale PID file", p.path)
}

// Read reads the content of the PID file. It returns 0 if the file does not
// exist or is empty, -1 and an error if it cannot be read or parsed.
func (p *PidFile) Read() (int, error) {
	buf, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrap(err, "failed to read PID file")
	}

	content := strings.TrimRight(string(buf), "\n")
	if content == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(content)
	if err != nil {
		return -1, errors.Wrapf(err, "invalid PID (%q) in PID file", string(buf))
	}

	return pid, nil
}

// close closes the PID file and truncates it to zero length.
func (p *PidFile) close() {
	if p.file != nil {
		p.file.Truncate(0)
		p.file.Close()
		p.file = nil
	}
}

// Release closes and removes the PID file if it was acquired.
func (p *PidFile) Release() error {
	if p.file == nil {
		return nil
	}
	p.close()
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove PID file")
	}
	return nil
}

// OwnerPid returns the ID of the process owning the PID file. 0 is returned
// if it is known that no process owns the file. -1 and an error is returned
// if the owner or its existence could not be determined.
func (p *PidFile) OwnerPid() (int, error) {
	pid, err := p.Read()
	if err != nil {
		return -1, err
	}
	if pid == 0 {
		return 0, nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return -1, errors.Wrapf(err, "FindProcess() failed for PID %d", pid)
	}

	err = proc.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return pid, nil
	case err == os.ErrProcessDone || errors.Is(err, syscall.ESRCH):
		return 0, nil
	case errors.Is(err, syscall.EPERM):
		// alive, owned by somebody else
		return pid, nil
	}

	return -1, errors.Wrapf(err, "failed to check process %d", pid)
}
