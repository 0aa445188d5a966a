//go:build linux
// +build linux

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

package vm

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

func writePage(file *os.File, offset int64, page []byte, sync bool) error {
	fd := int(file.Fd())
	for done := 0; done < len(page); {
		n, err := unix.Pwrite(fd, page[done:], offset+int64(done))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		done += n
	}
	if sync {
		return unix.Fdatasync(fd)
	}
	return nil
}

func readPage(file *os.File, offset int64, page []byte) error {
	fd := int(file.Fd())
	for done := 0; done < len(page); {
		n, err := unix.Pread(fd, page[done:], offset+int64(done))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		done += n
	}
	return nil
}
