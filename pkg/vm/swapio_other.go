//go:build !linux
// +build !linux

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
	"os"
)

func writePage(file *os.File, offset int64, page []byte, sync bool) error {
	if _, err := file.WriteAt(page, offset); err != nil {
		return err
	}
	if sync {
		return file.Sync()
	}
	return nil
}

func readPage(file *os.File, offset int64, page []byte) error {
	_, err := file.ReadAt(page, offset)
	return err
}
