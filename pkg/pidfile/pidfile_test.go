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

package pidfile

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testPidFile = "pidfile-test.pid"
)

func prepare(t *testing.T) *PidFile {
	return New(filepath.Join(t.TempDir(), "dir", testPidFile))
}

func TestAcquire(t *testing.T) {
	p := prepare(t)

	require.NoError(t, p.Acquire())
	pid, err := p.Read()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	// acquiring again is a no-op
	require.NoError(t, p.Acquire())

	other := New(p.Path())
	require.ErrorIs(t, other.Acquire(), ErrBusy)

	require.NoError(t, p.Release())
	require.NoError(t, p.Release())
	_, err = os.Stat(p.Path())
	require.True(t, os.IsNotExist(err))

	require.NoError(t, other.Acquire())
	require.NoError(t, other.Release())
}

func TestReadNonExisting(t *testing.T) {
	p := prepare(t)
	pid, err := p.Read()
	require.NoError(t, err)
	require.Equal(t, 0, pid)

	pid, err = p.OwnerPid()
	require.NoError(t, err)
	require.Equal(t, 0, pid)
}

func TestStaleFile(t *testing.T) {
	tcases := []struct {
		name    string
		content string
		fails   bool
	}{
		{name: "empty", content: ""},
		{name: "truncated", content: "\n"},
		{name: "dead process", content: "2147483646\n"},
		{name: "garbage", content: "not-a-pid\n", fails: true},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p := prepare(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(p.Path()), 0755))
			require.NoError(t, ioutil.WriteFile(p.Path(), []byte(tc.content), 0644))

			err := p.Acquire()
			if tc.fails {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			pid, err := p.OwnerPid()
			require.NoError(t, err)
			require.Equal(t, os.Getpid(), pid)
			require.NoError(t, p.Release())
		})
	}
}
