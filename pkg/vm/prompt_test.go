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
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrompt(t *testing.T) {
	m := newTestManager(t, 16)
	out := &bytes.Buffer{}
	p := NewPrompt(m, "vm> ", bufio.NewReader(strings.NewReader("")), bufio.NewWriter(out))
	p.AddCmd("echo", "echo arguments.", func(f *flag.FlagSet, args []string, as *AddressSpace, w io.Writer) error {
		if err := f.Parse(args); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %s\n", as, strings.Join(f.Args(), " "))
		return nil
	})

	tcases := []struct {
		cmd      string
		status   CommandStatus
		contains []string
	}{
		{cmd: "load -addr 0x7ffff000", contains: []string{"no address space selected"}},
		{cmd: "as -new", contains: []string{"created as0.1"}},
		{cmd: "store -addr 0x7ffff000 -value 42 -n 2"},
		{cmd: "load -addr 0x7ffff000 -n 2", contains: []string{"0x7ffff000: 0x0000002a 42", "0x7ffff004: 0x0000002a 42"}},
		{cmd: "load -addr bogus", status: csError, contains: []string{"invalid address"}},
		{cmd: "fork", contains: []string{"copied as0.1 to as1.1"}},
		{cmd: "load -addr 0x7ffff004", contains: []string{"0x7ffff004: 0x0000002a 42"}},
		{cmd: "as -ls", contains: []string{"* as1.1", "  as0.1"}},
		{cmd: "sbrk -delta 4096", contains: []string{"break 0x00400000 -> 0x00401000"}},
		{cmd: "prepare -addr 0x10000000 -size 8192"},
		{cmd: "fault -addr 0x10001000 -kind write", contains: []string{"0x10001000: {frame:"}},
		{cmd: "fault -addr 0 -kind read", status: csError, contains: []string{"bad address"}},
		{cmd: "fault -addr 0x7ffff000 -kind exec", status: csError, contains: []string{"invalid fault kind"}},
		{cmd: "coremap", contains: []string{"kfixed", "occupied"}},
		{cmd: "tlb", contains: []string{"slot page"}},
		{cmd: "stats", contains: []string{"table: faults"}},
		{cmd: "echo hello world", contains: []string{"as1.1 hello world"}},
		{cmd: "help", contains: []string{"coremap", "echo"}},
		{cmd: "as -destroy", contains: []string{"destroyed as1.1"}},
		{cmd: "bogus", status: csUnknownCommand, contains: []string{"unknown command"}},
		{cmd: ""},
	}
	for _, tc := range tcases {
		out.Reset()
		require.Equal(t, tc.status, p.RunCmdString(tc.cmd), tc.cmd)
		for _, s := range tc.contains {
			require.Contains(t, out.String(), s, tc.cmd)
		}
	}
	require.Nil(t, p.Selected())
}

func TestPromptInteract(t *testing.T) {
	m := newTestManager(t, 16)
	out := &bytes.Buffer{}
	input := "as -new\nstore -addr 0x7ffff000 -value 7\nload -addr 0x7ffff000\nq\nas -ls\n"
	p := NewPrompt(m, "vm> ", bufio.NewReader(strings.NewReader(input)), bufio.NewWriter(out))
	p.SetEcho(true)
	p.Interact()

	require.Contains(t, out.String(), "vm> as -new")
	require.Contains(t, out.String(), "0x7ffff000: 0x00000007 7")
	require.Contains(t, out.String(), "quit.")
	require.NotContains(t, out.String(), "swap SW0")
	require.NotNil(t, p.Selected())
}
