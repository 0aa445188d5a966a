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

// This file implements the interactive prompt and command execution.

package vm

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/intel/vmcore/pkg/metrics"
)

// Cmd is a prompt command.
type Cmd struct {
	description string
	Run         func([]string) CommandStatus
}

// CommandStatus is the result of running a prompt command.
type CommandStatus int

const (
	csOk CommandStatus = iota
	csUnknownCommand
	csPipeCreateError
	csPipeProcessStartError
	csError
)

// Prompt runs commands against a Manager.
type Prompt struct {
	r    *bufio.Reader
	w    *bufio.Writer
	f    *flag.FlagSet
	m    *Manager
	as   *AddressSpace
	cmds map[string]Cmd
	ps1  string
	echo bool
	quit bool
}

// NewPrompt creates a prompt reading commands from reader.
func NewPrompt(m *Manager, ps1 string, reader *bufio.Reader, writer *bufio.Writer) *Prompt {
	p := Prompt{
		r:   reader,
		w:   writer,
		ps1: ps1,
		m:   m,
	}
	p.cmds = map[string]Cmd{
		"q":       {"quit interactive prompt.", p.cmdQuit},
		"as":      {"create, select, list and destroy address spaces.", p.cmdAs},
		"prepare": {"prepare a region of the selected address space.", p.cmdPrepare},
		"load":    {"load words from the selected address space.", p.cmdLoad},
		"store":   {"store words to the selected address space.", p.cmdStore},
		"fault":   {"raise a page fault in the selected address space.", p.cmdFault},
		"sbrk":    {"move the heap break of the selected address space.", p.cmdSbrk},
		"fork":    {"copy the selected address space and select the copy.", p.cmdFork},
		"coremap": {"print the coremap.", p.cmdCoremap},
		"tlb":     {"print the TLB.", p.cmdTLB},
		"stats":   {"print statistics.", p.cmdStats},
		"metrics": {"print metrics in Prometheus text format.", p.cmdMetrics},
		"help":    {"print help.", p.cmdHelp},
		"nop":     {"no operation.", p.cmdNop},
	}
	return &p
}

// AddCmd adds a command to the prompt. The command gets the selected
// address space, possibly nil, and writes its output to w.
func (p *Prompt) AddCmd(name, description string, run func(f *flag.FlagSet, args []string, as *AddressSpace, w io.Writer) error) {
	p.cmds[name] = Cmd{description, func(args []string) CommandStatus {
		if err := run(p.f, args, p.as, p.w); err != nil {
			p.output("%s: %v\n", name, err)
			return csError
		}
		p.w.Flush()
		return csOk
	}}
}

// Selected returns the selected address space.
func (p *Prompt) Selected() *AddressSpace {
	return p.as
}

func (p *Prompt) output(format string, a ...interface{}) {
	if p.w == nil {
		return
	}
	p.w.WriteString(fmt.Sprintf(format, a...))
	p.w.Flush()
}

// RunCmdSlice runs a command given as a command name and arguments.
func (p *Prompt) RunCmdSlice(cmdSlice []string) CommandStatus {
	if len(cmdSlice) == 0 {
		return csOk
	}
	if cmdSlice[0] == "" {
		cmdSlice[0] = "nop"
	}
	p.f = flag.NewFlagSet(cmdSlice[0], flag.ContinueOnError)
	p.f.SetOutput(p.w)
	cmd, ok := p.cmds[cmdSlice[0]]
	if !ok {
		p.output("unknown command %q\n", cmdSlice[0])
		return csUnknownCommand
	}
	return cmd.Run(cmdSlice[1:])
}

// RunCmdString runs a command line. Output of a command followed by
// "| shell-command" is piped to the shell command.
func (p *Prompt) RunCmdString(cmdString string) CommandStatus {
	origOutputWriter := p.w
	pipeCmd := ""
	if pipeIndex := strings.Index(cmdString, "|"); pipeIndex > -1 {
		pipeCmd = cmdString[pipeIndex+1:]
		cmdString = cmdString[:pipeIndex]
	}
	cmdSlice := strings.Fields(cmdString)
	if len(cmdSlice) == 0 {
		cmdSlice = []string{""}
	}

	var pipeProcess *exec.Cmd
	var pipeInput io.WriteCloser
	if pipeCmd != "" {
		var err error
		pipeProcess = exec.Command("sh", "-c", pipeCmd)
		pipeInput, err = pipeProcess.StdinPipe()
		if err != nil {
			p.output("failed to create pipe for command %q\n", pipeCmd)
			return csPipeCreateError
		}
		pipeProcess.Stdout = origOutputWriter
		pipeProcess.Stderr = origOutputWriter
		if err := pipeProcess.Start(); err != nil {
			p.output("failed to start: sh -c %q: %s\n", pipeCmd, err)
			pipeInput.Close()
			return csPipeProcessStartError
		}
		p.w = bufio.NewWriter(pipeInput)
	}

	status := p.RunCmdSlice(cmdSlice)

	if pipeCmd != "" {
		p.w.Flush()
		pipeInput.Close()
		pipeProcess.Wait()
		p.w = origOutputWriter
		p.w.Flush()
	}
	return status
}

// Interact reads and runs commands until quit or end of input.
func (p *Prompt) Interact() {
	for !p.quit {
		p.output(p.ps1)
		cmdString, err := p.r.ReadString(byte('\n'))
		if err != nil {
			p.output("quit: %s\n", err)
			break
		}
		if p.echo {
			p.output("%s", cmdString)
		}
		p.RunCmdString(cmdString)
	}
	p.output("quit.\n")
}

// SetEcho enables or disables echoing commands.
func (p *Prompt) SetEcho(newEcho bool) {
	p.echo = newEcho
}

// Select selects an address space for the commands to operate on.
func (p *Prompt) Select(as *AddressSpace) {
	p.as = as
}

func sortedStringKeys(m map[string]Cmd) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseVaddr(s string) (Vaddr, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return Vaddr(v), nil
}

func (p *Prompt) selected() bool {
	if p.as == nil {
		p.output("no address space selected, use as -new\n")
		return false
	}
	return true
}

func (p *Prompt) cmdNop(args []string) CommandStatus {
	return csOk
}

func (p *Prompt) cmdHelp(args []string) CommandStatus {
	p.output("Available commands:\n")
	for _, name := range sortedStringKeys(p.cmds) {
		p.output("        %-12s %s\n", name, p.cmds[name].description)
	}
	p.output("Syntax:\n")
	p.output("        <command> -h show help on command options.\n")
	p.output("        [command] | <shell-command>\n")
	p.output("                     pipe command output to shell-command.\n")
	return csOk
}

func (p *Prompt) cmdQuit(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	p.quit = true
	return csOk
}

func (p *Prompt) cmdAs(args []string) CommandStatus {
	create := p.f.Bool("new", false, "create a new address space and select it")
	ls := p.f.Bool("ls", false, "list address spaces")
	use := p.f.Int("use", -1, "select address space with index N")
	destroy := p.f.Bool("destroy", false, "destroy the selected address space")
	activate := p.f.Bool("activate", false, "activate the selected address space")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}

	if *create {
		as, err := p.m.Create()
		if err != nil {
			p.output("failed to create address space: %v\n", err)
			return csError
		}
		p.as = as
		p.output("created %s\n", as)
	}
	if *use >= 0 {
		p.as = nil
		for _, as := range p.m.Spaces() {
			if as.Handle().index == *use {
				p.as = as
			}
		}
		if p.as == nil {
			p.output("no address space with index %d\n", *use)
			return csError
		}
	}
	if *activate && p.selected() {
		p.as.Activate()
	}
	if *destroy && p.selected() {
		if err := p.as.Destroy(); err != nil {
			p.output("destroy failed: %v\n", err)
		}
		p.output("destroyed %s\n", p.as)
		p.as = nil
	}
	if *ls || len(args) == 0 {
		current := p.m.Current()
		for _, as := range p.m.Spaces() {
			mark := " "
			if as == p.as {
				mark = "*"
			}
			active := ""
			if as == current {
				active = " (active)"
			}
			start, end := as.Heap()
			p.output("%s %-10s swap %s, %d slots, heap %s-%s%s\n",
				mark, as, as.SwapFile().Name(), as.SwapSlots(), start, end, active)
		}
	}
	return csOk
}

func (p *Prompt) cmdPrepare(args []string) CommandStatus {
	addr := p.f.String("addr", "", "start address of the region")
	size := p.f.Int("size", PageSize, "size of the region in bytes")
	mode := p.f.String("mode", "getentry", "getentry or getpage")
	if err := p.f.Parse(args); err != nil || !p.selected() {
		return csOk
	}
	va, err := parseVaddr(*addr)
	if err != nil {
		p.output("%v\n", err)
		return csError
	}
	switch *mode {
	case "getentry":
		err = p.as.PrepareLoad(va, *size, ProtRead|ProtWrite, TempFixed, GetEntry)
	case "getpage":
		if err = p.as.PrepareLoad(va, *size, ProtRead|ProtWrite, TempFixed, GetPage); err == nil {
			err = p.as.CompleteLoad(Occupied, va)
		}
	default:
		err = fmt.Errorf("invalid mode %q", *mode)
	}
	if err != nil {
		p.output("prepare failed: %v\n", err)
		return csError
	}
	return csOk
}

func (p *Prompt) cmdLoad(args []string) CommandStatus {
	addr := p.f.String("addr", "", "address of the first word")
	count := p.f.Int("n", 1, "number of words")
	if err := p.f.Parse(args); err != nil || !p.selected() {
		return csOk
	}
	va, err := parseVaddr(*addr)
	if err != nil {
		p.output("%v\n", err)
		return csError
	}
	t := p.m.NewThread(p.as)
	for i := 0; i < *count; i++ {
		w, err := t.LoadWord(va + Vaddr(4*i))
		if err != nil {
			p.output("load failed: %v\n", err)
			return csError
		}
		p.output("%s: 0x%08x %d\n", va+Vaddr(4*i), w, int32(w))
	}
	return csOk
}

func (p *Prompt) cmdStore(args []string) CommandStatus {
	addr := p.f.String("addr", "", "address of the first word")
	value := p.f.Int64("value", 0, "value to store")
	count := p.f.Int("n", 1, "number of consecutive words to store")
	if err := p.f.Parse(args); err != nil || !p.selected() {
		return csOk
	}
	va, err := parseVaddr(*addr)
	if err != nil {
		p.output("%v\n", err)
		return csError
	}
	t := p.m.NewThread(p.as)
	for i := 0; i < *count; i++ {
		if err := t.StoreWord(va+Vaddr(4*i), uint32(*value)); err != nil {
			p.output("store failed: %v\n", err)
			return csError
		}
	}
	return csOk
}

func (p *Prompt) cmdFault(args []string) CommandStatus {
	addr := p.f.String("addr", "", "faulting address")
	kind := p.f.String("kind", "read", "read, write or readonly")
	if err := p.f.Parse(args); err != nil || !p.selected() {
		return csOk
	}
	va, err := parseVaddr(*addr)
	if err != nil {
		p.output("%v\n", err)
		return csError
	}
	var k FaultKind
	switch *kind {
	case "read":
		k = FaultRead
	case "write":
		k = FaultWrite
	case "readonly":
		k = FaultReadOnly
	default:
		p.output("invalid fault kind %q\n", *kind)
		return csError
	}
	p.as.Activate()
	if err := p.m.HandleFault(k, va); err != nil {
		p.output("fault failed: %v\n", err)
		return csError
	}
	e, _ := p.as.Lookup(va)
	p.output("%s: %s\n", va&PageFrame, e)
	return csOk
}

func (p *Prompt) cmdSbrk(args []string) CommandStatus {
	delta := p.f.Int("delta", 0, "bytes to grow (or shrink if negative) the heap by")
	if err := p.f.Parse(args); err != nil || !p.selected() {
		return csOk
	}
	old, err := p.as.Sbrk(*delta)
	if err != nil {
		p.output("sbrk failed: %v\n", err)
		return csError
	}
	_, end := p.as.Heap()
	p.output("break %s -> %s\n", old, end)
	return csOk
}

func (p *Prompt) cmdFork(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil || !p.selected() {
		return csOk
	}
	child, err := p.as.Copy()
	if err != nil {
		p.output("fork failed: %v\n", err)
		return csError
	}
	p.output("copied %s to %s\n", p.as, child)
	p.as = child
	return csOk
}

func (p *Prompt) cmdCoremap(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	p.output("%s\n", p.m.DumpCoremap())
	return csOk
}

func (p *Prompt) cmdTLB(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	t := &TLB{entries: p.m.TLB()}
	p.output("%s\n", t)
	return csOk
}

func (p *Prompt) cmdStats(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	p.output("%s\n", p.m.Stats().Summarize())
	return csOk
}

func (p *Prompt) cmdMetrics(args []string) CommandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	g, err := metrics.NewMetricGatherer()
	if err != nil {
		p.output("failed to create metrics gatherer: %v\n", err)
		return csError
	}
	if err := metrics.Dump(p.w, g); err != nil {
		p.output("%v\n", err)
		return csError
	}
	p.w.Flush()
	return csOk
}
