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

// This file implements an interactive prompt for hotfsd testability.

package main

import (
	"bufio"
	"flag"
	"fmt"
	"strings"

	"github.com/hottier/hotfs/pkg/hottrack"
)

type Prompt struct {
	r    *bufio.Reader
	w    *bufio.Writer
	f    *flag.FlagSet
	root *hottrack.Root
	ps1  string
}

type promptAction int

const (
	paCommandOk promptAction = iota
	paQuit
)

func NewPrompt(ps1 string, reader *bufio.Reader, writer *bufio.Writer, root *hottrack.Root) *Prompt {
	return &Prompt{
		r:    reader,
		w:    writer,
		ps1:  ps1,
		root: root,
	}
}

func (p *Prompt) output(format string, a ...interface{}) {
	if p.w == nil {
		return
	}
	p.w.WriteString(fmt.Sprintf(format, a...))
	p.w.Flush()
}

func (p *Prompt) interact() {
	pa := paCommandOk
	for pa != paQuit {
		p.output(p.ps1)
		cmd, err := p.r.ReadString(byte('\n'))
		if err != nil {
			p.output("quitting prompt: %s\n", err)
			break
		}
		cmdSlice := strings.Split(strings.TrimSpace(cmd), " ")
		if len(cmdSlice) == 0 {
			continue
		}
		p.f = flag.NewFlagSet(cmdSlice[0], flag.ContinueOnError)
		switch cmdSlice[0] {
		case "q", "quit":
			pa = p.cmdQuit(cmdSlice[1:])
		case "stats":
			pa = p.cmdStats(cmdSlice[1:])
		case "record":
			pa = p.cmdRecord(cmdSlice[1:])
		case "unlink":
			pa = p.cmdUnlink(cmdSlice[1:])
		case "scan":
			pa = p.cmdScan(cmdSlice[1:])
		case "":
			pa = paCommandOk
		default:
			p.output("unknown command\n")
			pa = paCommandOk
		}
	}
	p.output("quitting prompt.\n")
}

func (p *Prompt) cmdRecord(args []string) promptAction {
	fileID := p.f.Uint64("file", 0, "file id to record an access against")
	offset := p.f.Uint64("offset", 0, "byte offset of the access")
	length := p.f.Uint64("length", 1, "byte length of the access")
	write := p.f.Bool("write", false, "record a write instead of a read")
	if err := p.f.Parse(args); err != nil {
		return paCommandOk
	}
	p.root.RecordAccess(*fileID, hottrack.FileKindRegular, 1, *offset, *length, *write)
	p.output("recorded\n")
	return paCommandOk
}

func (p *Prompt) cmdUnlink(args []string) promptAction {
	fileID := p.f.Uint64("file", 0, "file id to unlink")
	if err := p.f.Parse(args); err != nil {
		return paCommandOk
	}
	p.root.OnUnlink(*fileID)
	p.output("unlinked\n")
	return paCommandOk
}

func (p *Prompt) cmdScan(args []string) promptAction {
	target := p.f.Uint64("target", 0, "number of items to try to free")
	avoid := p.f.Bool("avoid-recursion", false, "refuse to run if it might re-enter the filesystem")
	if err := p.f.Parse(args); err != nil {
		return paCommandOk
	}
	freed, stopped := p.root.ScanObjects(*target, *avoid)
	p.output("freed=%d stopped=%v\n", freed, stopped)
	return paCommandOk
}

func (p *Prompt) cmdStats(args []string) promptAction {
	if err := p.f.Parse(args); err != nil {
		return paCommandOk
	}
	acct := p.root.SizeAccount()
	p.output("bytes=%d (inode=%d range=%d) count=%d\n",
		acct.Bytes(), acct.InodeBytes(), acct.RangeBytes(), acct.Count())
	return paCommandOk
}

func (p *Prompt) cmdQuit(args []string) promptAction {
	help := p.f.Bool("h", false, "print help")
	p.f.Parse(args)
	if *help {
		p.output("quit interactive prompt\n")
		return paCommandOk
	}
	return paQuit
}
