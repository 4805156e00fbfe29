/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ir

import (
    `fmt`
    `strings`

    `github.com/obastemur/lsra/internal/regs`
)

type RegionKind uint8

const (
    R_root RegionKind = iota
    R_try
    R_catch
    R_finally
)

// Region is an exception-handling region.
type Region struct {
    Kind   RegionKind
    Parent *Region
}

// Func is one compilation unit: a doubly linked instruction list in its final
// linear order, plus everything the allocator reads and writes besides code.
type Func struct {
    Name     string
    Head     *Instr
    Tail     *Instr
    Syms     []*Sym
    Frame    *Frame
    Root     *InlineFrame
    BailOuts *BailOutTable
    HasTry   bool
}

func (self *Func) Append(ins *Instr) *Instr {
    ins.Prev = self.Tail
    ins.Next = nil
    if self.Tail == nil {
        self.Head = ins
    } else {
        self.Tail.Next = ins
    }
    self.Tail = ins
    return ins
}

// InsertBefore links ins immediately before at.
func (self *Func) InsertBefore(at *Instr, ins *Instr) {
    ins.Next = at
    ins.Prev = at.Prev
    if at.Prev == nil {
        self.Head = ins
    } else {
        at.Prev.Next = ins
    }
    at.Prev = ins
}

// InsertAfter links ins immediately after at.
func (self *Func) InsertAfter(at *Instr, ins *Instr) {
    ins.Prev = at
    ins.Next = at.Next
    if at.Next == nil {
        self.Tail = ins
    } else {
        at.Next.Prev = ins
    }
    at.Next = ins
}

func (self *Func) Remove(ins *Instr) {
    if ins.Prev == nil {
        self.Head = ins.Next
    } else {
        ins.Prev.Next = ins.Next
    }
    if ins.Next == nil {
        self.Tail = ins.Prev
    } else {
        ins.Next.Prev = ins.Prev
    }
    ins.Prev = nil
    ins.Next = nil
}

// Len counts the instructions, synthetic ones included.
func (self *Func) Len() (n int) {
    for p := self.Head; p != nil; p = p.Next { n++ }
    return
}

func (self *Func) Count(op OpCode) (n int) {
    for p := self.Head; p != nil; p = p.Next {
        if p.Op == op {
            n++
        }
    }
    return
}

func (self *Func) NewSym(name string, cls regs.Class) *Sym {
    sym := &Sym {
        Id    : len(self.Syms),
        Name  : name,
        Class : cls,
        Size  : 8,
        Fixed : regs.NoReg,
        Local : -1,
    }
    self.Syms = append(self.Syms, sym)
    return sym
}

// Dump formats the function like the JIT function layout: numbered
// instructions, synthetic ones marked with a dash.
func (self *Func) Dump(t *regs.Target) string {
    nb := []string { fmt.Sprintf("func %s:", self.Name) }
    for p := self.Head; p != nil; p = p.Next {
        if p.Op == OP_label {
            if p.Num == 0 {
                nb = append(nb, fmt.Sprintf("     - | %s", p.Format(t)))
            } else {
                nb = append(nb, fmt.Sprintf("%06d | %s", p.Num, p.Format(t)))
            }
        } else if p.Num == 0 {
            nb = append(nb, fmt.Sprintf("     - |     %s", p.Format(t)))
        } else {
            nb = append(nb, fmt.Sprintf("%06d |     %s", p.Num, p.Format(t)))
        }
    }
    return strings.Join(nb, "\n")
}
