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
    `sort`
    `strings`
)

// InlineFrame is a function frame, either the root one or one inlined into
// its parent. Locals are the symbols owning interpreter-visible slots.
type InlineFrame struct {
    Name   string
    Parent *InlineFrame
    Locals []*Sym
}

// Depth is 0 for the root frame.
func (self *InlineFrame) Depth() (n int) {
    for p := self.Parent; p != nil; p = p.Parent { n++ }
    return
}

// LiveValue is a value the deoptimization stub must reconstruct: symbolic
// slot Slot of frame Frame currently holds Sym.
type LiveValue struct {
    Frame *InlineFrame
    Slot  int
    Sym   *Sym
}

// BailOutInfo marks an instruction as a deoptimization point.
type BailOutInfo struct {
    Offset uint32
    Frame  *InlineFrame
    Live   []LiveValue
}

type LocKind uint8

const (
    L_reg LocKind = iota    // Value is a register save slot index
    L_stack                 // Value is an FP-relative displacement
    L_const                 // Value is an index into the constant table
)

func (self LocKind) String() string {
    switch self {
        case L_reg   : return "reg"
        case L_stack : return "stack"
        case L_const : return "const"
        default      : return "???"
    }
}

type BailOutEntry struct {
    Slot  int
    Kind  LocKind
    Value int32
}

// BailOutRecord describes one frame at one deoptimization point. Records of
// inlined frames are chained outward through Parent.
type BailOutRecord struct {
    Instr   *Instr
    Offset  uint32
    Frame   *InlineFrame
    Parent  *BailOutRecord
    Entries []BailOutEntry
}

func (self *BailOutRecord) Lookup(slot int) (BailOutEntry, bool) {
    for _, e := range self.Entries {
        if e.Slot == slot {
            return e, true
        }
    }
    return BailOutEntry{}, false
}

// Sort orders the entries by symbolic slot.
func (self *BailOutRecord) Sort() {
    sort.Slice(self.Entries, func(i int, j int) bool {
        return self.Entries[i].Slot < self.Entries[j].Slot
    })
}

func (self *BailOutRecord) String() string {
    nb := make([]string, 0, len(self.Entries))
    for _, e := range self.Entries {
        nb = append(nb, fmt.Sprintf("#%d=%s:%d", e.Slot, e.Kind, e.Value))
    }
    return fmt.Sprintf("bailout(%s@%d) {%s}", self.Frame.Name, self.Offset, strings.Join(nb, ", "))
}

// BailOutTable is the per-function side table read by the runtime. It is
// append-only while the allocator runs and immutable once sealed.
type BailOutTable struct {
    Constants []int64
    Records   []*BailOutRecord
    sealed    bool
}

func (self *BailOutTable) check() {
    if self.sealed {
        panic("ir: bail-out table is sealed")
    }
}

// AddConst appends a constant and returns its index.
func (self *BailOutTable) AddConst(v int64) int {
    self.check()
    self.Constants = append(self.Constants, v)
    return len(self.Constants) - 1
}

func (self *BailOutTable) Add(rec *BailOutRecord) {
    self.check()
    self.Records = append(self.Records, rec)
}

func (self *BailOutTable) Seal() {
    self.sealed = true
}

func (self *BailOutTable) Sealed() bool {
    return self.sealed
}

// Find returns the innermost record of a deoptimization point.
func (self *BailOutTable) Find(ins *Instr) *BailOutRecord {
    for _, rec := range self.Records {
        if rec.Instr == ins && (ins.BailOut == nil || rec.Frame == ins.BailOut.Frame) {
            return rec
        }
    }
    return nil
}
