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

package regs

import (
    `fmt`
)

// Kill identifies an instruction family with implicit register clobbers.
type Kill uint8

const (
    KillNone Kill = iota
    KillCall
    KillMulHigh
    KillDiv
)

// Target is the static description of a machine register file. All queries
// are table lookups indexed by register id.
type Target struct {
    Arch           string
    CostBase       uint32
    SlotSize       int32
    StackGrowsDown bool
    HasXchg        bool
    MemOperands    bool
    ImmBits        uint8
    FramePtr       Reg
    names          []string
    native         []int16
    attrs          []Attr
    class          []Class
    order          [NumClasses][]Reg
    mask           [NumClasses]RegSet
    scratch        [NumClasses]Reg
    kills          [KillDiv + 1]RegSet
    byname         map[string]Reg
}

func newTarget(arch string) *Target {
    return &Target {
        Arch     : arch,
        FramePtr : NoReg,
        scratch  : [NumClasses]Reg { NoReg, NoReg },
        byname   : make(map[string]Reg),
    }
}

func (self *Target) add(name string, native int16, cls Class, attrs Attr) Reg {
    r := Reg(len(self.names))

    /* the register set is a 64-bit mask */
    if r >= MaxRegs {
        panic("regs: too many registers for " + self.Arch)
    }

    /* add to the static tables */
    self.names = append(self.names, name)
    self.native = append(self.native, native)
    self.attrs = append(self.attrs, attrs)
    self.class = append(self.class, cls)
    self.byname[name] = r

    /* scratch registers are never handed out by the allocator */
    if attrs & Scratch != 0 {
        self.scratch[cls] = r
    } else if attrs & Allocatable != 0 {
        self.mask[cls] = self.mask[cls].Add(r)
    }
    return r
}

// seal computes the call kill set and validates the allocation orders.
func (self *Target) seal() *Target {
    for c := Class(0); c < NumClasses; c++ {
        for _, r := range self.order[c] {
            if !self.mask[c].Has(r) {
                panic(fmt.Sprintf("regs: %s is not allocatable on %s", self.names[r], self.Arch))
            }
        }
        if len(self.order[c]) != self.mask[c].Count() {
            panic(fmt.Sprintf("regs: incomplete %s allocation order on %s", c, self.Arch))
        }
    }
    self.kills[KillCall] = self.CallerSaved(Int).Union(self.CallerSaved(Float))
    return self
}

func (self *Target) NumRegs() int {
    return len(self.names)
}

func (self *Target) Name(r Reg) string {
    if int(r) >= len(self.names) {
        return "%none"
    } else {
        return self.names[r]
    }
}

// Native returns the encoding of r in the assembler package the target was built from.
func (self *Target) Native(r Reg) int16 {
    return self.native[r]
}

func (self *Target) Lookup(name string) Reg {
    if r, ok := self.byname[name]; ok {
        return r
    } else {
        return NoReg
    }
}

func (self *Target) Class(r Reg) Class         { return self.class[r] }
func (self *Target) IsAllocatable(r Reg) bool  { return self.attrs[r] & Allocatable != 0 }
func (self *Target) IsCalleeSaved(r Reg) bool  { return self.attrs[r] & CalleeSaved != 0 }
func (self *Target) IsByteable(r Reg) bool     { return self.attrs[r] & Byteable != 0 }
func (self *Target) Allocatable(c Class) RegSet { return self.mask[c] }
func (self *Target) Order(c Class) []Reg       { return self.order[c] }
func (self *Target) ScratchReg(c Class) Reg    { return self.scratch[c] }
func (self *Target) ImplicitKills(k Kill) RegSet { return self.kills[k] }

// RegSaveIndex is the index of r in the register save area of a bail-out stub.
func (self *Target) RegSaveIndex(r Reg) int {
    return int(r)
}

func (self *Target) CalleeSaved(c Class) (rs RegSet) {
    for _, r := range self.mask[c].Slice() {
        if self.IsCalleeSaved(r) {
            rs = rs.Add(r)
        }
    }
    return
}

func (self *Target) CallerSaved(c Class) RegSet {
    return self.mask[c].Subtract(self.CalleeSaved(c))
}

// Byteable returns the machine-width-compatible subset usable for 8-bit operands.
func (self *Target) Byteable() (rs RegSet) {
    for _, r := range self.mask[Int].Slice() {
        if self.IsByteable(r) {
            rs = rs.Add(r)
        }
    }
    return
}

// InitActive returns every register the allocator must treat as permanently
// occupied: the non-allocatable ones, including the scratch registers.
func (self *Target) InitActive() (rs RegSet) {
    for i := range self.names {
        if !self.IsAllocatable(Reg(i)) {
            rs = rs.Add(Reg(i))
        }
    }
    return
}

func (self *Target) String() string {
    return fmt.Sprintf(
        "%s: int %s, float %s, callee-saved %s",
        self.Arch,
        self.mask[Int].Format(self),
        self.mask[Float].Format(self),
        self.CalleeSaved(Int).Union(self.CalleeSaved(Float)).Format(self),
    )
}
