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
    `math/bits`
    `strings`
)

// Reg is a dense physical register id, valid within one Target.
type Reg uint8

const (
    NoReg Reg = 0xff
)

const (
    MaxRegs = 64
)

// Class partitions the register file.
type Class uint8

const (
    Int Class = iota
    Float
    NumClasses
)

func (self Class) String() string {
    switch self {
        case Int   : return "int"
        case Float : return "float"
        default    : return fmt.Sprintf("class(%d)", uint8(self))
    }
}

// Attr is the static attribute bits of a physical register.
type Attr uint8

const (
    Allocatable Attr = 1 << iota
    CalleeSaved
    Byteable
    Scratch
)

// RegSet is a bit set of register ids.
type RegSet uint64

func SetOf(rr ...Reg) (rs RegSet) {
    for _, r := range rr { rs = rs.Add(r) }
    return
}

func (self RegSet) Add(r Reg) RegSet {
    return self | (1 << r)
}

func (self RegSet) Remove(r Reg) RegSet {
    return self &^ (1 << r)
}

func (self RegSet) Has(r Reg) bool {
    return r != NoReg && self & (1 << r) != 0
}

func (self RegSet) Union(rs RegSet) RegSet {
    return self | rs
}

func (self RegSet) Subtract(rs RegSet) RegSet {
    return self &^ rs
}

func (self RegSet) Intersect(rs RegSet) RegSet {
    return self & rs
}

func (self RegSet) Empty() bool {
    return self == 0
}

func (self RegSet) Count() int {
    return bits.OnesCount64(uint64(self))
}

// First returns the lowest register id in the set, or NoReg.
func (self RegSet) First() Reg {
    if self == 0 {
        return NoReg
    } else {
        return Reg(bits.TrailingZeros64(uint64(self)))
    }
}

func (self RegSet) Slice() []Reg {
    ret := make([]Reg, 0, self.Count())
    for rs := self; rs != 0; rs &= rs - 1 {
        ret = append(ret, Reg(bits.TrailingZeros64(uint64(rs))))
    }
    return ret
}

func (self RegSet) Format(t *Target) string {
    nb := make([]string, 0, self.Count())
    for _, r := range self.Slice() { nb = append(nb, t.Name(r)) }
    return "{" + strings.Join(nb, ", ") + "}"
}

func (self RegSet) String() string {
    nb := make([]string, 0, self.Count())
    for _, r := range self.Slice() { nb = append(nb, fmt.Sprintf("r%d", r)) }
    return "{" + strings.Join(nb, ", ") + "}"
}
