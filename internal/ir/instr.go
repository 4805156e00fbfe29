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

type OpCode uint8

const (
    OP_nop OpCode = iota
    OP_label            // branch target, may start a helper block, a loop or a handler
    OP_br               // goto Target
    OP_brcond           // if Src1 [cmp Src2] goto Target, falls through otherwise
    OP_brmulti          // goto Targets[Src1]
    OP_ret              // return [Src1]
    OP_mov              // Dst = Src1
    OP_ldimm            // Dst = Src1 (immediate)
    OP_load             // Dst = Src1 (stack slot)
    OP_store            // Dst (stack slot) = Src1
    OP_ldind            // Dst = *Src1 (indirect)
    OP_stind            // *Dst (indirect) = Src1
    OP_add              // Dst = Src1 + Src2
    OP_sub              // Dst = Src1 - Src2
    OP_mul              // Dst = Src1 * Src2
    OP_mulhi            // Dst = high half of Src1 * Src2
    OP_div              // Dst = Src1 / Src2
    OP_cmp              // Dst = Src1 <=> Src2
    OP_call             // Dst = Src1(...), clobbers caller-saved registers
    OP_xchg             // Dst <-> Src1
    OP_tryenter         // enter a try region, Target is the handler
    OP_leave            // leave a try region, goto Target
    OP_inlinee_start    // enter the inlined frame Frame
    OP_inlinee_end      // leave the inlined frame Frame
    OP_bailout          // bail out to the interpreter if Src1 is not zero
)

var opnames = [...]string {
    OP_nop           : "nop",
    OP_label         : "label",
    OP_br            : "br",
    OP_brcond        : "brcond",
    OP_brmulti       : "brmulti",
    OP_ret           : "ret",
    OP_mov           : "mov",
    OP_ldimm         : "ldimm",
    OP_load          : "load",
    OP_store         : "store",
    OP_ldind         : "ldind",
    OP_stind         : "stind",
    OP_add           : "add",
    OP_sub           : "sub",
    OP_mul           : "mul",
    OP_mulhi         : "mulhi",
    OP_div           : "div",
    OP_cmp           : "cmp",
    OP_call          : "call",
    OP_xchg          : "xchg",
    OP_tryenter      : "tryenter",
    OP_leave         : "leave",
    OP_inlinee_start : "inlinee_start",
    OP_inlinee_end   : "inlinee_end",
    OP_bailout       : "bailout",
}

func (self OpCode) String() string {
    if int(self) < len(opnames) {
        return opnames[self]
    } else {
        return fmt.Sprintf("op(%d)", uint8(self))
    }
}

type Flags uint8

const (
    F_sideeffect Flags = 1 << iota     // must not be removed even if the result is dead
    F_helper                           // label starts an out-of-line helper block
    F_looptop                          // label is the target of a back edge
    F_handler                          // label is the entry of an exception handler
)

type Instr struct {
    Op      OpCode
    Num     uint32
    Flags   Flags
    Dst     Opnd
    Src1    Opnd
    Src2    Opnd
    Target  *Instr
    Targets []*Instr
    Region  *Region
    Frame   *InlineFrame
    BailOut *BailOutInfo
    Name    string
    Prev    *Instr
    Next    *Instr
}

func (self *Instr) IsLabel() bool {
    return self.Op == OP_label
}

func (self *Instr) IsBranch() bool {
    switch self.Op {
        case OP_br, OP_brcond, OP_brmulti, OP_tryenter, OP_leave : return true
        default                                                  : return false
    }
}

// IsUncondBranch reports a branch with exactly one successor and no fall-through.
func (self *Instr) IsUncondBranch() bool {
    return self.Op == OP_br || self.Op == OP_leave
}

// HasFallThrough reports whether control may reach the next instruction.
func (self *Instr) HasFallThrough() bool {
    switch self.Op {
        case OP_br, OP_brmulti, OP_leave, OP_ret : return false
        default                                  : return true
    }
}

// EndsBlock reports whether the instruction terminates a basic block.
func (self *Instr) EndsBlock() bool {
    return self.IsBranch() || self.Op == OP_ret
}

func (self *Instr) HasSideEffects() bool {
    if self.Flags & F_sideeffect != 0 {
        return true
    }
    switch self.Op {
        case OP_nop, OP_mov, OP_ldimm, OP_load, OP_ldind : return false
        case OP_add, OP_sub, OP_mul, OP_mulhi, OP_cmp    : return false
        default                                          : return true
    }
}

// Kill returns the implicit clobber family of the instruction.
func (self *Instr) Kill() regs.Kill {
    switch self.Op {
        case OP_call  : return regs.KillCall
        case OP_mulhi : return regs.KillMulHigh
        case OP_div   : return regs.KillDiv
        default       : return regs.KillNone
    }
}

// Succs returns the branch targets of the instruction, fall-through excluded.
func (self *Instr) Succs() []*Instr {
    if self.Op == OP_brmulti {
        return self.Targets
    } else if self.IsBranch() && self.Target != nil {
        return []*Instr { self.Target }
    } else {
        return nil
    }
}

// Retarget replaces the i-th branch target of the instruction.
func (self *Instr) Retarget(i int, to *Instr) {
    if self.Op == OP_brmulti {
        self.Targets[i] = to
    } else if i == 0 {
        self.Target = to
    } else {
        panic(fmt.Sprintf("ir: invalid target index %d for %s", i, self.Op))
    }
}

// Srcs calls fn for every register read by the instruction, including the
// address registers of an indirect destination.
func (self *Instr) Srcs(fn func(op *RegOpnd)) {
    eachReg(self.Src1, fn)
    eachReg(self.Src2, fn)
    if m, ok := self.Dst.(*IndirOpnd); ok {
        eachReg(m, fn)
    }
    if self.Op == OP_xchg {
        eachReg(self.Dst, fn)
    }
}

// Def returns the register defined by the instruction, or nil.
func (self *Instr) Def() *RegOpnd {
    if r, ok := self.Dst.(*RegOpnd); ok {
        return r
    } else {
        return nil
    }
}

func eachReg(op Opnd, fn func(op *RegOpnd)) {
    switch v := op.(type) {
        case *RegOpnd   : fn(v)
        case *IndirOpnd : if v.Base != nil { fn(v.Base) }; if v.Index != nil { fn(v.Index) }
    }
}

func (self *Instr) Format(t *regs.Target) string {
    var nb []string
    var sb strings.Builder

    /* labels */
    if self.Op == OP_label {
        return self.Name + ":"
    }

    /* operands */
    for _, op := range []Opnd { self.Dst, self.Src1, self.Src2 } {
        if op != nil {
            nb = append(nb, op.Format(t))
        }
    }

    /* branch targets */
    for _, to := range self.Succs() {
        if to != nil {
            nb = append(nb, to.Name)
        }
    }

    /* inlined frames */
    if self.Frame != nil {
        nb = append(nb, self.Frame.Name)
    }

    /* build the instruction */
    sb.WriteString(self.Op.String())
    if len(nb) != 0 {
        sb.WriteByte(' ')
        sb.WriteString(strings.Join(nb, ", "))
    }
    return sb.String()
}

func (self *Instr) String() string {
    return self.Format(nil)
}
