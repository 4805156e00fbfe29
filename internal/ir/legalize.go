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
    `github.com/obastemur/lsra/internal/regs`
)

// Role names an operand position of an instruction.
type Role uint8

const (
    RoleDst Role = iota
    RoleSrc1
    RoleSrc2
    RoleAddr
)

// Legalizer is the machine-dependent side of operand binding. Legalize is
// called whenever an operand gets its physical register; the other two tell
// the allocator whether a spilled value may stay in memory or be folded as an
// immediate at that position.
type Legalizer interface {
    Legalize(ins *Instr, op *RegOpnd)
    MemoryLegal(ins *Instr, role Role) bool
    ImmLegal(ins *Instr, role Role, v int64) bool
}

type defaultLegalizer struct {
    t *regs.Target
}

// DefaultLegalizer allows a single memory operand on targets with memory
// operands, and immediates that fit the target immediate width.
func DefaultLegalizer(t *regs.Target) Legalizer {
    return &defaultLegalizer { t }
}

// Legalize turns moves of wide immediates into the long load-immediate form.
func (self *defaultLegalizer) Legalize(ins *Instr, _ *RegOpnd) {
    if ins.Op == OP_mov {
        if v, ok := ins.Src1.(*ImmOpnd); ok && !self.fits(v.Value) {
            ins.Op = OP_ldimm
        }
    }
}

func (self *defaultLegalizer) fits(v int64) bool {
    n := self.t.ImmBits
    return n >= 64 || (v >= -(1 << (n - 1)) && v < 1 << (n - 1))
}

func isMemory(op Opnd) bool {
    switch op.(type) {
        case *SymOpnd, *IndirOpnd : return true
        default                   : return false
    }
}

func (self *defaultLegalizer) MemoryLegal(ins *Instr, role Role) bool {
    if !self.t.MemOperands || role == RoleAddr {
        return false
    }

    /* at most one memory operand per instruction */
    for _, op := range []Opnd { ins.Dst, ins.Src1, ins.Src2 } {
        if op != nil && isMemory(op) {
            return false
        }
    }

    /* check the operand position */
    switch ins.Op {
        case OP_mov              : return role == RoleSrc1 || role == RoleDst
        case OP_add, OP_sub      : return role == RoleSrc2
        case OP_mul, OP_cmp      : return role == RoleSrc2
        case OP_brcond, OP_call  : return role == RoleSrc1
        case OP_bailout          : return role == RoleSrc1
        default                  : return false
    }
}

func (self *defaultLegalizer) ImmLegal(ins *Instr, role Role, v int64) bool {
    if !self.fits(v) {
        return ins.Op == OP_mov && role == RoleSrc1
    }
    switch ins.Op {
        case OP_mov, OP_ret, OP_bailout     : return role == RoleSrc1
        case OP_add, OP_sub, OP_cmp, OP_mul : return role == RoleSrc2
        case OP_brcond                      : return role == RoleSrc2
        case OP_stind                       : return role == RoleSrc1 && self.t.MemOperands
        default                             : return false
    }
}
