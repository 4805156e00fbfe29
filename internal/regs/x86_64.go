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
    `github.com/chenzhuoyu/iasm/x86_64`
)

var gpr64 = [16]x86_64.Register64 {
    x86_64.RAX, x86_64.RCX, x86_64.RDX, x86_64.RBX,
    x86_64.RSP, x86_64.RBP, x86_64.RSI, x86_64.RDI,
    x86_64.R8 , x86_64.R9 , x86_64.R10, x86_64.R11,
    x86_64.R12, x86_64.R13, x86_64.R14, x86_64.R15,
}

var xmm = [16]x86_64.XMMRegister {
    x86_64.XMM0 , x86_64.XMM1 , x86_64.XMM2 , x86_64.XMM3 ,
    x86_64.XMM4 , x86_64.XMM5 , x86_64.XMM6 , x86_64.XMM7 ,
    x86_64.XMM8 , x86_64.XMM9 , x86_64.XMM10, x86_64.XMM11,
    x86_64.XMM12, x86_64.XMM13, x86_64.XMM14, x86_64.XMM15,
}

func gprAttr(r x86_64.Register64) Attr {
    switch r {
        case x86_64.RSP, x86_64.RBP           : return 0
        case x86_64.R11                       : return Scratch | Byteable
        case x86_64.RBX, x86_64.R12, x86_64.R13, x86_64.R14, x86_64.R15: return Allocatable | CalleeSaved | Byteable
        default                               : return Allocatable | Byteable
    }
}

func xmmAttr(r x86_64.XMMRegister) Attr {
    if r == x86_64.XMM15 {
        return Scratch
    } else {
        return Allocatable
    }
}

// AMD64 describes the System V x86-64 register file. RSP and RBP form the
// frame, R11 and XMM15 are the scratch pair used to break move cycles.
func AMD64() *Target {
    t := newTarget("amd64")
    t.CostBase = 64
    t.SlotSize = 8
    t.ImmBits = 32
    t.HasXchg = true
    t.MemOperands = true
    t.StackGrowsDown = true

    /* general purpose registers */
    for _, r := range gpr64 {
        t.add(r.String(), int16(r), Int, gprAttr(r))
    }

    /* SSE registers */
    for _, r := range xmm {
        t.add(r.String(), int16(r), Float, xmmAttr(r))
    }

    /* caller-saved registers first, then the callee-saved ones */
    for _, r := range []x86_64.Register64 {
        x86_64.RAX, x86_64.R10,                                                 // the return value and R10 first
        x86_64.R9, x86_64.R8, x86_64.RCX, x86_64.RDX, x86_64.RSI, x86_64.RDI,   // then argument registers in reverse order
        x86_64.RBX, x86_64.R12, x86_64.R13, x86_64.R14, x86_64.R15,             // then callee-saved
    } {
        t.order[Int] = append(t.order[Int], t.Lookup(r.String()))
    }

    /* all SSE registers are caller-saved */
    for _, r := range xmm[:15] {
        t.order[Float] = append(t.order[Float], t.Lookup(r.String()))
    }

    /* MULQ writes the high half into RDX, DIVQ clobbers RDX:RAX */
    t.FramePtr = t.Lookup(x86_64.RBP.String())
    t.kills[KillMulHigh] = SetOf(t.Lookup(x86_64.RDX.String()))
    t.kills[KillDiv] = SetOf(t.Lookup(x86_64.RAX.String()), t.Lookup(x86_64.RDX.String()))
    return t.seal()
}

// GPR converts an amd64 target register to its assembler operand.
func GPR(t *Target, r Reg) x86_64.Register64 {
    if t.Class(r) != Int {
        panic("regs: not a general purpose register: " + t.Name(r))
    }
    return x86_64.Register64(t.Native(r))
}

// XMM converts an amd64 target register to its assembler operand.
func XMM(t *Target, r Reg) x86_64.XMMRegister {
    if t.Class(r) != Float {
        panic("regs: not an SSE register: " + t.Name(r))
    }
    return x86_64.XMMRegister(t.Native(r))
}
