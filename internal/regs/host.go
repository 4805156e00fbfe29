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
    `runtime`

    `github.com/klauspost/cpuid/v2`
)

// HostAMD64 is AMD64 refined by the features of the running CPU. With BMI2 the
// high multiply is emitted as MULX, which names both results explicitly.
func HostAMD64() *Target {
    t := AMD64()
    if cpuid.CPU.Supports(cpuid.BMI2) {
        t.kills[KillMulHigh] = 0
    }
    return t
}

// Host returns the target of the running machine.
func Host() *Target {
    switch runtime.GOARCH {
        case "amd64" : return HostAMD64()
        case "arm64" : return ARM64()
        default      : panic(fmt.Sprintf("regs: unsupported architecture: %s", runtime.GOARCH))
    }
}

// Custom builds a small 32-bit register file, mostly useful for exercising
// register pressure. The last `callee` integer registers are callee-saved and
// only the first four integer registers can hold 8-bit values.
func Custom(name string, nint int, nfloat int, callee int) *Target {
    t := newTarget(name)
    t.CostBase = 16
    t.SlotSize = 4
    t.ImmBits = 32
    t.HasXchg = true
    t.MemOperands = true
    t.StackGrowsDown = true

    /* sanity check */
    if nint <= 0 || nfloat < 0 || callee < 0 || callee > nint || nint + nfloat + 3 > MaxRegs {
        panic(fmt.Sprintf("regs: invalid custom target: %d int, %d float, %d callee-saved", nint, nfloat, callee))
    }

    /* integer registers */
    for i := 0; i < nint; i++ {
        a := Allocatable
        if i < 4 { a |= Byteable }
        if i >= nint - callee { a |= CalleeSaved }
        t.order[Int] = append(t.order[Int], t.add(fmt.Sprintf("r%d", i), int16(i), Int, a))
    }

    /* float registers */
    for i := 0; i < nfloat; i++ {
        t.order[Float] = append(t.order[Float], t.add(fmt.Sprintf("f%d", i), int16(i), Float, Allocatable))
    }

    /* scratch pair and frame pointer */
    t.add("rs", int16(nint), Int, Scratch)
    t.add("fs", int16(nfloat), Float, Scratch)
    t.FramePtr = t.add("fp", int16(nint + 1), Int, 0)
    return t.seal()
}
