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
    `github.com/twitchyliquid64/golang-asm/obj`
    `github.com/twitchyliquid64/golang-asm/obj/arm64`
)

func arm64IntAttr(i int) Attr {
    switch {
        case i == 16             : return Scratch | Byteable   // IP0
        case i == 17 || i == 18  : return 0                    // IP1 and the platform register
        case i >= 29             : return 0                    // FP and LR
        case i >= 19             : return Allocatable | CalleeSaved | Byteable
        default                  : return Allocatable | Byteable
    }
}

func arm64FloatAttr(i int) Attr {
    switch {
        case i == 31           : return Scratch
        case i >= 8 && i <= 15 : return Allocatable | CalleeSaved
        default                : return Allocatable
    }
}

// ARM64 describes the AAPCS64 register file. Only the low 64 bits of V8-V15
// are preserved across calls, which is all a scalar float lifetime needs.
func ARM64() *Target {
    t := newTarget("arm64")
    t.CostBase = 64
    t.SlotSize = 8
    t.ImmBits = 12
    t.StackGrowsDown = true

    /* R0 - R30, R31 is either ZR or RSP depending on the instruction */
    for i := 0; i < 31; i++ {
        r := int16(arm64.REG_R0 + i)
        t.add(obj.Rconv(int(r)), r, Int, arm64IntAttr(i))
    }

    /* F0 - F31 */
    for i := 0; i < 32; i++ {
        r := int16(arm64.REG_F0 + i)
        t.add(obj.Rconv(int(r)), r, Float, arm64FloatAttr(i))
    }

    /* caller-saved in ascending order, then callee-saved */
    for _, c := range []Class { Int, Float } {
        t.order[c] = append(t.order[c], t.CallerSaved(c).Slice()...)
        t.order[c] = append(t.order[c], t.CalleeSaved(c).Slice()...)
    }

    /* UMULH and UDIV name all of their operands explicitly */
    t.FramePtr = t.Lookup(obj.Rconv(arm64.REG_R29))
    return t.seal()
}
