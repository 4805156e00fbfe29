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

package lsra

import (
    `fmt`

    `github.com/obastemur/lsra/internal/ir`
)

// _CfgEditor inserts the code generated by the allocator. Inserted
// instructions are never numbered, so the scan skips them.
type _CfgEditor struct {
    fn       *ir.Func
    airlocks int
}

func (self *_CfgEditor) InsertBefore(at *ir.Instr, ins *ir.Instr) {
    ins.Region = at.Region
    self.fn.InsertBefore(at, ins)
}

func (self *_CfgEditor) InsertAfter(at *ir.Instr, ins *ir.Instr) {
    ins.Region = at.Region
    self.fn.InsertAfter(at, ins)
}

func (self *_CfgEditor) Remove(ins *ir.Instr) {
    self.fn.Remove(ins)
}

// NewAirlock splits the idx-th edge of br to target with a block holding
// code. The block is laid out at the end of the function, so it never
// disturbs the fall-through of existing code.
func (self *_CfgEditor) NewAirlock(br *ir.Instr, idx int, target *ir.Instr, code []*ir.Instr) *ir.Instr {
    self.airlocks++
    lb := ir.NewLabel(fmt.Sprintf("%s.airlock.%d", target.Name, self.airlocks))
    lb.Region = target.Region
    self.fn.Append(lb)

    /* the compensation code */
    for _, ins := range code {
        ins.Region = target.Region
        self.fn.Append(ins)
    }

    /* then continue at the original target */
    jmp := ir.NewBr(target)
    jmp.Region = target.Region
    self.fn.Append(jmp)
    br.Retarget(idx, lb)
    return lb
}
