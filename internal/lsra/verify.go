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

    `github.com/davecgh/go-spew/spew`
    `github.com/obastemur/lsra/internal/regs`
)

// InvariantError reports an internal inconsistency of the allocator. It is
// always a bug, either in the allocator or in the input it was given.
type InvariantError struct {
    Func   string
    Instr  uint32
    Reason string
    State  string
}

func (self *InvariantError) Error() string {
    return fmt.Sprintf("lsra: invariant violated in %s at %06d: %s", self.Func, self.Instr, self.Reason)
}

type _StateDump struct {
    Registers map[string]string
    Lifetimes []string
    Active    []string
}

func (self *Allocator) dump() _StateDump {
    ret := _StateDump { Registers: make(map[string]string) }
    for r, id := range self.content {
        if id != _NoLt {
            ret.Registers[self.t.Name(regs.Reg(r))] = self.lt(id).sym.String()
        }
    }
    for i := range self.lts {
        if lt := &self.lts[i]; lt.started() {
            ret.Lifetimes = append(ret.Lifetimes, lt.String())
        }
    }
    for _, id := range self.active {
        ret.Active = append(ret.Active, self.lt(id).sym.String())
    }
    return ret
}

func (self *Allocator) fail(format string, args ...interface{}) {
    panic(&InvariantError {
        Func   : self.fn.Name,
        Instr  : self.num,
        Reason : fmt.Sprintf(format, args...),
        State  : spew.Sdump(self.dump()),
    })
}

// verify cross-checks the register content table against the lifetimes.
func (self *Allocator) verify() {
    var busy regs.RegSet
    var counts [regs.NumClasses]int

    /* every occupied register belongs to a lifetime holding it */
    for r, id := range self.content {
        if id == _NoLt {
            continue
        }
        lt := self.lt(id)
        if lt.reg != regs.Reg(r) || !lt.inReg() {
            self.fail("%s is recorded in %s but holds %s", lt.sym, self.t.Name(regs.Reg(r)), self.t.Name(lt.reg))
        }
        busy = busy.Add(regs.Reg(r))
        counts[self.t.Class(regs.Reg(r))]++
    }

    /* and every lifetime in a register is recorded */
    for i := range self.lts {
        lt := &self.lts[i]
        if lt.inReg() && self.content[lt.reg] != lt.id {
            self.fail("%s holds %s which is not recorded", lt.sym, self.t.Name(lt.reg))
        }
        if lt.state == S_helperspilled && self.helper == nil {
            self.fail("%s is helper-spilled outside of a helper block", lt.sym)
        }
        if lt.state == S_spilled && lt.slot == nil && !lt.has(LF_reloadatuses) {
            self.fail("%s is spilled without a slot", lt.sym)
        }
    }

    /* the summaries must match */
    if busy != self.busy {
        self.fail("active registers %s, expected %s", self.busy.Format(self.t), busy.Format(self.t))
    }
    if counts != self.counts {
        self.fail("register counts %v, expected %v", self.counts, counts)
    }
    if !busy.Intersect(self.reserved).Empty() {
        self.fail("reserved registers in use: %s", busy.Intersect(self.reserved).Format(self.t))
    }
}
