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
    `github.com/obastemur/lsra/internal/ir`
    `github.com/obastemur/lsra/internal/liveness`
    `github.com/obastemur/lsra/internal/regs`
)

// _LoopRecord is the state of a loop while the scan is inside it. The
// snapshot is the register state at the top, every back edge is reconciled
// into it.
type _LoopRecord struct {
    lp        *liveness.Loop
    parent    *_LoopRecord
    depth     int
    used      regs.RegSet
    snap      []_Location
    processed bool
}

func (self *Allocator) popLoops() {
    for self.loop != nil && self.num > self.loop.lp.End() {
        if !self.loop.processed {
            self.fail("back edge of %s was never reached", self.loop.lp)
        }
        self.loops.Pop()
        self.loop = self.loop.parent
    }
}

func (self *Allocator) enterLoop(lb *ir.Instr, lp *liveness.Loop) {
    rec := &_LoopRecord { lp: lp, parent: self.loop, depth: 1 }
    if rec.parent != nil {
        rec.depth = rec.parent.depth + 1
    }

    /* open the loop */
    self.loop = rec
    self.loops.Push(rec)
    self.tops[lb] = rec
    self.stats.Loops++

    /* constants carried around the loop are rematerialized instead */
    for _, id := range self.active {
        if lt := self.lt(id); lt.sym.Const && lt.inReg() && lt.end >= lp.End() {
            self.drop(lt)
        }
    }

    /* registers redefined inside the loop are not backed by the stack at the top */
    for _, id := range self.active {
        if lt := self.lt(id); lt.inReg() && lt.end >= lp.End() && lp.Defined[lt.sym] {
            lt.validFrom = _NeverValid
        }
    }

    /* the state every back edge must match */
    rec.snap = self.snapshot(func(lt *_Lifetime) bool {
        return lt.start <= lb.Num && lt.end >= lp.End()
    })

    /* lifetimes that are live on the back edge */
    for _, s := range lp.LiveOnBackEdge {
        if id := self.bySym[s.Id]; id != _NoLt {
            self.backEdge[id] = true
        }
    }
}

// closeLoop reconciles the state at the back edge br with the loop top.
func (self *Allocator) closeLoop(br *ir.Instr, idx int, top *ir.Instr) {
    rec := self.tops[top]
    if rec == nil {
        self.fail("back edge to %s which is not a loop top", top.Name)
    }

    /* move everything back to where it was at the top */
    xfers := make([]_Transfer, 0, len(rec.snap))
    for _, loc := range rec.snap {
        if lt := self.lt(loc.id); lt.started() {
            xfers = append(xfers, _Transfer { id: loc.id, src: self.where(lt), dst: loc.reg })
        }
    }

    /* materialize the transfers on the edge */
    self.compensate(br, idx, top, xfers)
    rec.processed = true
}
