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

type _HelperSave struct {
    sym *ir.Sym
    reg regs.Reg
}

// _HelperRecord tracks the lifetimes moved out of their registers while the
// scan is inside an out-of-line helper block. The main line never sees these
// moves: their values are saved at the entry and restored at the exit.
type _HelperRecord struct {
    hb       *liveness.Helper
    entry    *ir.Instr
    marker   *ir.Instr
    spilled  []_LtId
    saves    []_HelperSave
    restores []_HelperSave
}

func (self *_HelperRecord) remove(id _LtId) {
    if self != nil {
        for i, v := range self.spilled {
            if v == id {
                self.spilled = append(self.spilled[:i], self.spilled[i + 1:]...)
                return
            }
        }
    }
}

func (self *Allocator) enterHelper(lb *ir.Instr, hb *liveness.Helper) {
    if self.helper != nil {
        self.fail("helper %s entered inside %s", lb.Name, self.helper.entry.Name)
    }
    self.helper = &_HelperRecord { hb: hb, entry: lb }
    self.stats.Helpers++

    /* definitions made inside an earlier helper block no longer matter */
    for _, id := range self.active {
        self.lt(id).clear(LF_cantophelperspill)
    }
}

// helperLocal reports whether lt lives and dies inside the current helper block.
func (self *Allocator) helperLocal(lt *_Lifetime) bool {
    h := self.helper
    return h != nil && lt.start >= h.entry.Num && lt.end <= h.hb.Last.Num
}

// helperSpillable reports whether lt may temporarily give up its register
// inside the current helper block.
func (self *Allocator) helperSpillable(lt *_Lifetime) bool {
    h := self.helper
    if h == nil || lt.start >= h.entry.Num || lt.sym.Const {
        return false
    }
    if lt.has(LF_cantophelperspill | LF_cantspill) {
        return false
    }
    return lt.state == S_resident || lt.state == S_secondchance
}

func (self *Allocator) helperSpill(lt *_Lifetime) {
    h := self.helper
    r := lt.reg

    /* leave the register */
    self.release(lt)
    lt.prev = lt.state
    lt.home = r
    self.move(lt, S_helperspilled)
    self.ensureSlot(lt)
    h.spilled = append(h.spilled, lt.id)
    self.stats.HelperSpills++
    self.tracef("%s helper-spilled from %s", lt.sym, self.t.Name(r))

    /* the value has to be saved at the entry */
    if !lt.stackValid(h.entry.Num) {
        h.saves = append(h.saves, _HelperSave { sym: lt.sym, reg: r })
    }
}

// homes collects the registers lifetimes of the helper block return to.
func (self *Allocator) homes(h *_HelperRecord) (rs regs.RegSet) {
    for _, id := range h.spilled {
        if lt := self.lt(id); !lt.has(LF_cantophelperspill) {
            rs = rs.Add(lt.home)
        }
    }
    return
}

// exitHelper brings every helper-spilled lifetime back to its home register.
// With after set, the exit happens after the current instruction, before it
// otherwise.
func (self *Allocator) exitHelper(after bool) {
    var code bool
    var target *ir.Instr

    /* leave the helper block */
    h := self.helper
    ins := self.cur
    self.helper = nil

    /* where control goes from here */
    switch {
        case !after              : code, target = true, ins.Target
        case ins.HasFallThrough() : code, target = true, h.hb.Target
    }

    /* the exit marker anchors the restores */
    if code {
        h.marker = ir.NewNop()
        if after {
            self.emitAfter(h.marker)
        } else {
            self.cfg.InsertBefore(ins, h.marker)
        }
    }

    /* make room in the home registers */
    homes := self.homes(h)
    for _, id := range h.spilled {
        lt := self.lt(id)
        if lt.has(LF_cantophelperspill) {
            self.materialize(lt, h)
        } else if occ := self.content[lt.home]; occ != _NoLt && occ != id {
            self.relocate(self.lt(occ), h, homes, code)
        }
    }

    /* then move everyone back */
    for _, id := range h.spilled {
        lt := self.lt(id)
        if lt.state != S_helperspilled {
            continue
        }

        /* the residual copy may be somewhere else */
        if lt.reg != regs.NoReg && lt.reg != lt.home {
            self.release(lt)
        }

        /* values needed after the block are restored */
        if lt.reg == lt.home {
            self.move(lt, lt.prev)
        } else {
            self.assign(lt, lt.home, lt.prev)
            if code && (target == nil || lt.end >= target.Num || lt.has(LF_argrequired)) {
                h.restores = append(h.restores, _HelperSave { sym: lt.sym, reg: lt.home })
            }
        }

        /* back home */
        lt.home = regs.NoReg
    }

    /* saves and restores are placed after the scan */
    h.spilled = h.spilled[:0]
    if len(h.saves) != 0 || len(h.restores) != 0 {
        self.helpers.Enqueue(h)
    } else if h.marker != nil {
        self.cfg.Remove(h.marker)
    }
}

// materialize turns a lifetime redefined inside the helper block into a real
// spilled one, its stack copy is current.
func (self *Allocator) materialize(lt *_Lifetime, h *_HelperRecord) {
    if lt.reg != regs.NoReg {
        self.release(lt)
    }
    lt.home = regs.NoReg
    lt.clear(LF_cantophelperspill)
    lt.set(LF_everspilled)
    self.move(lt, S_spilled)
    self.stats.Spills++

    /* the stores after every definition made it current */
    lt.defs = lt.defs[:0]
    lt.validFrom = self.num
}

// relocate evicts lt from a register some helper-spilled lifetime returns to.
func (self *Allocator) relocate(lt *_Lifetime, h *_HelperRecord, homes regs.RegSet, code bool) {
    if lt.state == S_helperspilled {
        self.release(lt)
        return
    }

    /* move it to a free register if there is one */
    free := self.classMask(lt.sym).Subtract(self.busy.Union(self.reserved).Union(homes))
    if r := self.inOrder(lt.sym.Class, free); r != regs.NoReg {
        if code {
            self.cfg.InsertBefore(h.marker, ir.NewMove(lt.sym, r, lt.reg))
        }
        self.release(lt)
        self.assign(lt, r, lt.state)
        return
    }

    /* otherwise it goes to the stack */
    if lt.has(LF_cantspill) {
        self.fail("%s pinned to %s collides with a helper exit", lt.sym, self.t.Name(lt.reg))
    } else if code {
        self.spillAt(lt, h.marker)
    } else {
        self.drop(lt)
    }
}

// materializeHelpers places the saves at helper entries and the restores at
// helper exits, once every helper block has been scanned.
func (self *Allocator) materializeHelpers() {
    for !self.helpers.Empty() {
        h := self.helpers.Dequeue().(*_HelperRecord)
        at := h.entry

        /* saves right after the entry label */
        for _, v := range h.saves {
            st := ir.NewStore(v.sym, v.reg)
            self.cfg.InsertAfter(at, st)
            self.stats.HelperSaves++
            at = st
        }

        /* restores right before the exit */
        if h.marker != nil {
            for _, v := range h.restores {
                self.cfg.InsertBefore(h.marker, ir.NewLoad(v.sym, v.reg))
                self.stats.HelperRestores++
            }
            self.cfg.Remove(h.marker)
        }
    }
}
