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
    `github.com/obastemur/lsra/internal/regs`
)

func (self *Allocator) classMask(s *ir.Sym) regs.RegSet {
    if m := self.t.Allocatable(s.Class); s.Size == 1 && s.Class == regs.Int {
        return m.Intersect(self.t.Byteable())
    } else {
        return m
    }
}

func (self *Allocator) inOrder(cls regs.Class, rs regs.RegSet) regs.Reg {
    if !rs.Empty() {
        for _, r := range self.t.Order(cls) {
            if rs.Has(r) {
                return r
            }
        }
    }
    return regs.NoReg
}

// excluded are the registers a lifetime started in the given phase must not
// take. Registers bound to the uses of the current instruction are only
// off-limits while the uses are being processed.
func (self *Allocator) excluded(use bool) regs.RegSet {
    if rs := self.busy.Union(self.reserved); use {
        return rs.Union(self.temps).Union(self.bound)
    } else {
        return rs
    }
}

func (self *Allocator) pickFree(lt *_Lifetime, free regs.RegSet) regs.Reg {
    cls := lt.sym.Class
    if free.Empty() {
        return regs.NoReg
    }

    /* prefer the hint */
    if free.Has(lt.hint) {
        return lt.hint
    }

    /* callee-saved registers survive calls */
    var pref regs.RegSet
    if lt.has(LF_crossescall) {
        pref = free.Intersect(self.t.CalleeSaved(cls))
    } else {
        pref = free.Intersect(self.t.CallerSaved(cls))
    }

    /* then the allocation order */
    if r := self.inOrder(cls, pref); r != regs.NoReg {
        return r
    } else {
        return self.inOrder(cls, free)
    }
}

// cheap reports a victim that costs nothing to evict inside a helper block.
func (self *Allocator) cheap(v *_Lifetime) bool {
    return self.helper != nil && (v.state == S_helperspilled || self.helperSpillable(v))
}

func (self *Allocator) pickVictim(lt *_Lifetime, mask regs.RegSet, use bool) *_Lifetime {
    var best *_Lifetime
    var cost uint32
    var callee bool

    /* only strictly cheaper lifetimes can be evicted */
    limit := self.spillCost(lt)
    for _, r := range mask.Slice() {
        id := self.content[r]
        if id == _NoLt || (use && self.bound.Has(r)) {
            continue
        }

        /* pinned lifetimes stay */
        v := self.lt(id)
        if v.has(LF_cantspill) {
            continue
        }

        /* evaluate the victim */
        vc := uint32(0)
        if !self.cheap(v) {
            if vc = self.spillCost(v); vc >= limit {
                continue
            }
        }

        /* a callee-saved register is worth more to a range across a call */
        cs := self.t.IsCalleeSaved(r)
        ok := best == nil
        if !ok {
            if lt.has(LF_crossescall) && cs != callee {
                ok = cs
            } else {
                ok = vc < cost
            }
        }

        /* keep the best one */
        if ok {
            best, cost, callee = v, vc, cs
        }
    }
    return best
}

// pickForced selects the cheapest lifetime outside excl, whatever the cost.
func (self *Allocator) pickForced(mask regs.RegSet, excl regs.RegSet) *_Lifetime {
    var best *_Lifetime
    var cost uint32

    /* scan every allocated register */
    for _, r := range mask.Subtract(excl).Slice() {
        id := self.content[r]
        if id == _NoLt {
            continue
        }

        /* evaluate the victim */
        v := self.lt(id)
        if v.has(LF_cantspill) {
            continue
        }

        /* free victims first */
        vc := uint32(0)
        if !self.cheap(v) {
            vc = self.spillCost(v)
        }

        /* keep the cheapest */
        if best == nil || vc < cost {
            best, cost = v, vc
        }
    }
    return best
}

func (self *Allocator) evict(v *_Lifetime) {
    self.stats.Evictions++
    self.tracef("evicting %s from %s", v.sym, self.t.Name(v.reg))

    /* choose how to let the register go */
    switch {
        case v.state == S_helperspilled : self.release(v)
        case self.helperSpillable(v)    : self.helperSpill(v)
        default                         : self.spill(v)
    }
}

// findReg returns a register for lt, evicting a cheaper lifetime if needed,
// or NoReg if lt should live on the stack.
func (self *Allocator) findReg(lt *_Lifetime, use bool) regs.Reg {
    mask := self.classMask(lt.sym)
    free := mask.Subtract(self.excluded(use))

    /* helper-local values must survive the calls of the block without a slot */
    if self.helperLocal(lt) && lt.has(LF_crossescall) {
        if r := self.calleeFor(lt, mask, free, use); r != regs.NoReg {
            return r
        }
    }

    /* any free register */
    if r := self.pickFree(lt, free); r != regs.NoReg {
        return r
    }

    /* evict a victim */
    v := self.pickVictim(lt, mask, use)
    if v == nil {
        return regs.NoReg
    }

    /* the register is free now */
    r := v.reg
    self.evict(v)
    return r
}

// calleeFor finds a callee-saved register for lt, taking it from a main line
// lifetime that can be helper-spilled if none is free.
func (self *Allocator) calleeFor(lt *_Lifetime, mask regs.RegSet, free regs.RegSet, use bool) regs.Reg {
    cls := lt.sym.Class
    cs := mask.Intersect(self.t.CalleeSaved(cls))
    if r := self.inOrder(cls, free.Intersect(cs)); r != regs.NoReg {
        return r
    }

    /* only lifetimes that cost nothing to move out */
    for _, r := range self.t.Order(cls) {
        if !cs.Has(r) || self.temps.Has(r) || (use && self.bound.Has(r)) {
            continue
        }
        if id := self.content[r]; id != _NoLt {
            if v := self.lt(id); !v.has(LF_cantspill) && self.cheap(v) {
                self.evict(v)
                return r
            }
        }
    }
    return regs.NoReg
}

// findRegForced always returns a register for lt.
func (self *Allocator) findRegForced(lt *_Lifetime, use bool) regs.Reg {
    mask := self.classMask(lt.sym)
    excl := self.excluded(use)
    if r := self.pickFree(lt, mask.Subtract(excl)); r != regs.NoReg {
        return r
    }

    /* registers of the current uses are never taken */
    if use {
        excl = self.temps.Union(self.bound)
    } else {
        excl = 0
    }

    /* must find one */
    v := self.pickForced(mask, excl)
    if v == nil {
        self.fail("no %s register for %s", lt.sym.Class, lt.sym)
    }

    /* the register is free now */
    r := v.reg
    self.evict(v)
    return r
}

// tempReg grabs a register for the current instruction only.
func (self *Allocator) tempReg(s *ir.Sym, use bool) regs.Reg {
    mask := self.classMask(s)
    excl := self.excluded(true)
    if r := self.inOrder(s.Class, mask.Subtract(excl)); r != regs.NoReg {
        self.temps = self.temps.Add(r)
        return r
    }

    /* a destination may reuse registers read by the same instruction */
    if excl = self.temps.Union(self.bound); !use {
        excl = self.temps
    }

    /* evict someone */
    v := self.pickForced(mask, excl)
    if v == nil {
        self.fail("no %s register for a temporary of %s", s.Class, s)
    }

    /* the register is free now */
    r := v.reg
    self.evict(v)
    self.temps = self.temps.Add(r)
    return r
}
