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
    `github.com/obastemur/lsra/internal/opts`
    `github.com/obastemur/lsra/internal/regs`
)

// ensureSlot gives lt its home on the stack, once.
func (self *Allocator) ensureSlot(lt *_Lifetime) {
    if lt.slot != nil {
        return
    }

    /* interpreter-visible locals live in their fixed slots */
    if s := lt.sym; s.WriteThrough && s.Local >= 0 {
        lt.slot = self.fn.Frame.Fixed(s.Local)
    } else {
        lt.slot = self.slots.get(int32(s.Size), lt.start, lt.has(LF_nopack))
    }

    /* the emitter addresses symbols through their slots */
    lt.sym.Slot = lt.slot
}

// storeAllDefs chooses between one store at the spill point and one store
// after every definition still waiting for its store.
func (self *Allocator) storeAllDefs(lt *_Lifetime) bool {
    if len(lt.defs) == 0 {
        return false
    }
    switch self.o.StoreCrossover {
        case opts.CrossoverAllDefs : return true
        case opts.CrossoverSingle  : return false
        default                    : return self.localCost() >= lt.allDefsCost
    }
}

func (self *Allocator) insertAfterDef(d *ir.Instr, ins *ir.Instr) {
    if d == self.cur {
        self.emitAfter(ins)
    } else {
        self.cfg.InsertAfter(d, ins)
    }
}

func (self *Allocator) spill(lt *_Lifetime) {
    self.spillAt(lt, self.cur)
}

// spillAt moves lt to the stack. The single store, if needed, goes right
// before the instruction `at`.
func (self *Allocator) spillAt(lt *_Lifetime, at *ir.Instr) {
    r := lt.reg
    self.release(lt)
    self.move(lt, S_spilled)
    lt.set(LF_everspilled)
    self.stats.Spills++
    self.tracef("%s spilled", lt.sym)

    /* reloads at every use until the loop is over */
    if lt.sym.Const {
        lt.set(LF_reloadatuses)
        lt.reloadEnd = _NeverValid
    } else if self.loop != nil {
        lt.set(LF_reloadatuses)
        lt.reloadEnd = self.loop.lp.End()
    }

    /* constants are simply rematerialized */
    if lt.sym.Const && !lt.has(LF_storeeverydef) {
        lt.defs = lt.defs[:0]
        return
    }

    /* the stack copy may still be current */
    self.ensureSlot(lt)
    if lt.stackValid(self.num) {
        lt.defs = lt.defs[:0]
        lt.allDefsCost = 0
        return
    }

    /* write it back */
    if self.storeAllDefs(lt) {
        for _, d := range lt.defs {
            self.insertAfterDef(d.ins, ir.NewStore(lt.sym, d.reg))
            self.stats.Stores++
        }
        lt.validFrom = lt.defs[0].ins.Num
    } else {
        self.cfg.InsertBefore(at, ir.NewStore(lt.sym, r))
        self.stats.Stores++
        lt.validFrom = self.num
    }

    /* no more deferred definitions */
    lt.defs = lt.defs[:0]
    lt.allDefsCost = 0
}

// drop moves lt to the stack without any code, the stack copy is assumed
// to be current.
func (self *Allocator) drop(lt *_Lifetime) {
    if lt.inReg() {
        self.release(lt)
    }

    /* update the state */
    lt.set(LF_everspilled)
    lt.defs = lt.defs[:0]
    lt.allDefsCost = 0
    self.move(lt, S_spilled)

    /* constants are simply rematerialized */
    if lt.sym.Const && !lt.has(LF_storeeverydef) {
        lt.set(LF_reloadatuses)
        lt.reloadEnd = _NeverValid
    } else {
        self.ensureSlot(lt)
    }
}

// spillAll empties every register before the instruction ins. Used around
// exception regions, where handlers read everything from the stack.
func (self *Allocator) spillAll(ins *ir.Instr) {
    for _, id := range self.content {
        if id == _NoLt {
            continue
        }

        /* residual copies are simply dropped, pinned values stay */
        lt := self.lt(id)
        switch {
            case lt.state == S_helperspilled : self.release(lt)
            case !lt.has(LF_cantspill)       : self.spillAt(lt, ins)
        }
    }
}

// dropAll empties every register without code.
func (self *Allocator) dropAll() {
    for _, id := range self.content {
        if id == _NoLt {
            continue
        }

        /* residual copies are simply dropped, pinned values stay */
        lt := self.lt(id)
        switch {
            case lt.state == S_helperspilled : self.release(lt)
            case !lt.has(LF_cantspill)       : self.drop(lt)
        }
    }
}

/** Second Chance **/

// trySecondChance brings a spilled lifetime back into a register.
func (self *Allocator) trySecondChance(lt *_Lifetime, def bool) bool {
    if !self.o.SecondChance || self.helper != nil || lt.sym.Const {
        return false
    }

    /* not at the edges of the range, and not while reloading at uses */
    if lt.start == self.num || lt.end == self.num || lt.reloading(self.num) {
        return false
    }

    /* exception-visible values stay on the stack */
    if lt.sym.LiveInEH && !self.o.EHOpt {
        return false
    }

    /* find a register */
    r := self.findReg(lt, !def)
    if r == regs.NoReg {
        return false
    }

    /* reload it for uses */
    if !def {
        self.cfg.InsertBefore(self.cur, ir.NewLoad(lt.sym, r))
        self.stats.Reloads++
    }

    /* update the state */
    lt.chances++
    self.assign(lt, r, S_secondchance)
    self.stats.SecondChances++
    return true
}

/** Spilled Operands **/

func (self *Allocator) useSpilled(ins *ir.Instr, op *ir.RegOpnd, lt *_Lifetime, role ir.Role, slot *ir.Opnd) {
    if self.trySecondChance(lt, false) {
        self.useReg(ins, op, lt.reg)
        return
    }

    /* constants are folded or rematerialized */
    if lt.sym.Const {
        if slot != nil && role != ir.RoleAddr && self.lg.ImmLegal(ins, role, lt.sym.Value) {
            *slot = &ir.ImmOpnd { Value: lt.sym.Value }
            self.stats.Remats++
            return
        }

        /* load the constant into a temporary */
        r := self.tempReg(lt.sym, true)
        self.cfg.InsertBefore(ins, ir.NewLoadImm(lt.sym, r, lt.sym.Value))
        self.uses = append(self.uses, _TempUse { id: lt.id, reg: r })
        self.stats.Remats++
        self.useReg(ins, op, r)
        return
    }

    /* operate on memory directly if possible */
    if slot != nil && self.lg.MemoryLegal(ins, role) {
        *slot = &ir.SymOpnd { Sym: lt.sym }
        self.stats.MemOperands++
        return
    }

    /* reload into a temporary */
    r := self.tempReg(lt.sym, true)
    self.cfg.InsertBefore(ins, ir.NewLoad(lt.sym, r))
    self.uses = append(self.uses, _TempUse { id: lt.id, reg: r })
    self.stats.Reloads++
    self.useReg(ins, op, r)
}

func (self *Allocator) defSpilled(ins *ir.Instr, d *ir.RegOpnd, lt *_Lifetime) {
    if lt.sym.Const && ins.Op == ir.OP_ldimm {
        if !lt.has(LF_storeeverydef) {
            self.erase(ins)
            self.stats.Remats++
            return
        }

        /* write-through constants are stored directly */
        self.ensureSlot(lt)
        ins.Op = ir.OP_store
        ins.Dst = &ir.SymOpnd { Sym: lt.sym }
        self.stats.Stores++
        self.validate(lt)
        return
    }

    /* a register may have become available */
    if self.trySecondChance(lt, true) {
        self.bind(ins, d, lt.reg)
        self.noteDef(ins, lt)
        return
    }

    /* write to memory directly if possible */
    if self.ensureSlot(lt); self.lg.MemoryLegal(ins, ir.RoleDst) {
        ins.Dst = &ir.SymOpnd { Sym: lt.sym }
        self.stats.MemOperands++
        self.validate(lt)
        return
    }

    /* compute into a temporary, then store */
    r := self.tempReg(lt.sym, false)
    self.bind(ins, d, r)
    self.emitAfter(ir.NewStore(lt.sym, r))
    self.stats.Stores++
    self.validate(lt)
}

// validate records that the stack copy is current from now on.
func (self *Allocator) validate(lt *_Lifetime) {
    if !lt.stackValid(self.num) {
        lt.validFrom = self.num
    }
}

/** Helper-Spilled Operands **/

func (self *Allocator) useHelperSpilled(ins *ir.Instr, op *ir.RegOpnd, lt *_Lifetime) {
    if self.helper == nil {
        self.fail("%s is helper-spilled outside of a helper block", lt.sym)
    }

    /* reload a residual copy */
    if lt.reg == regs.NoReg {
        r := self.findRegForced(lt, true)
        self.cfg.InsertBefore(ins, ir.NewLoad(lt.sym, r))
        self.assign(lt, r, S_helperspilled)
        self.stats.Reloads++
    }

    /* bind the residual copy */
    self.useReg(ins, op, lt.reg)
}

func (self *Allocator) defHelperSpilled(ins *ir.Instr, d *ir.RegOpnd, lt *_Lifetime) {
    if self.helper == nil {
        self.fail("%s is helper-spilled outside of a helper block", lt.sym)
    }

    /* the home register can no longer be restored from the stack */
    lt.set(LF_cantophelperspill)
    if lt.reg == regs.NoReg {
        self.assign(lt, self.findRegForced(lt, false), S_helperspilled)
    }

    /* keep the stack copy current */
    self.bind(ins, d, lt.reg)
    self.emitAfter(ir.NewStore(lt.sym, lt.reg))
    self.stats.Stores++
}
