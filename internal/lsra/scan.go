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
    `sort`

    `github.com/obastemur/lsra/internal/ir`
    `github.com/obastemur/lsra/internal/liveness`
    `github.com/obastemur/lsra/internal/opts`
    `github.com/obastemur/lsra/internal/regs`
    `github.com/oleiade/lane`
)

// Result is what the allocator reports besides the rewritten function.
type Result struct {
    Stats     Stats
    Lifetimes []LifetimeSummary
}

type _TempUse struct {
    id  _LtId
    reg regs.Reg
}

// Allocator is the context of one linear scan over one function. It is
// single-threaded and owns every table it touches.
type Allocator struct {
    fn       *ir.Func
    t        *regs.Target
    o        *opts.Options
    lg       ir.Legalizer
    live     *liveness.Result
    lts      []_Lifetime
    bySym    []_LtId
    next     int
    active   []_LtId
    content  []_LtId
    busy     regs.RegSet
    reserved regs.RegSet
    temps    regs.RegSet
    bound    regs.RegSet
    counts   [regs.NumClasses]int
    cur      *ir.Instr
    after    *ir.Instr
    prev     *ir.Instr
    num      uint32
    block    *_BlockState
    region   *ir.Region
    loops    *lane.Stack
    loop     *_LoopRecord
    tops     map[*ir.Instr]*_LoopRecord
    backEdge []bool
    helper   *_HelperRecord
    helpers  *lane.Queue
    edges    map[*ir.Instr][]*_Edge
    args     map[*ir.InlineFrame][]_LtId
    uses     []_TempUse
    cfg      _CfgEditor
    slots    _SlotPool
    bail     _BailOutBuilder
    stats    Stats
    samples  [regs.NumClasses][]float64
}

// Run allocates registers for fn in a single forward pass. The function must
// have been numbered by liveness.Compute. It panics with *ir.FrameError when
// the frame overflows and with *InvariantError on internal inconsistencies.
func Run(fn *ir.Func, live *liveness.Result, o *opts.Options) *Result {
    p := newAllocator()
    defer freeAllocator(p)
    p.reset(fn, live, o)
    p.scan()
    return p.finish()
}

func (self *Allocator) reset(fn *ir.Func, live *liveness.Result, o *opts.Options) {
    self.fn   = fn
    self.o    = o
    self.t    = o.Target
    self.lg   = o.Legalizer
    self.live = live

    /* collaborators owned by the function */
    if fn.Frame == nil {
        fn.Frame = ir.NewFrame(self.t, 0, 0)
    }
    if fn.BailOuts == nil {
        fn.BailOuts = new(ir.BailOutTable)
    }

    /* frame limit */
    fn.Frame.Limit = int32(o.MaxFrameSize)
    self.cfg.fn = fn
    self.slots.init(fn.Frame, o.StackPacking)
    self.bail.p = self

    /* register tables */
    self.reserved = self.t.InitActive()
    self.content = resizeIds(self.content, self.t.NumRegs())
    self.loops = lane.NewStack()
    self.helpers = lane.NewQueue()
    self.tops = make(map[*ir.Instr]*_LoopRecord)
    self.edges = make(map[*ir.Instr][]*_Edge)
    self.args = make(map[*ir.InlineFrame][]_LtId)
    self.block = &_BlockState { frames: new(_FrameState) }

    /* the lifetime arena, in the order of the ranges */
    self.lts = resizeLifetimes(self.lts, len(live.Ranges))
    self.bySym = resizeIds(self.bySym, len(fn.Syms))
    self.backEdge = make([]bool, len(live.Ranges))

    /* build every lifetime */
    for i, lr := range live.Ranges {
        lt := &self.lts[i]
        lt.init(_LtId(i), lr)
        self.setup(lt)
    }
}

func (self *Allocator) setup(lt *_Lifetime) {
    s := lt.sym
    for s.Id >= len(self.bySym) {
        self.bySym = append(self.bySym, _NoLt)
    }

    /* symbol index */
    self.bySym[s.Id] = lt.id
    if s.ArgOf != nil {
        self.args[s.ArgOf] = append(self.args[s.ArgOf], lt.id)
    }

    /* write-through locals and exception-visible values */
    if s.WriteThrough && s.Local >= 0 {
        lt.set(LF_storeeverydef)
    }
    if s.LiveInEH {
        lt.set(LF_nopack)
        if self.o.EHOpt { lt.set(LF_storeeverydef) }
    }

    /* pinned registers must be allocatable */
    if s.Fixed != regs.NoReg && !self.t.IsAllocatable(s.Fixed) {
        self.fail("%s is pinned to a reserved register %s", s, self.t.Name(s.Fixed))
    }
}

func (self *Allocator) lt(id _LtId) *_Lifetime {
    return &self.lts[id]
}

func (self *Allocator) ltOf(s *ir.Sym) *_Lifetime {
    if s.Id >= len(self.bySym) || self.bySym[s.Id] == _NoLt {
        self.fail("%s has no lifetime", s)
    }
    return &self.lts[self.bySym[s.Id]]
}

func (self *Allocator) move(lt *_Lifetime, to _LtState) {
    if from := lt.state; !lt.transition(to) {
        self.fail("illegal transition of %s: %s -> %s", lt.sym, from, to)
    }
}

func (self *Allocator) depth() int {
    if self.loop == nil {
        return 0
    } else {
        return self.loop.depth
    }
}

func (self *Allocator) localCost() uint32 {
    return liveness.UseCost(self.depth(), self.helper != nil)
}

func (self *Allocator) tracef(format string, args ...interface{}) {
    if self.o.Trace != nil {
        fmt.Fprintf(self.o.Trace, "%06d | " + format + "\n", append([]interface{} { self.num }, args...)...)
    }
}

/** Register Content Table **/

func (self *Allocator) assign(lt *_Lifetime, r regs.Reg, state _LtState) {
    if occ := self.content[r]; occ != _NoLt {
        self.fail("%s is already held by %s", self.t.Name(r), self.lt(occ).sym)
    }
    if self.reserved.Has(r) {
        self.fail("%s is not allocatable", self.t.Name(r))
    }

    /* update the tables */
    lt.reg = r
    lt.open(self.num)
    self.content[r] = lt.id
    self.busy = self.busy.Add(r)
    self.counts[self.t.Class(r)]++

    /* update the state */
    if lt.state != state {
        self.move(lt, state)
    }

    /* loop bookkeeping */
    for p := self.loop; p != nil; p = p.parent {
        p.used = p.used.Add(r)
    }

    /* registers that are clobbered before the next reference anyway */
    if self.t.IsCalleeSaved(r) || !self.live.CallBetween(self.num, lt.nextRefNum(self.num)) {
        lt.clear(LF_cheapspill)
    } else {
        lt.set(LF_cheapspill)
    }
    self.tracef("%s -> %s (%s)", lt.sym, self.t.Name(r), lt.state)
}

func (self *Allocator) release(lt *_Lifetime) {
    r := lt.reg
    if r == regs.NoReg || self.content[r] != lt.id {
        self.fail("%s does not own a register", lt.sym)
    }

    /* update the tables */
    lt.close(self.num)
    lt.reg = regs.NoReg
    self.content[r] = _NoLt
    self.busy = self.busy.Remove(r)
    self.counts[self.t.Class(r)]--
}

func (self *Allocator) bind(ins *ir.Instr, op *ir.RegOpnd, r regs.Reg) {
    op.Reg = r
    self.lg.Legalize(ins, op)
}

func (self *Allocator) tempOf(id _LtId) regs.Reg {
    for _, v := range self.uses {
        if v.id == id {
            return v.reg
        }
    }
    return regs.NoReg
}

/** Active List **/

func (self *Allocator) activate(lt *_Lifetime) {
    i := sort.Search(len(self.active), func(i int) bool {
        return self.lt(self.active[i]).end > lt.end
    })
    self.active = append(self.active, _NoLt)
    copy(self.active[i + 1:], self.active[i:])
    self.active[i] = lt.id
}

/** Scan Driver **/

func (self *Allocator) scan() {
    for p := self.fn.Head; p != nil; {
        next := p.Next
        if p.Num != 0 {
            self.step(p)
        }
        p = next
    }

    /* every loop and edge must be closed */
    for lb, es := range self.edges {
        if len(es) != 0 {
            self.fail("edges to %s were never reconciled", lb.Name)
        }
    }
}

func (self *Allocator) step(ins *ir.Instr) {
    self.cur   = ins
    self.after = ins
    self.num   = ins.Num
    self.uses  = self.uses[:0]

    /* loops closed by now, and blocks */
    self.popLoops()
    self.trackBlock(ins)

    /* labels, loop tops, handlers and helper entries */
    if ins.IsLabel() {
        self.enterLabel(ins)
    }

    /* helper blocks left with an unconditional branch restore before it */
    if h := self.helper; h != nil && ins == h.hb.Last && ins.IsUncondBranch() {
        self.exitHelper(false)
    }

    /* exception region boundaries */
    if self.o.EHOpt && (ins.Op == ir.OP_tryenter || ins.Op == ir.OP_leave) {
        self.spillAll(ins)
    }

    /* dead stores vanish together with the lifetimes they end */
    if self.deadStore(ins) {
        self.retire()
    } else {
        self.process(ins)
    }

    /* helper blocks that fall through restore after the last instruction */
    if h := self.helper; h != nil && ins == h.hb.Last && !ins.IsUncondBranch() {
        self.exitHelper(true)
    }

    /* finish the instruction */
    self.endStep(ins)
}

func (self *Allocator) process(ins *ir.Instr) {
    if ins.BailOut != nil {
        self.bail.build(ins)
    }

    /* uses, then the state after the instruction */
    self.processUses(ins)
    self.processBranch(ins)
    self.retire()
    self.processKills(ins)
    self.startLifetimes()
    self.processDef(ins)
    self.retire()
}

func (self *Allocator) endStep(ins *ir.Instr) {
    self.temps = 0
    self.bound = 0
    self.prev  = ins

    /* register pressure */
    for c := regs.Class(0); c < regs.NumClasses; c++ {
        self.samples[c] = append(self.samples[c], float64(self.counts[c]))
    }

    /* debug-only consistency checks */
    if self.o.Verify {
        self.verify()
    }
}

func (self *Allocator) trackBlock(ins *ir.Instr) {
    if !ins.IsLabel() && (self.prev == nil || self.prev.EndsBlock()) {
        self.block = &_BlockState { start: ins, frames: self.block.frames }
    }

    /* inlined frames */
    switch ins.Op {
        case ir.OP_inlinee_start: self.block.frames = self.block.frames.push(ins.Frame); self.syncArgs()
        case ir.OP_inlinee_end: self.block.frames = self.block.frames.pop(ins.Frame); self.syncArgs()
    }
}

func (self *Allocator) syncArgs() {
    for fr, ids := range self.args {
        on := self.block.frames.has(fr)
        for _, id := range ids {
            if on {
                self.lt(id).set(LF_argrequired)
            } else {
                self.lt(id).clear(LF_argrequired)
            }
        }
    }
}

func (self *Allocator) enterLabel(lb *ir.Instr) {
    es := self.edges[lb]
    through := self.prev != nil && self.prev.HasFallThrough()
    delete(self.edges, lb)

    /* block state: shared on fall-through, cloned otherwise */
    if self.region = lb.Region; through {
        self.block = &_BlockState { start: lb, frames: self.block.frames }
    } else if len(es) != 0 {
        self.block = &_BlockState { start: lb, frames: es[0].frames.clone() }
    } else {
        self.block = &_BlockState { start: lb, frames: self.block.frames.clone() }
    }

    /* the canonical state of the label */
    self.syncArgs()
    self.canonicalize(lb, through, es)

    /* ranges that become live at the label */
    self.startLifetimes()

    /* loop tops */
    if lp := self.live.LoopAt(lb); lp != nil {
        self.enterLoop(lb, lp)
    }

    /* helper blocks */
    if hb := self.live.HelperAt(lb); hb != nil {
        self.enterHelper(lb, hb)
    }
}

func (self *Allocator) deadStore(ins *ir.Instr) bool {
    d := ins.Def()
    if d == nil || ins.HasSideEffects() || ins.BailOut != nil {
        return false
    }

    /* the destination must never be read */
    lt := self.ltOf(d.Sym)
    if !lt.has(LF_deadstore) {
        return false
    }

    /* a lifetime that is never started is simply dropped */
    if lt.state == S_pending {
        self.move(lt, S_retired)
    }

    /* remove the instruction */
    lt.consume(self.num)
    ins.Srcs(func(op *ir.RegOpnd) { self.ltOf(op.Sym).consume(self.num) })
    self.erase(ins)
    self.stats.DeadStores++
    self.tracef("dead store %s removed", d.Sym)
    return true
}

/** Uses **/

func (self *Allocator) processUses(ins *ir.Instr) {
    self.useOpnd(ins, &ins.Src1, ir.RoleSrc1)
    self.useOpnd(ins, &ins.Src2, ir.RoleSrc2)

    /* address registers of an indirect destination */
    if m, ok := ins.Dst.(*ir.IndirOpnd); ok {
        self.useAddr(ins, m)
    }
}

func (self *Allocator) useOpnd(ins *ir.Instr, slot *ir.Opnd, role ir.Role) {
    switch v := (*slot).(type) {
        case *ir.RegOpnd   : self.use(ins, v, role, slot)
        case *ir.IndirOpnd : self.useAddr(ins, v)
    }
}

func (self *Allocator) useAddr(ins *ir.Instr, m *ir.IndirOpnd) {
    if m.Base != nil {
        self.use(ins, m.Base, ir.RoleAddr, nil)
    }
    if m.Index != nil {
        self.use(ins, m.Index, ir.RoleAddr, nil)
    }
}

func (self *Allocator) use(ins *ir.Instr, op *ir.RegOpnd, role ir.Role, slot *ir.Opnd) {
    lt := self.ltOf(op.Sym)
    lt.consume(self.num)

    /* already loaded for this instruction */
    if r := self.tempOf(lt.id); r != regs.NoReg {
        self.bind(ins, op, r)
        return
    }

    /* reading a value that was never defined on this path */
    if lt.state == S_pending {
        self.activate(lt)
        self.begin(lt, true)
    }

    /* make the value available */
    switch lt.state {
        case S_resident, S_secondchance : self.useReg(ins, op, lt.reg)
        case S_helperspilled            : self.useHelperSpilled(ins, op, lt)
        case S_spilled                  : self.useSpilled(ins, op, lt, role, slot)
        default                         : self.fail("use of %s %s", lt.state, lt.sym)
    }
}

func (self *Allocator) useReg(ins *ir.Instr, op *ir.RegOpnd, r regs.Reg) {
    self.bound = self.bound.Add(r)
    self.bind(ins, op, r)
}

/** Branches **/

func (self *Allocator) processBranch(ins *ir.Instr) {
    for i, to := range ins.Succs() {
        if to.Num > ins.Num {
            self.recordEdge(ins, i, to)
        } else {
            self.closeLoop(ins, i, to)
        }
    }
}

/** Retirement **/

func (self *Allocator) retire() {
    for len(self.active) != 0 {
        lt := self.lt(self.active[0])
        if lt.end > self.num {
            break
        }
        self.active = self.active[1:]
        self.retireOne(lt)
    }
}

// retireOne ends a lifetime. Retiring it again is a no-op.
func (self *Allocator) retireOne(lt *_Lifetime) {
    switch lt.state {
        case S_retired: {
            return
        }
        case S_resident, S_secondchance: {
            self.release(lt)
        }
        case S_helperspilled: {
            self.helper.remove(lt.id)
            if lt.reg != regs.NoReg { self.release(lt) }
        }
    }

    /* return the slot to the pool */
    if lt.slot != nil && !lt.slot.Fixed && !lt.has(LF_nopack) {
        self.slots.put(lt.slot, lt.end)
    }

    /* mark as retired */
    self.move(lt, S_retired)
    self.tracef("%s retired", lt.sym)
}

/** Kills **/

func (self *Allocator) processKills(ins *ir.Instr) {
    for _, r := range self.t.ImplicitKills(ins.Kill()).Slice() {
        if id := self.content[r]; id != _NoLt {
            self.kill(self.lt(id), ins)
        }
    }
}

func (self *Allocator) kill(lt *_Lifetime, ins *ir.Instr) {
    switch {
        case lt.state == S_helperspilled   : self.release(lt)
        case lt.has(LF_cantspill)          : self.fail("%s pinned to %s is clobbered by %s", lt.sym, self.t.Name(lt.reg), ins.Op)
        case self.helperSpillable(lt)      : self.helperSpill(lt)
        default                            : self.spill(lt)
    }
}

/** New Lifetimes **/

func (self *Allocator) startLifetimes() {
    for self.next < len(self.lts) && self.lts[self.next].start <= self.num {
        lt := &self.lts[self.next]
        self.next++

        /* may have been started early by a use, or dropped as a dead store */
        if lt.state == S_pending {
            self.activate(lt)
            self.begin(lt, false)
        }
    }
}

func (self *Allocator) begin(lt *_Lifetime, use bool) {
    switch {
        case lt.sym.LiveInEH && !self.o.EHOpt : self.beginSpilled(lt)
        case lt.sym.Fixed != regs.NoReg       : self.beginPinned(lt)
        default                               : self.beginFree(lt, use)
    }
}

func (self *Allocator) beginFree(lt *_Lifetime, use bool) {
    self.hintFor(lt)
    if r := self.findReg(lt, use); r == regs.NoReg {
        self.beginSpilled(lt)
    } else {
        self.assign(lt, r, S_resident)
    }
}

func (self *Allocator) beginPinned(lt *_Lifetime) {
    r := lt.sym.Fixed
    if id := self.content[r]; id != _NoLt {
        if occ := self.lt(id); occ.has(LF_cantspill) {
            self.fail("%s and %s are both pinned to %s", lt.sym, occ.sym, self.t.Name(r))
        } else {
            self.evict(occ)
        }
    }
    self.assign(lt, r, S_resident)
}

func (self *Allocator) beginSpilled(lt *_Lifetime) {
    self.move(lt, S_spilled)
    lt.set(LF_everspilled)
    self.stats.Spills++

    /* constants are rematerialized */
    if lt.sym.Const && !lt.has(LF_storeeverydef) {
        lt.set(LF_reloadatuses)
        lt.reloadEnd = _NeverValid
    } else {
        self.ensureSlot(lt)
    }
}

// hintFor prefers the register of a move source that dies here.
func (self *Allocator) hintFor(lt *_Lifetime) {
    if lt.hint != regs.NoReg || self.cur.Op != ir.OP_mov {
        return
    }
    if d := self.cur.Def(); d == nil || d.Sym != lt.sym {
        return
    }
    if src, ok := self.cur.Src1.(*ir.RegOpnd); ok && src.Reg != regs.NoReg && self.content[src.Reg] == _NoLt {
        lt.hint = src.Reg
    }
}

/** Definitions **/

func (self *Allocator) processDef(ins *ir.Instr) {
    d := ins.Def()
    if d == nil {
        return
    }

    /* the destination lifetime */
    lt := self.ltOf(d.Sym)
    lt.consume(self.num)

    /* defined before being started, may happen at labels of unreachable code */
    if lt.state == S_pending {
        self.activate(lt)
        self.begin(lt, false)
    }

    /* bind the destination */
    switch lt.state {
        case S_resident, S_secondchance : self.bind(ins, d, lt.reg); self.noteDef(ins, lt)
        case S_helperspilled            : self.defHelperSpilled(ins, d, lt)
        case S_spilled                  : self.defSpilled(ins, d, lt)
        default                         : self.fail("definition of %s %s", lt.state, lt.sym)
    }
}

// noteDef either stores the new value right away or defers the store until
// the lifetime is actually spilled.
func (self *Allocator) noteDef(ins *ir.Instr, lt *_Lifetime) {
    if h := self.helper; h != nil && lt.start < h.entry.Num {
        lt.set(LF_cantophelperspill)
    }

    /* store now, or later */
    if lt.has(LF_storeeverydef) || (lt.has(LF_everspilled) && !lt.sym.Const) {
        self.ensureSlot(lt)
        self.emitAfter(ir.NewStore(lt.sym, lt.reg))
        self.stats.Stores++
        lt.validFrom = self.num
        lt.defs = lt.defs[:0]
        lt.allDefsCost = 0
    } else {
        lt.validFrom = _NeverValid
        lt.defs = append(lt.defs, _DeferredDef { ins: ins, reg: lt.reg })
        lt.allDefsCost += self.localCost()
    }
}

// erase removes the current instruction. The last instruction of a helper
// block anchors the exit code, so it is turned into a nop instead.
func (self *Allocator) erase(ins *ir.Instr) {
    if h := self.helper; h == nil || h.hb.Last != ins {
        self.cfg.Remove(ins)
    } else {
        ins.Op, ins.Dst, ins.Src1, ins.Src2 = ir.OP_nop, nil, nil, nil
    }
}

// emitAfter appends an instruction after the current one, in emission order.
func (self *Allocator) emitAfter(ins *ir.Instr) {
    self.cfg.InsertAfter(self.after, ins)
    self.after = ins
}

func (self *Allocator) finish() *Result {
    ret := new(Result)
    self.materializeHelpers()
    self.fn.BailOuts.Seal()

    /* lifetime summaries */
    for i := range self.lts {
        ret.Lifetimes = append(ret.Lifetimes, self.lts[i].summary())
    }

    /* statistics */
    self.stats.FrameSize = self.fn.Frame.Size()
    self.stats.SlotsAllocated = self.slots.fresh
    self.stats.SlotsReused = self.slots.reused
    self.stats.pressure(self.samples)
    ret.Stats = self.stats
    ret.Stats.record()

    /* lifetime diagram */
    if self.o.Diagram != nil {
        DrawLifetimes(self.o.Diagram, self.fn, self.t, ret.Lifetimes)
    }
    return ret
}
