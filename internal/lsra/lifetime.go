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
    `math`

    `github.com/obastemur/lsra/internal/ir`
    `github.com/obastemur/lsra/internal/liveness`
    `github.com/obastemur/lsra/internal/regs`
)

// _LtId addresses a lifetime in the allocator arena.
type _LtId int32

const (
    _NoLt _LtId = -1
)

const (
    _NeverValid = math.MaxUint32
)

type _LtState uint8

const (
    S_pending _LtState = iota
    S_resident
    S_spilled
    S_helperspilled
    S_secondchance
    S_retired
)

func (self _LtState) String() string {
    switch self {
        case S_pending       : return "pending"
        case S_resident      : return "resident"
        case S_spilled       : return "spilled"
        case S_helperspilled : return "helper-spilled"
        case S_secondchance  : return "second-chance"
        case S_retired       : return "retired"
        default              : return "???"
    }
}

func (self _LtState) bit() uint8 {
    return 1 << self
}

/* allowed state transitions, indexed by the current state */
var _LtTransitions = [...]uint8 {
    S_pending       : S_resident.bit() | S_spilled.bit() | S_retired.bit(),
    S_resident      : S_resident.bit() | S_spilled.bit() | S_helperspilled.bit() | S_retired.bit(),
    S_spilled       : S_resident.bit() | S_secondchance.bit() | S_retired.bit(),
    S_helperspilled : S_resident.bit() | S_secondchance.bit() | S_spilled.bit() | S_retired.bit(),
    S_secondchance  : S_secondchance.bit() | S_spilled.bit() | S_helperspilled.bit() | S_retired.bit(),
    S_retired       : 0,
}

type _LtFlags uint16

const (
    LF_cantspill _LtFlags = 1 << iota    // pinned, never a victim
    LF_cantophelperspill                 // defined inside the current helper block
    LF_deadstore                         // never read
    LF_cheapspill                        // will be clobbered by a call before its next reference anyway
    LF_everspilled                       // has been spilled at least once
    LF_reloadatuses                      // spilled inside a loop or a constant, no second chance
    LF_nopack                            // owns its slot exclusively
    LF_crossescall                       // live across a call
    LF_argrequired                       // argument of an active inlined frame
    LF_storeeverydef                     // write-through or live into an exception handler
)

// _DeferredDef is a definition whose value was never written to the stack.
type _DeferredDef struct {
    ins *ir.Instr
    reg regs.Reg
}

// _Segment is a contiguous stretch of a lifetime in one register.
type _Segment struct {
    from uint32
    to   uint32
    reg  regs.Reg
}

type _Lifetime struct {
    id          _LtId
    sym         *ir.Sym
    lr          *liveness.Range
    start       uint32
    end         uint32
    state       _LtState
    prev        _LtState
    flags       _LtFlags
    reg         regs.Reg
    home        regs.Reg
    hint        regs.Reg
    useCount    uint32
    allDefsCost uint32
    defs        []_DeferredDef
    validFrom   uint32
    reloadEnd   uint32
    slot        *ir.Slot
    nextRef     int
    chances     uint32
    since       uint32
    segs        []_Segment
}

func (self *_Lifetime) init(id _LtId, lr *liveness.Range) {
    *self = _Lifetime {
        id        : id,
        sym       : lr.Sym,
        lr        : lr,
        start     : lr.Start,
        end       : lr.End,
        reg       : regs.NoReg,
        home      : regs.NoReg,
        hint      : lr.Sym.Fixed,
        useCount  : lr.UseCount,
        validFrom : _NeverValid,
    }

    /* static properties */
    if lr.DeadStore   { self.flags |= LF_deadstore }
    if lr.CrossesCall { self.flags |= LF_crossescall }
    if lr.Sym.NoPack  { self.flags |= LF_nopack }

    /* pinned symbols */
    if lr.Sym.Fixed != regs.NoReg {
        self.flags |= LF_cantspill
    }
}

func (self *_Lifetime) has(f _LtFlags) bool {
    return self.flags & f != 0
}

func (self *_Lifetime) set(f _LtFlags) {
    self.flags |= f
}

func (self *_Lifetime) clear(f _LtFlags) {
    self.flags &^= f
}

// transition moves the lifetime to a new state, returning false if the
// transition is illegal.
func (self *_Lifetime) transition(to _LtState) bool {
    if _LtTransitions[self.state] & to.bit() == 0 {
        return false
    } else {
        self.state = to
        return true
    }
}

// inReg reports whether the lifetime currently occupies a register.
func (self *_Lifetime) inReg() bool {
    switch self.state {
        case S_resident, S_secondchance : return true
        case S_helperspilled            : return self.reg != regs.NoReg
        default                         : return false
    }
}

func (self *_Lifetime) started() bool {
    return self.state != S_pending && self.state != S_retired
}

func (self *_Lifetime) stackValid(at uint32) bool {
    return self.validFrom != _NeverValid && self.validFrom <= at
}

// reloading reports whether uses at num are still under the reload-at-uses policy.
func (self *_Lifetime) reloading(num uint32) bool {
    return self.has(LF_reloadatuses) && num <= self.reloadEnd
}

// consume accounts every reference up to num as processed.
func (self *_Lifetime) consume(num uint32) {
    for self.nextRef < len(self.lr.Refs) && self.lr.Refs[self.nextRef].Num <= num {
        ref := &self.lr.Refs[self.nextRef]
        self.nextRef++

        /* remaining weighted use count */
        if c := liveness.UseCost(ref.Depth, ref.Helper); c >= self.useCount {
            self.useCount = 0
        } else {
            self.useCount -= c
        }
    }
}

// nextRefNum returns the position of the next reference after num.
func (self *_Lifetime) nextRefNum(num uint32) uint32 {
    if ref := self.lr.NextRef(num); ref == nil {
        return self.end
    } else {
        return ref.Num
    }
}

func (self *_Lifetime) open(num uint32) {
    self.since = num
}

func (self *_Lifetime) close(num uint32) {
    if self.reg != regs.NoReg {
        self.segs = append(self.segs, _Segment { from: self.since, to: num, reg: self.reg })
    }
}

func (self *_Lifetime) String() string {
    return fmt.Sprintf("%s#%d [%d, %d] %s reg=%d", self.sym, self.id, self.start, self.end, self.state, self.reg)
}

// LifetimeSummary is the final record of one lifetime.
type LifetimeSummary struct {
    Sym          *ir.Sym
    Start        uint32
    End          uint32
    Spilled      bool
    SecondChance bool
    Slot         *ir.Slot
    Segments     []Segment
}

// Segment is a stretch of instructions a lifetime spent in one register.
type Segment struct {
    From uint32
    To   uint32
    Reg  regs.Reg
}

func (self *_Lifetime) summary() LifetimeSummary {
    ret := LifetimeSummary {
        Sym          : self.sym,
        Start        : self.start,
        End          : self.end,
        Spilled      : self.has(LF_everspilled),
        SecondChance : self.chances != 0,
        Slot         : self.slot,
    }

    /* register segments */
    for _, s := range self.segs {
        ret.Segments = append(ret.Segments, Segment { From: s.from, To: s.to, Reg: s.reg })
    }
    return ret
}
