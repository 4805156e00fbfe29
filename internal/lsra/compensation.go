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

// _Location is where a lifetime lives at some point, NoReg meaning the stack.
type _Location struct {
    id  _LtId
    reg regs.Reg
}

// _Edge is a forward branch waiting for its target label.
type _Edge struct {
    br     *ir.Instr
    idx    int
    frames *_FrameState
    snap   []_Location
}

// _Transfer moves one lifetime between two locations on an edge.
type _Transfer struct {
    id  _LtId
    src regs.Reg
    dst regs.Reg
}

type _Move struct {
    sym *ir.Sym
    src regs.Reg
    dst regs.Reg
}

func (self *Allocator) where(lt *_Lifetime) regs.Reg {
    if lt.inReg() {
        return lt.reg
    } else {
        return regs.NoReg
    }
}

func (self *Allocator) snapshot(filter func(lt *_Lifetime) bool) []_Location {
    ret := make([]_Location, 0, len(self.active))
    for _, id := range self.active {
        if lt := self.lt(id); lt.started() && filter(lt) {
            ret = append(ret, _Location { id: id, reg: self.where(lt) })
        }
    }
    return ret
}

func (self *Allocator) recordEdge(br *ir.Instr, idx int, to *ir.Instr) {
    e := &_Edge {
        br     : br,
        idx    : idx,
        frames : self.block.frames,
        snap   : self.snapshot(func(lt *_Lifetime) bool { return lt.end >= to.Num }),
    }
    self.edges[to] = append(self.edges[to], e)
}

// canonicalize decides the register state at a label, and reconciles every
// recorded edge into it.
func (self *Allocator) canonicalize(lb *ir.Instr, through bool, es []*_Edge) {
    switch {
        case lb.Flags & ir.F_handler != 0 && self.o.EHOpt && through : self.spillAll(lb)
        case lb.Flags & ir.F_handler != 0 && self.o.EHOpt            : self.dropAll()
        case !through && len(es) != 0                                : self.install(lb, es[0]); es = es[1:]
    }

    /* constants never move between registers on edges */
    for _, e := range es {
        for _, loc := range e.snap {
            if lt := self.lt(loc.id); lt.sym.Const && lt.inReg() && lt.reg != loc.reg {
                self.drop(lt)
            }
        }
    }

    /* a register copy that was never stored on some edge */
    for _, e := range es {
        for _, loc := range e.snap {
            if lt := self.lt(loc.id); lt.inReg() && !lt.stackValid(e.br.Num) {
                lt.validFrom = _NeverValid
            }
        }
    }

    /* reconcile the rest */
    for _, e := range es {
        self.compensateEdge(e, lb)
    }
}

// install adopts the state of an edge at a label that cannot be reached by
// falling through. No code is needed, the previous state is dead here.
func (self *Allocator) install(lb *ir.Instr, e *_Edge) {
    want := make(map[_LtId]regs.Reg, len(e.snap))
    for _, loc := range e.snap {
        want[loc.id] = loc.reg
    }

    /* release everything that is somewhere else on the edge */
    for _, id := range self.active {
        lt := self.lt(id)
        if !lt.started() || !lt.inReg() || lt.has(LF_cantspill) {
            continue
        }

        /* dead on the edge counts as being on the stack */
        r, ok := want[id]
        if ok && r == lt.reg {
            continue
        }

        /* residual copies just go away */
        if lt.state == S_helperspilled {
            self.release(lt)
            continue
        }

        /* the stack copy becomes the canonical one */
        self.drop(lt)
        if lt.validFrom > lb.Num {
            lt.validFrom = lb.Num
        }
    }

    /* then take the registers of the edge */
    for _, loc := range e.snap {
        lt := self.lt(loc.id)
        if loc.reg == regs.NoReg || lt.reg == loc.reg || !lt.started() {
            continue
        }

        /* the stack copy is unknown on that path */
        if lt.state == S_helperspilled {
            self.assign(lt, loc.reg, S_helperspilled)
        } else {
            self.assign(lt, loc.reg, S_resident)
            lt.validFrom = _NeverValid
        }
    }
}

func (self *Allocator) compensateEdge(e *_Edge, lb *ir.Instr) {
    xfers := make([]_Transfer, 0, len(e.snap))
    for _, loc := range e.snap {
        if lt := self.lt(loc.id); lt.started() {
            xfers = append(xfers, _Transfer { id: loc.id, src: loc.reg, dst: self.where(lt) })
        }
    }
    self.compensate(e.br, e.idx, lb, xfers)
}

// compensate places the code of xfers on the edge from br to target.
func (self *Allocator) compensate(br *ir.Instr, idx int, target *ir.Instr, xfers []_Transfer) {
    code := self.sequence(br.Num, xfers)
    if len(code) == 0 {
        return
    }

    /* unconditional branches take the code right before them */
    self.stats.CompensationMoves += len(code)
    if br.IsUncondBranch() {
        for _, ins := range code {
            self.cfg.InsertBefore(br, ins)
        }
        return
    }

    /* everything else needs a block of its own */
    self.cfg.NewAirlock(br, idx, target, code)
    self.stats.Airlocks++
}

// sequence orders the transfers: stores read the old registers, so they go
// first, loads write the new ones, so they go last.
func (self *Allocator) sequence(at uint32, xfers []_Transfer) []*ir.Instr {
    var moves []_Move
    var loads []*ir.Instr
    var stores []*ir.Instr

    /* classify every transfer */
    for _, x := range xfers {
        lt := self.lt(x.id)
        switch {
            case x.src == x.dst: {
                continue
            }

            /* register to stack */
            case x.dst == regs.NoReg: {
                if lt.sym.Const && !lt.has(LF_storeeverydef) {
                    continue
                }
                if !lt.stackValid(at) {
                    self.ensureSlot(lt)
                    stores = append(stores, ir.NewStore(lt.sym, x.src))
                }
            }

            /* stack to register */
            case x.src == regs.NoReg: {
                if lt.sym.Const {
                    loads = append(loads, ir.NewLoadImm(lt.sym, x.dst, lt.sym.Value))
                } else {
                    loads = append(loads, ir.NewLoad(lt.sym, x.dst))
                }
            }

            /* register to register */
            default: {
                moves = append(moves, _Move { sym: lt.sym, src: x.src, dst: x.dst })
            }
        }
    }

    /* build the sequence */
    ret := append(stores, self.parallelMoves(moves)...)
    return append(ret, loads...)
}

func isMoveSource(moves []_Move, r regs.Reg, except int) bool {
    for i, m := range moves {
        if i != except && m.src == r {
            return true
        }
    }
    return false
}

// parallelMoves sequentializes register to register moves that happen at
// once, breaking cycles with an exchange or the scratch register.
func (self *Allocator) parallelMoves(moves []_Move) (ret []*ir.Instr) {
    for len(moves) != 0 {
        done := false

        /* emit every move whose destination is no longer needed */
        for i := 0; i < len(moves); i++ {
            if m := moves[i]; m.src == m.dst || !isMoveSource(moves, m.dst, i) {
                if m.src != m.dst {
                    ret = append(ret, ir.NewMove(m.sym, m.dst, m.src))
                }
                moves = append(moves[:i], moves[i + 1:]...)
                done = true
                i--
            }
        }

        /* only cycles left */
        if done {
            continue
        }

        /* break one cycle */
        m := moves[0]
        if self.t.HasXchg {
            ret = append(ret, self.exchange(moves, m))
            moves = moves[1:]
            for i := range moves {
                if moves[i].src == m.dst {
                    moves[i].src = m.src
                }
            }
        } else {
            tmp := self.t.ScratchReg(self.t.Class(m.src))
            ret = append(ret, ir.NewMove(m.sym, tmp, m.src))
            moves[0].src = tmp
        }
    }
    return
}

func (self *Allocator) exchange(moves []_Move, m _Move) *ir.Instr {
    for _, v := range moves[1:] {
        if v.src == m.dst {
            return ir.NewXchg(m.sym, m.dst, v.sym, m.src)
        }
    }
    return ir.NewXchg(m.sym, m.dst, m.sym, m.src)
}
