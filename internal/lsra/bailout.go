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
)

// _BailOutBuilder records where every interpreter-visible value lives at a
// deoptimization point.
type _BailOutBuilder struct {
    p *Allocator
}

type _BailOutKey struct {
    fr   *ir.InlineFrame
    slot int
}

func (self _BailOutBuilder) build(ins *ir.Instr) {
    info := ins.BailOut
    seen := make(map[_BailOutKey]bool)
    recs := make(map[*ir.InlineFrame]*ir.BailOutRecord)

    /* one record per frame, chained outward */
    var last *ir.BailOutRecord
    for fr := info.Frame; fr != nil; fr = fr.Parent {
        rec := &ir.BailOutRecord { Instr: ins, Offset: info.Offset, Frame: fr }
        if recs[fr] = rec; last != nil {
            last.Parent = rec
        }
        last = rec
    }

    /* the listed values */
    for _, v := range info.Live {
        self.add(recs, seen, v)
    }

    /* debug mode describes every local of every frame */
    if self.p.o.DebugMode {
        for fr := range recs {
            for i, s := range fr.Locals {
                if !seen[_BailOutKey { fr, i }] {
                    self.add(recs, seen, ir.LiveValue { Frame: fr, Slot: i, Sym: s })
                }
            }
        }
    }

    /* add to the side table */
    for fr := info.Frame; fr != nil; fr = fr.Parent {
        recs[fr].Sort()
        self.p.fn.BailOuts.Add(recs[fr])
    }
    self.p.stats.BailOuts++
}

func (self _BailOutBuilder) add(recs map[*ir.InlineFrame]*ir.BailOutRecord, seen map[_BailOutKey]bool, v ir.LiveValue) {
    key := _BailOutKey { v.Frame, v.Slot }
    rec := recs[v.Frame]

    /* sanity checks */
    if rec == nil {
        self.p.fail("bail-out value %s belongs to inactive frame %s", v.Sym, v.Frame.Name)
    }
    if seen[key] {
        self.p.fail("bail-out slot %d of %s described twice", v.Slot, v.Frame.Name)
    }

    /* locate the value */
    kind, val := self.locate(v.Sym)
    rec.Entries = append(rec.Entries, ir.BailOutEntry { Slot: v.Slot, Kind: kind, Value: val })
    seen[key] = true
}

func (self _BailOutBuilder) locate(s *ir.Sym) (ir.LocKind, int32) {
    p := self.p
    fr := p.fn.Frame

    /* constants go to the constant table */
    if s.Const {
        return ir.L_const, int32(p.fn.BailOuts.AddConst(s.Value))
    }

    /* live values are wherever the allocator put them */
    if s.Id < len(p.bySym) && p.bySym[s.Id] != _NoLt {
        if lt := p.lt(p.bySym[s.Id]); lt.started() {
            if lt.inReg() {
                return ir.L_reg, int32(p.t.RegSaveIndex(lt.reg))
            } else if lt.slot != nil {
                return ir.L_stack, fr.Offset(lt.slot)
            }
        }
    }

    /* dead locals are read from their own slots */
    if s.Local >= 0 {
        return ir.L_stack, fr.Offset(fr.Fixed(s.Local))
    }

    /* nowhere to be found */
    p.fail("bail-out value %s has no location", s)
    return 0, 0
}
