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
    `testing`

    `github.com/obastemur/lsra/internal/ir`
    `github.com/obastemur/lsra/internal/liveness`
    `github.com/obastemur/lsra/internal/regs`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func TestCost_SpillCostFor(t *testing.T) {
    assert.Equal(t, uint32(8192 / 17), spillCostFor(1, 1, 16))
    assert.Greater(t, spillCostFor(10, 5, 16), spillCostFor(2, 5, 16))
    assert.Greater(t, spillCostFor(10, 5, 16), spillCostFor(10, 50, 16))
    assert.Zero(t, spillCostFor(0, 5, 16))
    assert.Equal(t, uint32(_MaxCost), spillCostFor(^uint32(0), 0, 1))
}

func TestCost_ShortHotOverLongCold(t *testing.T) {
    hot := spillCostFor(100, 10, 16)
    cold := spillCostFor(50, 1000, 16)
    assert.Greater(t, hot, cold)
}

func TestCost_LoopDepth(t *testing.T) {
    prev := uint32(0)
    for d := 0; d <= 7; d++ {
        c := spillCostFor(2 * liveness.UseCost(d, false), 40, 16)
        assert.GreaterOrEqual(t, c, prev, "depth %d", d)
        prev = c
    }
    assert.Zero(t, spillCostFor(2 * liveness.UseCost(3, true), 40, 16))
}

func TestLifetime_Transitions(t *testing.T) {
    lt := &_Lifetime { state: S_pending }
    assert.False(t, lt.transition(S_secondchance))
    assert.True(t, lt.transition(S_resident))
    assert.True(t, lt.transition(S_spilled))
    assert.False(t, lt.transition(S_helperspilled))
    assert.True(t, lt.transition(S_secondchance))
    assert.True(t, lt.transition(S_retired))
    for s := S_pending; s <= S_retired; s++ {
        assert.False(t, lt.transition(s), "retired -> %s", s)
    }
}

func TestLifetime_StackValid(t *testing.T) {
    lt := &_Lifetime { validFrom: _NeverValid }
    assert.False(t, lt.stackValid(100))
    lt.validFrom = 10
    assert.False(t, lt.stackValid(9))
    assert.True(t, lt.stackValid(10))
    assert.True(t, lt.stackValid(11))
}

func TestSlotPool_Reuse(t *testing.T) {
    fr := ir.NewFrame(regs.AMD64(), 0, 0)
    p := new(_SlotPool)
    p.init(fr, true)

    /* two fresh slots */
    a := p.get(8, 1, false)
    b := p.get(8, 2, false)
    assert.NotSame(t, a, b)
    assert.Equal(t, 2, p.fresh)

    /* a slot is not reused before its last user ends */
    p.put(a, 10)
    c := p.get(8, 5, false)
    assert.NotSame(t, a, c)
    d := p.get(8, 11, false)
    assert.Same(t, a, d)
    assert.Equal(t, 1, p.reused)

    /* exclusive owners never reuse */
    p.put(b, 3)
    e := p.get(8, 20, true)
    assert.NotSame(t, b, e)
    assert.Equal(t, int32(32), fr.Size())
}

func TestSlotPool_NoPacking(t *testing.T) {
    fr := ir.NewFrame(regs.AMD64(), 1, 0)
    p := new(_SlotPool)
    p.init(fr, false)
    a := p.get(8, 1, false)
    p.put(a, 2)
    assert.NotSame(t, a, p.get(8, 5, false))
    assert.Zero(t, p.reused)

    /* fixed slots never enter the pool */
    p.init(fr, true)
    p.put(fr.Fixed(0), 1)
    assert.Empty(t, p.free)
}

func TestSlotPool_FrameLimit(t *testing.T) {
    fr := ir.NewFrame(regs.AMD64(), 0, 8)
    p := new(_SlotPool)
    p.init(fr, true)
    p.get(8, 1, false)
    v := catch(func() { p.get(8, 2, false) })
    require.IsType(t, (*ir.FrameError)(nil), v)
    assert.Equal(t, int32(16), v.(*ir.FrameError).Need)
}

func TestFrameState_Immutable(t *testing.T) {
    f1 := &ir.InlineFrame { Name: "f1" }
    f2 := &ir.InlineFrame { Name: "f2", Parent: f1 }
    s0 := new(_FrameState)
    s1 := s0.push(f1)
    s2 := s1.push(f2)
    assert.False(t, s0.has(f1))
    assert.True(t, s2.has(f1))
    assert.True(t, s2.has(f2))
    s3 := s2.pop(f2)
    assert.False(t, s3.has(f2))
    assert.True(t, s2.has(f2))
    assert.Same(t, s3, s3.pop(f2))
    s4 := s3.push(f2)
    assert.True(t, s4.has(f2))
    assert.True(t, s2.has(f2))
}

func movesFor(tg *regs.Target) *Allocator {
    return &Allocator { t: tg }
}

func TestParallelMoves_Chain(t *testing.T) {
    tg := regs.Custom("moves", 4, 0, 0)
    a, b := &ir.Sym { Name: "a" }, &ir.Sym { Name: "b" }
    r0, r1, r2 := tg.Lookup("r0"), tg.Lookup("r1"), tg.Lookup("r2")
    seq := movesFor(tg).parallelMoves([]_Move {
        { sym: a, src: r0, dst: r1 },
        { sym: b, src: r1, dst: r2 },
    })
    require.Len(t, seq, 2)
    assert.Equal(t, r2, seq[0].Dst.(*ir.RegOpnd).Reg)
    assert.Equal(t, r1, seq[0].Src1.(*ir.RegOpnd).Reg)
    assert.Equal(t, r1, seq[1].Dst.(*ir.RegOpnd).Reg)
    assert.Equal(t, r0, seq[1].Src1.(*ir.RegOpnd).Reg)
}

func TestParallelMoves_SwapWithXchg(t *testing.T) {
    tg := regs.Custom("moves", 4, 0, 0)
    a, b := &ir.Sym { Name: "a" }, &ir.Sym { Name: "b" }
    r0, r1 := tg.Lookup("r0"), tg.Lookup("r1")
    seq := movesFor(tg).parallelMoves([]_Move {
        { sym: a, src: r0, dst: r1 },
        { sym: b, src: r1, dst: r0 },
    })
    require.Len(t, seq, 1)
    assert.Equal(t, ir.OP_xchg, seq[0].Op)
}

func TestParallelMoves_RotateWithScratch(t *testing.T) {
    tg := regs.Custom("moves", 4, 0, 0)
    tg.HasXchg = false
    a, b, c := &ir.Sym { Name: "a" }, &ir.Sym { Name: "b" }, &ir.Sym { Name: "c" }
    r0, r1, r2 := tg.Lookup("r0"), tg.Lookup("r1"), tg.Lookup("r2")
    seq := movesFor(tg).parallelMoves([]_Move {
        { sym: a, src: r0, dst: r1 },
        { sym: b, src: r1, dst: r2 },
        { sym: c, src: r2, dst: r0 },
    })
    require.Len(t, seq, 4)
    assert.Equal(t, tg.ScratchReg(regs.Int), seq[0].Dst.(*ir.RegOpnd).Reg)

    /* simulate the sequence */
    val := map[regs.Reg]string { r0: "a", r1: "b", r2: "c" }
    for _, ins := range seq {
        require.Equal(t, ir.OP_mov, ins.Op)
        val[ins.Dst.(*ir.RegOpnd).Reg] = val[ins.Src1.(*ir.RegOpnd).Reg]
    }
    assert.Equal(t, "a", val[r1])
    assert.Equal(t, "b", val[r2])
    assert.Equal(t, "c", val[r0])
}

func TestParallelMoves_RotateWithXchg(t *testing.T) {
    tg := regs.Custom("moves", 4, 0, 0)
    a, b, c := &ir.Sym { Name: "a" }, &ir.Sym { Name: "b" }, &ir.Sym { Name: "c" }
    r0, r1, r2 := tg.Lookup("r0"), tg.Lookup("r1"), tg.Lookup("r2")
    seq := movesFor(tg).parallelMoves([]_Move {
        { sym: a, src: r0, dst: r1 },
        { sym: b, src: r1, dst: r2 },
        { sym: c, src: r2, dst: r0 },
    })

    /* simulate the sequence */
    val := map[regs.Reg]string { r0: "a", r1: "b", r2: "c" }
    for _, ins := range seq {
        x, y := ins.Dst.(*ir.RegOpnd).Reg, ins.Src1.(*ir.RegOpnd).Reg
        switch ins.Op {
            case ir.OP_xchg : val[x], val[y] = val[y], val[x]
            case ir.OP_mov  : val[x] = val[y]
            default         : t.Fatalf("unexpected instruction: %v", ins.Op)
        }
    }
    assert.Equal(t, "a", val[r1])
    assert.Equal(t, "b", val[r2])
    assert.Equal(t, "c", val[r0])
    assert.Len(t, seq, 2)
}

func TestStats_Add(t *testing.T) {
    a := Stats { Spills: 1, FrameSize: 16 }
    b := Stats { Spills: 2, Reloads: 3, FrameSize: 8 }
    b.Pressure[regs.Int].Max = 5
    a.Add(&b)
    assert.Equal(t, 3, a.Spills)
    assert.Equal(t, 3, a.Reloads)
    assert.Equal(t, int32(16), a.FrameSize)
    assert.Equal(t, float64(5), a.Pressure[regs.Int].Max)
    assert.Contains(t, a.String(), "spills=3")
}

func TestStats_Pressure(t *testing.T) {
    var s Stats
    var x [regs.NumClasses][]float64
    x[regs.Int] = []float64 { 1, 2, 3 }
    s.pressure(x)
    assert.Equal(t, float64(3), s.Pressure[regs.Int].Max)
    assert.InDelta(t, 2.0, s.Pressure[regs.Int].Mean, 1e-9)
    assert.InDelta(t, 1.0, s.Pressure[regs.Int].StdDev, 1e-9)
    assert.Zero(t, s.Pressure[regs.Float].Max)
}
