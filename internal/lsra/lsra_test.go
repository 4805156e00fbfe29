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
    `bytes`
    `fmt`
    `testing`

    `github.com/obastemur/lsra/internal/ir`
    `github.com/obastemur/lsra/internal/liveness`
    `github.com/obastemur/lsra/internal/opts`
    `github.com/obastemur/lsra/internal/regs`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func options(t *regs.Target) *opts.Options {
    o := opts.GetDefaultOptions()
    o.Target = t
    o.Verify = true
    o.Resolve()
    return &o
}

func allocate(t *testing.T, b *ir.Builder, o *opts.Options) (*ir.Func, *Result) {
    fn, err := b.Build()
    require.NoError(t, err)
    live, err := liveness.Compute(fn)
    require.NoError(t, err)
    return fn, Run(fn, live, o)
}

func catch(fn func()) (ret interface{}) {
    defer func() { ret = recover() }()
    fn()
    return
}

func summaryOf(res *Result, s *ir.Sym) *LifetimeSummary {
    for i := range res.Lifetimes {
        if res.Lifetimes[i].Sym == s {
            return &res.Lifetimes[i]
        }
    }
    return nil
}

// checkAssigned asserts that every register operand left in fn names a
// register of the right class that the allocator may hand out.
func checkAssigned(t *testing.T, fn *ir.Func, tg *regs.Target) {
    check := func(p *ir.Instr, op *ir.RegOpnd) {
        if op == nil {
            return
        }
        r := op.Reg
        if !assert.NotEqual(t, regs.NoReg, r, "unassigned %s in %s", op.Sym, p.Format(tg)) {
            return
        }
        assert.Equal(t, op.Sym.Class, tg.Class(r), "class mismatch in %s", p.Format(tg))
        assert.True(t, tg.IsAllocatable(r) || r == tg.ScratchReg(op.Sym.Class), "reserved register in %s", p.Format(tg))
    }
    opnd := func(p *ir.Instr, v ir.Opnd) {
        switch x := v.(type) {
            case *ir.RegOpnd   : check(p, x)
            case *ir.IndirOpnd : check(p, x.Base); check(p, x.Index)
        }
    }
    for p := fn.Head; p != nil; p = p.Next {
        opnd(p, p.Dst)
        opnd(p, p.Src1)
        opnd(p, p.Src2)
    }
}

func TestRun_StraightLine(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("straight", tg)
    a, r := b.Int("a"), b.Int("r")
    b.LdImm(a, 1)
    b.Add(r, a, 2)
    b.Ret(r)
    fn, res := allocate(t, b, options(tg))
    checkAssigned(t, fn, tg)
    assert.Zero(t, res.Stats.Spills)
    assert.Zero(t, res.Stats.Reloads)
    assert.Equal(t, int32(0), res.Stats.FrameSize)
    assert.True(t, fn.BailOuts.Sealed())
    require.Len(t, res.Lifetimes, 2)
    assert.False(t, summaryOf(res, a).Spilled)
    assert.NotEmpty(t, summaryOf(res, a).Segments)
}

func TestRun_DeadStore(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("dead", tg)
    d, r := b.Int("d"), b.Int("r")
    b.LdImm(d, 5)
    b.LdImm(r, 6)
    b.Ret(r)
    fn, res := allocate(t, b, options(tg))
    assert.Equal(t, 1, res.Stats.DeadStores)
    assert.Equal(t, 1, fn.Count(ir.OP_ldimm))
    checkAssigned(t, fn, tg)
}

func TestRun_CalleeSavedAcrossCall(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("call", tg)
    x := b.Int("x")
    b.LdImm(x, 1)
    b.Call(nil, nil)
    b.Ret(x)
    fn, res := allocate(t, b, options(tg))
    checkAssigned(t, fn, tg)
    lt := summaryOf(res, x)
    require.NotNil(t, lt)
    require.NotEmpty(t, lt.Segments)
    assert.True(t, tg.IsCalleeSaved(lt.Segments[0].Reg), "got %s", tg.Name(lt.Segments[0].Reg))
    assert.Zero(t, res.Stats.Spills)
}

func pressure(b *ir.Builder, n int) []*ir.Sym {
    vs := make([]*ir.Sym, n)
    for i := range vs {
        vs[i] = b.Int(fmt.Sprintf("v%d", i))
        b.LdImm(vs[i], int64(i + 1))
    }
    s := b.Int("s")
    b.Mov(s, vs[0])
    for _, v := range vs[1:] {
        b.Add(s, s, v)
    }
    b.Ret(s)
    return vs
}

func TestRun_Pressure(t *testing.T) {
    tg := regs.Custom("tiny", 3, 0, 0)
    b := ir.NewBuilder("pressure", tg)
    pressure(b, 6)
    fn, res := allocate(t, b, options(tg))
    checkAssigned(t, fn, tg)
    assert.NotZero(t, res.Stats.Spills)
    assert.Greater(t, res.Stats.FrameSize, int32(0))
    assert.LessOrEqual(t, res.Stats.Pressure[regs.Int].Max, float64(3))
}

func TestRun_FrameLimit(t *testing.T) {
    tg := regs.Custom("tiny", 3, 0, 0)
    b := ir.NewBuilder("limit", tg)
    pressure(b, 6)
    o := options(tg)
    o.MaxFrameSize = 1
    v := catch(func() { allocate(t, b, o) })
    require.IsType(t, (*ir.FrameError)(nil), v)
    assert.Equal(t, int32(1), v.(*ir.FrameError).Limit)
}

func TestRun_ConstantsHaveNoSlot(t *testing.T) {
    tg := regs.Custom("tiny", 2, 0, 0)
    b := ir.NewBuilder("consts", tg)
    k := b.Const("k", 42)
    x, y, s := b.Int("x"), b.Int("y"), b.Int("s")
    b.LdImm(k, 42)
    b.LdImm(x, 1)
    b.LdImm(y, 2)
    b.Add(s, x, y)
    b.Add(s, s, k)
    b.Add(s, s, x)
    b.Add(s, s, y)
    b.Ret(s)
    fn, res := allocate(t, b, options(tg))
    checkAssigned(t, fn, tg)
    lt := summaryOf(res, k)
    require.NotNil(t, lt)
    assert.Nil(t, lt.Slot)
}

func TestRun_Loop(t *testing.T) {
    tg := regs.Custom("small", 4, 0, 2)
    b := ir.NewBuilder("loop", tg)
    i, s := b.Int("i"), b.Int("s")
    b.LdImm(i, 0)
    b.LdImm(s, 0)
    b.Label("top")
    b.Add(s, s, i)
    b.Call(nil, nil)
    b.Add(i, i, 1)
    b.BrCond(i, 100, "top")
    b.Ret(s)
    fn, res := allocate(t, b, options(tg))
    checkAssigned(t, fn, tg)
    assert.Equal(t, 1, res.Stats.Loops)
}

func TestRun_BailOut(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("bailout", tg)
    x, y := b.Local("x", false), b.Local("y", false)
    k := b.Const("k", 42)
    c := b.Int("c")
    b.LdImm(x, 7)
    b.LdImm(k, 42)
    b.LdImm(c, 1)
    bo := b.BailOut(c, b.Live(x), b.Live(y), ir.LiveValue { Frame: b.Frame(), Slot: 2, Sym: k })
    b.Ret(x)
    fn, res := allocate(t, b, options(tg))
    checkAssigned(t, fn, tg)
    assert.Equal(t, 1, res.Stats.BailOuts)

    /* the record of the deoptimization point */
    rec := fn.BailOuts.Find(bo)
    require.NotNil(t, rec)
    require.Len(t, rec.Entries, 3)

    /* x is in a register */
    ex, ok := rec.Lookup(0)
    require.True(t, ok)
    assert.Equal(t, ir.L_reg, ex.Kind)

    /* y was never defined, it is read from its own slot */
    ey, ok := rec.Lookup(1)
    require.True(t, ok)
    assert.Equal(t, ir.L_stack, ey.Kind)
    assert.Equal(t, fn.Frame.Offset(fn.Frame.Fixed(1)), ey.Value)

    /* k is a constant */
    ek, ok := rec.Lookup(2)
    require.True(t, ok)
    assert.Equal(t, ir.L_const, ek.Kind)
    assert.Equal(t, int64(42), fn.BailOuts.Constants[ek.Value])
}

func TestRun_BailOutDuplicate(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("dup", tg)
    x, c := b.Local("x", false), b.Int("c")
    b.LdImm(x, 7)
    b.LdImm(c, 1)
    b.BailOut(c, b.Live(x), b.Live(x))
    b.Ret(x)
    v := catch(func() { allocate(t, b, options(tg)) })
    require.IsType(t, (*InvariantError)(nil), v)
    e := v.(*InvariantError)
    assert.Equal(t, "dup", e.Func)
    assert.Contains(t, e.Error(), "described twice")
    assert.NotEmpty(t, e.State)
}

func TestRun_WriteThrough(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("wt", tg)
    x := b.Local("x", true)
    b.LdImm(x, 1)
    b.Add(x, x, 2)
    b.Ret(x)
    fn, res := allocate(t, b, options(tg))
    checkAssigned(t, fn, tg)
    assert.Equal(t, 2, fn.Count(ir.OP_store))
    lt := summaryOf(res, x)
    require.NotNil(t, lt)
    require.NotNil(t, lt.Slot)
    assert.True(t, lt.Slot.Fixed)
}

func TestRun_Diagram(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("diagram", tg)
    a, r := b.Int("a"), b.Int("r")
    b.LdImm(a, 1)
    b.Add(r, a, 2)
    b.Ret(r)
    buf := new(bytes.Buffer)
    tr := new(bytes.Buffer)
    o := options(tg)
    o.Diagram = buf
    o.Trace = tr
    allocate(t, b, o)
    assert.Contains(t, buf.String(), "<svg")
    assert.Contains(t, buf.String(), ">a<")
}

func TestRun_HelperBlock(t *testing.T) {
    tg := regs.Custom("helper", 4, 0, 0)
    b := ir.NewBuilder("helper", tg)
    x, c, r := b.Int("x"), b.Int("c"), b.Int("r")
    b.LdImm(x, 1)
    b.LdImm(c, 0)
    b.BrCond(c, 0, "slow")
    b.Br("cont")
    b.HelperLabel("slow")
    b.Call(nil, nil)
    b.Add(x, x, 1)
    b.Label("cont")
    b.Add(r, x, c)
    b.Ret(r)
    fn, res := allocate(t, b, options(tg))
    checkAssigned(t, fn, tg)
    assert.Equal(t, 1, res.Stats.Helpers)
    assert.NotZero(t, res.Stats.HelperSpills)
    assert.Zero(t, fn.Count(ir.OP_nop))
}

func TestRun_ExceptionRegion(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("eh", tg)
    x := b.Int("x")
    x.LiveInEH = true
    b.LdImm(x, 1)
    b.TryEnter("catch")
    b.Add(x, x, 1)
    b.Call(nil, nil)
    b.Leave("done")
    b.HandlerLabel("catch", ir.R_catch)
    b.Add(x, x, 2)
    b.EndRegion()
    b.Label("done")
    b.Ret(x)
    fn, res := allocate(t, b, options(tg))
    checkAssigned(t, fn, tg)
    lt := summaryOf(res, x)
    require.NotNil(t, lt)
    assert.NotNil(t, lt.Slot)
    assert.GreaterOrEqual(t, fn.Count(ir.OP_store), 2)
}

func TestRun_InlinedFrame(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("outer", tg)
    a, c := b.Local("a", false), b.Int("c")
    b.LdImm(a, 3)
    b.LdImm(c, 1)
    fr := b.Inline("inner")
    p := b.Local("p", false)
    p.ArgOf = fr
    b.Mov(p, a)
    bo := b.BailOut(c, b.Live(p))
    b.Return()
    b.Ret(a)
    fn, res := allocate(t, b, options(tg))
    checkAssigned(t, fn, tg)
    assert.Equal(t, 1, res.Stats.BailOuts)

    /* one record per active frame, chained outward */
    rec := fn.BailOuts.Find(bo)
    require.NotNil(t, rec)
    assert.Same(t, fr, rec.Frame)
    require.NotNil(t, rec.Parent)
    assert.Same(t, fr.Parent, rec.Parent.Frame)
    assert.Len(t, fn.BailOuts.Records, 2)
}

func TestRun_ForwardEdges(t *testing.T) {
    tg := regs.Custom("edges", 3, 0, 0)
    b := ir.NewBuilder("edges", tg)
    x, y, z, c := b.Int("x"), b.Int("y"), b.Int("z"), b.Int("c")
    b.LdImm(x, 1)
    b.LdImm(y, 2)
    b.LdImm(c, 0)
    b.BrCond(c, 0, "join")
    b.LdImm(z, 5)
    b.Add(x, x, z)
    b.Add(y, y, z)
    b.Call(nil, nil)
    b.Label("join")
    b.Add(x, x, y)
    b.Add(x, x, c)
    b.Ret(x)
    fn, res := allocate(t, b, options(tg))
    checkAssigned(t, fn, tg)
    assert.Zero(t, res.Stats.Loops)
}

func TestRun_HelperRedefinition(t *testing.T) {
    tg := regs.Custom("redef", 2, 0, 0)
    b := ir.NewBuilder("redef", tg)
    x, c := b.Int("x"), b.Int("c")
    b.LdImm(x, 1)
    b.LdImm(c, 0)
    b.BrCond(c, 0, "slow")
    b.Br("cont")
    b.HelperLabel("slow")
    b.Mul(x, c, 3)
    b.Call(nil, nil)
    b.Label("cont")
    b.Add(x, x, c)
    b.Ret(x)

    /* the value defined in the block must survive the call */
    _, res, v := differential(t, b, options(tg))
    assert.Equal(t, int64(0), v)
    assert.Equal(t, 1, res.Stats.Helpers)
    assert.True(t, summaryOf(res, x).Spilled)
}

func helperLocal(tg *regs.Target) (*ir.Builder, *ir.Sym) {
    b := ir.NewBuilder("local", tg)
    x, y, z, c, h := b.Int("x"), b.Int("y"), b.Int("z"), b.Int("c"), b.Int("h")
    b.LdImm(x, 10)
    b.LdImm(y, 20)
    b.LdImm(z, 0)
    b.LdImm(c, 1)
    b.Call(nil, nil)
    b.BrCond(c, 1, "slow")
    b.Br("cont")
    b.HelperLabel("slow")
    b.Add(h, x, y)
    b.Call(nil, nil)
    b.Add(z, h, 3)
    b.Label("cont")
    b.Add(x, x, y)
    b.Add(x, x, z)
    b.Ret(x)
    return b, h
}

func TestRun_HelperLocalCalleeSaved(t *testing.T) {
    tg := regs.Custom("local", 4, 0, 2)
    b, h := helperLocal(tg)
    _, res, v := differential(t, b, options(tg))
    assert.Equal(t, int64(63), v)

    /* h takes a callee-saved register from the main line, never a slot */
    lt := summaryOf(res, h)
    require.NotNil(t, lt)
    assert.False(t, lt.Spilled)
    assert.Nil(t, lt.Slot)
    require.NotEmpty(t, lt.Segments)
    assert.True(t, tg.IsCalleeSaved(lt.Segments[0].Reg), "got %s", tg.Name(lt.Segments[0].Reg))
    assert.NotZero(t, res.Stats.HelperSpills)
}

func TestRun_HelperLocalNoCalleeSaved(t *testing.T) {
    tg := regs.Custom("local", 4, 0, 0)
    b, h := helperLocal(tg)
    _, res, v := differential(t, b, options(tg))
    assert.Equal(t, int64(63), v)

    /* nothing survives the call in a register */
    lt := summaryOf(res, h)
    require.NotNil(t, lt)
    assert.True(t, lt.Spilled)
    assert.NotNil(t, lt.Slot)
}

func TestRun_Airlock(t *testing.T) {
    tg := regs.Custom("air", 3, 0, 0)
    b := ir.NewBuilder("air", tg)
    x, y, c := b.Int("x"), b.Int("y"), b.Int("c")
    b.LdImm(x, 1)
    b.LdImm(y, 2)
    b.LdImm(c, 0)
    b.BrCond(c, 0, "join")
    b.Call(nil, nil)
    b.Label("join")
    b.Add(x, x, y)
    b.Ret(x)
    o := options(tg)
    o.StoreCrossover = opts.CrossoverSingle

    /* the taken edge stores what the call path spilled */
    fn, res, v := differential(t, b, o)
    assert.Equal(t, int64(3), v)
    assert.NotZero(t, res.Stats.Airlocks)
    assert.NotZero(t, res.Stats.CompensationMoves)
    assert.Equal(t, ir.OP_br, fn.Tail.Op)
}

func TestRun_SecondChance(t *testing.T) {
    tg := regs.Custom("sc", 2, 0, 0)
    b := ir.NewBuilder("sc", tg)
    x, y := b.Int("x"), b.Int("y")
    b.LdImm(x, 1)
    b.Call(nil, nil)
    b.Add(y, x, 1)
    b.Add(y, y, x)
    b.Ret(y)
    o := options(tg)
    o.SecondChance = true
    _, res, v := differential(t, b, o)
    assert.Equal(t, int64(3), v)
    assert.NotZero(t, res.Stats.SecondChances)
    assert.True(t, summaryOf(res, x).SecondChance)
}

func TestRun_SlotReuse(t *testing.T) {
    tg := regs.Custom("reuse", 2, 0, 0)
    b := ir.NewBuilder("reuse", tg)
    a, bb, r := b.Int("a"), b.Int("b"), b.Int("r")
    b.LdImm(a, 1)
    b.Call(nil, nil)
    b.Add(r, a, 1)
    b.LdImm(bb, 5)
    b.Call(nil, nil)
    b.Add(r, r, bb)
    b.Ret(r)
    o := options(tg)
    o.StackPacking = true
    o.SecondChance = false
    _, res, v := differential(t, b, o)
    assert.Equal(t, int64(7), v)
    assert.NotZero(t, res.Stats.SlotsReused)
    assert.Less(t, res.Stats.SlotsAllocated, 3)
}

func TestRun_VictimByCost(t *testing.T) {
    tg := regs.Custom("victim", 2, 0, 0)
    b := ir.NewBuilder("victim", tg)
    x, a, cold := b.Int("x"), b.Int("a"), b.Int("cold")
    b.LdImm(cold, 1)
    b.LdImm(a, 2)
    b.LdImm(x, 3)
    for i := 0; i < 4; i++ {
        b.Add(a, a, x)
    }
    for i := 0; i < 40; i++ {
        b.Add(x, x, 1)
    }
    b.Add(x, x, cold)
    b.Ret(x)

    /* the long and rarely used range goes, the short and hot one stays */
    _, res, v := differential(t, b, options(tg))
    assert.Equal(t, int64(44), v)
    assert.True(t, summaryOf(res, cold).Spilled)
    assert.False(t, summaryOf(res, a).Spilled)
    assert.False(t, summaryOf(res, x).Spilled)
}

func TestRun_CalleeSavedVictim(t *testing.T) {
    tg := regs.Custom("victim", 2, 0, 1)
    b := ir.NewBuilder("victim", tg)
    w, v, x := b.Int("w"), b.Int("v"), b.Int("x")
    b.LdImm(w, 1)
    b.LdImm(v, 2)
    b.LdImm(x, 3)
    b.Add(x, x, v)
    b.Call(nil, nil)
    b.Add(x, x, 1)
    b.Add(x, x, w)
    b.Add(x, x, w)
    b.Add(x, x, w)
    b.Ret(x)

    /* x crosses the call, so the callee-saved w goes even though v is cheaper */
    _, res, r := differential(t, b, options(tg))
    assert.Equal(t, int64(9), r)
    assert.True(t, summaryOf(res, w).Spilled)
    assert.False(t, summaryOf(res, v).Spilled)
    lt := summaryOf(res, x)
    require.NotEmpty(t, lt.Segments)
    assert.Equal(t, tg.Lookup("r1"), lt.Segments[0].Reg)
}

func TestRun_BailOutDebugMode(t *testing.T) {
    tg := regs.AMD64()
    for _, debug := range []bool { false, true } {
        b := ir.NewBuilder("debug", tg)
        x, y, z := b.Local("x", false), b.Local("y", false), b.Local("z", false)
        c, r := b.Int("c"), b.Int("r")
        b.LdImm(x, 7)
        b.LdImm(y, 8)
        b.LdImm(c, 1)
        bo := b.BailOut(c, b.Live(x))
        b.Add(r, x, y)
        b.Ret(r)
        o := options(tg)
        o.DebugMode = debug
        fn, _ := allocate(t, b, o)
        rec := fn.BailOuts.Find(bo)
        require.NotNil(t, rec)
        if !debug {
            assert.Len(t, rec.Entries, 1)
            continue
        }

        /* every local is described */
        require.Len(t, rec.Entries, 3)
        ey, ok := rec.Lookup(1)
        require.True(t, ok)
        assert.Equal(t, ir.L_reg, ey.Kind)
        ez, ok := rec.Lookup(2)
        require.True(t, ok)
        assert.Equal(t, ir.L_stack, ez.Kind)
        assert.Equal(t, fn.Frame.Offset(fn.Frame.Fixed(z.Local)), ez.Value)
    }
}
