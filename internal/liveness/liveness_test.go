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

package liveness

import (
    `errors`
    `testing`

    `github.com/obastemur/lsra/internal/ir`
    `github.com/obastemur/lsra/internal/regs`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func TestUseCost(t *testing.T) {
    assert.Equal(t, uint32(1), UseCost(0, false))
    assert.Equal(t, uint32(8), UseCost(1, false))
    assert.Equal(t, uint32(64), UseCost(2, false))
    assert.Equal(t, UseCost(5, false), UseCost(9, false))
    assert.Equal(t, uint32(0), UseCost(3, true))
}

func TestCompute_NestedLoops(t *testing.T) {
    b := ir.NewBuilder("nested", regs.AMD64())
    i, j, s, k := b.Int("i"), b.Int("j"), b.Int("s"), b.Int("k")
    b.LdImm(s, 0)                   // 1
    b.LdImm(i, 0)                   // 2
    b.LdImm(k, 3)                   // 3
    b.Label("outer")                // 4
    b.LdImm(j, 0)                   // 5
    b.Label("inner")                // 6
    b.Add(s, s, j)                  // 7
    b.Add(j, j, 1)                  // 8
    b.BrCond(j, 10, "inner")        // 9
    b.Call(nil, nil)                // 10
    b.Add(i, i, 1)                  // 11
    b.BrCond(i, 10, "outer")        // 12
    b.Ret(s)                        // 13
    b.Ret(k)                        // 14
    fn, err := b.Build()
    require.NoError(t, err)
    res, err := Compute(fn)
    require.NoError(t, err)

    /* loops */
    require.Len(t, res.Loops, 2)
    outer, inner := res.Loops[0], res.Loops[1]
    assert.Equal(t, uint32(4), outer.Start())
    assert.Equal(t, uint32(12), outer.End())
    assert.Equal(t, 1, outer.Depth)
    assert.Same(t, outer, inner.Parent)
    assert.Equal(t, 2, inner.Depth)
    assert.NotZero(t, inner.Head.Flags & ir.F_looptop)
    assert.Same(t, inner, res.InnermostLoop(7))
    assert.Same(t, inner, res.LoopAt(inner.Head))
    assert.Equal(t, 2, res.Depth(8))

    /* ranges */
    rs := res.RangeOf(s)
    assert.Equal(t, uint32(1), rs.Start)
    assert.Equal(t, uint32(13), rs.End)
    assert.True(t, rs.CrossesCall)
    assert.Equal(t, UseCost(0, false) * 2 + UseCost(2, false) * 2, rs.UseCount)
    rj := res.RangeOf(j)
    assert.Equal(t, uint32(5), rj.Start)
    assert.Equal(t, uint32(9), rj.End)
    assert.False(t, rj.CrossesCall)
    rk := res.RangeOf(k)
    assert.Equal(t, uint32(14), rk.End)
    assert.Contains(t, outer.LiveOnBackEdge, k)
    assert.Contains(t, inner.LiveOnBackEdge, s)
    assert.Contains(t, inner.LiveOnBackEdge, j)
    assert.NotContains(t, outer.LiveOnBackEdge, j)
    assert.True(t, outer.Defined[j])
    assert.False(t, outer.Defined[k])
    assert.Equal(t, []uint32 { 10 }, res.Calls)
    assert.Equal(t, s, res.Ranges[0].Sym)
}

func TestCompute_UseBeforeDefInLoop(t *testing.T) {
    b := ir.NewBuilder("carried", regs.AMD64())
    x, y := b.Int("x"), b.Int("y")
    b.LdImm(y, 0)                   // 1
    b.Label("top")                  // 2
    b.Add(y, y, 1)                  // 3
    b.BrCond(x, 0, "skip")          // 4
    b.LdImm(x, 1)                   // 5
    b.Label("skip")                 // 6
    b.BrCond(y, 5, "top")           // 7
    b.Ret(y)                        // 8
    fn, err := b.Build()
    require.NoError(t, err)
    res, err := Compute(fn)
    require.NoError(t, err)
    rx := res.RangeOf(x)
    assert.Equal(t, uint32(2), rx.Start)
    assert.Equal(t, uint32(7), rx.End)
    assert.False(t, rx.DeadStore)
}

func TestCompute_Helpers(t *testing.T) {
    b := ir.NewBuilder("helpers", regs.AMD64())
    x, h, d := b.Int("x"), b.Int("h"), b.Int("d")
    b.LdImm(x, 1)                   // 1
    b.BrCond(x, 0, "slow")          // 2
    b.Label("back")                 // 3
    b.LdImm(d, 9)                   // 4
    b.Ret(x)                        // 5
    b.HelperLabel("slow")           // 6
    b.LdImm(h, 2)                   // 7
    b.Call(h, h)                    // 8
    b.Br("back")                    // 9
    fn, err := b.Build()
    require.NoError(t, err)
    res, err := Compute(fn)
    require.NoError(t, err)
    require.Len(t, res.Helpers, 1)
    hb := res.Helpers[0]
    assert.Equal(t, uint32(6), hb.Entry.Num)
    assert.Equal(t, uint32(9), hb.Last.Num)
    assert.Equal(t, "back", hb.Target.Name)
    assert.Equal(t, uint32(4), hb.Len())
    assert.Equal(t, uint32(0), res.RangeOf(h).UseCount)
    assert.True(t, res.RangeOf(h).Refs[0].Helper)
    assert.True(t, res.RangeOf(d).DeadStore)
    assert.Equal(t, uint32(2), res.HelperLength(1, 7))
    assert.Same(t, hb, res.HelperOf(8))
    assert.Nil(t, res.HelperOf(5))
}

func TestCompute_Unnumbered(t *testing.T) {
    fn := new(ir.Func)
    fn.Append(ir.NewBr(ir.NewLabel("detached")))
    _, err := Compute(fn)
    require.Error(t, err)
    assert.True(t, errors.Is(err, ErrUnnumbered))
}

func TestCompute_BailOutKeepsLocalsAlive(t *testing.T) {
    b := ir.NewBuilder("bailout", regs.AMD64())
    x, y, c := b.Local("x", false), b.Local("y", false), b.Int("c")
    k := b.Const("k", 7)
    b.LdImm(x, 1)                   // 1
    b.LdImm(k, 7)                   // 2
    b.LdImm(c, 0)                   // 3
    b.BailOut(c, b.Live(x), b.Live(y), ir.LiveValue { Frame: b.Frame(), Slot: 2, Sym: k }) // 4
    b.Ret(nil)                      // 5
    fn, err := b.Build()
    require.NoError(t, err)
    res, err := Compute(fn)
    require.NoError(t, err)
    rx := res.RangeOf(x)
    require.NotNil(t, rx)
    assert.Equal(t, uint32(4), rx.End)
    assert.False(t, rx.DeadStore)
    assert.Nil(t, res.RangeOf(y))
    assert.True(t, res.RangeOf(k).DeadStore)
}
