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

package emit

import (
    `errors`
    `testing`

    `github.com/obastemur/lsra/internal/ir`
    `github.com/obastemur/lsra/internal/liveness`
    `github.com/obastemur/lsra/internal/lsra`
    `github.com/obastemur/lsra/internal/opts`
    `github.com/obastemur/lsra/internal/regs`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
    `golang.org/x/arch/x86/x86asm`
)

func disasm(t *testing.T, c []byte) (ret []x86asm.Inst) {
    for pc := 0; pc < len(c); {
        i, err := x86asm.Decode(c[pc:], 64)
        require.NoError(t, err)
        t.Logf("%04x %s", pc, x86asm.GNUSyntax(i, uint64(pc), nil))
        ret = append(ret, i)
        pc += i.Len
    }
    return
}

func allocated(t *testing.T, b *ir.Builder) *ir.Func {
    fn, err := b.Build()
    require.NoError(t, err)
    live, err := liveness.Compute(fn)
    require.NoError(t, err)
    o := opts.GetDefaultOptions()
    o.Target = regs.AMD64()
    o.Verify = true
    o.Resolve()
    lsra.Run(fn, live, &o)
    return fn
}

func TestAMD64_Loop(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("sum", tg)
    i, s := b.Int("i"), b.Int("s")
    b.LdImm(i, 0)
    b.LdImm(s, 0)
    b.Label("top")
    b.Add(s, s, i)
    b.Add(i, i, 1)
    b.BrCond(i, 100, "top")
    b.Ret(s)
    fn := allocated(t, b)
    c, err := AMD64(fn, tg)
    require.NoError(t, err)
    ins := disasm(t, c)
    require.NotEmpty(t, ins)

    /* the loop closes with a conditional jump */
    ops := make(map[x86asm.Op]int)
    for _, v := range ins {
        ops[v.Op]++
    }
    assert.Equal(t, 1, ops[x86asm.RET])
    assert.Equal(t, 1, ops[x86asm.JE])
}

func TestAMD64_SpillSlots(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("slots", tg)
    x := b.Local("x", true)
    b.LdImm(x, 1)
    b.Add(x, x, 2)
    b.Ret(x)
    fn := allocated(t, b)
    c, err := AMD64(fn, tg)
    require.NoError(t, err)

    /* the write-through stores address the frame through RBP */
    n := 0
    for _, v := range disasm(t, c) {
        for _, a := range v.Args {
            if m, ok := a.(x86asm.Mem); ok && m.Base == x86asm.RBP {
                n++
            }
        }
    }
    assert.GreaterOrEqual(t, n, 2)
}

func TestAMD64_Unresolved(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("raw", tg)
    x := b.Int("x")
    b.LdImm(x, 1)
    b.Ret(x)
    fn, err := b.Build()
    require.NoError(t, err)
    _, err = AMD64(fn, tg)
    require.Error(t, err)
    assert.True(t, errors.Is(err, ErrUnresolved))
}

func TestAMD64_Unsupported(t *testing.T) {
    tg := regs.AMD64()
    b := ir.NewBuilder("direct", tg)
    b.Call(nil, nil)
    b.Ret(nil)
    fn := allocated(t, b)
    _, err := AMD64(fn, tg)
    require.Error(t, err)
    assert.True(t, errors.Is(err, ErrUnsupported))
}
