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

package ir

import (
    `fmt`
    `sort`
    `strings`

    `github.com/obastemur/lsra/internal/regs`
)

// UnresolvedLabelError is returned by Build when a branch refers to a label
// that was never defined.
type UnresolvedLabelError struct {
    Labels []string
}

func (self UnresolvedLabelError) Error() string {
    return "ir: labels are not fully resolved: " + strings.Join(self.Labels, ", ")
}

type _Pending struct {
    ins *Instr
    idx int
}

// Builder assembles a function in linear order, resolving symbolic labels
// once the whole function is known.
type Builder struct {
    t      *regs.Target
    fn     *Func
    nlocal int
    offs   uint32
    frame  *InlineFrame
    region *Region
    refs   map[string]*Instr
    pends  map[string][]_Pending
    syms   map[string]*Sym
}

func NewBuilder(name string, t *regs.Target) *Builder {
    root := &InlineFrame { Name: name }
    return &Builder {
        t      : t,
        fn     : &Func { Name: name, Root: root, BailOuts: new(BailOutTable) },
        frame  : root,
        region : &Region { Kind: R_root },
        refs   : make(map[string]*Instr),
        pends  : make(map[string][]_Pending),
        syms   : make(map[string]*Sym),
    }
}

func (self *Builder) sym(name string, cls regs.Class) *Sym {
    if s, ok := self.syms[name]; ok {
        if s.Class != cls {
            panic(fmt.Sprintf("ir: symbol %s redeclared as %s", name, cls))
        }
        return s
    }
    s := self.fn.NewSym(name, cls)
    self.syms[name] = s
    return s
}

// Int returns the integer temporary with the given name, creating it on first use.
func (self *Builder) Int(name string) *Sym {
    return self.sym(name, regs.Int)
}

func (self *Builder) Float(name string) *Sym {
    return self.sym(name, regs.Float)
}

// Byte returns an 8-bit integer temporary.
func (self *Builder) Byte(name string) *Sym {
    s := self.sym(name, regs.Int)
    s.Size = 1
    return s
}

// Const returns a constant-valued symbol. Its single definition must be an LdImm.
func (self *Builder) Const(name string, v int64) *Sym {
    s := self.sym(name, regs.Int)
    s.Const = true
    s.Value = v
    return s
}

// Local returns an interpreter-visible local of the current frame.
func (self *Builder) Local(name string, writeThrough bool) *Sym {
    if s, ok := self.syms[name]; ok {
        return s
    }
    s := self.sym(name, regs.Int)
    s.Local = self.nlocal
    s.WriteThrough = writeThrough
    self.nlocal++
    self.frame.Locals = append(self.frame.Locals, s)
    return s
}

// Pinned returns a symbol that always lives in register r.
func (self *Builder) Pinned(name string, r regs.Reg) *Sym {
    s := self.sym(name, self.t.Class(r))
    s.Fixed = r
    return s
}

// Live describes a local of the current frame for a bail-out point.
func (self *Builder) Live(s *Sym) LiveValue {
    for i, v := range self.frame.Locals {
        if v == s {
            return LiveValue { Frame: self.frame, Slot: i, Sym: s }
        }
    }
    panic("ir: not a local of frame " + self.frame.Name + ": " + s.String())
}

func (self *Builder) Frame() *InlineFrame {
    return self.frame
}

func (self *Builder) add(ins *Instr) *Instr {
    ins.Region = self.region
    return self.fn.Append(ins)
}

func (self *Builder) jmp(ins *Instr, idx int, to string) {
    if lb, ok := self.refs[to]; !ok {
        self.pends[to] = append(self.pends[to], _Pending { ins, idx })
    } else {
        ins.Retarget(idx, lb)
    }
}

func reg(s *Sym) *RegOpnd {
    return &RegOpnd { Sym: s, Reg: s.Fixed }
}

func opnd(v interface{}) Opnd {
    switch x := v.(type) {
        case *Sym  : return reg(x)
        case int   : return &ImmOpnd { Value: int64(x) }
        case int64 : return &ImmOpnd { Value: x }
        case nil   : return nil
        default    : panic(fmt.Sprintf("ir: invalid operand: %#v", v))
    }
}

func (self *Builder) label(name string, flags Flags) *Instr {
    if _, ok := self.refs[name]; ok {
        panic("ir: label " + name + " has already been linked")
    }

    /* create the label */
    p := self.add(NewLabel(name))
    p.Flags = flags

    /* patch all the pending jumps */
    for _, v := range self.pends[name] {
        v.ins.Retarget(v.idx, p)
    }

    /* mark the label as resolved */
    self.refs[name] = p
    delete(self.pends, name)
    return p
}

func (self *Builder) Label(name string) *Instr {
    return self.label(name, 0)
}

// HelperLabel starts an out-of-line helper block.
func (self *Builder) HelperLabel(name string) *Instr {
    return self.label(name, F_helper)
}

// HandlerLabel starts the exception handler region reached by TryEnter.
func (self *Builder) HandlerLabel(name string, kind RegionKind) *Instr {
    self.region = &Region { Kind: kind, Parent: self.region }
    return self.label(name, F_handler)
}

func (self *Builder) Br(to string) *Instr {
    p := self.add(&Instr { Op: OP_br })
    self.jmp(p, 0, to)
    return p
}

// BrCond branches when a compares to b; b may be a symbol, an integer or nil.
func (self *Builder) BrCond(a *Sym, b interface{}, to string) *Instr {
    p := self.add(&Instr { Op: OP_brcond, Src1: reg(a), Src2: opnd(b) })
    self.jmp(p, 0, to)
    return p
}

func (self *Builder) BrMulti(a *Sym, to ...string) *Instr {
    p := self.add(&Instr { Op: OP_brmulti, Src1: reg(a), Targets: make([]*Instr, len(to)) })
    for i, v := range to { self.jmp(p, i, v) }
    return p
}

func (self *Builder) Ret(a *Sym) *Instr {
    if a == nil {
        return self.add(&Instr { Op: OP_ret })
    } else {
        return self.add(&Instr { Op: OP_ret, Src1: reg(a) })
    }
}

func (self *Builder) Mov(dst *Sym, src interface{}) *Instr {
    return self.add(&Instr { Op: OP_mov, Dst: reg(dst), Src1: opnd(src) })
}

func (self *Builder) LdImm(dst *Sym, v int64) *Instr {
    return self.add(&Instr { Op: OP_ldimm, Dst: reg(dst), Src1: &ImmOpnd { Value: v } })
}

func (self *Builder) alu(op OpCode, dst *Sym, a *Sym, b interface{}) *Instr {
    return self.add(&Instr { Op: op, Dst: reg(dst), Src1: reg(a), Src2: opnd(b) })
}

func (self *Builder) Add(dst *Sym, a *Sym, b interface{}) *Instr   { return self.alu(OP_add, dst, a, b) }
func (self *Builder) Sub(dst *Sym, a *Sym, b interface{}) *Instr   { return self.alu(OP_sub, dst, a, b) }
func (self *Builder) Mul(dst *Sym, a *Sym, b interface{}) *Instr   { return self.alu(OP_mul, dst, a, b) }
func (self *Builder) MulHi(dst *Sym, a *Sym, b interface{}) *Instr { return self.alu(OP_mulhi, dst, a, b) }
func (self *Builder) Div(dst *Sym, a *Sym, b interface{}) *Instr   { return self.alu(OP_div, dst, a, b) }
func (self *Builder) Cmp(dst *Sym, a *Sym, b interface{}) *Instr   { return self.alu(OP_cmp, dst, a, b) }

// Call calls fn, which may be nil for a direct call; dst may be nil as well.
func (self *Builder) Call(dst *Sym, fn *Sym) *Instr {
    p := &Instr { Op: OP_call }
    if dst != nil { p.Dst = reg(dst) }
    if fn != nil { p.Src1 = reg(fn) }
    return self.add(p)
}

func (self *Builder) LdInd(dst *Sym, base *Sym, disp int32) *Instr {
    return self.add(&Instr { Op: OP_ldind, Dst: reg(dst), Src1: &IndirOpnd { Base: reg(base), Disp: disp } })
}

func (self *Builder) StInd(base *Sym, disp int32, src interface{}) *Instr {
    return self.add(&Instr { Op: OP_stind, Dst: &IndirOpnd { Base: reg(base), Disp: disp }, Src1: opnd(src) })
}

// TryEnter opens a try region whose handler is the label `handler`.
func (self *Builder) TryEnter(handler string) *Instr {
    p := self.add(&Instr { Op: OP_tryenter })
    self.jmp(p, 0, handler)
    self.fn.HasTry = true
    self.region = &Region { Kind: R_try, Parent: self.region }
    return p
}

// Leave closes the current try region and jumps to `to`.
func (self *Builder) Leave(to string) *Instr {
    p := self.add(&Instr { Op: OP_leave })
    self.jmp(p, 0, to)
    if self.region.Parent != nil {
        self.region = self.region.Parent
    }
    return p
}

// EndRegion returns to the parent region after a handler.
func (self *Builder) EndRegion() {
    if self.region.Parent != nil {
        self.region = self.region.Parent
    }
}

// Inline enters a new frame inlined into the current one.
func (self *Builder) Inline(name string) *InlineFrame {
    fr := &InlineFrame { Name: name, Parent: self.frame }
    self.frame = fr
    self.add(&Instr { Op: OP_inlinee_start, Frame: fr })
    return fr
}

// Return leaves the current inlined frame.
func (self *Builder) Return() {
    if self.frame.Parent == nil {
        panic("ir: not inside an inlined frame")
    }
    self.add(&Instr { Op: OP_inlinee_end, Frame: self.frame })
    self.frame = self.frame.Parent
}

// BailOut emits a deoptimization point guarded by cond.
func (self *Builder) BailOut(cond *Sym, live ...LiveValue) *Instr {
    p := self.add(&Instr { Op: OP_bailout, Src1: reg(cond) })
    self.Attach(p, live...)
    return p
}

// Attach marks an existing instruction as a deoptimization point.
func (self *Builder) Attach(ins *Instr, live ...LiveValue) {
    self.offs++
    ins.BailOut = &BailOutInfo { Offset: self.offs, Frame: self.frame, Live: live }
}

func (self *Builder) Build() (*Func, error) {
    if len(self.pends) != 0 {
        nb := make([]string, 0, len(self.pends))
        for key := range self.pends { nb = append(nb, key) }
        sort.Strings(nb)
        return nil, UnresolvedLabelError { nb }
    }

    /* the frame holds every local of every frame */
    self.fn.Frame = NewFrame(self.t, self.nlocal, 0)
    return self.fn, nil
}
