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
    `fmt`
    `math`

    `github.com/chenzhuoyu/iasm/x86_64`
    `github.com/obastemur/lsra/internal/ir`
    `github.com/obastemur/lsra/internal/regs`
)

var (
    ErrUnresolved  = errors.New("emit: operand is not allocated")
    ErrUnsupported = errors.New("emit: instruction is not supported")
)

/* scratch registers of the amd64 target */
const (
    _IR = x86_64.R11
    _FR = x86_64.XMM15
)

type _CodeGen struct {
    t      *regs.Target
    fn     *ir.Func
    p      *x86_64.Program
    labels map[*ir.Instr]*x86_64.Label
    bail   *x86_64.Label
}

// AMD64 encodes the body of an allocated function. Stack slots are addressed
// relative to RBP, the prologue and the epilogue are left to the caller. Any
// operand still in symbolic form fails the whole function with ErrUnresolved.
func AMD64(fn *ir.Func, t *regs.Target) (ret []byte, err error) {
    cc := &_CodeGen {
        t      : t,
        fn     : fn,
        p      : x86_64.DefaultArch.CreateProgram(),
        labels : make(map[*ir.Instr]*x86_64.Label),
    }

    /* encoding errors are raised as panics */
    defer cc.p.Free()
    defer func() {
        if v := recover(); v != nil {
            if e, ok := v.(error); ok && (errors.Is(e, ErrUnresolved) || errors.Is(e, ErrUnsupported)) {
                err = e
            } else {
                err = fmt.Errorf("emit: %v", v)
            }
        }
    }()

    /* encode every instruction */
    for p := fn.Head; p != nil; p = p.Next {
        cc.instr(p)
    }

    /* the shared bail-out stub */
    if cc.bail != nil {
        cc.p.Link(cc.bail)
        cc.p.UD2()
    }

    /* assemble the function */
    ret = cc.p.Assemble(0)
    return
}

func (self *_CodeGen) unresolved(ins *ir.Instr, v interface{}) {
    panic(fmt.Errorf("%w: %v in %s", ErrUnresolved, v, ins.Format(self.t)))
}

func (self *_CodeGen) unsupported(ins *ir.Instr) {
    panic(fmt.Errorf("%w: %s", ErrUnsupported, ins.Format(self.t)))
}

func (self *_CodeGen) label(lb *ir.Instr) *x86_64.Label {
    if p, ok := self.labels[lb]; ok {
        return p
    }
    p := x86_64.CreateLabel(fmt.Sprintf("%s_%d", lb.Name, len(self.labels)))
    self.labels[lb] = p
    return p
}

func (self *_CodeGen) reg(ins *ir.Instr, op *ir.RegOpnd) interface{} {
    if op.Reg == regs.NoReg {
        self.unresolved(ins, op)
    }
    if self.t.Class(op.Reg) == regs.Float {
        return regs.XMM(self.t, op.Reg)
    } else {
        return regs.GPR(self.t, op.Reg)
    }
}

func (self *_CodeGen) slot(ins *ir.Instr, s *ir.Sym) *x86_64.MemoryOperand {
    if s.Slot == nil {
        self.unresolved(ins, s)
    }
    return x86_64.Ptr(x86_64.RBP, self.fn.Frame.Offset(s.Slot))
}

func (self *_CodeGen) indir(ins *ir.Instr, m *ir.IndirOpnd) *x86_64.MemoryOperand {
    base := self.reg(ins, m.Base).(x86_64.Register64)
    if m.Index == nil {
        return x86_64.Ptr(base, m.Disp)
    } else {
        return x86_64.Sib(base, self.reg(ins, m.Index).(x86_64.Register64), m.Scale, m.Disp)
    }
}

func (self *_CodeGen) opnd(ins *ir.Instr, v ir.Opnd) interface{} {
    switch x := v.(type) {
        case *ir.RegOpnd   : return self.reg(ins, x)
        case *ir.SymOpnd   : return self.slot(ins, x.Sym)
        case *ir.IndirOpnd : return self.indir(ins, x)
        case *ir.ImmOpnd   : return x.Value
        default            : self.unresolved(ins, v); return nil
    }
}

func isMem(v interface{}) bool {
    _, ok := v.(*x86_64.MemoryOperand)
    return ok
}

func isImm64(v interface{}) bool {
    x, ok := v.(int64)
    return ok && (x < math.MinInt32 || x > math.MaxInt32)
}

func isFloat(ins *ir.Instr) bool {
    if d := ins.Def(); d != nil {
        return d.Sym.Class == regs.Float
    }
    if s, ok := ins.Src1.(*ir.RegOpnd); ok {
        return s.Sym.Class == regs.Float
    }
    return false
}

/** Instructions **/

func (self *_CodeGen) instr(ins *ir.Instr) {
    switch ins.Op {
        case ir.OP_nop           : break
        case ir.OP_inlinee_start : break
        case ir.OP_inlinee_end   : break
        case ir.OP_tryenter      : break
        case ir.OP_label         : self.p.Link(self.label(ins))
        case ir.OP_br            : self.p.JMP(self.label(ins.Target))
        case ir.OP_leave         : self.p.JMP(self.label(ins.Target))
        case ir.OP_brcond        : self.brcond(ins)
        case ir.OP_brmulti       : self.brmulti(ins)
        case ir.OP_ret           : self.ret(ins)
        case ir.OP_mov           : self.move(ins, ins.Src1, ins.Dst)
        case ir.OP_ldimm         : self.move(ins, ins.Src1, ins.Dst)
        case ir.OP_load          : self.move(ins, ins.Src1, ins.Dst)
        case ir.OP_store         : self.move(ins, ins.Src1, ins.Dst)
        case ir.OP_ldind         : self.move(ins, ins.Src1, ins.Dst)
        case ir.OP_stind         : self.move(ins, ins.Src1, ins.Dst)
        case ir.OP_add           : self.alu(ins)
        case ir.OP_sub           : self.alu(ins)
        case ir.OP_mul           : self.alu(ins)
        case ir.OP_div           : self.alu(ins)
        case ir.OP_xchg          : self.p.XCHGQ(self.opnd(ins, ins.Src1), self.opnd(ins, ins.Dst))
        case ir.OP_call          : self.call(ins)
        case ir.OP_bailout       : self.bailout(ins)
        default                  : self.unsupported(ins)
    }
}

func (self *_CodeGen) move(ins *ir.Instr, src ir.Opnd, dst ir.Opnd) {
    s := self.opnd(ins, src)
    d := self.opnd(ins, dst)

    /* nothing to do */
    if s == d {
        return
    }

    /* floating point moves */
    if isFloat(ins) {
        if isMem(s) && isMem(d) {
            self.p.MOVSD(s, _FR)
            self.p.MOVSD(_FR, d)
        } else {
            self.p.MOVQ(s, d)
        }
        return
    }

    /* memory to memory, or a 64-bit immediate to memory */
    if (isMem(s) || isImm64(s)) && isMem(d) {
        self.p.MOVQ(s, _IR)
        self.p.MOVQ(_IR, d)
    } else {
        self.p.MOVQ(s, d)
    }
}

func (self *_CodeGen) alu(ins *ir.Instr) {
    a := self.opnd(ins, ins.Src1)
    b := self.opnd(ins, ins.Src2)
    d := self.opnd(ins, ins.Dst)

    /* scalar floating point, through the scratch register */
    if isFloat(ins) {
        if _, ok := b.(int64); ok {
            self.unsupported(ins)
        }
        self.p.MOVSD(a, _FR)
        switch ins.Op {
            case ir.OP_add : self.p.ADDSD(b, _FR)
            case ir.OP_sub : self.p.SUBSD(b, _FR)
            case ir.OP_mul : self.p.MULSD(b, _FR)
            case ir.OP_div : self.p.DIVSD(b, _FR)
        }
        self.p.MOVSD(_FR, d)
        return
    }

    /* integer division needs RDX:RAX */
    if ins.Op == ir.OP_div {
        self.unsupported(ins)
    }

    /* 64-bit immediates cannot be encoded inline */
    if isImm64(b) {
        self.unsupported(ins)
    }

    /* compute in the scratch register */
    self.p.MOVQ(a, _IR)
    switch ins.Op {
        case ir.OP_add : self.p.ADDQ(b, _IR)
        case ir.OP_sub : self.p.SUBQ(b, _IR)
        case ir.OP_mul : self.mul(b)
    }
    self.p.MOVQ(_IR, d)
}

func (self *_CodeGen) mul(b interface{}) {
    if _, ok := b.(int64); ok {
        self.p.IMULQ(b, _IR, _IR)
    } else {
        self.p.IMULQ(b, _IR)
    }
}

func (self *_CodeGen) test(ins *ir.Instr, a interface{}, b interface{}) {
    if b == nil {
        if isMem(a) {
            self.p.CMPQ(0, a)
        } else {
            self.p.TESTQ(a, a)
        }
    } else if isMem(a) && isMem(b) {
        self.p.MOVQ(a, _IR)
        self.p.CMPQ(b, _IR)
    } else if _, ok := a.(int64); ok {
        self.unsupported(ins)
    } else {
        self.p.CMPQ(b, a)
    }
}

func (self *_CodeGen) brcond(ins *ir.Instr) {
    var b interface{}
    if ins.Src2 != nil {
        b = self.opnd(ins, ins.Src2)
    }

    /* compare to zero, or to the second operand */
    self.test(ins, self.opnd(ins, ins.Src1), b)
    if b == nil {
        self.p.JNE(self.label(ins.Target))
    } else {
        self.p.JE(self.label(ins.Target))
    }
}

func (self *_CodeGen) brmulti(ins *ir.Instr) {
    a := self.opnd(ins, ins.Src1)
    for i, to := range ins.Targets {
        self.test(ins, a, int64(i))
        self.p.JE(self.label(to))
    }
}

func (self *_CodeGen) ret(ins *ir.Instr) {
    if ins.Src1 != nil {
        if v := self.opnd(ins, ins.Src1); v != x86_64.RAX {
            self.p.MOVQ(v, x86_64.RAX)
        }
    }
    self.p.RET()
}

func (self *_CodeGen) call(ins *ir.Instr) {
    if ins.Src1 == nil {
        self.unsupported(ins)
    }

    /* indirect call */
    self.p.CALLQ(self.opnd(ins, ins.Src1))
    if ins.Dst == nil {
        return
    }

    /* the result comes back in RAX */
    if d := self.opnd(ins, ins.Dst); d != x86_64.RAX {
        self.p.MOVQ(x86_64.RAX, d)
    }
}

func (self *_CodeGen) bailout(ins *ir.Instr) {
    if self.bail == nil {
        self.bail = x86_64.CreateLabel("bailout")
    }
    self.test(ins, self.opnd(ins, ins.Src1), nil)
    self.p.JNE(self.bail)
}
