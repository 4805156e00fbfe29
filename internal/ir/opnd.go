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
    `strings`

    `github.com/obastemur/lsra/internal/regs`
)

// Sym is a symbolic storage location: a virtual register before allocation.
type Sym struct {
    Id           int
    Name         string
    Class        regs.Class
    Size         uint8
    Const        bool
    Value        int64
    Fixed        regs.Reg
    Local        int
    WriteThrough bool
    LiveInEH     bool
    NoPack       bool
    ArgOf        *InlineFrame
    Slot         *Slot
}

// IsTemp reports whether the symbol has no interpreter-visible slot.
func (self *Sym) IsTemp() bool {
    return self.Local < 0
}

func (self *Sym) String() string {
    if self.Name != "" {
        return "%" + self.Name
    } else {
        return fmt.Sprintf("%%t%d", self.Id)
    }
}

type Opnd interface {
    fmt.Stringer
    Format(t *regs.Target) string
}

// RegOpnd is a register operand. Reg is NoReg until the allocator binds it,
// unless the symbol is pinned.
type RegOpnd struct {
    Sym *Sym
    Reg regs.Reg
}

func (self *RegOpnd) Format(t *regs.Target) string {
    if self.Reg == regs.NoReg {
        return self.Sym.String()
    } else if t == nil {
        return fmt.Sprintf("r%d", self.Reg)
    } else {
        return t.Name(self.Reg)
    }
}

func (self *RegOpnd) String() string {
    return self.Format(nil)
}

// IndirOpnd is a memory operand addressed by registers.
type IndirOpnd struct {
    Base  *RegOpnd
    Index *RegOpnd
    Scale uint8
    Disp  int32
}

func (self *IndirOpnd) Format(t *regs.Target) string {
    var nb []string
    if self.Base != nil {
        nb = append(nb, self.Base.Format(t))
    }
    if self.Index != nil {
        nb = append(nb, fmt.Sprintf("%s*%d", self.Index.Format(t), self.Scale))
    }
    return fmt.Sprintf("%d(%s)", self.Disp, strings.Join(nb, "+"))
}

func (self *IndirOpnd) String() string {
    return self.Format(nil)
}

type ImmOpnd struct {
    Value int64
}

func (self *ImmOpnd) Format(_ *regs.Target) string {
    return fmt.Sprintf("$%d", self.Value)
}

func (self *ImmOpnd) String() string {
    return self.Format(nil)
}

// SymOpnd is the stack home of a symbol.
type SymOpnd struct {
    Sym *Sym
}

func (self *SymOpnd) Format(_ *regs.Target) string {
    if self.Sym.Slot == nil {
        return fmt.Sprintf("[%s]", self.Sym)
    } else {
        return fmt.Sprintf("[%s@%d]", self.Sym, self.Sym.Slot.Offset)
    }
}

func (self *SymOpnd) String() string {
    return self.Format(nil)
}

/** Synthetic instructions, always unnumbered **/

func NewLabel(name string) *Instr {
    return &Instr { Op: OP_label, Name: name }
}

func NewBr(to *Instr) *Instr {
    return &Instr { Op: OP_br, Target: to }
}

func NewMove(s *Sym, dst regs.Reg, src regs.Reg) *Instr {
    return &Instr {
        Op   : OP_mov,
        Dst  : &RegOpnd { Sym: s, Reg: dst },
        Src1 : &RegOpnd { Sym: s, Reg: src },
    }
}

func NewLoad(s *Sym, dst regs.Reg) *Instr {
    return &Instr {
        Op   : OP_load,
        Dst  : &RegOpnd { Sym: s, Reg: dst },
        Src1 : &SymOpnd { Sym: s },
    }
}

func NewStore(s *Sym, src regs.Reg) *Instr {
    return &Instr {
        Op   : OP_store,
        Dst  : &SymOpnd { Sym: s },
        Src1 : &RegOpnd { Sym: s, Reg: src },
    }
}

func NewStoreImm(s *Sym, v int64) *Instr {
    return &Instr {
        Op   : OP_store,
        Dst  : &SymOpnd { Sym: s },
        Src1 : &ImmOpnd { Value: v },
    }
}

func NewLoadImm(s *Sym, dst regs.Reg, v int64) *Instr {
    return &Instr {
        Op   : OP_ldimm,
        Dst  : &RegOpnd { Sym: s, Reg: dst },
        Src1 : &ImmOpnd { Value: v },
    }
}

func NewXchg(a *Sym, ra regs.Reg, b *Sym, rb regs.Reg) *Instr {
    return &Instr {
        Op   : OP_xchg,
        Dst  : &RegOpnd { Sym: a, Reg: ra },
        Src1 : &RegOpnd { Sym: b, Reg: rb },
    }
}

func NewNop() *Instr {
    return &Instr { Op: OP_nop }
}
