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
    `fmt`
    `sort`
    `strings`

    `github.com/obastemur/lsra/internal/ir`
    `github.com/oleiade/lane`
)

// ErrUnnumbered is returned when a branch targets a label that is not part
// of the instruction list, so it never receives a number.
var ErrUnnumbered = errors.New("liveness: branch target is not numbered")

const (
    _MaxLoopDepth = 5
)

// UseCost is the weight of one reference at the given loop depth. References
// inside helper blocks are free.
func UseCost(depth int, helper bool) uint32 {
    if helper {
        return 0
    } else if depth > _MaxLoopDepth {
        return 1 << (3 * _MaxLoopDepth)
    } else {
        return 1 << (3 * uint(depth))
    }
}

// Ref is one reference to a symbol.
type Ref struct {
    Instr  *ir.Instr
    Num    uint32
    Def    bool
    Depth  int
    Helper bool
}

// Range is the lifetime of one symbol: from its first reference to the last
// one, extended over the loops it is live across.
type Range struct {
    Sym         *ir.Sym
    Start       uint32
    End         uint32
    Refs        []Ref
    UseCount    uint32
    CrossesCall bool
    DeadStore   bool
}

// Defs returns the number of definitions.
func (self *Range) Defs() (n int) {
    for _, r := range self.Refs {
        if r.Def {
            n++
        }
    }
    return
}

// NextRef returns the first reference strictly after num, or nil.
func (self *Range) NextRef(num uint32) *Ref {
    i := sort.Search(len(self.Refs), func(i int) bool { return self.Refs[i].Num > num })
    if i == len(self.Refs) {
        return nil
    } else {
        return &self.Refs[i]
    }
}

func (self *Range) String() string {
    return fmt.Sprintf("%s [%d, %d] uses=%d", self.Sym, self.Start, self.End, self.UseCount)
}

// Loop spans from its top label to its last back edge.
type Loop struct {
    Head           *ir.Instr
    Tail           *ir.Instr
    Parent         *Loop
    Depth          int
    LiveOnBackEdge []*ir.Sym
    Defined        map[*ir.Sym]bool
}

func (self *Loop) Start() uint32 {
    return self.Head.Num
}

func (self *Loop) End() uint32 {
    return self.Tail.Num
}

func (self *Loop) Contains(num uint32) bool {
    return num >= self.Head.Num && num <= self.Tail.Num
}

func (self *Loop) String() string {
    return fmt.Sprintf("loop %s [%d, %d] depth=%d", self.Head.Name, self.Start(), self.End(), self.Depth)
}

// Helper is an out-of-line helper block. Target is where control goes when
// the block is done, or nil if it never returns to the main line.
type Helper struct {
    Entry  *ir.Instr
    Last   *ir.Instr
    Target *ir.Instr
}

func (self *Helper) Contains(num uint32) bool {
    return num >= self.Entry.Num && num <= self.Last.Num
}

func (self *Helper) Len() uint32 {
    return self.Last.Num - self.Entry.Num + 1
}

// Result is everything the allocator needs to know about the function before
// the scan starts.
type Result struct {
    Ranges  []*Range
    Loops   []*Loop
    Helpers []*Helper
    Calls   []uint32
    Last    uint32
    syms    map[*ir.Sym]*Range
    loops   map[*ir.Instr]*Loop
    helpers map[*ir.Instr]*Helper
}

func (self *Result) RangeOf(s *ir.Sym) *Range {
    return self.syms[s]
}

// LoopAt returns the loop whose top is the label lb.
func (self *Result) LoopAt(lb *ir.Instr) *Loop {
    return self.loops[lb]
}

// HelperAt returns the helper block entered at the label lb.
func (self *Result) HelperAt(lb *ir.Instr) *Helper {
    return self.helpers[lb]
}

// Depth counts the loops containing num.
func (self *Result) Depth(num uint32) (n int) {
    for _, lp := range self.Loops {
        if lp.Contains(num) {
            n++
        }
    }
    return
}

// InnermostLoop returns the latest-starting loop that contains num.
func (self *Result) InnermostLoop(num uint32) (ret *Loop) {
    for _, lp := range self.Loops {
        if lp.Start() > num {
            break
        } else if lp.Contains(num) {
            ret = lp
        }
    }
    return
}

func (self *Result) HelperOf(num uint32) *Helper {
    for _, hb := range self.Helpers {
        if hb.Contains(num) {
            return hb
        }
    }
    return nil
}

// HelperLength counts the instructions of [from, to] inside helper blocks.
func (self *Result) HelperLength(from uint32, to uint32) (n uint32) {
    for _, hb := range self.Helpers {
        lo, hi := hb.Entry.Num, hb.Last.Num
        if lo < from { lo = from }
        if hi > to { hi = to }
        if lo <= hi {
            n += hi - lo + 1
        }
    }
    return
}

// CallBetween reports whether a call sits strictly inside (from, to).
func (self *Result) CallBetween(from uint32, to uint32) bool {
    i := sort.Search(len(self.Calls), func(i int) bool { return self.Calls[i] > from })
    return i < len(self.Calls) && self.Calls[i] < to
}

func (self *Result) String() string {
    nb := make([]string, 0, len(self.Ranges) + len(self.Loops) + len(self.Helpers))
    for _, lp := range self.Loops {
        nb = append(nb, lp.String())
    }
    for _, hb := range self.Helpers {
        nb = append(nb, fmt.Sprintf("helper %s [%d, %d]", hb.Entry.Name, hb.Entry.Num, hb.Last.Num))
    }
    for _, lr := range self.Ranges {
        nb = append(nb, lr.String())
    }
    return strings.Join(nb, "\n")
}

// Compute numbers the instructions of fn and computes its ranges, loops,
// helper blocks and call sites.
func Compute(fn *ir.Func) (*Result, error) {
    ret := &Result {
        syms    : make(map[*ir.Sym]*Range),
        loops   : make(map[*ir.Instr]*Loop),
        helpers : make(map[*ir.Instr]*Helper),
    }

    /* number every instruction */
    for p := fn.Head; p != nil; p = p.Next {
        ret.Last++
        p.Num = ret.Last
    }

    /* every branch target must be numbered by now */
    for p := fn.Head; p != nil; p = p.Next {
        for _, to := range p.Succs() {
            if to == nil || to.Num == 0 || !to.IsLabel() {
                return nil, fmt.Errorf("%w: %s", ErrUnnumbered, p)
            }
        }
    }

    /* the remaining passes */
    ret.findLoops(fn)
    ret.findHelpers(fn)
    ret.findCalls(fn)
    ret.buildRanges(fn)
    ret.extendLoops()
    ret.finish()
    return ret, nil
}

func (self *Result) findLoops(fn *ir.Func) {
    for p := fn.Head; p != nil; p = p.Next {
        for _, to := range p.Succs() {
            if to.Num <= p.Num {
                if lp, ok := self.loops[to]; ok {
                    lp.Tail = p
                } else {
                    to.Flags |= ir.F_looptop
                    self.loops[to] = &Loop { Head: to, Tail: p, Defined: make(map[*ir.Sym]bool) }
                }
            }
        }
    }

    /* order by start */
    for _, lp := range self.loops {
        self.Loops = append(self.Loops, lp)
    }
    sort.Slice(self.Loops, func(i int, j int) bool {
        return self.Loops[i].Start() < self.Loops[j].Start()
    })

    /* nesting by containment */
    st := lane.NewStack()
    for _, lp := range self.Loops {
        for !st.Empty() && st.Head().(*Loop).End() < lp.Start() {
            st.Pop()
        }
        if st.Empty() {
            lp.Depth = 1
        } else {
            lp.Parent = st.Head().(*Loop)
            lp.Depth = lp.Parent.Depth + 1
        }
        st.Push(lp)
    }
}

func helperTarget(last *ir.Instr) *ir.Instr {
    if last.Op == ir.OP_br {
        return last.Target
    } else if last.HasFallThrough() && last.Next != nil && last.Next.IsLabel() {
        return last.Next
    } else {
        return nil
    }
}

func (self *Result) findHelpers(fn *ir.Func) {
    var hb *Helper
    var prev *ir.Instr

    /* a helper block runs until the next non-helper label */
    for p := fn.Head; p != nil; prev, p = p, p.Next {
        if !p.IsLabel() {
            continue
        }

        /* close the current block */
        if hb != nil {
            hb.Last = prev
            hb.Target = helperTarget(prev)
            hb = nil
        }

        /* open a new one */
        if p.Flags & ir.F_helper != 0 {
            hb = &Helper { Entry: p }
            self.Helpers = append(self.Helpers, hb)
            self.helpers[p] = hb
        }
    }

    /* the last block may run to the end of the function */
    if hb != nil {
        hb.Last = fn.Tail
        hb.Target = helperTarget(fn.Tail)
    }
}

func (self *Result) findCalls(fn *ir.Func) {
    for p := fn.Head; p != nil; p = p.Next {
        if p.Op == ir.OP_call {
            self.Calls = append(self.Calls, p.Num)
        }
    }
}

func (self *Result) ref(ins *ir.Instr, op *ir.RegOpnd, def bool) {
    lr := self.syms[op.Sym]
    if lr == nil {
        lr = &Range { Sym: op.Sym, Start: ins.Num }
        self.syms[op.Sym] = lr
        self.Ranges = append(self.Ranges, lr)
    }

    /* append the reference */
    lr.End = ins.Num
    lr.Refs = append(lr.Refs, Ref {
        Instr  : ins,
        Num    : ins.Num,
        Def    : def,
        Depth  : self.Depth(ins.Num),
        Helper : self.HelperOf(ins.Num) != nil,
    })
}

func (self *Result) buildRanges(fn *ir.Func) {
    for p := fn.Head; p != nil; p = p.Next {
        p.Srcs(func(op *ir.RegOpnd) { self.ref(p, op, false) })

        /* values read by a deoptimization point, if they were ever defined */
        if p.BailOut != nil {
            for _, v := range p.BailOut.Live {
                if self.syms[v.Sym] != nil && !v.Sym.Const {
                    self.ref(p, &ir.RegOpnd { Sym: v.Sym }, false)
                }
            }
        }

        /* the definition comes last */
        if d := p.Def(); d != nil {
            self.ref(p, d, true)
        }
    }
}

func (self *Result) extendLoops() {
    for i := len(self.Loops) - 1; i >= 0; i-- {
        lp := self.Loops[i]
        for _, lr := range self.Ranges {
            first := lr.Refs[0]

            /* live into the loop, or read before written inside it */
            if lr.Start < lp.Start() && lr.End >= lp.Start() {
                if lr.End < lp.End() { lr.End = lp.End() }
            } else if lp.Contains(lr.Start) && !first.Def {
                lr.Start = lp.Start()
                if lr.End < lp.End() { lr.End = lp.End() }
            }
        }
    }

    /* loop summaries */
    for _, lp := range self.Loops {
        for _, lr := range self.Ranges {
            if lr.Start < lp.Start() && lr.End >= lp.End() {
                lp.LiveOnBackEdge = append(lp.LiveOnBackEdge, lr.Sym)
            }
            for _, r := range lr.Refs {
                if r.Def && lp.Contains(r.Num) {
                    lp.Defined[lr.Sym] = true
                    break
                }
            }
        }
    }
}

func (self *Result) finish() {
    for _, lr := range self.Ranges {
        lr.DeadStore = true
        lr.CrossesCall = self.CallBetween(lr.Start, lr.End)

        /* weighted use count */
        for _, r := range lr.Refs {
            lr.UseCount += UseCost(r.Depth, r.Helper)
            lr.DeadStore = lr.DeadStore && r.Def
        }
    }

    /* sort by start, then by symbol */
    sort.SliceStable(self.Ranges, func(i int, j int) bool {
        a, b := self.Ranges[i], self.Ranges[j]
        return a.Start < b.Start || (a.Start == b.Start && a.Sym.Id < b.Sym.Id)
    })
}
