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
    `fmt`
    `io`

    `github.com/ajstarks/svgo`
    `github.com/obastemur/lsra/internal/ir`
    `github.com/obastemur/lsra/internal/regs`
)

// DrawLifetimes renders the lifetimes of an allocated function as an SVG
// diagram: one row per numbered instruction, one column per lifetime. Thin
// gray lines are stretches on the stack, thick ones are in a register.
func DrawLifetimes(w io.Writer, fn *ir.Func, t *regs.Target, lts []LifetimeSummary) {
    maxi := 0
    rows := make(map[uint32]int)
    lines := make([]*ir.Instr, 0, 64)

    /* collect the numbered instructions */
    for p := fn.Head; p != nil; p = p.Next {
        if p.Num != 0 {
            s := fmt.Sprintf("%06d %s", p.Num, p.Format(t))
            if len(s) > maxi {
                maxi = len(s)
            }
            rows[p.Num] = 95 + len(lines) * 24
            lines = append(lines, p)
        }
    }

    /* the row of an instruction number, numbers of removed ones included */
    row := func(num uint32) int {
        for ; num > 0; num-- {
            if y, ok := rows[num]; ok {
                return y
            }
        }
        return 95
    }

    /* canvas */
    insw := maxi * 9 + 40
    colw := 72
    p := svg.New(w)
    p.Start(insw + len(lts) * colw + 100, len(lines) * 24 + 100)
    p.Rect(0, 0, insw + len(lts) * colw + 100, len(lines) * 24 + 100, "fill:white")

    /* instructions */
    for i, ins := range lines {
        h := 95 + i * 24
        p.Text(insw, h + 5, fmt.Sprintf("%06d %s", ins.Num, ins.Format(t)), "fill:black;font-size:16px;font-family:monospace;text-anchor:end")
        p.Line(insw + 10, h, insw + len(lts) * colw + 50, h, "stroke:lightgray")
    }

    /* lifetimes */
    for i, lt := range lts {
        x := insw + i * colw + 50
        p.Text(x, 70, lt.Sym.Name, "fill:black;font-size:16px;font-family:monospace;text-anchor:middle")
        p.Line(x, row(lt.Start), x, row(lt.End), "stroke:gray;stroke-width:1")

        /* register segments */
        for _, s := range lt.Segments {
            y0, y1 := row(s.From), row(s.To)
            p.Line(x, y0, x, y1, "stroke:black;stroke-width:4")
            p.Text(x + 6, (y0 + y1) / 2 + 5, t.Name(s.Reg), "fill:blue;font-size:12px;font-family:monospace")
        }

        /* definition and end points */
        p.Circle(x, row(lt.Start), 4, "fill:white;stroke:black;stroke-width:2")
        p.Circle(x, row(lt.End), 4, "fill:black;stroke:black;stroke-width:2")
    }
    p.End()
}
