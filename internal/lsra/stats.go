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
    `strings`
    `sync/atomic`

    `github.com/obastemur/lsra/internal/regs`
    `gonum.org/v1/gonum/floats`
    `gonum.org/v1/gonum/stat`
)

/* process-wide counters, read by the debug package */
var (
    FuncCount    uint64
    FailCount    uint64
    SpillCount   uint64
    ReloadCount  uint64
    AirlockCount uint64
    SlotCount    uint64
)

// Pressure summarizes the number of occupied registers of one class, sampled
// after every instruction.
type Pressure struct {
    Max    float64
    Mean   float64
    StdDev float64
}

type Stats struct {
    Spills            int
    Reloads           int
    Stores            int
    Remats            int
    MemOperands       int
    SecondChances     int
    Evictions         int
    DeadStores        int
    CompensationMoves int
    Airlocks          int
    Loops             int
    Helpers           int
    HelperSpills      int
    HelperSaves       int
    HelperRestores    int
    BailOuts          int
    SlotsAllocated    int
    SlotsReused       int
    FrameSize         int32
    Pressure          [regs.NumClasses]Pressure
}

func (self *Stats) pressure(samples [regs.NumClasses][]float64) {
    for c, x := range samples {
        if len(x) != 0 {
            self.Pressure[c].Max = floats.Max(x)
            self.Pressure[c].Mean, self.Pressure[c].StdDev = stat.MeanStdDev(x, nil)
        }
    }
}

func (self *Stats) record() {
    atomic.AddUint64(&FuncCount, 1)
    atomic.AddUint64(&SpillCount, uint64(self.Spills))
    atomic.AddUint64(&ReloadCount, uint64(self.Reloads))
    atomic.AddUint64(&AirlockCount, uint64(self.Airlocks))
    atomic.AddUint64(&SlotCount, uint64(self.SlotsAllocated))
}

// Add accumulates other into the receiver, keeping the worst pressure.
func (self *Stats) Add(other *Stats) {
    self.Spills += other.Spills
    self.Reloads += other.Reloads
    self.Stores += other.Stores
    self.Remats += other.Remats
    self.MemOperands += other.MemOperands
    self.SecondChances += other.SecondChances
    self.Evictions += other.Evictions
    self.DeadStores += other.DeadStores
    self.CompensationMoves += other.CompensationMoves
    self.Airlocks += other.Airlocks
    self.Loops += other.Loops
    self.Helpers += other.Helpers
    self.HelperSpills += other.HelperSpills
    self.HelperSaves += other.HelperSaves
    self.HelperRestores += other.HelperRestores
    self.BailOuts += other.BailOuts
    self.SlotsAllocated += other.SlotsAllocated
    self.SlotsReused += other.SlotsReused

    /* the largest frame and the worst pressure */
    if other.FrameSize > self.FrameSize {
        self.FrameSize = other.FrameSize
    }
    for c := range self.Pressure {
        if other.Pressure[c].Max > self.Pressure[c].Max {
            self.Pressure[c] = other.Pressure[c]
        }
    }
}

func (self *Stats) String() string {
    sb := strings.Builder{}
    fmt.Fprintf(&sb, "spills=%d reloads=%d stores=%d remats=%d memops=%d", self.Spills, self.Reloads, self.Stores, self.Remats, self.MemOperands)
    fmt.Fprintf(&sb, " second-chances=%d evictions=%d dead-stores=%d", self.SecondChances, self.Evictions, self.DeadStores)
    fmt.Fprintf(&sb, " compensation=%d airlocks=%d", self.CompensationMoves, self.Airlocks)
    fmt.Fprintf(&sb, " helper-spills=%d saves=%d restores=%d", self.HelperSpills, self.HelperSaves, self.HelperRestores)
    fmt.Fprintf(&sb, " slots=%d/%d frame=%d", self.SlotsAllocated, self.SlotsReused, self.FrameSize)
    for c, p := range self.Pressure {
        fmt.Fprintf(&sb, " %s=%.0f/%.2f", regs.Class(c), p.Max, p.Mean)
    }
    return sb.String()
}
