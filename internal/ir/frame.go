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

    `github.com/obastemur/lsra/internal/regs`
)

/** Frame Structure
 *
 *      FP  ------------------------
 *           local 0                    <- Fixed(0), write-through locals
 *           local 1
 *           ...
 *          ------------------------
 *           spill area                 <- Alloc(size), grows away from FP
 *          ------------------------
 *
 *  Slot offsets are distances from FP into the frame, Offset() turns them into
 *  signed displacements according to the stack direction of the target.
 */

// Slot is a piece of stack storage.
type Slot struct {
    Offset  int32
    Size    int32
    LastUse uint32
    Fixed   bool
}

func (self *Slot) String() string {
    return fmt.Sprintf("slot(%d:%d)", self.Offset, self.Size)
}

// FrameError is returned when the frame cannot grow any more.
type FrameError struct {
    Need  int32
    Limit int32
}

func (self *FrameError) Error() string {
    return fmt.Sprintf("ir: frame too large: need %d bytes, limit is %d", self.Need, self.Limit)
}

type Frame struct {
    Limit  int32
    nlocal int
    slot   int32
    spill  int32
    down   bool
    fixed  map[int]*Slot
    slots  []*Slot
}

// NewFrame creates a frame with room for n interpreter-visible locals. A zero
// limit means unlimited.
func NewFrame(t *regs.Target, n int, limit int32) *Frame {
    return &Frame {
        Limit  : limit,
        nlocal : n,
        slot   : t.SlotSize,
        down   : t.StackGrowsDown,
        fixed  : make(map[int]*Slot),
    }
}

func (self *Frame) locals() int32 {
    return int32(self.nlocal) * self.slot
}

// Fixed returns the slot of an interpreter-visible local.
func (self *Frame) Fixed(local int) *Slot {
    if local < 0 || local >= self.nlocal {
        panic(fmt.Sprintf("ir: local %d out of range [0, %d)", local, self.nlocal))
    }

    /* allocate only once */
    if sl, ok := self.fixed[local]; ok {
        return sl
    }

    /* locals are laid out by their index */
    sl := &Slot {
        Size   : self.slot,
        Fixed  : true,
        Offset : int32(local) * self.slot,
    }

    /* add to slot list */
    self.fixed[local] = sl
    self.slots = append(self.slots, sl)
    return sl
}

// Alloc carves a fresh slot out of the spill area.
func (self *Frame) Alloc(size int32) (*Slot, error) {
    if size <= 0 {
        panic(fmt.Sprintf("ir: invalid slot size: %d", size))
    }

    /* align the slot to its size */
    off := self.locals() + self.spill
    off = (off + size - 1) / size * size

    /* check the frame limit */
    if self.Limit > 0 && off + size > self.Limit {
        return nil, &FrameError { Need: off + size, Limit: self.Limit }
    }

    /* allocate the slot */
    sl := &Slot { Offset: off, Size: size }
    self.spill = off + size - self.locals()
    self.slots = append(self.slots, sl)
    return sl, nil
}

// Size is the total frame size in bytes.
func (self *Frame) Size() int32 {
    return self.locals() + self.spill
}

func (self *Frame) Slots() []*Slot {
    return self.slots
}

// Offset converts a slot into a signed FP-relative displacement.
func (self *Frame) Offset(sl *Slot) int32 {
    if self.down {
        return -(sl.Offset + sl.Size)
    } else {
        return sl.Offset
    }
}
