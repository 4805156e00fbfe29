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
    `sort`

    `github.com/obastemur/lsra/internal/ir`
)

// _SlotPool recycles the spill slots of retired lifetimes. Free slots are kept
// sorted by size, a slot is reused only if its last user ended before the new
// one starts.
type _SlotPool struct {
    frame  *ir.Frame
    pack   bool
    free   []*ir.Slot
    fresh  int
    reused int
}

func (self *_SlotPool) init(frame *ir.Frame, pack bool) {
    self.frame  = frame
    self.pack   = pack
    self.free   = self.free[:0]
    self.fresh  = 0
    self.reused = 0
}

func (self *_SlotPool) get(size int32, start uint32, nopack bool) *ir.Slot {
    if self.pack && !nopack {
        i := sort.Search(len(self.free), func(i int) bool { return self.free[i].Size >= size })

        /* best fit among the slots that are no longer in use */
        for ; i < len(self.free); i++ {
            if sl := self.free[i]; sl.LastUse < start {
                self.free = append(self.free[:i], self.free[i + 1:]...)
                self.reused++
                return sl
            }
        }
    }

    /* carve a new one */
    sl, err := self.frame.Alloc(size)
    if err != nil {
        panic(err)
    }

    /* keep the statistics */
    self.fresh++
    return sl
}

func (self *_SlotPool) put(sl *ir.Slot, lastUse uint32) {
    if !self.pack || sl.Fixed {
        return
    }

    /* keep the free list sorted by size, then by offset */
    sl.LastUse = lastUse
    i := sort.Search(len(self.free), func(i int) bool {
        v := self.free[i]
        return v.Size > sl.Size || (v.Size == sl.Size && v.Offset > sl.Offset)
    })

    /* insert the slot */
    self.free = append(self.free, nil)
    copy(self.free[i + 1:], self.free[i:])
    self.free[i] = sl
}
