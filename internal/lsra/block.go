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
    `github.com/obastemur/lsra/internal/ir`
)

// _FrameState is the stack of inlined frames active in a block. It is never
// modified in place, so blocks may share it freely.
type _FrameState struct {
    frames []*ir.InlineFrame
}

func (self *_FrameState) push(fr *ir.InlineFrame) *_FrameState {
    ret := make([]*ir.InlineFrame, len(self.frames) + 1)
    copy(ret, self.frames)
    ret[len(self.frames)] = fr
    return &_FrameState { ret }
}

func (self *_FrameState) pop(fr *ir.InlineFrame) *_FrameState {
    for i := len(self.frames) - 1; i >= 0; i-- {
        if self.frames[i] == fr {
            return &_FrameState { self.frames[:i:i] }
        }
    }
    return self
}

func (self *_FrameState) has(fr *ir.InlineFrame) bool {
    for _, v := range self.frames {
        if v == fr {
            return true
        }
    }
    return false
}

func (self *_FrameState) clone() *_FrameState {
    return &_FrameState { append([]*ir.InlineFrame(nil), self.frames...) }
}

// _BlockState is what the scan knows about the current basic block.
type _BlockState struct {
    start  *ir.Instr
    frames *_FrameState
}
