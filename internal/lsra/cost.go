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
    `math`
)

const (
    _CostShift = 13
    _MaxCost   = math.MaxUint32
)

// spillCostFor scales the weighted uses by the remaining length of the range.
// More uses cost more, longer ranges cost less.
func spillCostFor(uses uint32, length uint32, base uint32) uint32 {
    v := (uint64(uses) << _CostShift) / (uint64(length) + uint64(base))
    if v > _MaxCost {
        return _MaxCost
    } else {
        return uint32(v)
    }
}

// spillCost estimates what evicting lt at the current position would cost.
func (self *Allocator) spillCost(lt *_Lifetime) uint32 {
    uses := lt.useCount
    local := self.localCost()
    end := lt.end

    /* the deferred stores become real ones */
    if lt.inReg() && !lt.has(LF_everspilled) && len(lt.defs) != 0 {
        if local < lt.allDefsCost {
            uses += local
        } else {
            uses += lt.allDefsCost
        }
    }

    /* a value carried around the loop needs a reload on every iteration */
    if lp := self.loop; lp != nil {
        if self.backEdge[lt.id] && lt.end >= lp.lp.End() {
            uses += local
        }
        if end > lp.lp.End() {
            end = lp.lp.End()
        }
    }

    /* the remaining length, helper blocks excluded */
    length := uint32(1)
    if end >= self.num {
        length = end - self.num + 1
    }
    if n := self.live.HelperLength(self.num, end); n < length {
        length -= n
    } else {
        length = 1
    }

    /* the raw cost */
    cost := spillCostFor(uses, length, self.t.CostBase)
    if lt.state == S_secondchance {
        cost = cost / 5 * 4
    }
    if lt.has(LF_cheapspill) {
        cost /= 2
    }
    if lt.sym.Const {
        cost /= 16
    }
    return cost
}
