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
    `sync`
)

var (
    allocatorPool sync.Pool
)

func newAllocator() *Allocator {
    if v := allocatorPool.Get(); v == nil {
        return allocAllocator()
    } else {
        return resetAllocator(v.(*Allocator))
    }
}

func freeAllocator(p *Allocator) {
    allocatorPool.Put(p)
}

func allocAllocator() (p *Allocator) {
    p        = new(Allocator)
    p.lts    = make([]_Lifetime, 0, 64)
    p.active = make([]_LtId, 0, 64)
    p.uses   = make([]_TempUse, 0, 4)
    return
}

func resetAllocator(p *Allocator) *Allocator {
    lts     := p.lts[:0]
    ids     := p.bySym[:0]
    rct     := p.content[:0]
    act     := p.active[:0]
    uses    := p.uses[:0]
    samples := p.samples

    /* keep the buffers, drop everything else */
    *p = Allocator{}
    p.lts, p.bySym, p.content, p.active, p.uses = lts, ids, rct, act, uses
    for c := range samples {
        p.samples[c] = samples[c][:0]
    }
    return p
}

func resizeIds(p []_LtId, n int) []_LtId {
    if cap(p) < n {
        p = make([]_LtId, n)
    } else {
        p = p[:n]
    }
    for i := range p {
        p[i] = _NoLt
    }
    return p
}

func resizeLifetimes(p []_Lifetime, n int) []_Lifetime {
    if cap(p) < n {
        return make([]_Lifetime, n)
    } else {
        return p[:n]
    }
}
