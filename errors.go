/*
 * Copyright 2021 ByteDance Inc.
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
    `sync/atomic`

    `github.com/obastemur/lsra/internal/ir`
    `github.com/obastemur/lsra/internal/lsra`
)

// ResourceError occures when the stack frame of a function outgrows the
// configured limit. The function cannot be compiled at this tier.
type ResourceError struct {
    Func  string
    Need  int32
    Limit int32
}

func (self ResourceError) Error() string {
    return fmt.Sprintf("lsra: frame of %s needs %d bytes, limit is %d", self.Func, self.Need, self.Limit)
}

// InvariantError occures when the allocator reaches an inconsistent state.
// The caller is expected to fall back to a lower tier.
type InvariantError = lsra.InvariantError

// recoverError converts the panics raised inside the pass into errors, any
// other value is raised again.
func recoverError(name string, v interface{}) error {
    atomic.AddUint64(&lsra.FailCount, 1)
    switch e := v.(type) {
        case *ir.FrameError         : return ResourceError { Func: name, Need: e.Need, Limit: e.Limit }
        case *lsra.InvariantError   : return e
        default                     : panic(v)
    }
}
