/*
 * Copyright 2022 CloudWeGo Authors
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

package debug

import (
	"sync/atomic"

	"github.com/obastemur/lsra/internal/lsra"
)

// A Stats records statistics about the register allocator, accumulated over
// every function allocated by this process.
type Stats struct {
	Funcs AllocStats
	Code  CodeStats
}

// An AllocStats records how many functions were allocated, and how many of
// them failed.
type AllocStats struct {
	Count  int
	Failed int
}

// A CodeStats records the code the allocator inserted.
type CodeStats struct {
	Spills   int
	Reloads  int
	Airlocks int
	Slots    int
}

// GetStats returns statistics of the register allocator.
func GetStats() Stats {
	return Stats{
		Funcs: AllocStats{
			Count:  int(atomic.LoadUint64(&lsra.FuncCount)),
			Failed: int(atomic.LoadUint64(&lsra.FailCount)),
		},
		Code: CodeStats{
			Spills:   int(atomic.LoadUint64(&lsra.SpillCount)),
			Reloads:  int(atomic.LoadUint64(&lsra.ReloadCount)),
			Airlocks: int(atomic.LoadUint64(&lsra.AirlockCount)),
			Slots:    int(atomic.LoadUint64(&lsra.SlotCount)),
		},
	}
}
