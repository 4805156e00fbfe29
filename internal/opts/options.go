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

package opts

import (
	"io"

	"github.com/obastemur/lsra/internal/ir"
	"github.com/obastemur/lsra/internal/regs"
)

// Crossover selects where the stores of a spilled range go when it still
// has definitions that were never stored.
type Crossover uint8

const (
	CrossoverAuto    Crossover = iota // compare the local store cost against replaying every def
	CrossoverAllDefs                  // always store after every deferred def
	CrossoverSingle                   // always store once at the spill point
)

type Options struct {
	SecondChance   bool
	StackPacking   bool
	EHOpt          bool
	Verify         bool
	DebugMode      bool
	StoreCrossover Crossover
	MaxFrameSize   int
	Workers        int
	Target         *regs.Target
	Legalizer      ir.Legalizer
	Trace          io.Writer
	Diagram        io.Writer
}

// Resolve fills in the collaborators that were not given explicitly.
func (self *Options) Resolve() {
	if self.Target == nil {
		self.Target = regs.Host()
	}
	if self.Legalizer == nil {
		self.Legalizer = ir.DefaultLegalizer(self.Target)
	}
}

func GetDefaultOptions() Options {
	return Options{
		SecondChance:   SecondChance,
		StackPacking:   StackPacking,
		EHOpt:          EHOpt,
		Verify:         Verify,
		DebugMode:      DebugMode,
		StoreCrossover: CrossoverAuto,
		MaxFrameSize:   MaxFrameSize,
		Workers:        Workers,
	}
}
