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

package lsra

import (
	"fmt"
	"io"

	"github.com/obastemur/lsra/internal/ir"
	"github.com/obastemur/lsra/internal/opts"
	"github.com/obastemur/lsra/internal/regs"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

const (
	_MinFrameSize = 64
)

// WithSecondChance controls whether a spilled lifetime may take a register
// back when one becomes free before its next reference.
//
// The default value of this option is "true".
func WithSecondChance(v bool) Option {
	return func(o *opts.Options) { o.SecondChance = v }
}

// WithStackPacking controls whether spill slots of retired lifetimes are
// reused by later ones.
//
// The default value of this option is "true".
func WithStackPacking(v bool) Option {
	return func(o *opts.Options) { o.StackPacking = v }
}

// WithEHOpt lets values live in registers inside exception regions. Every
// definition of such a value is also written to its slot, and registers are
// emptied at region boundaries.
//
// When disabled, values read by a handler stay on the stack for their
// whole lifetime.
//
// The default value of this option is "true".
func WithEHOpt(v bool) Option {
	return func(o *opts.Options) { o.EHOpt = v }
}

// WithVerify cross-checks the allocator tables after every instruction.
// It is slow and meant for tests.
//
// The default value of this option is "false".
func WithVerify(v bool) Option {
	return func(o *opts.Options) { o.Verify = v }
}

// WithDebugMode makes every bail-out record describe every local of every
// active frame, not only the listed ones.
//
// The default value of this option is "false".
func WithDebugMode(v bool) Option {
	return func(o *opts.Options) { o.DebugMode = v }
}

// WithStoreCrossover selects where the stores of a spilled lifetime go.
func WithStoreCrossover(v opts.Crossover) Option {
	if v > opts.CrossoverSingle {
		panic(fmt.Sprintf("lsra: invalid store crossover: %d", v))
	} else {
		return func(o *opts.Options) { o.StoreCrossover = v }
	}
}

// WithMaxFrameSize limits the frame of a function, in bytes. Functions that
// need more fail with ResourceError.
//
// The default value of this option is "1048576".
func WithMaxFrameSize(size int) Option {
	if size < _MinFrameSize {
		panic(fmt.Sprintf("lsra: invalid frame size: %d", size))
	} else {
		return func(o *opts.Options) { o.MaxFrameSize = size }
	}
}

// WithWorkers sets the number of functions AllocateAll works on at once.
//
// The default value of this option is "GOMAXPROCS".
func WithWorkers(n int) Option {
	if n <= 0 {
		panic(fmt.Sprintf("lsra: invalid worker count: %d", n))
	} else {
		return func(o *opts.Options) { o.Workers = n }
	}
}

// WithTarget selects the register file to allocate for. The default is the
// host register file.
func WithTarget(t *regs.Target) Option {
	return func(o *opts.Options) { o.Target = t }
}

// WithLegalizer replaces the operand legality callbacks of the target.
func WithLegalizer(lg ir.Legalizer) Option {
	return func(o *opts.Options) { o.Legalizer = lg }
}

// WithTrace writes every allocation decision to w.
func WithTrace(w io.Writer) Option {
	return func(o *opts.Options) { o.Trace = w }
}

// WithLifetimeDiagram renders the lifetimes of the function as an SVG
// image to w once the allocation is done.
func WithLifetimeDiagram(w io.Writer) Option {
	return func(o *opts.Options) { o.Diagram = w }
}

// SetSecondChance sets the default second chance behavior for all functions
// from now on.
//
// This value can also be configured with the `LSRA_SECOND_CHANCE`
// environment variable.
//
// Returns the old opts.SecondChance value.
func SetSecondChance(v bool) bool {
	v, opts.SecondChance = opts.SecondChance, v
	return v
}

// SetStackPacking sets the default stack packing behavior for all functions
// from now on.
//
// This value can also be configured with the `LSRA_STACK_PACKING`
// environment variable.
//
// Returns the old opts.StackPacking value.
func SetStackPacking(v bool) bool {
	v, opts.StackPacking = opts.StackPacking, v
	return v
}

// SetVerify sets the default verification behavior.
//
// This value can also be configured with the `LSRA_VERIFY` environment
// variable.
//
// Returns the old opts.Verify value.
func SetVerify(v bool) bool {
	v, opts.Verify = opts.Verify, v
	return v
}

// SetMaxFrameSize sets the default frame size limit for all functions from
// now on.
//
// This value can also be configured with the `LSRA_MAX_FRAME_SIZE`
// environment variable.
//
// Returns the old opts.MaxFrameSize value.
func SetMaxFrameSize(size int) int {
	if size < _MinFrameSize {
		panic(fmt.Sprintf("lsra: invalid frame size: %d", size))
	}
	size, opts.MaxFrameSize = opts.MaxFrameSize, size
	return size
}

// SetWorkers sets the default number of workers of AllocateAll.
//
// Returns the old opts.Workers value.
func SetWorkers(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("lsra: invalid worker count: %d", n))
	}
	n, opts.Workers = opts.Workers, n
	return n
}
