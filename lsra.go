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
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/obastemur/lsra/internal/ir"
	"github.com/obastemur/lsra/internal/liveness"
	"github.com/obastemur/lsra/internal/lsra"
	"github.com/obastemur/lsra/internal/opts"
	"github.com/obastemur/lsra/internal/regs"
)

type (
	Func            = ir.Func
	Builder         = ir.Builder
	Target          = regs.Target
	Stats           = lsra.Stats
	LifetimeSummary = lsra.LifetimeSummary
)

// NewBuilder starts a new function for the target t.
func NewBuilder(name string, t *Target) *Builder {
	return ir.NewBuilder(name, t)
}

// Result is the outcome of allocating one function. The function itself is
// rewritten in place.
type Result struct {
	Func      *Func
	Stats     Stats
	Lifetimes []LifetimeSummary
}

func optionsOf(v []Option) opts.Options {
	o := opts.GetDefaultOptions()
	for _, fn := range v {
		fn(&o)
	}
	o.Resolve()
	return o
}

// Allocate assigns registers to every symbol of fn, inserting the spill,
// reload and compensation code it needs, and fills in fn.BailOuts.
//
// A frame that outgrows its limit fails with ResourceError, an internal
// inconsistency fails with *InvariantError. In both cases fn is left in an
// unspecified state and should be compiled by a lower tier.
func Allocate(fn *Func, options ...Option) (*Result, error) {
	o := optionsOf(options)
	return allocate(fn, &o)
}

func allocate(fn *Func, o *opts.Options) (ret *Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			ret, err = nil, recoverError(fn.Name, v)
		}
	}()

	/* lifetimes, loops and helper blocks */
	live, err := computeLiveness(fn)
	if err != nil {
		return nil, err
	}

	/* run the allocator */
	res := lsra.Run(fn, live, o)
	return &Result{Func: fn, Stats: res.Stats, Lifetimes: res.Lifetimes}, nil
}

// computeLiveness reports a crash of the analysis as an InvariantError, so
// the caller falls back to a lower tier like for any other internal failure.
func computeLiveness(fn *Func) (ret *liveness.Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			panic(&lsra.InvariantError{Func: fn.Name, Reason: fmt.Sprintf("liveness: %v", v)})
		}
	}()
	return liveness.Compute(fn)
}

// AllocateAll allocates independent functions concurrently, at most
// Options.Workers of them at once. Results are in the order of fns. Once ctx
// is cancelled, functions that have not started yet are skipped and the
// context error is returned.
func AllocateAll(ctx context.Context, fns []*Func, options ...Option) ([]*Result, error) {
	o := optionsOf(options)
	wg := sync.WaitGroup{}
	ret := make([]*Result, len(fns))
	errs := make([]error, len(fns))
	pool := gopool.NewPool("lsra", int32(o.Workers), gopool.NewConfig())

	/* schedule every function */
	for i, fn := range fns {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}

		/* each worker gets its own copy of the options */
		i, fn := i, fn
		wg.Add(1)
		pool.CtxGo(ctx, func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = err
			} else {
				oc := o
				ret[i], errs[i] = allocate(fn, &oc)
			}
		})
	}

	/* the first error wins */
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return ret, err
		}
	}
	return ret, nil
}
