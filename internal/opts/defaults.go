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
	"runtime"

	"github.com/xyproto/env/v2"
)

const (
	_DefaultMaxFrameSize = 1 << 20 // 1MB of spill area and locals
)

var (
	SecondChance = boolOrDefault("LSRA_SECOND_CHANCE", true)
	StackPacking = boolOrDefault("LSRA_STACK_PACKING", true)
	EHOpt        = boolOrDefault("LSRA_EH_OPT", true)
	Verify       = boolOrDefault("LSRA_VERIFY", false)
	DebugMode    = boolOrDefault("LSRA_DEBUG", false)
	MaxFrameSize = parseOrDefault("LSRA_MAX_FRAME_SIZE", _DefaultMaxFrameSize, 64)
	Workers      = parseOrDefault("LSRA_WORKERS", runtime.GOMAXPROCS(0), 1)
)

func boolOrDefault(key string, def bool) bool {
	if !env.Has(key) {
		return def
	} else {
		return env.Bool(key)
	}
}

func parseOrDefault(key string, def int, min int) int {
	if !env.Has(key) {
		return def
	} else if ret := env.Int(key, -1); ret < 0 {
		panic("lsra: invalid value for " + key)
	} else if ret < min {
		panic("lsra: value too small for " + key)
	} else {
		return ret
	}
}
