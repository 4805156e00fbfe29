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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrDefault(t *testing.T) {
	assert.Equal(t, 4096, parseOrDefault("LSRA_TEST_MISSING", 4096, 64))
	t.Setenv("LSRA_TEST_INT", "128")
	assert.Equal(t, 128, parseOrDefault("LSRA_TEST_INT", 4096, 64))
	t.Setenv("LSRA_TEST_INT", "16")
	assert.PanicsWithValue(t, "lsra: value too small for LSRA_TEST_INT", func() { parseOrDefault("LSRA_TEST_INT", 4096, 64) })
}

func TestBoolOrDefault(t *testing.T) {
	assert.True(t, boolOrDefault("LSRA_TEST_MISSING", true))
	t.Setenv("LSRA_TEST_BOOL", "false")
	assert.False(t, boolOrDefault("LSRA_TEST_BOOL", true))
	t.Setenv("LSRA_TEST_BOOL", "true")
	assert.True(t, boolOrDefault("LSRA_TEST_BOOL", false))
}

func TestOptions_Resolve(t *testing.T) {
	o := GetDefaultOptions()
	o.Resolve()
	require.NotNil(t, o.Target)
	require.NotNil(t, o.Legalizer)
	assert.Equal(t, CrossoverAuto, o.StoreCrossover)
}
