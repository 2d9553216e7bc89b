// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"testing"

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, input map[string]interface{}, out interface{}) error {
	t.Helper()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DecodeHook(),
		Result:     out,
	})
	require.NoError(t, err)
	return decoder.Decode(input)
}

func TestDecodeHookLoggingConfig(t *testing.T) {
	var lc LoggingConfig
	err := decode(t, map[string]interface{}{
		"severity": "debug",
		"format":   "JSON",
	}, &lc)

	require.NoError(t, err)
	assert.Equal(t, DebugLogSeverity, lc.Severity)
	assert.Equal(t, JSONLogFormat, lc.Format)
}

func TestDecodeHookRejectsInvalidSeverity(t *testing.T) {
	var lc LoggingConfig
	err := decode(t, map[string]interface{}{"severity": "CRITICAL"}, &lc)
	assert.Error(t, err)
}

func TestDecodeHookRejectsInvalidFormat(t *testing.T) {
	var lc LoggingConfig
	err := decode(t, map[string]interface{}{"format": "xml"}, &lc)
	assert.Error(t, err)
}

func TestDecodeHookParsesDuration(t *testing.T) {
	var wc WALConfig
	err := decode(t, map[string]interface{}{"group-commit-window": "5ms"}, &wc)
	require.NoError(t, err)
	assert.Equal(t, "5ms", wc.GroupCommitWindow.String())
}
