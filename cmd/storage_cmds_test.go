// Copyright 2024 Google LLC
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

package cmd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncandio/razorfs/cfg"
)

func writeEmptyFile(path string) error {
	return os.WriteFile(path, nil, 0o644)
}

func TestInitCheckStatLifecycle(t *testing.T) {
	dir := t.TempDir()
	MountCfg = cfg.GetDefaultConfig()
	configFileErr = nil

	require.NoError(t, runInit(initCmd, []string{dir}))
	require.NoError(t, runCheck(checkCmd, []string{dir}))
	require.NoError(t, runStat(statCmd, []string{dir}))
}

func TestInitRefusesNonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	MountCfg = cfg.GetDefaultConfig()
	configFileErr = nil
	require.NoError(t, runInit(initCmd, []string{dir}))

	assert.Error(t, runInit(initCmd, []string{dir}))
}

func TestCheckFailsOnUnwritablePath(t *testing.T) {
	MountCfg = cfg.GetDefaultConfig()
	configFileErr = nil
	// A regular file can never be MkdirAll'd into a storage directory.
	file := t.TempDir() + "/not-a-dir"
	require.NoError(t, writeEmptyFile(file))

	assert.Error(t, runCheck(checkCmd, []string{file + "/sub"}))
}
