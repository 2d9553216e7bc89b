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

package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWorkerCountIsPositive(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultWorkerCount(), uint32(4))
}

func TestResolveStorageDirCreatesMissingDir(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "nested", "storage")

	resolved, err := ResolveStorageDir(target, false)

	require.NoError(t, err)
	assert.Equal(t, target, resolved)
	info, err := os.Stat(resolved)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestResolveStorageDirRejectsEmptyWithoutFallback(t *testing.T) {
	_, err := ResolveStorageDir("", false)
	assert.Error(t, err)
}

func TestResolveStorageDirFallsBackToTmpfs(t *testing.T) {
	resolved, err := ResolveStorageDir("", true)

	require.NoError(t, err)
	assert.NotEmpty(t, resolved)
	info, err := os.Stat(resolved)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	_ = os.RemoveAll(resolved)
}
