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

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	c := GetDefaultConfig()
	c.Storage.Dir = "/tmp/razorfs-test"
	return c
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	c := validConfig()
	assert.NoError(t, ValidateConfig(&c))
}

func TestValidateConfigRejectsBadLogRotate(t *testing.T) {
	c := validConfig()
	c.Logging.LogRotate.MaxFileSizeMb = 0
	assert.Error(t, ValidateConfig(&c))

	c = validConfig()
	c.Logging.LogRotate.BackupFileCount = -1
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfigRejectsBadWAL(t *testing.T) {
	c := validConfig()
	c.WAL.GroupCommitWindow = -1
	assert.Error(t, ValidateConfig(&c))

	c = validConfig()
	c.WAL.CheckpointThresholdMB = 0
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfigRejectsBadFileData(t *testing.T) {
	c := validConfig()
	c.FileData.CompressionMinRatio = 0
	assert.Error(t, ValidateConfig(&c))

	c = validConfig()
	c.FileData.CompressionMinRatio = 1.5
	assert.Error(t, ValidateConfig(&c))

	c = validConfig()
	c.FileData.CompressionMinSizeBytes = -1
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfigRejectsNoWorkers(t *testing.T) {
	c := validConfig()
	c.FuseAdapter.PriorityWorkers = 0
	c.FuseAdapter.NormalWorkers = 0
	assert.Error(t, ValidateConfig(&c))
}
