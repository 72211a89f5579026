/*
 *	Copyright 2025 The GoMLX Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/made/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSettings is created once: it registers the -set flag.
var testSettings = newSettings()

func TestSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  attack_args: {steps: 3}
  learning_rate: 0.01
fit: {epochs: 10, max_steps: 100}
`), 0o644))

	*testSettings.flag = "epochs=3;adv_eps=0.05;likelihood=gaussian;batch_size=32;run=smoke"
	file, err := testSettings.load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, file.Fit.Epochs)
	assert.Equal(t, 100, file.Fit.MaxSteps, "not set, kept from the file")
	assert.Equal(t, 0.01, file.Model.LearningRate)
	assert.Equal(t, registry.Args{"steps": 3, "eps": 0.05}, file.Model.AttackArgs)
	assert.Equal(t, registry.Args{"likelihood": "gaussian"}, file.Model.CriterionArgs)
	require.NotNil(t, file.Data.BatchSize)
	assert.Equal(t, 32, *file.Data.BatchSize)
	assert.Equal(t, "smoke", file.Metrics.Run)

	*testSettings.flag = "unknown_param=1"
	_, err = testSettings.load("")
	require.Error(t, err)
	*testSettings.flag = ""
}
