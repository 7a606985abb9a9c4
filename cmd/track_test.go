/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"title=Blue", "count=3", "premium=true", "query=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"title":   "Blue",
		"count":   3.0,
		"premium": true,
		"query":   "a=b",
	}, fields)

	_, err = parseFields([]string{"missing"})
	assert.Error(t, err)

	_, err = parseFields([]string{"=value"})
	assert.Error(t, err)
}

func TestNewCLI_RegistersCommands(t *testing.T) {
	cli := NewCLI()
	names := map[string]bool{}
	for _, c := range cli.cmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"config", "migrate", "queue", "worker", "track", "criteria"} {
		assert.True(t, names[name], name)
	}
}
