package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validWorkflow = `
name: sample
steps:
  - id: only
    code: "result = 1"
`

const invalidWorkflow = `
name: broken
steps:
  - id: only
    code: "import os"
`

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validWorkflow), 0o644))

	name, steps, err := validateFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sample", name)
	assert.Equal(t, 1, steps)

	bad := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(invalidWorkflow), 0o644))
	_, _, err = validateFile(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script rejected")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.yaml"), []byte(validWorkflow), 0o644))

	var out bytes.Buffer
	validateCmd.SetOut(&out)
	validateCmd.SetErr(&out)
	validateCmd.SetArgs(nil)

	err := validateCmd.RunE(validateCmd, []string{dir})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "sample")
	assert.Contains(t, out.String(), "All 1 files valid")
}

func TestValidateCommandFailsOnInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(invalidWorkflow), 0o644))

	var out bytes.Buffer
	validateCmd.SetOut(&out)
	err := validateCmd.RunE(validateCmd, []string{dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 files invalid")
}
