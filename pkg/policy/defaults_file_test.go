package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := []byte(`
session_timeout_minutes: 25
max_failed_login_attempts: 4
require_special: true
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	got, err := LoadDefaultsFile(path)
	require.NoError(t, err)
	assert.Equal(t, 25, got.SessionTimeoutMinutes)
	assert.Equal(t, 4, got.MaxFailedLoginAttempts)
	assert.True(t, got.RequireSpecial)
	// Omitted fields keep the platform defaults.
	assert.Equal(t, Default().MinPasswordLength, got.MinPasswordLength)
}

func TestLoadDefaultsFileClamps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session_timeout_minutes: 9999\n"), 0644))

	got, err := LoadDefaultsFile(path)
	require.NoError(t, err)
	assert.Equal(t, MaxSessionTimeoutMinutes, got.SessionTimeoutMinutes)
}

func TestLoadDefaultsFileMissing(t *testing.T) {
	_, err := LoadDefaultsFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadDefaultsFileInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))

	_, err := LoadDefaultsFile(path)
	assert.Error(t, err)
}
