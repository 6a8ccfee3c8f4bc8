package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmaintain/dbmaintain/internal/config"
)

func TestInitConfigWritesLoadableSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, initConfigCmd([]string{"-path", path}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.DefaultDatabase().Name)

	assert.ErrorContains(t, initConfigCmd([]string{"-path", path}), "already exists")
}

func TestTokenCmdNeedsKeyAndValidRole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config.Sample()), 0o644))

	assert.ErrorContains(t, tokenCmd([]string{"-config", path, "-subject", "ci"}), "required")
	assert.Error(t, tokenCmd([]string{"-config", path, "-subject", "ci", "-role", "admin"}))
	assert.ErrorContains(t, tokenCmd([]string{"-config", path}), "--subject")

	key := make([]byte, 32)
	t.Setenv("DBMAINTAIN_API_KEY", base64.StdEncoding.EncodeToString(key))
	require.NoError(t, tokenCmd([]string{"-config", path, "-subject", "ci", "-role", "operator"}))
}

func TestEncryptPasswordNeedsSecretKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config.Sample()), 0o644))
	assert.ErrorContains(t, encryptPasswordCmd([]string{"-config", path}), "secret_key")
}
