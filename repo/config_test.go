package repo

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	tempDir := t.TempDir()

	r, err := Load(tempDir)
	require.Nil(t, err)
	assert.True(t, Exist(filepath.Join(tempDir, cfgFileName)))
	assert.Equal(t, tempDir, r.Config.RepoRoot)
	assert.Equal(t, 7*24*time.Hour, r.Config.DAO.ProposalPeriod)
	assert.Equal(t, "info", r.Config.Log.Level)
}

func TestFlushRoundTrip(t *testing.T) {
	tempDir := t.TempDir()

	r, err := Load(tempDir)
	require.Nil(t, err)

	r.Config.DAO.Council = []string{"alice", "bob"}
	r.Config.DAO.ProposalBond = "42"
	r.Config.Executor.ReceiptRetries = 7
	require.Nil(t, r.Flush())

	loaded, err := Load(tempDir)
	require.Nil(t, err)
	assert.Equal(t, []string{"alice", "bob"}, loaded.Config.DAO.Council)
	assert.Equal(t, "42", loaded.Config.DAO.ProposalBond)
	assert.Equal(t, uint(7), loaded.Config.Executor.ReceiptRetries)
	assert.Equal(t, r.Config.DAO.BountyForgivenessPeriod, loaded.Config.DAO.BountyForgivenessPeriod)
}

func TestEnvOverride(t *testing.T) {
	tempDir := t.TempDir()

	_, err := Load(tempDir)
	require.Nil(t, err)

	t.Setenv("TREASURY_LOG_LEVEL", "debug")
	loaded, err := Load(tempDir)
	require.Nil(t, err)
	assert.Equal(t, "debug", loaded.Config.Log.Level)
}

func TestLoadRepoRootFromEnv(t *testing.T) {
	p, err := LoadRepoRootFromEnv("/explicit")
	require.Nil(t, err)
	assert.Equal(t, "/explicit", p)

	t.Setenv(rootPathEnvVar, "/from/env")
	p, err = LoadRepoRootFromEnv("")
	require.Nil(t, err)
	assert.Equal(t, "/from/env", p)
}

func TestMarshalConfig(t *testing.T) {
	raw, err := MarshalConfig(DefaultConfig("/tmp/treasury"))
	require.Nil(t, err)
	assert.Contains(t, raw, "proposal_bond")
	assert.Contains(t, raw, "receipt_poll_interval")
	assert.NotContains(t, raw, "/tmp/treasury")
}

func TestValidate(t *testing.T) {
	assert.Nil(t, DefaultConfig(t.TempDir()).Validate())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"no account", func(c *Config) { c.DAO.AccountID = "" }},
		{"bad bond", func(c *Config) { c.DAO.ProposalBond = "1e18" }},
		{"bad bounty bond", func(c *Config) { c.DAO.BountyBond = "ten" }},
		{"missing policy file", func(c *Config) { c.DAO.PolicyFile = filepath.Join(c.RepoRoot, "policy.yaml") }},
		{"bad listen addr", func(c *Config) { c.API.ListenAddr = "9191" }},
		{"no receipt retries", func(c *Config) { c.Executor.ReceiptRetries = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig(t.TempDir())
			tt.modify(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigPaths(t *testing.T) {
	c := DefaultConfig("/srv/treasury")
	assert.Equal(t, "/srv/treasury/leveldb", c.LevelDBPath())
	assert.Equal(t, "/srv/treasury/download", c.DownloadPath())
	assert.Equal(t, "/srv/treasury/logs", c.LogsPath())
}
