package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/axd/internal/config"
)

func TestInitConfig_DefaultsAreUsable(t *testing.T) {
	initConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.Defaults().Server.Address, cfg.Server.Address)
	assert.Equal(t, config.Defaults().Observe.MaxConcurrent, cfg.Observe.MaxConcurrent)
	assert.Equal(t, config.Defaults().Pagination.MaxPageSize, cfg.Pagination.MaxPageSize)
}

func TestRootCommand_Verbs(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["daemon"])
	assert.True(t, names["snapshot"])
	assert.True(t, names["windows"])
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3 (commit: abc, built: now)")
	assert.Contains(t, rootCmd.Version, "1.2.3")
}
