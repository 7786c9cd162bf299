package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "migrate", "import", "maintain", "runs", "monitor"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "vmp", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	flag := rootCmd.PersistentFlags().Lookup("policy")
	require.NotNil(t, flag, "root command should have --policy flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestMaintainCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range maintainCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"dedup-locations", "verify-dedup", "refresh-counts", "enrich-locations", "recalc-confidence", "export"}
	for _, name := range expected {
		assert.True(t, names[name], "expected maintain subcommand %q not found", name)
	}
}

func TestMaintainJobs_DefaultToDryRun(t *testing.T) {
	for _, c := range maintainCmd.Commands() {
		if c.Name() == "export" {
			continue
		}
		flag := c.Flags().Lookup("apply")
		require.NotNil(t, flag, "%s should have --apply flag", c.Name())
		assert.Equal(t, "false", flag.DefValue, c.Name())
		require.NotNil(t, c.Flags().Lookup("batch"), c.Name())
	}
}

func TestImportCommand_Args(t *testing.T) {
	require.NotNil(t, importCmd.Flags().Lookup("file"))
	require.NotNil(t, importCmd.Flags().Lookup("dry-run"))

	assert.NoError(t, importCmd.Args(importCmd, []string{"plans"}))
	assert.Error(t, importCmd.Args(importCmd, []string{"companies"}))
	assert.Error(t, importCmd.Args(importCmd, nil))
}

func TestMonitorCommand_HasCheck(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range monitorCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["check"])
	require.NotNil(t, monitorCheckCmd.Flags().Lookup("no-send"))
}
