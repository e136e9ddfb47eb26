package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"ingest", "run", "current", "history", "diff", "log", "serve", "migrate", "status", "discover"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "report-tracker", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	flag := rootCmd.PersistentFlags().Lookup("output")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)
	assert.Equal(t, "o", flag.Shorthand)
}

func TestIngestCommand_Flags(t *testing.T) {
	for _, name := range []string{"url", "key", "fetched-at", "run-id"} {
		assert.NotNil(t, ingestCmd.Flags().Lookup(name), "ingest should have --%s flag", name)
	}
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("workers")
	require.NotNil(t, flag, "run command should have --workers flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestLogCommand_Flags(t *testing.T) {
	for _, name := range []string{"key", "status", "run-id", "limit", "before"} {
		assert.NotNil(t, logCmd.Flags().Lookup(name), "log should have --%s flag", name)
	}
	assert.Equal(t, "50", logCmd.Flags().Lookup("limit").DefValue)
}

func TestDiscoverCommand_Flags(t *testing.T) {
	for _, name := range []string{"api", "first-page", "last-page", "host", "path", "validate", "workers", "out"} {
		assert.NotNil(t, discoverCmd.Flags().Lookup(name), "discover should have --%s flag", name)
	}
	assert.Equal(t, "/industry-reports/", discoverCmd.Flags().Lookup("path").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestDiffCommand_Args(t *testing.T) {
	assert.Error(t, diffCmd.Args(diffCmd, []string{"payments", "1"}))
	assert.NoError(t, diffCmd.Args(diffCmd, []string{"payments", "1", "2"}))
}
