package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "discover", "enrich", "committee", "rescore", "export", "migrate", "import-listings"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "opportunity-intel", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
	assert.NotNil(t, serveCmd.Flags().Lookup("no-schedule"))
}

func TestEnrichCommand_Flags(t *testing.T) {
	for name, def := range map[string]string{
		"mode":               "standard",
		"limit":              "100",
		"stale-after":        "168h0m0s",
		"min-attractiveness": "0",
		"locality":           "",
		"id":                 "[]",
	} {
		flag := enrichCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "enrich should have --%s", name)
		assert.Equal(t, def, flag.DefValue, name)
	}
}

func TestDiscoverCommand_Flags(t *testing.T) {
	for _, name := range []string{"locality", "today", "skip-enrichment"} {
		assert.NotNil(t, discoverCmd.Flags().Lookup(name), "discover should have --%s", name)
	}
}

func TestExportCommand_Flags(t *testing.T) {
	flag := exportCmd.Flags().Lookup("out")
	require.NotNil(t, flag)
	assert.Equal(t, "o", flag.Shorthand)
	assert.Equal(t, "opportunities.xlsx", flag.DefValue)
}

func TestImportCommand_Flags(t *testing.T) {
	flag := importCmd.Flags().Lookup("rescore")
	require.NotNil(t, flag)
	assert.Equal(t, "true", flag.DefValue)
	assert.NotNil(t, importCmd.Flags().Lookup("file"))
}
