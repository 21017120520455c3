package cli

import (
	"context"
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain registers the stubd command so testscript scripts can exec
// it without building a separate binary.
func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"stubd": Main,
	}))
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata",
	})
}

func TestBuildSettingsFlagOverrides(t *testing.T) {
	serveCmd.SetContext(context.Background())
	require.NoError(t, serveCmd.Flags().Set("port", "4280"))
	require.NoError(t, serveCmd.Flags().Set("no-match-status", "501"))
	require.NoError(t, serveCmd.Flags().Set("strict-query", "true"))
	require.NoError(t, serveCmd.Flags().Set("consumer", "checkout"))

	settings, err := buildSettings(serveCmd, nil)
	require.NoError(t, err)

	assert.Equal(t, 4280, settings.Port)
	assert.Equal(t, 501, settings.NoMatchStatus)
	assert.True(t, settings.StrictQuery)
	assert.Equal(t, "checkout", settings.Consumer)
	// Untouched fields keep their defaults.
	assert.Equal(t, "127.0.0.1", settings.Host)
	assert.Equal(t, 5, settings.ShutdownGrace)
}

func TestBuildSettingsEnvOverlay(t *testing.T) {
	t.Setenv("STUBD_LOG_LEVEL", "debug")
	t.Setenv("STUBD_MAX_LOG_ENTRIES", "50")

	serveCmd.SetContext(context.Background())
	settings, err := buildSettings(serveCmd, nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", settings.LogLevel)
	assert.Equal(t, 50, settings.MaxLogEntries)
}

func TestBuildSettingsRejectsInvalid(t *testing.T) {
	t.Setenv("STUBD_NO_MATCH_STATUS", "700")

	serveCmd.SetContext(context.Background())
	// The earlier flag override test may have marked the flag changed;
	// point it back at an invalid value to exercise validation.
	require.NoError(t, serveCmd.Flags().Set("no-match-status", "700"))

	_, err := buildSettings(serveCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "noMatchStatus")
}
