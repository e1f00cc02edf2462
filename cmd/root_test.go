package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"], "serve should be registered")
	require.True(t, names["worker"], "worker should be registered")
}

// The worker subcommand is re-executed by the orchestrator for every
// generation; it must stay out of user-facing help output.
func TestWorkerCommand_Hidden(t *testing.T) {
	require.True(t, workerCmd.Hidden)
}

func TestSetVersion(t *testing.T) {
	prev := version
	t.Cleanup(func() { SetVersion(prev) })

	SetVersion("1.2.3 (commit: abc, built: today)")
	require.Equal(t, "1.2.3 (commit: abc, built: today)", rootCmd.Version)
}
