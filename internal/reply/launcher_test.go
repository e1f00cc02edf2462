//go:build !windows

package reply

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shFactory runs a shell script in place of the real worker binary.
func shFactory(script string) CommandFactoryFunc {
	return func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
}

func launchScript(t *testing.T, script string) WorkerHandle {
	t.Helper()
	l, err := NewExecLauncher()
	require.NoError(t, err)
	l.WithCommandFactory(shFactory(script))

	h, err := l.Launch(context.Background(), WorkerRequest{
		MessageID:    1,
		DatabasePath: "/tmp/unused.db",
	})
	require.NoError(t, err)
	return h
}

func TestExecLauncher_DeliversResult(t *testing.T) {
	h := launchScript(t, `read line; echo '{"ok":true,"text":"hi"}'`)

	select {
	case res, ok := <-h.Results():
		require.True(t, ok)
		assert.True(t, res.OK)
		assert.Equal(t, "hi", res.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("no result from worker")
	}

	// After the result, the channel closes once the process is reaped.
	select {
	case _, ok := <-h.Results():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("results channel never closed")
	}
	assert.False(t, h.Alive())
}

func TestExecLauncher_CrashClosesWithoutResult(t *testing.T) {
	h := launchScript(t, `exit 3`)

	select {
	case _, ok := <-h.Results():
		assert.False(t, ok, "crashed worker must not deliver a result")
	case <-time.After(5 * time.Second):
		t.Fatal("results channel never closed")
	}
}

func TestExecLauncher_IgnoresStdoutNoise(t *testing.T) {
	h := launchScript(t, `echo "stray print"; echo '{"ok":false,"error":"bad prompt"}'`)

	select {
	case res, ok := <-h.Results():
		require.True(t, ok)
		assert.False(t, res.OK)
		assert.Equal(t, "bad prompt", res.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("no result from worker")
	}
}

func TestExecLauncher_ReceivesRequestOnStdin(t *testing.T) {
	// The script echoes the request back as the result text.
	h := launchScript(t, `read line; printf '{"ok":true,"text":"got request"}\n'; echo "$line" >&2`)

	select {
	case res, ok := <-h.Results():
		require.True(t, ok)
		assert.Equal(t, "got request", res.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("no result from worker")
	}
}

func TestExecLauncher_TerminateStopsWorker(t *testing.T) {
	// exec replaces the shell so the signal lands on the only process
	// holding the stdout pipe.
	h := launchScript(t, `exec sleep 30`)

	require.Eventually(t, func() bool { return h.Alive() }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, h.Terminate())

	select {
	case _, ok := <-h.Results():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		_ = h.Kill()
		t.Fatal("worker survived terminate")
	}
}

func TestExecLauncher_KillStopsStubbornWorker(t *testing.T) {
	h := launchScript(t, `exec sleep 30`)

	require.Eventually(t, func() bool { return h.Alive() }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, h.Kill())

	select {
	case _, ok := <-h.Results():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("worker survived kill")
	}
	assert.False(t, h.Alive())
}

func TestIsProcessAlive(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	assert.True(t, isProcessAlive(pid))

	require.NoError(t, cmd.Process.Kill())
	_ = cmd.Wait()

	assert.False(t, isProcessAlive(pid))
}
