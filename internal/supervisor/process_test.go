// ABOUTME: Tests for the exec launcher and bounded output capture
// ABOUTME: Uses short-lived shell commands for real-process coverage

package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecLauncher_MissingCommand(t *testing.T) {
	_, err := ExecLauncher{}.Start(context.Background(), ProcessSpec{
		Name:    "ghost",
		Command: "definitely-not-a-real-binary-xyz",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestExecLauncher_CapturesOutputAndExit(t *testing.T) {
	h, err := ExecLauncher{}.Start(context.Background(), ProcessSpec{
		Name:    "echoer",
		Command: "sh",
		Args:    []string{"-c", "echo captured-line"},
	})
	require.NoError(t, err)
	require.NotZero(t, h.PID())

	require.True(t, h.WaitExit(5*time.Second))
	assert.False(t, h.Alive())
	assert.Contains(t, h.OutputTail(), "captured-line")
}

func TestExecLauncher_TerminateStopsProcess(t *testing.T) {
	h, err := ExecLauncher{}.Start(context.Background(), ProcessSpec{
		Name:    "sleeper",
		Command: "sleep",
		Args:    []string{"60"},
	})
	require.NoError(t, err)
	require.True(t, h.Alive())

	require.NoError(t, h.Terminate())
	require.True(t, h.WaitExit(5*time.Second))
	assert.False(t, h.Alive())
}

func TestTailBuffer_KeepsOnlyTail(t *testing.T) {
	tb := newTailBuffer(16)
	_, err := tb.Write([]byte(strings.Repeat("a", 20)))
	require.NoError(t, err)
	_, err = tb.Write([]byte("ending"))
	require.NoError(t, err)

	out := tb.String()
	assert.Len(t, out, 16)
	assert.True(t, strings.HasSuffix(out, "ending"))
}
