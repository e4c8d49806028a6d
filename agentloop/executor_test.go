package agentloop

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecutorCapturesOutput(t *testing.T) {
	exec := &LocalCommandExecutor{}
	result, err := exec.Exec(context.Background(), []string{"sh", "-c", "echo out; echo err >&2"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.TimedOut)
}

func TestLocalExecutorExitCode(t *testing.T) {
	exec := &LocalCommandExecutor{}
	result, err := exec.Exec(context.Background(), []string{"sh", "-c", "exit 3"}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestLocalExecutorTimeout(t *testing.T) {
	exec := &LocalCommandExecutor{Timeout: 100 * time.Millisecond}
	result, err := exec.Exec(context.Background(), []string{"sleep", "10"}, "")
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
}

func TestLocalExecutorRunsInGivenDir(t *testing.T) {
	dir := t.TempDir()
	exec := &LocalCommandExecutor{}
	result, err := exec.Exec(context.Background(), []string{"pwd"}, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, strings.TrimSpace(result.Stdout))
}

func TestLocalExecutorEmptyCommand(t *testing.T) {
	exec := &LocalCommandExecutor{}
	_, err := exec.Exec(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestLocalExecutorFiltersSensitiveEnv(t *testing.T) {
	t.Setenv("DEPLOY_API_KEY", "hunter2")
	t.Setenv("DEPLOY_REGION", "us-east-1")

	exec := &LocalCommandExecutor{}
	result, err := exec.Exec(context.Background(), []string{"env"}, "")
	require.NoError(t, err)
	assert.NotContains(t, result.Stdout, "hunter2")
	assert.Contains(t, result.Stdout, "DEPLOY_REGION=us-east-1")
}

func TestIsSensitiveEnvVar(t *testing.T) {
	assert.True(t, isSensitiveEnvVar("OPENAI_API_KEY"))
	assert.True(t, isSensitiveEnvVar("db_password"))
	assert.True(t, isSensitiveEnvVar("GITHUB_TOKEN"))
	assert.False(t, isSensitiveEnvVar("PATH"))
	assert.False(t, isSensitiveEnvVar("EDITOR"))
}

func TestExecResultOutputCombines(t *testing.T) {
	assert.Equal(t, "out", ExecResult{Stdout: "out"}.Output())
	assert.Equal(t, "err", ExecResult{Stderr: "err"}.Output())
	assert.Equal(t, "out\nerr", ExecResult{Stdout: "out", Stderr: "err"}.Output())
}

func TestTruncateExecOutput(t *testing.T) {
	short := strings.Repeat("a", 100)
	assert.Equal(t, short, truncateExecOutput(short))

	long := strings.Repeat("a", maxExecOutputChars) + strings.Repeat("b", maxExecOutputChars)
	truncated := truncateExecOutput(long)
	assert.Less(t, len(truncated), len(long))
	assert.Contains(t, truncated, "output truncated")
	assert.True(t, strings.HasPrefix(truncated, "a"))
	assert.True(t, strings.HasSuffix(truncated, "b"))
}
