package agentloop

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// CommandExecutor runs approved shell commands on behalf of a turn. The loop
// decides whether a command may run; the executor only runs it.
type CommandExecutor interface {
	Exec(ctx context.Context, command []string, cwd string) (*ExecResult, error)
}

// defaultExecTimeout applies when the caller's context has no deadline.
const defaultExecTimeout = 60 * time.Second

// maxExecOutputChars bounds how much command output is fed back to the model.
const maxExecOutputChars = 30000

// sensitiveEnvPatterns are case-insensitive suffixes for environment
// variables that are excluded from child processes.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if safeEnvVars[parts[0]] || !isSensitiveEnvVar(parts[0]) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// LocalCommandExecutor runs commands on the local machine with a filtered
// environment and a process group so timeouts kill the whole tree.
type LocalCommandExecutor struct {
	Timeout time.Duration
}

func (e *LocalCommandExecutor) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return defaultExecTimeout
}

func (e *LocalCommandExecutor) Exec(ctx context.Context, command []string, cwd string) (*ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("exec: empty command")
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = filterEnvironment()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = -1
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("exec: %w", err)
		}
	}

	return result, nil
}

// truncateExecOutput applies head/tail truncation so pathological command
// output cannot blow up the conversation.
func truncateExecOutput(output string) string {
	if len(output) <= maxExecOutputChars {
		return output
	}
	half := maxExecOutputChars / 2
	removed := len(output) - maxExecOutputChars
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: output truncated, %d characters removed from the middle]\n\n", removed) +
		output[len(output)-half:]
}
