// Package executor provides system tool implementations.
package executor

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Bash executes a shell command in the task's working directory. No
// privilege isolation beyond the directory scope.
type Bash struct{}

func (t *Bash) Name() string { return "bash" }

func (t *Bash) Execute(ctx context.Context, input map[string]any, workDir string) *Result {
	command, err := stringParam(input, "command")
	if err != nil {
		return Fail(err)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", command)
	default:
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	if workDir != "" {
		cmd.Dir = workDir
	}

	output, runErr := cmd.CombinedOutput()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	var sb strings.Builder
	sb.Write(output)
	if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("exit status %d", exitCode))

	result := &Result{Output: sb.String()}
	result.WithDetail("exit_code", exitCode)
	if runErr != nil {
		if ctx.Err() != nil {
			result.Error = "command cancelled"
		} else if _, isExit := runErr.(*exec.ExitError); isExit {
			result.Error = fmt.Sprintf("command exited with status %d", exitCode)
		} else {
			result.Error = runErr.Error()
		}
	}
	return result
}
