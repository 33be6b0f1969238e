package measure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// CommandRunner executes a shell command line and returns its combined
// stdout and stderr. A non-zero exit is reported through exitCode, not err;
// err is reserved for commands that could not be started.
type CommandRunner interface {
	Run(ctx context.Context, command string, env []string) (output string, exitCode int, err error)
}

// ShellRunner runs commands through sh -c.
type ShellRunner struct {
	// Dir is the working directory. Empty means the current directory.
	Dir string
}

// Run implements CommandRunner. env is appended to the process environment.
func (r ShellRunner) Run(ctx context.Context, command string, env []string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), exitErr.ExitCode(), nil
		}
		return out.String(), -1, fmt.Errorf("run %q: %w", command, err)
	}
	return out.String(), 0, nil
}
