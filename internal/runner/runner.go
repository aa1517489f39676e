// Package runner executes the external verification command for a
// validation pass. The monitor does not interpret what it runs; only the
// exit status and captured output matter.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// MaxOutputBytes bounds the captured output kept in validation notes.
const MaxOutputBytes = 4096

// Result holds the outcome of one verification run.
type Result struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	Passed   bool   `json:"passed"`
}

// Runner executes commands in a fixed working directory.
type Runner struct {
	workDir string
}

// New creates a Runner. An empty workDir means the current directory.
func New(workDir string) *Runner {
	return &Runner{workDir: workDir}
}

// Run executes command, mapping its exit code to pass/fail and capturing
// combined output truncated to MaxOutputBytes. A command that cannot be
// started at all is an error; a command that runs and fails is a Result
// with Passed=false.
func (r *Runner) Run(ctx context.Context, command string) (*Result, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	execCmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	if r.workDir != "" {
		execCmd.Dir = r.workDir
	}

	var output bytes.Buffer
	execCmd.Stdout = &output
	execCmd.Stderr = &output

	err := execCmd.Run()

	exitCode := 0
	if err != nil {
		exitError, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("exec error: %w", err)
		}
		exitCode = exitError.ExitCode()
	}

	return &Result{
		Command:  command,
		ExitCode: exitCode,
		Output:   Truncate(output.String(), MaxOutputBytes),
		Passed:   exitCode == 0,
	}, nil
}

// Truncate caps s at n bytes, marking the cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... [output truncated]"
}
