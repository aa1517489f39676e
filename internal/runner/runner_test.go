package runner

import (
	"context"
	"strings"
	"testing"
)

func TestRunCapturesOutput(t *testing.T) {
	r := New("")

	result, err := r.Run(context.Background(), "echo hello world")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Passed || result.ExitCode != 0 {
		t.Errorf("Expected pass, got %+v", result)
	}
	if !strings.Contains(result.Output, "hello world") {
		t.Errorf("Output = %q", result.Output)
	}
}

func TestRunFailingCommand(t *testing.T) {
	r := New("")

	result, err := r.Run(context.Background(), "false")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Passed || result.ExitCode == 0 {
		t.Errorf("Expected failure, got %+v", result)
	}
}

func TestRunMissingCommand(t *testing.T) {
	r := New("")

	if _, err := r.Run(context.Background(), "no-such-command-xyz"); err == nil {
		t.Error("Expected an error for an unrunnable command")
	}
	if _, err := r.Run(context.Background(), "   "); err == nil {
		t.Error("Expected an error for an empty command")
	}
}

func TestRunWorkDir(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)

	result, err := r.Run(context.Background(), "pwd")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(result.Output, dir) {
		t.Errorf("Output %q does not mention workdir %s", result.Output, dir)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", MaxOutputBytes+100)
	got := Truncate(long, MaxOutputBytes)
	if len(got) >= len(long) {
		t.Error("Truncate did not shorten the output")
	}
	if !strings.HasSuffix(got, "[output truncated]") {
		t.Errorf("Missing truncation marker: ...%s", got[len(got)-30:])
	}

	short := "ok"
	if Truncate(short, MaxOutputBytes) != short {
		t.Error("Truncate modified a short string")
	}
}
