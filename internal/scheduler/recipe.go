package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/parallel-make/pmk/internal/diag"
)

// runRecipe executes commands in order, each as its own "sh -c" process
// inheriting the caller's environment unchanged. It stops at the first
// command that fails to start or exits non-zero and reports that as the
// target's failure; it never attempts the remaining commands.
//
// Stdout is captured per command and flushed through sink.Output only
// once the whole recipe finishes, rather than streamed line-by-line as
// it's produced: with several targets building at once, streaming would
// interleave unrelated output mid-line, and buffering is what makes the
// sink's output deterministic and easy to assert against in tests.
// Stderr is captured in full to become the failure reason text.
func runRecipe(ctx context.Context, target string, commands []string, dryRun bool, sink diag.Sink) error {
	var stdout bytes.Buffer

	for i, line := range commands {
		sink.Info("%s: %s", target, line)
		if dryRun {
			continue
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", line)
		cmd.Env = os.Environ()
		cmd.Stdout = &stdout
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			sink.Output(target, stdout.String())
			return fmt.Errorf("command %d (%q) failed: %w\n%s", i+1, line, err, stderr.String())
		}
	}

	sink.Output(target, stdout.String())
	return nil
}
