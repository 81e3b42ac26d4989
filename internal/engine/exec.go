package engine

import (
	"context"
	"os/exec"
)

// commandContext is swappable in tests so subprocess behavior can be
// exercised without a real recognition binary.
var commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}
