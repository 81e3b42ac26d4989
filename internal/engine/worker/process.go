package worker

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// processTransport is a Transport backed by a real child process.
type processTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *processTransport) Stdin() io.Writer  { return p.stdin }
func (p *processTransport) Stdout() io.Reader { return p.stdout }

func (p *processTransport) Close() error {
	p.stdin.Close()
	p.stdout.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return p.cmd.Wait()
}

// ProcessSpawner builds a SpawnFunc that launches binaryPath with the
// given arguments and extra environment entries ("KEY=VALUE").
func ProcessSpawner(binaryPath string, args []string, extraEnv []string) SpawnFunc {
	return func() (Transport, error) {
		cmd := exec.Command(binaryPath, args...)
		cmd.Env = append(os.Environ(), extraEnv...)
		cmd.Stderr = nil

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("worker stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			stdin.Close()
			return nil, fmt.Errorf("worker stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			stdin.Close()
			stdout.Close()
			return nil, fmt.Errorf("launch worker at %q: %w", binaryPath, err)
		}
		return &processTransport{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
}
