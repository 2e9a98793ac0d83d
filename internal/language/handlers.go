package language

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sandrun-io/sandrun/internal/sandbox"
)

// pythonHandler runs code through the provider's native Python entrypoint.
type pythonHandler struct{}

func (pythonHandler) Execute(ctx context.Context, p sandbox.Provider, sandboxID, code string) (*sandbox.RunResult, error) {
	return p.RunInterpreter(ctx, sandboxID, "python", code)
}

// bashHandler runs the code verbatim as a shell command string.
type bashHandler struct{}

func (bashHandler) Execute(ctx context.Context, p sandbox.Provider, sandboxID, code string) (*sandbox.RunResult, error) {
	return p.RunShell(ctx, sandboxID, code)
}

// nodeHandler writes the code to a per-execution-unique path and runs it with
// node. The unique path matters on session-shared sandboxes where executions
// can overlap.
type nodeHandler struct{}

func (nodeHandler) Execute(ctx context.Context, p sandbox.Provider, sandboxID, code string) (*sandbox.RunResult, error) {
	path := fmt.Sprintf("/tmp/script_%s.js", fileToken())
	if err := p.WriteFile(ctx, sandboxID, path, []byte(code)); err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrWriteFailed, err)
	}
	return p.RunShell(ctx, sandboxID, "node "+path)
}

// cHandler writes the source to a unique path, compiles it with gcc, and runs
// the resulting executable. Compiler failures come back as results, not
// errors: empty stdout, marker-prefixed stderr, the compiler's exit code.
type cHandler struct{}

func (cHandler) Execute(ctx context.Context, p sandbox.Provider, sandboxID, code string) (*sandbox.RunResult, error) {
	token := fileToken()
	source := fmt.Sprintf("/tmp/program_%s.c", token)
	executable := fmt.Sprintf("/tmp/program_%s", token)

	if err := p.WriteFile(ctx, sandboxID, source, []byte(code)); err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrWriteFailed, err)
	}

	compile, err := p.RunShell(ctx, sandboxID, fmt.Sprintf("gcc -o %s %s", executable, source))
	if err != nil {
		return nil, err
	}
	if compile.ExitCode != 0 {
		return &sandbox.RunResult{
			Stdout:   "",
			Stderr:   "Compilation error:\n" + compile.Stderr,
			ExitCode: compile.ExitCode,
		}, nil
	}

	return p.RunShell(ctx, sandboxID, executable)
}

// fileToken returns a short random token for per-execution file names.
func fileToken() string {
	return uuid.NewString()[:8]
}
