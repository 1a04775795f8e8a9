package runner

import (
	"context"
	"strings"
	"sync"
)

// Handler produces the outcome for a faked command.
type Handler func(cmd Command) (Result, error)

// FakeRunner is a scripted Runner for tests. Handlers are matched by the
// longest registered prefix of "name arg0 arg1 ...". Unmatched commands
// succeed with empty output. Every call is recorded.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Command
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: make(map[string]Handler)}
}

// On registers a handler for commands whose rendered form starts with prefix.
func (f *FakeRunner) On(prefix string, h Handler) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[prefix] = h
	return f
}

// Run implements Runner.
func (f *FakeRunner) Run(_ context.Context, cmd Command) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	rendered := cmd.String()
	var (
		best    string
		handler Handler
	)
	for prefix, h := range f.handlers {
		if strings.HasPrefix(rendered, prefix) && len(prefix) >= len(best) {
			best, handler = prefix, h
		}
	}
	f.mu.Unlock()

	if handler == nil {
		return Result{}, nil
	}
	return handler(cmd)
}

// Calls returns a copy of the recorded commands.
func (f *FakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsMatching returns the recorded commands whose rendered form starts with prefix.
func (f *FakeRunner) CallsMatching(prefix string) []Command {
	var out []Command
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.String(), prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Exit returns a Handler that reports the given exit code and output.
func Exit(code int, stdout, stderr string) Handler {
	return func(Command) (Result, error) {
		return Result{ExitCode: code, Stdout: stdout, Stderr: stderr}, nil
	}
}

// Fail returns a Handler that reports err.
func Fail(err error) Handler {
	return func(Command) (Result, error) {
		return Result{ExitCode: -1}, err
	}
}
