package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/anvil/pkg/runner"
	"github.com/entrhq/anvil/pkg/scoring"
)

func boolPtr(b bool) *bool { return &b }

func TestGate_Run(t *testing.T) {
	tests := []struct {
		name          string
		configs       []CheckConfig
		setup         func(f *runner.FakeRunner)
		wantAllPassed bool
		wantFailed    []string
	}{
		{
			name:          "no checks",
			wantAllPassed: true,
		},
		{
			name: "all checks pass",
			configs: []CheckConfig{
				{Name: "lint", Command: []string{"golangci-lint", "run"}},
				{Name: "test", Command: []string{"go", "test", "./..."}},
			},
			wantAllPassed: true,
		},
		{
			name: "required check fails",
			configs: []CheckConfig{
				{Name: "lint", Command: []string{"golangci-lint", "run"}},
				{Name: "test", Command: []string{"go", "test", "./..."}},
			},
			setup: func(f *runner.FakeRunner) {
				f.On("go test", runner.Exit(1, "--- FAIL: TestX", ""))
			},
			wantAllPassed: false,
			wantFailed:    []string{"test"},
		},
		{
			name: "optional check fails",
			configs: []CheckConfig{
				{Name: "lint", Command: []string{"golangci-lint", "run"}, Required: boolPtr(false)},
				{Name: "test", Command: []string{"go", "test", "./..."}},
			},
			setup: func(f *runner.FakeRunner) {
				f.On("golangci-lint", runner.Exit(1, "", "issues found"))
			},
			wantAllPassed: true,
		},
		{
			name: "no short circuit",
			configs: []CheckConfig{
				{Name: "lint", Command: []string{"golangci-lint", "run"}},
				{Name: "vet", Command: []string{"go", "vet", "./..."}},
				{Name: "test", Command: []string{"go", "test", "./..."}},
			},
			setup: func(f *runner.FakeRunner) {
				f.On("golangci-lint", runner.Exit(1, "a.go:1: bad", ""))
				f.On("go test", runner.Exit(2, "", "build failed"))
			},
			wantAllPassed: false,
			wantFailed:    []string{"lint", "test"},
		},
		{
			name: "timeout is a failure",
			configs: []CheckConfig{
				{Name: "test", Command: []string{"go", "test", "./..."}},
			},
			setup: func(f *runner.FakeRunner) {
				f.On("go test", runner.Fail(&runner.TimeoutError{Command: "go test ./...", Timeout: time.Second}))
			},
			wantAllPassed: false,
			wantFailed:    []string{"test"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := runner.NewFakeRunner()
			if tt.setup != nil {
				tt.setup(fake)
			}
			g := New(CommandChecks(tt.configs, time.Minute, fake), 0)

			results := g.Run(context.Background(), Snapshot{WorkDir: t.TempDir()})

			assert.Equal(t, tt.wantAllPassed, results.AllPassed)
			require.Len(t, results.Results, len(tt.configs))
			for i, cfg := range tt.configs {
				assert.Equal(t, cfg.Name, results.Results[i].Name, "results keep configuration order")
			}
			assert.Len(t, fake.Calls(), len(tt.configs), "every check runs")

			var failed []string
			for _, f := range results.Failed() {
				failed = append(failed, f.Name)
			}
			assert.Equal(t, tt.wantFailed, failed)

			if tt.wantAllPassed {
				assert.NoError(t, results.Err())
				return
			}
			var gateErr *QualityGateError
			require.ErrorAs(t, results.Err(), &gateErr)
			assert.False(t, gateErr.Boundary())
		})
	}
}

func TestGate_TruncatesDiagnostics(t *testing.T) {
	var out strings.Builder
	for i := 1; i <= 25; i++ {
		fmt.Fprintf(&out, "line %d\n\n", i)
	}
	fake := runner.NewFakeRunner().On("lint", runner.Exit(1, out.String(), ""))
	g := New(CommandChecks([]CheckConfig{{Name: "lint", Command: []string{"lint"}}}, time.Minute, fake), 3)

	results := g.Run(context.Background(), Snapshot{})

	require.Len(t, results.Results, 1)
	assert.Equal(t, []string{"line 1", "line 2", "line 3"}, results.Results[0].Diagnostics)
	assert.Contains(t, results.FormatLog(), "check lint failed (required, exit 1)")
	assert.Contains(t, results.FormatLog(), "| line 3")
	assert.NotContains(t, results.FormatLog(), "line 4")
}

func TestGate_PassesWorkDirAndTimeout(t *testing.T) {
	fake := runner.NewFakeRunner()
	g := New(CommandChecks([]CheckConfig{
		{Name: "a", Command: []string{"a"}},
		{Name: "b", Command: []string{"b"}, Timeout: 5 * time.Second},
	}, time.Minute, fake), 0)

	g.Run(context.Background(), Snapshot{WorkDir: "/work"})

	a := fake.CallsMatching("a")
	b := fake.CallsMatching("b")
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, "/work", a[0].Dir)
	assert.Equal(t, time.Minute, a[0].Timeout)
	assert.Equal(t, 5*time.Second, b[0].Timeout)
}

// barrierCheck only passes when every other barrierCheck runs at the same time.
type barrierCheck struct {
	name string
	wg   *sync.WaitGroup
}

func (c *barrierCheck) Name() string   { return c.name }
func (c *barrierCheck) Required() bool { return true }
func (c *barrierCheck) Run(ctx context.Context, _ Snapshot) CheckResult {
	c.wg.Done()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return CheckResult{Passed: true}
	case <-time.After(5 * time.Second):
		return CheckResult{Passed: false, Error: "checks did not run concurrently"}
	}
}

func TestGate_RunsChecksConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	checks := []Check{
		&barrierCheck{name: "one", wg: &wg},
		&barrierCheck{name: "two", wg: &wg},
		&barrierCheck{name: "three", wg: &wg},
	}

	results := New(checks, 0).Run(context.Background(), Snapshot{})
	assert.True(t, results.AllPassed, results.FormatLog())
}

func TestBoundaryCheck(t *testing.T) {
	rules, err := scoring.NewLayerRules([]scoring.Layer{
		{Name: "domain", Paths: []string{"domain/**"}, ForbiddenImports: []string{"database/sql"}},
	})
	require.NoError(t, err)
	g := New([]Check{NewBoundaryCheck(rules)}, 0)

	clean := g.Run(context.Background(), Snapshot{Content: map[string]string{
		"domain/user.go": "package domain\n\nimport \"errors\"\n",
	}})
	assert.True(t, clean.AllPassed)

	dirty := g.Run(context.Background(), Snapshot{Content: map[string]string{
		"domain/user.go": "package domain\n\nimport \"database/sql\"\n",
	}})
	assert.False(t, dirty.AllPassed)

	var gateErr *QualityGateError
	require.True(t, errors.As(dirty.Err(), &gateErr))
	assert.True(t, gateErr.Boundary())
	assert.Contains(t, gateErr.Error(), "boundaries")
	assert.Contains(t, dirty.FormatLog(), "database/sql")
}

func TestCheckConfig_Validate(t *testing.T) {
	assert.NoError(t, CheckConfig{Name: "x", Command: []string{"true"}}.Validate())
	assert.Error(t, CheckConfig{Command: []string{"true"}}.Validate())
	assert.Error(t, CheckConfig{Name: "x"}.Validate())
	assert.Error(t, CheckConfig{Name: "x", Command: []string{"true"}, Timeout: -1}.Validate())
	assert.True(t, CheckConfig{}.IsRequired())
	assert.False(t, CheckConfig{Required: boolPtr(false)}.IsRequired())
}
