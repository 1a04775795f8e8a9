package vcs

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/anvil/pkg/manifest"
	"github.com/entrhq/anvil/pkg/runner"
)

func TestCommitMessage(t *testing.T) {
	tests := []struct {
		name string
		req  CommitRequest
		want string
	}{
		{
			name: "create with feature scope",
			req:  CommitRequest{StepID: "s1", Kind: manifest.KindCreateFile, Feature: "User Auth", Files: []string{"auth/login.go"}},
			want: "feat(user-auth): add auth/login.go\n\nStep: s1",
		},
		{
			name: "refactor with layer scope",
			req:  CommitRequest{StepID: "s2", Kind: manifest.KindRefactorFile, Layer: "domain", Description: "Rename user id field.", Files: []string{"x.go"}},
			want: "refactor(domain): Rename user id field\n\nStep: s2",
		},
		{
			name: "scope from first path segment",
			req:  CommitRequest{StepID: "s3", Kind: manifest.KindCreateMultipleFiles, Files: []string{"api/a.go", "api/b.go"}},
			want: "feat(api): add 2 files\n\nStep: s3",
		},
		{
			name: "delete is a chore",
			req:  CommitRequest{StepID: "s4", Kind: manifest.KindDeleteFile, Files: []string{"old.txt"}},
			want: "chore: remove old.txt\n\nStep: s4",
		},
		{
			name: "long description is truncated",
			req:  CommitRequest{StepID: "s5", Kind: manifest.KindRefactorFile, Description: strings.Repeat("word ", 30), Files: []string{"f"}},
			want: "refactor: " + strings.TrimSpace(strings.Repeat("word ", 30)[:69]) + "...\n\nStep: s5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CommitMessage(tt.req))
		})
	}
}

func TestWebURL(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"git@github.com:acme/widgets.git", "https://github.com/acme/widgets"},
		{"https://github.com/acme/widgets.git", "https://github.com/acme/widgets"},
		{"ssh://git@gitlab.example.com/group/sub/widgets.git", "https://gitlab.example.com/group/sub/widgets"},
		{"https://user@bitbucket.org/acme/widgets", "https://bitbucket.org/acme/widgets"},
		{"/srv/git/widgets.git", ""},
		{"file:///srv/git/widgets.git", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			assert.Equal(t, tt.want, webURL(tt.remote))
		})
	}
}

func TestOpenMergeRequest_WithHostingCLI(t *testing.T) {
	fake := runner.NewFakeRunner().
		On("gh pr create", runner.Exit(0, "Creating pull request...\nhttps://github.com/acme/widgets/pull/7\n", ""))
	m := New("/repo", fake, fastConfig(), nil)

	mr, err := m.OpenMergeRequest(context.Background(), MergeRequestOptions{
		Source: "feature/x", Target: "main", Title: "Add x", Body: "Body",
	})
	require.NoError(t, err)
	assert.True(t, mr.Pushed)
	assert.False(t, mr.Manual)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", mr.URL)

	calls := fake.Calls()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, "git push -u origin feature/x", calls[0].String())
	gh := fake.CallsMatching("gh pr create")
	require.Len(t, gh, 1)
	assert.Equal(t, []string{"pr", "create", "--base", "main", "--head", "feature/x", "--title", "Add x", "--body", "Body"}, gh[0].Args)
}

func TestOpenMergeRequest_ManualFallback(t *testing.T) {
	tests := []struct {
		name    string
		gh      runner.Handler
		remote  string
		wantURL string
	}{
		{
			name:    "gh missing, github remote",
			gh:      runner.Fail(exec.ErrNotFound),
			remote:  "git@github.com:acme/widgets.git",
			wantURL: "https://github.com/acme/widgets/compare/main...feature%2Fx?expand=1",
		},
		{
			name:    "gh fails, gitlab remote",
			gh:      runner.Exit(1, "", "gh: not logged in"),
			remote:  "https://gitlab.com/acme/widgets.git",
			wantURL: "https://gitlab.com/acme/widgets/-/merge_requests/new?merge_request%5Bsource_branch%5D=feature%2Fx&merge_request%5Btarget_branch%5D=main",
		},
		{
			name:   "no usable remote url",
			gh:     runner.Fail(exec.ErrNotFound),
			remote: "/srv/git/widgets.git",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := runner.NewFakeRunner().
				On("gh", tt.gh).
				On("git remote get-url origin", runner.Exit(0, tt.remote+"\n", ""))
			m := New("/repo", fake, fastConfig(), nil)

			mr, err := m.OpenMergeRequest(context.Background(), MergeRequestOptions{
				Source: "feature/x", Target: "main", Title: "Add x",
			})
			require.NoError(t, err, "a pushed branch is still a success")
			assert.True(t, mr.Pushed)
			assert.True(t, mr.Manual)
			assert.Equal(t, tt.wantURL, mr.URL)
			assert.Contains(t, mr.Instructions, "feature/x")
			assert.Contains(t, mr.Instructions, `"Add x"`)
		})
	}
}

func TestOpenMergeRequest_PushFailureIsFatal(t *testing.T) {
	fake := runner.NewFakeRunner().On("git push", runner.Exit(1, "", "error: failed to push some refs"))
	m := New("/repo", fake, fastConfig(), nil)

	_, err := m.OpenMergeRequest(context.Background(), MergeRequestOptions{Source: "feature/x", Target: "main", Title: "t"})

	var vcsErr *VcsError
	require.True(t, errors.As(err, &vcsErr))
	assert.Empty(t, fake.CallsMatching("gh"))
}

func TestOpenMergeRequest_DefaultsFromRepository(t *testing.T) {
	fake := runner.NewFakeRunner().
		On("git branch --show-current", runner.Exit(0, "feature/x\n", "")).
		On("git show-ref --verify --quiet refs/heads/main", runner.Exit(1, "", "")).
		On("git show-ref --verify --quiet refs/heads/master", runner.Exit(0, "", ""))
	m := New("/repo", fake, fastConfig(), nil)

	mr, err := m.OpenMergeRequest(context.Background(), MergeRequestOptions{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "feature/x", mr.Source)
	assert.Equal(t, "master", mr.Target)
}

func TestOpenMergeRequest_SameSourceAndTarget(t *testing.T) {
	m := New("/repo", runner.NewFakeRunner(), fastConfig(), nil)

	_, err := m.OpenMergeRequest(context.Background(), MergeRequestOptions{Source: "main", Target: "main", Title: "t"})
	assert.Error(t, err)
}

func TestLinePrompter(t *testing.T) {
	var out strings.Builder
	p := NewLinePrompter(strings.NewReader("yes\nn\n"), &out)

	ok, err := p.Confirm("Stash?")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Confirm("Stash?")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.Confirm("Stash?")
	require.NoError(t, err)
	assert.False(t, ok, "end of input means no")
	assert.Equal(t, 3, strings.Count(out.String(), "Stash? [y/N]: "))
}
