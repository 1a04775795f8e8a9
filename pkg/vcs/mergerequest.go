package vcs

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/entrhq/anvil/pkg/runner"
)

// MergeRequestOptions describes the merge request to open.
type MergeRequestOptions struct {
	Source string
	Target string
	Title  string
	Body   string
}

// MergeRequest is the outcome of OpenMergeRequest.
type MergeRequest struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	Pushed       bool   `json:"pushed"`
	URL          string `json:"url,omitempty"`
	Manual       bool   `json:"manual"`
	Instructions string `json:"instructions,omitempty"`
}

// OpenMergeRequest pushes the source branch and opens a pull request with
// the gh CLI. When gh is missing or fails, the push still counts: the result
// is marked Manual and carries a URL and instructions for opening the
// request by hand.
func (m *Manager) OpenMergeRequest(ctx context.Context, opts MergeRequestOptions) (*MergeRequest, error) {
	if opts.Source == "" {
		current, err := m.CurrentBranch(ctx)
		if err != nil {
			return nil, err
		}
		if current == "" {
			return nil, &VcsError{Op: "open merge request", Err: fmt.Errorf("no source branch: HEAD is detached")}
		}
		opts.Source = current
	}
	if opts.Target == "" {
		opts.Target = m.DetectBaseBranch(ctx, opts.Source)
	}
	if opts.Target == "" {
		return nil, &VcsError{Op: "open merge request", Err: fmt.Errorf("no target branch given and none detected")}
	}
	if opts.Target == opts.Source {
		return nil, &VcsError{Op: "open merge request", Err: fmt.Errorf("source and target are both %s", opts.Source)}
	}

	if err := m.Push(ctx, opts.Source); err != nil {
		return nil, err
	}

	mr := &MergeRequest{Source: opts.Source, Target: opts.Target, Pushed: true}

	res, err := m.exec(ctx, m.cfg.HostingTimeout, "gh", "pr", "create",
		"--base", opts.Target,
		"--head", opts.Source,
		"--title", opts.Title,
		"--body", opts.Body,
	)
	if err == nil && res.Success() {
		mr.URL = lastURL(res.Stdout)
		return mr, nil
	}

	mr.Manual = true
	mr.URL = m.compareURL(ctx, opts.Source, opts.Target)
	reason := "gh is not available"
	if err == nil {
		reason = strings.TrimSpace(res.Combined())
	} else if !runner.IsNotFound(err) {
		reason = err.Error()
	}
	mr.Instructions = manualInstructions(mr, opts.Title, reason)
	return mr, nil
}

// DetectBaseBranch returns the first of main, master or develop that exists
// and differs from source, or "".
func (m *Manager) DetectBaseBranch(ctx context.Context, source string) string {
	for _, base := range []string{"main", "master", "develop"} {
		if base == source {
			continue
		}
		if ok, err := m.branchExists(ctx, base); err == nil && ok {
			return base
		}
	}
	return ""
}

func (m *Manager) compareURL(ctx context.Context, source, target string) string {
	out, err := m.git(ctx, "remote url", "remote", "get-url", m.cfg.Remote)
	if err != nil {
		return ""
	}
	web := webURL(strings.TrimSpace(out))
	if web == "" {
		return ""
	}
	if strings.Contains(web, "gitlab") {
		q := url.Values{}
		q.Set("merge_request[source_branch]", source)
		q.Set("merge_request[target_branch]", target)
		return web + "/-/merge_requests/new?" + q.Encode()
	}
	return fmt.Sprintf("%s/compare/%s...%s?expand=1", web, url.PathEscape(target), url.PathEscape(source))
}

var scpLikeRemote = regexp.MustCompile(`^(?:[\w.-]+@)?([\w.-]+):(.+)$`)

// webURL converts a git remote URL into the hosting site's https URL.
func webURL(remote string) string {
	if remote == "" {
		return ""
	}
	var host, repoPath string
	u, err := url.Parse(remote)
	switch {
	case err == nil && isWebScheme(u.Scheme):
		host, repoPath = u.Hostname(), u.Path
	case err == nil && u.Scheme == "file":
		return ""
	default:
		m := scpLikeRemote.FindStringSubmatch(remote)
		if m == nil {
			return ""
		}
		host, repoPath = m[1], m[2]
	}
	repoPath = strings.TrimSuffix(strings.Trim(repoPath, "/"), ".git")
	if host == "" || repoPath == "" {
		return ""
	}
	return "https://" + host + "/" + repoPath
}

func isWebScheme(scheme string) bool {
	switch scheme {
	case "https", "http", "ssh", "git":
		return true
	default:
		return false
	}
}

func lastURL(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") {
			return l
		}
	}
	return ""
}

func manualInstructions(mr *MergeRequest, title, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Branch %s was pushed but the merge request could not be opened automatically (%s).\n", mr.Source, reason)
	if mr.URL != "" {
		fmt.Fprintf(&b, "Open %s to create it", mr.URL)
	} else {
		fmt.Fprintf(&b, "Create a merge request from %s into %s", mr.Source, mr.Target)
	}
	if title != "" {
		fmt.Fprintf(&b, " with the title %q", title)
	}
	b.WriteString(".")
	return b.String()
}
