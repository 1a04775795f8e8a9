package vcs

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/entrhq/anvil/pkg/manifest"
)

const maxSubjectLength = 72

// CommitRequest describes the step a commit records.
type CommitRequest struct {
	StepID      string
	Kind        manifest.Kind
	Description string
	Feature     string
	Layer       string
	Files       []string
}

// CommitMessage builds a conventional commit message for req:
//
//	type(scope): subject
//
//	Step: <id>
func CommitMessage(req CommitRequest) string {
	header := commitType(req.Kind)
	if scope := commitScope(req); scope != "" {
		header += "(" + scope + ")"
	}
	header += ": " + commitSubject(req)

	if req.StepID == "" {
		return header
	}
	return header + "\n\nStep: " + req.StepID
}

func commitType(kind manifest.Kind) string {
	switch kind {
	case manifest.KindCreateFile, manifest.KindCreateMultipleFiles:
		return "feat"
	case manifest.KindRefactorFile:
		return "refactor"
	default:
		return "chore"
	}
}

func commitScope(req CommitRequest) string {
	for _, candidate := range []string{req.Feature, req.Layer} {
		if s := sanitizeScope(candidate); s != "" {
			return s
		}
	}
	if len(req.Files) > 0 {
		if dir := strings.SplitN(path.Clean(req.Files[0]), "/", 2); len(dir) == 2 {
			return sanitizeScope(dir[0])
		}
	}
	return ""
}

func sanitizeScope(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.':
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteRune('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func commitSubject(req CommitRequest) string {
	subject := strings.TrimSpace(strings.SplitN(req.Description, "\n", 2)[0])
	if subject == "" {
		subject = defaultSubject(req)
	}
	subject = strings.TrimRight(subject, ".")
	if runes := []rune(subject); len(runes) > maxSubjectLength {
		subject = strings.TrimSpace(string(runes[:maxSubjectLength-3])) + "..."
	}
	return subject
}

func defaultSubject(req CommitRequest) string {
	target := "files"
	if len(req.Files) == 1 {
		target = req.Files[0]
	} else if len(req.Files) > 1 {
		target = fmt.Sprintf("%d files", len(req.Files))
	}
	switch req.Kind {
	case manifest.KindCreateFile, manifest.KindCreateMultipleFiles:
		return "add " + target
	case manifest.KindRefactorFile:
		return "update " + target
	case manifest.KindDeleteFile:
		return "remove " + target
	default:
		return "apply step " + req.StepID
	}
}
