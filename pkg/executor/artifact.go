package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/anvil/pkg/manifest"
	"github.com/entrhq/anvil/pkg/scoring"
)

// ArtifactWriter handles writing run artifacts
type ArtifactWriter struct {
	outputDir string
}

// NewArtifactWriter creates a new artifact writer
func NewArtifactWriter(outputDir string) *ArtifactWriter {
	return &ArtifactWriter{
		outputDir: outputDir,
	}
}

// OutputDir returns the directory artifacts are written to
func (w *ArtifactWriter) OutputDir() string {
	return w.outputDir
}

// WriteAll writes report.json, summary.md and scores.json
func (w *ArtifactWriter) WriteAll(report *Report, m *manifest.Manifest) error {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := w.WriteReportJSON(report); err != nil {
		return err
	}

	if err := w.WriteSummaryMarkdown(report, m); err != nil {
		return err
	}

	if err := w.WriteScoresJSON(m); err != nil {
		return err
	}

	return nil
}

// WriteReportJSON writes the final report as indented JSON
func (w *ArtifactWriter) WriteReportJSON(report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return w.write("report.json", data)
}

// ScoreSummary is the content of scores.json
type ScoreSummary struct {
	Steps []StepScore `json:"steps"`
	Mean  *float64    `json:"mean,omitempty"`
	Count int         `json:"count"`
}

// WriteScoresJSON writes every scored step and the batch mean
func (w *ArtifactWriter) WriteScoresJSON(m *manifest.Manifest) error {
	summary := ScoreSummary{Steps: stepScores(m)}
	if summary.Steps == nil {
		summary.Steps = []StepScore{}
	}
	summary.Count = len(summary.Steps)
	if mean, ok := scoring.Mean(m.Scores()); ok {
		summary.Mean = &mean
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}
	return w.write("scores.json", data)
}

// WriteSummaryMarkdown writes a human-readable markdown summary
func (w *ArtifactWriter) WriteSummaryMarkdown(report *Report, m *manifest.Manifest) error {
	var md strings.Builder

	title := m.Name
	if title == "" {
		title = "manifest"
	}

	md.WriteString("# Anvil Run Summary\n\n")
	md.WriteString(fmt.Sprintf("**Manifest:** %s\n\n", title))
	md.WriteString(fmt.Sprintf("**Run:** %s\n\n", report.RunID))
	md.WriteString(fmt.Sprintf("**Status:** %s\n\n", report.Status))
	md.WriteString(fmt.Sprintf("**Started:** %s\n\n", report.StartTime.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Completed:** %s\n\n", report.EndTime.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Duration:** %s\n\n", report.Duration))

	md.WriteString("## Result\n\n")
	if report.Succeeded() {
		md.WriteString("✅ **Success**\n\n")
		if report.FinalScore != nil {
			md.WriteString(fmt.Sprintf("Final score: **%.2f**\n\n", *report.FinalScore))
		}
	} else {
		md.WriteString(fmt.Sprintf("❌ **Failed** at step `%s` (%s, exit code %d)\n\n", report.FailedStepID, report.Category, report.ExitCode))
		if report.ErrorLog != "" {
			md.WriteString("```\n")
			md.WriteString(report.ErrorLog)
			md.WriteString("\n```\n\n")
		}
	}

	md.WriteString("## Steps\n\n")
	md.WriteString("| Step | Kind | Status | Score | Commit |\n")
	md.WriteString("|---|---|---|---|---|\n")
	for _, s := range m.Steps {
		score := ""
		if s.Score != nil {
			sc := scoring.Score(*s.Score)
			score = fmt.Sprintf("%s %s", sc, sc.Label())
		}
		md.WriteString(fmt.Sprintf("| `%s` | %s | %s | %s | %s |\n", s.ID, s.Kind, s.Status, score, shortHash(s.Commit)))
	}
	md.WriteString("\n")

	if len(report.MergeRequests) > 0 {
		md.WriteString("## Merge Requests\n\n")
		for _, mr := range report.MergeRequests {
			md.WriteString(fmt.Sprintf("- `%s` → `%s`", mr.Source, mr.Target))
			if mr.URL != "" {
				md.WriteString(fmt.Sprintf(": %s", mr.URL))
			}
			if mr.Manual {
				md.WriteString(" (manual)")
			}
			md.WriteString("\n")
		}
		md.WriteString("\n")
	}

	return w.write("summary.md", []byte(md.String()))
}

func (w *ArtifactWriter) write(name string, data []byte) error {
	path := filepath.Join(w.outputDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
