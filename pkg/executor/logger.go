package executor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/anvil/pkg/gate"
	"github.com/entrhq/anvil/pkg/manifest"
	"github.com/entrhq/anvil/pkg/scoring"
)

// LogLevel represents the logging verbosity level
type LogLevel int

const (
	// LogLevelQuiet shows only critical information (errors, warnings, final summary)
	LogLevelQuiet LogLevel = iota
	// LogLevelNormal shows one line per step transition (default)
	LogLevelNormal
	// LogLevelVerbose adds check results and git operations
	LogLevelVerbose
	// LogLevelDebug shows all internal details for debugging
	LogLevelDebug
)

var (
	salmonPink  = lipgloss.Color("#FFB3BA")
	mintGreen   = lipgloss.Color("#A8E6CF")
	mutedGray   = lipgloss.Color("#6B7280")
	brightWhite = lipgloss.Color("#F9FAFB")
	amber       = lipgloss.Color("#FCD34D")
	cyan        = lipgloss.Color("#67E8F9")
)

type logStyles struct {
	header  lipgloss.Style
	section lipgloss.Style
	stepID  lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
	info    lipgloss.Style
	muted   lipgloss.Style
}

// Logger writes the progress stream: one line per step transition plus
// optional detail depending on the level.
type Logger struct {
	level  LogLevel
	writer io.Writer
	styles logStyles
}

// NewLogger creates a logger writing to w. Colors are used only when w is a terminal.
func NewLogger(w io.Writer, level LogLevel) *Logger {
	if w == nil {
		w = os.Stdout
	}
	r := lipgloss.NewRenderer(w)
	return &Logger{
		level:  level,
		writer: w,
		styles: logStyles{
			header:  r.NewStyle().Foreground(brightWhite).Bold(true),
			section: r.NewStyle().Foreground(cyan),
			stepID:  r.NewStyle().Foreground(salmonPink).Bold(true),
			success: r.NewStyle().Foreground(mintGreen).Bold(true),
			failure: r.NewStyle().Foreground(salmonPink).Bold(true),
			warning: r.NewStyle().Foreground(amber),
			info:    r.NewStyle().Foreground(brightWhite),
			muted:   r.NewStyle().Foreground(mutedGray),
		},
	}
}

// DiscardLogger returns a logger that prints nothing.
func DiscardLogger() *Logger {
	return NewLogger(io.Discard, LogLevelQuiet)
}

// Header prints a prominent header message
func (l *Logger) Header(message string) {
	if l.level >= LogLevelNormal {
		rule := strings.Repeat("=", 70)
		fmt.Fprintln(l.writer, l.styles.header.Render(rule))
		fmt.Fprintln(l.writer, l.styles.header.Render("  "+message))
		fmt.Fprintln(l.writer, l.styles.header.Render(rule))
	}
}

// Section prints a section divider
func (l *Logger) Section(title string) {
	if l.level >= LogLevelVerbose {
		fmt.Fprintln(l.writer)
		fmt.Fprintln(l.writer, l.styles.section.Render("▶ "+title))
		fmt.Fprintln(l.writer, l.styles.muted.Render(strings.Repeat("─", 50)))
	}
}

// StepStarted prints "[id] kind RUNNING".
func (l *Logger) StepStarted(step *manifest.Step) {
	if l.level >= LogLevelNormal {
		fmt.Fprintf(l.writer, "%s %s %s\n", l.styles.stepID.Render("["+step.ID+"]"), step.Kind, l.styles.muted.Render("RUNNING"))
	}
}

// StepFinished prints the step's terminal status with its score and commit.
func (l *Logger) StepFinished(step *manifest.Step) {
	if l.level < LogLevelNormal && step.Status != manifest.StatusFailed {
		return
	}

	var status string
	switch step.Status {
	case manifest.StatusSuccess:
		status = l.styles.success.Render(string(step.Status))
	case manifest.StatusFailed:
		status = l.styles.failure.Render(string(step.Status))
	default:
		status = l.styles.muted.Render(string(step.Status))
	}

	line := fmt.Sprintf("%s %s %s", l.styles.stepID.Render("["+step.ID+"]"), step.Kind, status)
	if step.Score != nil {
		line += " score=" + scoring.Score(*step.Score).String()
	}
	if step.Commit != "" {
		line += " commit=" + shortHash(step.Commit)
	}
	if step.Failure != "" {
		line += " category=" + step.Failure
	}
	fmt.Fprintln(l.writer, line)
}

// Successf prints a success message with checkmark
func (l *Logger) Successf(format string, args ...interface{}) {
	if l.level >= LogLevelNormal {
		fmt.Fprintln(l.writer, l.styles.success.Render("✓ "+fmt.Sprintf(format, args...)))
	}
}

// Infof prints an informational message
func (l *Logger) Infof(format string, args ...interface{}) {
	if l.level >= LogLevelNormal {
		fmt.Fprintln(l.writer, l.styles.info.Render(fmt.Sprintf(format, args...)))
	}
}

// Warningf prints a warning message
func (l *Logger) Warningf(format string, args ...interface{}) {
	fmt.Fprintln(l.writer, l.styles.warning.Render("⚠ Warning: "+fmt.Sprintf(format, args...)))
}

// Errorf prints an error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	fmt.Fprintln(l.writer, l.styles.failure.Render("✗ Error: "+fmt.Sprintf(format, args...)))
}

// Verbosef prints detailed information (only in verbose mode)
func (l *Logger) Verbosef(format string, args ...interface{}) {
	if l.level >= LogLevelVerbose {
		fmt.Fprintln(l.writer, l.styles.muted.Render("→ "+fmt.Sprintf(format, args...)))
	}
}

// Debugf prints debug information (only in debug mode)
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.level >= LogLevelDebug {
		fmt.Fprintln(l.writer, l.styles.muted.Render("[DEBUG] "+fmt.Sprintf(format, args...)))
	}
}

// QualityGate logs each check result
func (l *Logger) QualityGate(results *gate.Results) {
	if l.level < LogLevelVerbose || results == nil {
		return
	}
	for _, result := range results.Results {
		if result.Passed {
			fmt.Fprintln(l.writer, l.styles.success.Render(fmt.Sprintf("  ✓ %s: passed", result.Name)))
			continue
		}
		fmt.Fprintln(l.writer, l.styles.failure.Render(fmt.Sprintf("  ✗ %s: failed", result.Name)))
		for _, d := range result.Diagnostics {
			fmt.Fprintln(l.writer, l.styles.muted.Render("    "+d))
		}
	}
}

// GitOperation logs a git operation
func (l *Logger) GitOperation(operation, details string) {
	if l.level >= LogLevelVerbose {
		fmt.Fprintln(l.writer, l.styles.section.Render("  Git: "+operation))
		if details != "" && l.level >= LogLevelDebug {
			fmt.Fprintln(l.writer, l.styles.muted.Render("    "+details))
		}
	}
}

// Summary prints a final execution summary
func (l *Logger) Summary(report *Report) {
	if l.level < LogLevelNormal {
		return
	}

	rule := strings.Repeat("=", 70)
	fmt.Fprintln(l.writer)
	fmt.Fprintln(l.writer, l.styles.header.Render(rule))
	fmt.Fprintln(l.writer, l.styles.header.Render("  EXECUTION SUMMARY"))
	fmt.Fprintln(l.writer, l.styles.header.Render(rule))

	fmt.Fprint(l.writer, "  Status: ")
	if report.Succeeded() {
		fmt.Fprintln(l.writer, l.styles.success.Render("✓ "+report.Status))
	} else {
		fmt.Fprintln(l.writer, l.styles.failure.Render(fmt.Sprintf("✗ %s (%s, exit %d)", report.Status, report.Category, report.ExitCode)))
	}
	fmt.Fprintf(l.writer, "  Duration: %s\n", report.Duration.Round(time.Millisecond))

	if report.FailedStepID != "" {
		fmt.Fprintf(l.writer, "  Failed step: %s\n", report.FailedStepID)
	}
	if len(report.CommitHashes) > 0 {
		fmt.Fprintf(l.writer, "  Commits: %d\n", len(report.CommitHashes))
		if l.level >= LogLevelVerbose {
			for _, h := range report.CommitHashes {
				fmt.Fprintf(l.writer, "    • %s\n", h)
			}
		}
	}
	if report.FinalScore != nil {
		fmt.Fprintf(l.writer, "  Final score: %.2f\n", *report.FinalScore)
	}
	for _, mr := range report.MergeRequests {
		if mr.URL != "" {
			fmt.Fprintf(l.writer, "  Merge request: %s\n", mr.URL)
		}
		if mr.Manual && mr.Instructions != "" {
			fmt.Fprintln(l.writer, l.styles.warning.Render("  "+mr.Instructions))
		}
	}
	fmt.Fprintln(l.writer, l.styles.header.Render(rule))
}

// ParseLogLevel converts a string log level to LogLevel type
func ParseLogLevel(level string) LogLevel {
	switch level {
	case "quiet":
		return LogLevelQuiet
	case "normal":
		return LogLevelNormal
	case "verbose":
		return LogLevelVerbose
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelNormal
	}
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
