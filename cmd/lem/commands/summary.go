package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/steps"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	finishedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	runningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	skippedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	defaultStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// render applies style unless colors are disabled.
func render(style lipgloss.Style, text string) string {
	if noColor {
		return text
	}
	return style.Render(text)
}

func styleForStatus(status engine.Status) lipgloss.Style {
	switch status {
	case engine.StatusFinished:
		return finishedStyle
	case engine.StatusFailed:
		return failedStyle
	case engine.StatusRunning:
		return runningStyle
	default:
		return defaultStyle
	}
}

type cell struct {
	text  string
	style lipgloss.Style
}

func plain(text string) cell { return cell{text: text, style: lipgloss.NewStyle()} }

// table renders rows as left-aligned columns.
type table struct {
	indent string
	rows   [][]cell
}

func (t *table) add(cells ...cell) {
	t.rows = append(t.rows, cells)
}

func (t *table) String() string {
	var widths []int
	for _, row := range t.rows {
		for i, c := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if w := lipgloss.Width(c.text); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for _, row := range t.rows {
		b.WriteString(t.indent)
		for i, c := range row {
			text := render(c.style, c.text)
			if i < len(row)-1 {
				text += strings.Repeat(" ", widths[i]-lipgloss.Width(c.text)+2)
			}
			b.WriteString(text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderReport prints the outcome of a run.
func renderReport(w io.Writer, report *engine.RunReport) {
	if report == nil {
		return
	}

	fmt.Fprintf(w, "%s %s %s\n\n",
		render(headerStyle, "Run "+report.ID),
		render(styleForStatus(report.Status), string(report.Status)),
		render(detailStyle, "in "+report.Duration().Round(time.Millisecond).String()))

	m := report.Manifest
	if m == nil {
		return
	}

	capabilities := &table{indent: "  "}
	capabilities.add(cell{"CAPABILITY", headerStyle}, cell{"SOLUTION", headerStyle}, cell{"STATUS", headerStyle})
	tasks := &table{indent: "  "}

	addSolution := func(capability string, s *engine.Solution) {
		capabilities.add(plain(capability), plain(s.Name), cell{string(s.Status), styleForStatus(s.Status)})
		for _, t := range s.Tasks {
			if c := taskRow(capability, s, t); c != nil {
				tasks.add(c...)
			}
		}
	}

	if m.Pre != nil {
		addSolution(steps.Global, m.Pre)
	}
	for _, name := range m.Order {
		c := m.Capability(name)
		if c == nil || len(c.Solutions) == 0 {
			continue
		}
		ran := false
		for _, s := range c.Solutions {
			if s.Status != engine.StatusPending {
				addSolution(name, s)
				ran = true
			}
		}
		if !ran {
			capabilities.add(plain(name), plain("-"), cell{string(c.Status), styleForStatus(c.Status)})
		}
	}
	if m.Post != nil {
		addSolution(steps.Global, m.Post)
	}

	fmt.Fprint(w, capabilities.String())
	if len(tasks.rows) > 0 {
		fmt.Fprintf(w, "\n%s\n%s", render(headerStyle, "Tasks"), tasks.String())
	}

	renderViolations(w, report.Violations)

	if report.Failure != nil {
		fmt.Fprintf(w, "\n%s\n  %s\n", render(failedStyle, "Failure"), report.Failure.Error())
	}
}

// taskRow returns the row of a task that was considered, or nil.
func taskRow(capability string, s *engine.Solution, t *engine.Task) []cell {
	where := plain(capability + "/" + s.Name)
	name := plain(t.DisplayName)

	switch {
	case t.Skipped != engine.SkipNone:
		return []cell{{"-", skippedStyle}, where, name, {"skipped (" + string(t.Skipped) + ")", skippedStyle}}
	case t.Status == engine.StatusFinished:
		return []cell{{"✓", finishedStyle}, where, name, {t.Duration.Round(time.Millisecond).String(), detailStyle}}
	case t.Status == engine.StatusFailed:
		detail := "failed"
		if len(t.Errors) > 0 {
			detail = strings.Join(t.Errors, "; ")
		}
		return []cell{{"✗", failedStyle}, where, name, {detail, failedStyle}}
	case t.Status == engine.StatusRunning:
		return []cell{{"…", runningStyle}, where, name, {"interrupted", runningStyle}}
	default:
		return nil
	}
}

// renderViolations prints policy findings, if any.
func renderViolations(w io.Writer, violations []engine.PolicyViolation) {
	if len(violations) == 0 {
		return
	}
	t := &table{indent: "  "}
	for _, v := range violations {
		style := warningStyle
		if v.Blocking() {
			style = failedStyle
		}
		t.add(cell{v.Severity, style}, plain(v.Policy), plain(v.Message))
	}
	fmt.Fprintf(w, "\n%s\n%s", render(headerStyle, "Policy"), t.String())
}
