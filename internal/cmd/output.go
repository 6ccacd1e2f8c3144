package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/sxn/internal/engine"
	"github.com/Iron-Ham/sxn/internal/errors"
)

var (
	successColor = lipgloss.Color("#10B981") // Green
	errorColor   = lipgloss.Color("#F87171") // Red
	warningColor = lipgloss.Color("#F59E0B") // Amber
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	primaryColor = lipgloss.Color("#A78BFA") // Purple

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

// printer writes human-readable output, styled only when w is a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w}
	if f, ok := w.(*os.File); ok {
		p.color = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// errorText renders err for the terminal. Errors not meant for users are
// marked internal, and severity picks the color.
func (p *printer) errorText(err error) string {
	msg := err.Error()
	if !errors.IsUserFacing(err) {
		msg = "internal error: " + msg
	}
	switch errors.GetSeverity(err) {
	case errors.SeverityCritical:
		return p.style(errorStyle.Bold(true), msg)
	case errors.SeverityError:
		return p.style(errorStyle, msg)
	default:
		return p.style(warningStyle, msg)
	}
}

// printResult renders an apply run: phases, per-rule outcome, errors.
func (p *printer) printResult(r *engine.Result) {
	header := "Rules applied"
	headerStyle := successStyle
	if !r.Success() {
		header = "Rules failed"
		headerStyle = errorStyle
	}
	p.printf("%s %s\n", p.style(headerStyle.Bold(true), header), p.style(mutedStyle, "("+r.RunID+")"))
	p.printf("%s\n", p.style(mutedStyle, strings.Repeat("─", 50)))

	applied := toSet(r.AppliedRules)
	failed := make(map[string]error, len(r.FailedRules))
	for _, f := range r.FailedRules {
		failed[f.Name] = f.Err
	}
	skipped := make(map[string]string, len(r.SkippedRules))
	for _, s := range r.SkippedRules {
		skipped[s.Name] = s.Reason
	}

	for i, phase := range r.Phases {
		p.printf("%s\n", p.style(titleStyle, fmt.Sprintf("Phase %d", i+1)))
		for _, name := range phase {
			switch {
			case applied[name]:
				mark := "✓"
				if r.RolledBack {
					mark = "↺"
				}
				p.printf("  %s %s\n", p.style(successStyle, mark), name)
			case failed[name] != nil:
				p.printf("  %s %s  %s\n", p.style(errorStyle, "✗"), name, p.errorText(failed[name]))
			case skipped[name] != "":
				p.printf("  %s %s  %s\n", p.style(warningStyle, "-"), name, p.style(mutedStyle, skipped[name]))
			default:
				p.printf("  %s %s  %s\n", p.style(mutedStyle, "·"), name, p.style(mutedStyle, "not run"))
			}
		}
	}

	for _, e := range r.Errors {
		if e.Rule == engine.EngineErrorSource {
			p.printf("%s %s\n", p.style(errorStyle, "error:"), p.errorText(e.Err))
		}
	}
	if r.RolledBack {
		p.printf("%s\n", p.style(warningStyle, "Applied rules were rolled back."))
	}

	p.printf("\n%d/%d applied, %d failed, %d skipped in %s\n",
		len(r.AppliedRules), r.TotalRules, len(r.FailedRules), len(r.SkippedRules),
		r.TotalDuration.Round(time.Millisecond))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
