package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"
)

// Formatter renders a run summary for the terminal.
type Formatter struct {
	JSON       bool
	ErrorsOnly bool
	Color      bool
}

// NewFormatter creates a Formatter with the given options.
func NewFormatter(jsonOutput, errorsOnly, color bool) *Formatter {
	return &Formatter{
		JSON:       jsonOutput,
		ErrorsOnly: errorsOnly,
		Color:      color,
	}
}

// Render returns the JSON or text form depending on f.JSON.
func (f *Formatter) Render(rows []Row) (string, error) {
	if f.JSON {
		data, err := f.FormatJSON(rows)
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	}
	return f.Format(rows), nil
}

// Format renders one block per host followed by a summary line.
func (f *Formatter) Format(rows []Row) string {
	var b strings.Builder
	ok, partial, failed := 0, 0, 0

	for _, r := range rows {
		switch {
		case !r.StatusOK:
			failed++
			f.writeFailed(&b, r)
		case !r.AllCommandsOK:
			partial++
			f.writePartial(&b, r)
		default:
			ok++
			if !f.ErrorsOnly {
				f.writeOK(&b, r)
			}
		}
	}

	b.WriteString(f.summaryLine(ok, partial, failed))
	b.WriteString("\n")
	return b.String()
}

// FormatJSON serializes rows as a JSON array.
func (f *Formatter) FormatJSON(rows []Row) ([]byte, error) {
	if f.ErrorsOnly {
		kept := make([]Row, 0, len(rows))
		for _, r := range rows {
			if !r.StatusOK || !r.AllCommandsOK {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	return json.MarshalIndent(rows, "", "  ")
}

// FormatComparison renders groups of hosts that agree on a command,
// norm first, with a diff under each outlier.
func (f *Formatter) FormatComparison(c *Comparison) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", f.render(hostNameStyle, c.Command))
	for _, g := range c.Groups {
		label, style := " norm:", okStyle
		if !g.Norm {
			label, style = " differs:", partialStyle
		}
		b.WriteString(f.render(style, label))
		fmt.Fprintf(&b, " %s\n", strings.Join(g.Hosts, ", "))
		if g.Norm {
			for _, line := range splitLines(g.Output) {
				b.WriteString("   ")
				b.WriteString(line)
				b.WriteString("\n")
			}
			continue
		}
		for _, line := range splitLines(g.Diff) {
			b.WriteString("   ")
			b.WriteString(f.render(reasonStyle, line))
			b.WriteString("\n")
		}
	}
	if len(c.Failed) > 0 {
		b.WriteString(f.render(failedStyle, " failed:"))
		fmt.Fprintf(&b, " %s\n", strings.Join(c.Failed, ", "))
	}
	if len(c.Missing) > 0 {
		fmt.Fprintf(&b, " not run: %s\n", strings.Join(c.Missing, ", "))
	}
	if c.Consistent() {
		b.WriteString("consistent\n")
	} else {
		fmt.Fprintf(&b, "%d output groups, %d failed\n", len(c.Groups), len(c.Failed))
	}
	return b.String()
}

func (f *Formatter) writeOK(b *strings.Builder, r Row) {
	b.WriteString(f.render(okStyle, " ok:"))
	fmt.Fprintf(b, " %s (%s) %s\n", f.render(hostNameStyle, r.Host), r.Driver, plural(r.Commands, "command"))
}

func (f *Formatter) writePartial(b *strings.Builder, r Row) {
	b.WriteString(f.render(partialStyle, " commands failed:"))
	fmt.Fprintf(b, " %s (%s) %s", f.render(hostNameStyle, r.Host), r.Driver, plural(r.Commands, "command"))
	if r.LogError > 0 {
		fmt.Fprintf(b, ", %s", plural(r.LogError, "error"))
	}
	b.WriteString("\n")
	f.writeReason(b, r)
}

func (f *Formatter) writeFailed(b *strings.Builder, r Row) {
	b.WriteString(f.render(failedStyle, " failed:"))
	fmt.Fprintf(b, " %s\n", f.render(hostNameStyle, r.Host))
	f.writeReason(b, r)
}

func (f *Formatter) writeReason(b *strings.Builder, r Row) {
	if r.Reason == "" {
		return
	}
	for _, line := range strings.Split(r.Reason, "\n") {
		b.WriteString("   ")
		b.WriteString(f.render(reasonStyle, line))
		b.WriteString("\n")
	}
}

func (f *Formatter) summaryLine(ok, partial, failed int) string {
	parts := []string{
		fmt.Sprintf("%d succeeded", ok),
	}
	if partial > 0 {
		parts = append(parts, fmt.Sprintf("%d with failed commands", partial))
	}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	return strings.Join(parts, ", ")
}

func (f *Formatter) render(style lipgloss.Style, text string) string {
	if !f.Color {
		return text
	}
	return style.Render(text)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
