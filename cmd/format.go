package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bisegni/msiq/pkg/database"
	"github.com/bisegni/msiq/pkg/engine"
)

var (
	mutedColor = lipgloss.AdaptiveColor{Light: "#8C8FA1", Dark: "#6C7086"}

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#89B4FA"})

	separatorStyle = lipgloss.NewStyle().Foreground(mutedColor)
	nullStyle      = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
)

// printQuery runs q and prints its rows in the configured format.
func printQuery(w io.Writer, q *engine.Query, o *options) error {
	if o.cfg.Format != FormatTable {
		executor := engine.NewExecutor()
		executor.Pretty = o.pretty
		_, err := executor.Execute(q, w)
		return err
	}

	recs, err := engine.Collect(q)
	if err != nil {
		return err
	}
	headers := make([]string, len(q.Columns()))
	for i, c := range q.Columns() {
		headers[i] = c.Name
	}
	rows := make([]database.OrderedMap, len(recs))
	for i, rec := range recs {
		rows[i] = rec.Ordered()
	}
	return renderTable(w, headers, rows)
}

// printRows prints listing rows (tables, schema, streams, info) in the
// configured format. headers fixes the table column order.
func printRows(w io.Writer, o *options, headers []string, rows []database.OrderedMap) error {
	if o.cfg.Format == FormatTable {
		return renderTable(w, headers, rows)
	}
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if o.pretty {
		encoder.SetIndent("", "  ")
	}
	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func renderTable(w io.Writer, headers []string, rows []database.OrderedMap) error {
	cells := make([][]string, len(rows))
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for r, row := range rows {
		cells[r] = make([]string, len(headers))
		for i, h := range headers {
			v, _ := row.Get(h)
			cells[r][i] = cellText(v)
			widths[i] = max(widths[i], lipgloss.Width(cells[r][i]))
		}
	}

	var b strings.Builder
	for i, h := range headers {
		if i > 0 {
			b.WriteString(separatorStyle.Render(" │ "))
		}
		b.WriteString(tableHeaderStyle.Render(pad(h, widths[i])))
	}
	b.WriteString("\n")

	parts := make([]string, len(widths))
	for i, width := range widths {
		parts[i] = strings.Repeat("─", width)
	}
	b.WriteString(separatorStyle.Render(strings.Join(parts, "─┼─")))
	b.WriteString("\n")

	for r := range cells {
		for i, cell := range cells[r] {
			if i > 0 {
				b.WriteString(separatorStyle.Render(" │ "))
			}
			if v, _ := rows[r].Get(headers[i]); v == nil {
				b.WriteString(nullStyle.Render(pad(cell, widths[i])))
				continue
			}
			b.WriteString(pad(cell, widths[i]))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "(%d rows)\n", len(rows))

	_, err := io.WriteString(w, b.String())
	return err
}

func cellText(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}

func pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
