package report

import (
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// table aligns cells by display width, so names with wide runes still line
// up in a terminal.
type table struct {
	header []string
	rows   [][]string
	// maxCell truncates cells wider than this; 0 disables truncation.
	maxCell int
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) widths() []int {
	w := make([]int, len(t.header))
	for i, h := range t.header {
		w[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			if i >= len(w) {
				w = append(w, 0)
			}
			w[i] = max(w[i], runewidth.StringWidth(truncate(c, t.maxCell)))
		}
	}
	return w
}

func (t *table) write(w io.Writer, indent string) error {
	widths := t.widths()
	line := func(cells []string) error {
		var sb strings.Builder
		sb.WriteString(indent)
		for i, c := range cells {
			c = truncate(c, t.maxCell)
			if i == len(cells)-1 {
				sb.WriteString(c)
				break
			}
			sb.WriteString(runewidth.FillRight(c, widths[i]))
			sb.WriteString("  ")
		}
		sb.WriteString("\n")
		_, err := io.WriteString(w, strings.TrimRight(sb.String(), " \n")+"\n")
		return err
	}
	if err := line(t.header); err != nil {
		return err
	}
	for _, row := range t.rows {
		if err := line(row); err != nil {
			return err
		}
	}
	return nil
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
