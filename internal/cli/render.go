package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// kvRow is one "key  value" line of a plain listing.
type kvRow struct {
	Key   string
	Value string
}

// table is a plain-text grid printed by the non-interactive commands.
type table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

const (
	defaultWidth = 100
	maxKeyWidth  = 24
	minColWidth  = 6
	colSep       = " | "
)

// termWidth is the stdout width, or defaultWidth when stdout is not a
// terminal.
func termWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return defaultWidth
}

func renderKV(width int, title string, rows []kvRow) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteString("\n")
	}

	keyW := 0
	for _, r := range rows {
		keyW = max(keyW, lipgloss.Width(r.Key))
	}
	keyW = min(keyW, maxKeyWidth)

	for _, r := range rows {
		line := fmt.Sprintf("%s  %s", padRight(clip(r.Key, keyW), keyW), r.Value)
		b.WriteString(clip(line, width))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTable(width int, t table) string {
	cols := len(t.Headers)
	if cols == 0 {
		return ""
	}

	colW := make([]int, cols)
	for c, h := range t.Headers {
		colW[c] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for c := 0; c < cols && c < len(row); c++ {
			colW[c] = max(colW[c], lipgloss.Width(row[c]))
		}
	}

	// Shrink from the right until the grid fits.
	avail := max(width, 20)
	for totalWidth(colW) > avail {
		shrunk := false
		for c := cols - 1; c >= 0; c-- {
			if colW[c] > minColWidth {
				colW[c]--
				shrunk = true
				break
			}
		}
		if !shrunk {
			break
		}
	}

	var b strings.Builder
	if t.Title != "" {
		b.WriteString(t.Title)
		b.WriteString("\n")
	}
	b.WriteString(renderRow(t.Headers, colW))
	b.WriteString("\n")
	b.WriteString(renderRule(colW))
	for _, row := range t.Rows {
		b.WriteString("\n")
		b.WriteString(renderRow(row, colW))
	}
	return b.String()
}

func totalWidth(colW []int) int {
	total := len(colSep) * (len(colW) - 1)
	for _, w := range colW {
		total += w
	}
	return total
}

func renderRule(colW []int) string {
	parts := make([]string, len(colW))
	for c, w := range colW {
		parts[c] = strings.Repeat("-", w)
	}
	return strings.Join(parts, strings.Repeat("-", len(colSep)))
}

func renderRow(cells []string, colW []int) string {
	parts := make([]string, len(colW))
	for c, w := range colW {
		val := ""
		if c < len(cells) {
			val = cells[c]
		}
		parts[c] = padRight(clip(val, w), w)
	}
	return strings.TrimRight(strings.Join(parts, colSep), " ")
}

func padRight(s string, w int) string {
	if n := lipgloss.Width(s); n < w {
		return s + strings.Repeat(" ", w-n)
	}
	return s
}

// clip shortens s to w cells, marking the cut with "...".
func clip(s string, w int) string {
	if w <= 0 || lipgloss.Width(s) <= w {
		return s
	}
	r := []rune(s)
	if w <= 3 {
		return string(r[:min(w, len(r))])
	}
	for len(r) > 0 && lipgloss.Width(string(r))+3 > w {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}
