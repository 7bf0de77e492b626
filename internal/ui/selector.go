package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// SelectorItem is one choice in a Selector.
type SelectorItem struct {
	ID          string
	Label       string
	Description string
	Current     bool
}

func (i SelectorItem) display() string {
	if i.Label != "" {
		return i.Label
	}
	return i.ID
}

// Selector is a vertical pick list. It starts active and deactivates once
// the user picks an item or cancels.
type Selector struct {
	title    string
	items    []SelectorItem
	cursor   int
	selected int
	active   bool
	width    int
}

// NewSelector starts the cursor on the item marked Current, if any.
func NewSelector(title string, items []SelectorItem) Selector {
	selected := 0
	for i, item := range items {
		if item.Current {
			selected = i
			break
		}
	}

	return Selector{
		title:    title,
		items:    items,
		cursor:   selected,
		selected: selected,
		active:   len(items) > 0,
		width:    80,
	}
}

func (s *Selector) SetWidth(w int) {
	s.width = w
}

func (s *Selector) Active() bool {
	return s.active
}

func (s *Selector) Items() []SelectorItem {
	return s.items
}

// Selected returns the picked item's ID, or "" after a cancel.
func (s *Selector) Selected() string {
	if s.selected >= 0 && s.selected < len(s.items) {
		return s.items[s.selected].ID
	}
	return ""
}

func (s *Selector) Cancelled() bool {
	return !s.active && s.selected == -1
}

// Update moves the cursor on arrow/vim keys and wraps at both ends. Digits
// 1-9 pick the matching item directly.
func (s *Selector) Update(msg tea.Msg) (*Selector, tea.Cmd) {
	if !s.active {
		return s, nil
	}

	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return s, nil
	}

	n := len(s.items)
	switch k := key.String(); k {
	case "up", "k":
		s.cursor = (s.cursor - 1 + n) % n
	case "down", "j", "tab":
		s.cursor = (s.cursor + 1) % n
	case "home", "g":
		s.cursor = 0
	case "end", "G":
		s.cursor = n - 1
	case "enter":
		s.selected = s.cursor
		s.active = false
	case "esc", "q":
		s.selected = -1
		s.active = false
	default:
		if len(k) == 1 && k[0] >= '1' && k[0] <= '9' {
			if i := int(k[0] - '1'); i < n {
				s.cursor = i
				s.selected = i
				s.active = false
			}
		}
	}
	return s, nil
}

func (s *Selector) View() string {
	if !s.active {
		return ""
	}

	var b strings.Builder
	b.WriteString(HelpStyle.Render(s.title + " (↑/↓ navigate, enter select, esc cancel)"))
	b.WriteString("\n\n")

	labelWidth := 0
	for _, item := range s.items {
		labelWidth = max(labelWidth, len(item.display()))
	}
	labelWidth = min(labelWidth+2, max(s.width/2, 12))

	for i, item := range s.items {
		if i == s.cursor {
			b.WriteString(SelectorCursor.Render(SymbolArrow) + " ")
		} else {
			b.WriteString("  ")
		}

		label := fmt.Sprintf("%-*s", labelWidth, item.display())
		if i == s.cursor {
			b.WriteString(SelectorActive.Render(label))
		} else {
			b.WriteString(SelectorItemStyle.Render(label))
		}

		desc := item.Description
		if item.Current {
			desc = strings.TrimSpace(desc + " (current)")
		}
		if desc != "" {
			b.WriteString(SelectorDim.Render(desc))
		}
		b.WriteString("\n")
	}

	return b.String()
}
