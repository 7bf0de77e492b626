package ui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Prompt is a single-line input with a styled prefix and a recall history
// browsed with the up and down keys.
type Prompt struct {
	input   textinput.Model
	width   int
	focused bool

	history []string
	recall  int
	draft   string
}

func NewPrompt(placeholder string) Prompt {
	ti := textinput.New()
	ti.Prompt = ""
	ti.Placeholder = placeholder
	ti.CharLimit = 4000
	ti.Width = 80

	return Prompt{
		input:   ti,
		width:   80,
		focused: true,
	}
}

func (p *Prompt) Focus() tea.Cmd {
	p.focused = true
	return p.input.Focus()
}

func (p *Prompt) Blur() {
	p.focused = false
	p.input.Blur()
}

func (p *Prompt) Focused() bool {
	return p.focused
}

func (p *Prompt) SetWidth(w int) {
	p.width = w
	p.input.Width = w - 4 // prompt symbol and spacing
}

func (p *Prompt) Value() string {
	return p.input.Value()
}

func (p *Prompt) SetValue(s string) {
	p.input.SetValue(s)
	p.input.CursorEnd()
}

// Commit records the current value in the history and clears the input.
func (p *Prompt) Commit() string {
	v := p.input.Value()
	if v != "" && (len(p.history) == 0 || p.history[len(p.history)-1] != v) {
		p.history = append(p.history, v)
	}
	p.recall = len(p.history)
	p.draft = ""
	p.input.Reset()
	return v
}

func (p *Prompt) Reset() {
	p.input.Reset()
	p.recall = len(p.history)
	p.draft = ""
}

func (p *Prompt) Update(msg tea.Msg) (*Prompt, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && len(p.history) > 0 {
		switch key.Type {
		case tea.KeyUp:
			if p.recall == len(p.history) {
				p.draft = p.input.Value()
			}
			if p.recall > 0 {
				p.recall--
				p.SetValue(p.history[p.recall])
			}
			return p, nil
		case tea.KeyDown:
			if p.recall < len(p.history) {
				p.recall++
				if p.recall == len(p.history) {
					p.SetValue(p.draft)
				} else {
					p.SetValue(p.history[p.recall])
				}
			}
			return p, nil
		}
	}

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

func (p *Prompt) View() string {
	style := SelectorDim
	if p.focused {
		style = PromptStyle
	}
	return style.Render(SymbolPrompt) + " " + p.input.View()
}
