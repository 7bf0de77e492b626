package ui

import "github.com/charmbracelet/lipgloss"

var (
	ColorPrimary   = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("35")  // Green
	ColorWarning   = lipgloss.Color("214") // Gold/yellow
	ColorError     = lipgloss.Color("196") // Red
	ColorDim       = lipgloss.Color("241") // Gray
	ColorAccent    = lipgloss.Color("39")  // Blue
	ColorHighlight = lipgloss.Color("212") // Light pink
	ColorBorder    = lipgloss.Color("62")  // Purple
)

const (
	SymbolPrompt  = "❯"
	SymbolBullet  = "●"
	SymbolArrow   = "▸"
	SymbolCheck   = "✓"
	SymbolCross   = "✗"
	SymbolWarn    = "!"
	SymbolPending = "◐"
)

var (
	PromptStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorDim)

	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorDim)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorDim)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary)

	// BoxStyle frames the session card and the setup screens.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(1, 2)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorDim).
			Width(11)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SelectorCursor = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	SelectorItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252"))

	SelectorDim = lipgloss.NewStyle().
			Foreground(ColorDim)

	SelectorActive = lipgloss.NewStyle().
			Foreground(ColorHighlight).
			Bold(true)

	Checkmark = SuccessStyle.Render(SymbolCheck)
)
