package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
	"github.com/yolodolo42/walletsig/internal/config"
	"github.com/yolodolo42/walletsig/internal/display"
	"github.com/yolodolo42/walletsig/internal/session"
	"github.com/yolodolo42/walletsig/internal/ui"
)

const (
	opTimeout    = 60 * time.Second
	refreshEvery = 500 * time.Millisecond
	maxActivity  = 200
)

const helpText = `Commands:
  /connect              Connect the wallet
  /disconnect           Drop the session
  /sign <message>       Sign a message (plain text also signs)
  /verify <msg> | <sig> Recover the signer of a signature
  /copy                 Copy the last signature to the clipboard
  /account              Switch the active account
  /status               Print the session as text
  /clear                Clear the activity log
  /quit                 Exit`

type entryKind int

const (
	entryInfo entryKind = iota
	entryOK
	entryError
	entryInput
	entryNotice
)

// entry is one line of the activity log under the card.
type entry struct {
	kind   entryKind
	text   string
	notice session.Notice
}

// accountSelector is implemented by providers that can switch accounts on
// request.
type accountSelector interface {
	SelectAccount(common.Address) error
}

// noticeChan feeds manager notices to the screen without ever blocking the
// manager.
type noticeChan chan session.Notice

func (c noticeChan) Notify(n session.Notice) {
	select {
	case c <- n:
	default:
	}
}

type noticeMsg session.Notice

type refreshMsg time.Time

type opDoneMsg struct {
	op   string
	text string
	err  error

	// reported errors already reached the activity log as a notice.
	reported bool
}

type accountsMsg struct {
	accounts []common.Address
	err      error
}

type model struct {
	session *session.Manager
	notices <-chan session.Notice
	copy    func(string) error

	prompt   ui.Prompt
	viewport viewport.Model
	spinner  spinner.Model
	picker   *ui.Selector

	activity []entry
	busy     string
	width    int
	height   int
	ready    bool
	quitting bool
}

func newModel(m *session.Manager, notices <-chan session.Notice) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ui.SpinnerStyle

	return model{
		session: m,
		notices: notices,
		copy:    clipboard.WriteAll,
		prompt:  ui.NewPrompt("/connect, then type a message to sign"),
		spinner: sp,
		activity: []entry{
			{kind: entryInfo, text: "Type /connect to open a session, /help for commands."},
		},
	}
}

func waitForNotice(ch <-chan session.Notice) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForNotice(m.notices), refresh())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}
		if m.picker != nil {
			return m.updatePicker(msg)
		}
		if msg.Type == tea.KeyEnter {
			if m.busy != "" {
				return m, nil
			}
			input := strings.TrimSpace(m.prompt.Commit())
			if input == "" {
				return m, nil
			}
			m.push(entry{kind: entryInput, text: input})
			return m.handleInput(input)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, 1)
			m.ready = true
		}
		m.prompt.SetWidth(msg.Width)
		m.layout()
		return m, nil

	case noticeMsg:
		m.push(entry{kind: entryNotice, notice: session.Notice(msg)})
		return m, waitForNotice(m.notices)

	case opDoneMsg:
		m.busy = ""
		switch {
		case errors.Is(msg.err, session.ErrSessionReset):
			m.push(entry{kind: entryError, text: fmt.Sprintf("%s abandoned: the session was reset", msg.op)})
		case msg.err != nil && !msg.reported:
			m.push(entry{kind: entryError, text: msg.err.Error()})
		case msg.err == nil && msg.text != "":
			m.push(entry{kind: entryOK, text: msg.text})
		}
		return m, nil

	case accountsMsg:
		m.busy = ""
		return m.openPicker(msg)

	case refreshMsg:
		m.layout()
		return m, refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	_, cmd := m.prompt.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return "Initializing...\n"
	}

	var b strings.Builder
	b.WriteString(m.card())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.busy != "" {
		b.WriteString(fmt.Sprintf("%s %s...\n", m.spinner.View(), m.busy))
	} else {
		b.WriteString("\n")
	}

	if m.picker != nil {
		b.WriteString(m.picker.View())
		return b.String()
	}
	b.WriteString(m.prompt.View())
	b.WriteString("\n")
	b.WriteString(ui.HelpStyle.Render("/help • /connect • /sign • /verify • /copy • /account • /quit • Ctrl+C to exit"))
	return b.String()
}

func (m model) card() string {
	return ui.Card(m.session.Snapshot(), m.session.Record(), m.width)
}

// layout gives the activity log whatever the card and prompt leave free.
func (m *model) layout() {
	if !m.ready {
		return
	}
	reserved := lipgloss.Height(m.card()) + 4
	if m.picker != nil {
		reserved += lipgloss.Height(m.picker.View())
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-reserved, 3)
	m.updateViewport()
}

func (m *model) push(e entry) {
	m.activity = append(m.activity, e)
	if len(m.activity) > maxActivity {
		m.activity = m.activity[len(m.activity)-maxActivity:]
	}
	m.updateViewport()
}

func (m *model) updateViewport() {
	if !m.ready {
		return
	}
	var content strings.Builder
	for _, e := range m.activity {
		switch e.kind {
		case entryInput:
			content.WriteString(ui.PromptStyle.Render(ui.SymbolPrompt + " "))
			content.WriteString(e.text)
		case entryOK:
			content.WriteString(ui.SuccessStyle.Render(ui.SymbolCheck + " "))
			content.WriteString(e.text)
		case entryError:
			content.WriteString(ui.ErrorStyle.Render(ui.SymbolCross + " "))
			content.WriteString(e.text)
		case entryNotice:
			content.WriteString(ui.NoticeLine(e.notice))
		default:
			content.WriteString(ui.DimStyle.Render(e.text))
		}
		content.WriteString("\n")
	}
	m.viewport.SetContent(content.String())
	m.viewport.GotoBottom()
}

func (m model) handleInput(input string) (tea.Model, tea.Cmd) {
	if !strings.HasPrefix(input, "/") {
		return m.startSign(input)
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "/quit", "/exit", "/q":
		m.quitting = true
		return m, tea.Quit

	case "/help", "/?":
		m.push(entry{kind: entryInfo, text: helpText})
		return m, nil

	case "/clear":
		m.activity = nil
		m.updateViewport()
		return m, nil

	case "/connect":
		m.busy = "Connecting"
		return m, tea.Batch(m.spinner.Tick, m.connect())

	case "/disconnect":
		if m.session.State() == session.Disconnected {
			m.push(entry{kind: entryInfo, text: "Already disconnected."})
			return m, nil
		}
		m.session.Disconnect()
		m.push(entry{kind: entryOK, text: "Disconnected."})
		return m, nil

	case "/sign":
		if arg == "" {
			m.push(entry{kind: entryError, text: "Usage: /sign <message>"})
			return m, nil
		}
		return m.startSign(arg)

	case "/verify":
		return m.verify(arg)

	case "/copy":
		return m.copySignature()

	case "/account", "/accounts":
		if _, ok := m.session.Provider().(accountSelector); !ok {
			m.push(entry{kind: entryError, text: "This wallet cannot switch accounts."})
			return m, nil
		}
		m.busy = "Loading accounts"
		return m, tea.Batch(m.spinner.Tick, m.loadAccounts())

	case "/status":
		s := m.session.Snapshot()
		rows := []kvRow{{Key: "State", Value: s.State.String()}}
		for _, l := range ui.CardLines(s, m.session.Record()) {
			rows = append(rows, kvRow{Key: l[0], Value: l[1]})
		}
		m.push(entry{kind: entryInfo, text: renderKV(m.width, "", rows)})
		return m, nil

	default:
		m.push(entry{kind: entryError, text: fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd)})
		return m, nil
	}
}

func (m model) connect() tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		if err := sess.Connect(ctx); err != nil {
			return opDoneMsg{op: "connect", err: err, reported: true}
		}
		s := sess.Snapshot()
		text := "Connected."
		if s.Account != nil {
			text = fmt.Sprintf("Connected as %s.", s.Account.Hex())
		}
		return opDoneMsg{op: "connect", text: text}
	}
}

func (m model) startSign(message string) (tea.Model, tea.Cmd) {
	m.busy = "Waiting for signature"
	sess := m.session
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		sig, err := sess.Sign(ctx, message)
		if err != nil {
			return opDoneMsg{op: "sign", err: err, reported: true}
		}
		return opDoneMsg{op: "sign", text: "Signed: " + display.Truncate(sig)}
	})
}

// verify takes "<message> | <signature>"; the last "|" separates the two so
// messages may contain the separator.
func (m model) verify(arg string) (tea.Model, tea.Cmd) {
	i := strings.LastIndex(arg, "|")
	if i < 0 {
		m.push(entry{kind: entryError, text: "Usage: /verify <message> | <signature>"})
		return m, nil
	}
	message := strings.TrimSpace(arg[:i])
	sig := strings.TrimSpace(arg[i+1:])

	addr, err := m.session.Verify(message, sig)
	if err != nil {
		// The manager already reported the failure as a notice.
		return m, nil
	}
	m.push(entry{kind: entryOK, text: "Recovered signer: " + addr.Hex()})
	return m, nil
}

func (m model) copySignature() (tea.Model, tea.Cmd) {
	sig := m.session.Record().Signature
	if sig == "" {
		m.push(entry{kind: entryError, text: "No signature to copy. Use /sign first."})
		return m, nil
	}
	if err := m.copy(sig); err != nil {
		m.push(entry{kind: entryError, text: fmt.Sprintf("Failed to copy: %v", err)})
		return m, nil
	}
	m.push(entry{kind: entryOK, text: "Copied signature to clipboard."})
	return m, nil
}

func (m model) loadAccounts() tea.Cmd {
	p := m.session.Provider()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		accs, err := p.ListAccounts(ctx)
		return accountsMsg{accounts: accs, err: err}
	}
}

func (m model) openPicker(msg accountsMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.push(entry{kind: entryError, text: fmt.Sprintf("Failed to list accounts: %v", msg.err)})
		return m, nil
	}
	if len(msg.accounts) == 0 {
		m.push(entry{kind: entryError, text: "The wallet has no accounts."})
		return m, nil
	}

	var current common.Address
	if acc := m.session.Snapshot().Account; acc != nil {
		current = *acc
	}
	items := make([]ui.SelectorItem, 0, len(msg.accounts))
	for _, a := range msg.accounts {
		items = append(items, ui.SelectorItem{ID: a.Hex(), Current: a == current})
	}
	picker := ui.NewSelector("Select account", items)
	picker.SetWidth(m.width)
	m.picker = &picker
	m.prompt.Blur()
	m.layout()
	return m, nil
}

func (m model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.picker.Update(msg)
	if m.picker.Active() {
		return m, nil
	}

	cancelled := m.picker.Cancelled()
	picked := m.picker.Selected()
	m.picker = nil
	focus := m.prompt.Focus()
	m.layout()

	if cancelled || picked == "" {
		m.push(entry{kind: entryInfo, text: "Account unchanged."})
		return m, focus
	}

	sel, ok := m.session.Provider().(accountSelector)
	if !ok {
		return m, focus
	}
	addr := common.HexToAddress(picked)
	if err := sel.SelectAccount(addr); err != nil {
		m.push(entry{kind: entryError, text: fmt.Sprintf("Failed to switch account: %v", err)})
		return m, focus
	}
	m.push(entry{kind: entryOK, text: "Active account: " + addr.Hex()})
	return m, focus
}

// RunREPL opens the interactive session card.
func RunREPL(cfg *config.Config) error {
	logs, err := setupLogging(cfg, true)
	if err != nil {
		return err
	}
	defer logs.Close()

	notices := make(noticeChan, 64)
	a, err := newApp(cfg, appOptions{notifier: notices, promptPassword: true})
	if err != nil {
		return err
	}
	defer a.Close()

	p := tea.NewProgram(
		newModel(a.session, notices),
		tea.WithAltScreen(),
	)

	_, err = p.Run()
	return err
}
