package setup

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/yolodolo42/walletsig/internal/chain"
	"github.com/yolodolo42/walletsig/internal/config"
	"github.com/yolodolo42/walletsig/internal/display"
	"github.com/yolodolo42/walletsig/internal/ui"
	"golang.org/x/term"
)

// WizardStep is the screen the wizard is on.
type WizardStep int

const (
	StepWelcome WizardStep = iota
	StepEndpoint
	StepWalletChoice
	StepWalletKey
	StepWalletPassword
	StepComplete
)

const totalSteps = 3 // Network, Wallet, Ready

const (
	choiceCreate = "create"
	choiceImport = "import"
	choiceSkip   = "skip"
)

const minPasswordLen = 8

// SetupResult is what the wizard configured.
type SetupResult struct {
	Endpoint      string
	Network       string
	WalletCreated bool
	WalletAddress string
	Cancelled     bool
}

// WizardModel is the setup wizard's bubbletea model.
type WizardModel struct {
	step     WizardStep
	status   *SetupStatus
	dataDir  string
	dial     chain.Dialer
	quitting bool

	// Endpoint step
	endpointInput textinput.Model
	checking      bool
	endpointError string
	endpoint      string
	networkName   string

	// Wallet step
	walletSelector ui.Selector
	walletChoice   string
	keyInput       textinput.Model
	passwordInput  textinput.Model
	confirmInput   textinput.Model
	passwordStep   int // 0=enter, 1=confirm
	walletError    string
	walletCreated  bool
	walletAddress  string

	spinner  spinner.Model
	progress progress.Model

	result *SetupResult
}

type endpointCheckedMsg struct {
	url     string
	network *chain.Network
	err     error
}

type walletReadyMsg struct {
	address string
	err     error
}

func walletSelectorItems() []ui.SelectorItem {
	return []ui.SelectorItem{
		{ID: choiceCreate, Label: "Create a new wallet", Description: "encrypted keystore file"},
		{ID: choiceImport, Label: "Import a private key", Description: "hex key, encrypted on import"},
		{ID: choiceSkip, Label: "Continue without wallet"},
	}
}

func newSecretInput(placeholder string, limit, width int) textinput.Model {
	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = placeholder
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'
	in.CharLimit = limit
	in.Width = width
	return in
}

// NewWizard builds the wizard for dataDir, skipping steps that rpcURLs or
// an existing keystore already satisfy. dial may be nil to use ethclient.
func NewWizard(dataDir string, rpcURLs []string, dial chain.Dialer) *WizardModel {
	status, _ := DetectSetupStatus(dataDir, rpcURLs)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = ui.SpinnerStyle

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 40

	endpointInput := textinput.New()
	endpointInput.Prompt = ""
	endpointInput.Placeholder = "https://mainnet.example/rpc"
	endpointInput.CharLimit = 300
	endpointInput.Width = 60

	m := &WizardModel{
		step:           StepWelcome,
		status:         status,
		dataDir:        dataDir,
		dial:           dial,
		endpointInput:  endpointInput,
		walletSelector: ui.NewSelector("Set up wallet (optional)", walletSelectorItems()),
		keyInput:       newSecretInput("Paste the private key (hex)", 80, 66),
		passwordInput:  newSecretInput(fmt.Sprintf("Enter password (%d+ chars)", minPasswordLen), 100, 40),
		confirmInput:   newSecretInput("Confirm password", 100, 40),
		spinner:        sp,
		progress:       prog,
	}

	if status.HasEndpoint {
		m.endpoint = status.Endpoint
		m.step = StepWalletChoice
		if status.HasWallet {
			m.walletAddress = status.WalletAddress
			m.step = StepComplete
		}
	}

	return m
}

func (m WizardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink)
}

func (m WizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Esc is left to the selectors.
		if msg.Type == tea.KeyCtrlC {
			m.result = &SetupResult{Cancelled: true}
			m.quitting = true
			return m, tea.Quit
		}

		switch m.step {
		case StepWelcome:
			if msg.Type == tea.KeyEnter {
				m.step = StepEndpoint
				return m, m.endpointInput.Focus()
			}
			return m, nil

		case StepEndpoint:
			if m.checking {
				return m, nil
			}
			switch msg.Type {
			case tea.KeyEsc:
				m.endpointInput.Blur()
				m.endpointError = ""
				m.step = StepWelcome
				return m, nil
			case tea.KeyEnter:
				if strings.TrimSpace(m.endpointInput.Value()) == "" {
					m.endpointError = "An RPC URL is required"
					return m, nil
				}
				m.checking = true
				m.endpointError = ""
				return m, m.validateEndpoint()
			}

		case StepWalletChoice:
			return m.updateWalletChoice(msg)

		case StepWalletKey:
			switch msg.Type {
			case tea.KeyEsc:
				m.keyInput.Reset()
				m.walletError = ""
				m.step = StepWalletChoice
				m.walletSelector = ui.NewSelector("Set up wallet (optional)", walletSelectorItems())
				return m, nil
			case tea.KeyEnter:
				if strings.TrimSpace(m.keyInput.Value()) == "" {
					m.walletError = "A private key is required"
					return m, nil
				}
				m.walletError = ""
				m.keyInput.Blur()
				m.passwordStep = 0
				m.step = StepWalletPassword
				return m, m.passwordInput.Focus()
			}

		case StepWalletPassword:
			switch msg.Type {
			case tea.KeyEsc:
				m.passwordStep = 0
				m.walletError = ""
				m.passwordInput.Reset()
				m.confirmInput.Reset()
				m.step = StepWalletChoice
				m.walletSelector = ui.NewSelector("Set up wallet (optional)", walletSelectorItems())
				return m, nil
			case tea.KeyEnter:
				return m.updateWalletPassword()
			}

		case StepComplete:
			if msg.Type == tea.KeyEnter {
				m.result = &SetupResult{
					Endpoint:      m.endpoint,
					Network:       m.networkName,
					WalletCreated: m.walletCreated,
					WalletAddress: m.walletAddress,
				}
				m.quitting = true
				return m, tea.Quit
			}
		}

	case tea.WindowSizeMsg:
		m.progress.Width = min(40, msg.Width-20)
		m.walletSelector.SetWidth(msg.Width)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case endpointCheckedMsg:
		m.checking = false
		if msg.err != nil {
			m.endpointError = formatEndpointError(msg.err)
			return m, nil
		}
		m.endpoint = msg.url
		m.networkName = fmt.Sprintf("%s (%d)", msg.network.Name, msg.network.ChainID)
		if err := m.saveEndpoint(); err != nil {
			m.endpointError = err.Error()
			return m, nil
		}
		m.endpointInput.Blur()
		m.step = StepWalletChoice
		if m.status != nil && m.status.HasWallet {
			m.walletAddress = m.status.WalletAddress
			m.step = StepComplete
		}
		return m, nil

	case walletReadyMsg:
		if msg.err != nil {
			m.walletError = msg.err.Error()
			m.passwordStep = 0
			m.passwordInput.Reset()
			m.confirmInput.Reset()
			return m, m.passwordInput.Focus()
		}
		m.walletCreated = true
		m.walletAddress = msg.address
		m.step = StepComplete
		return m, nil
	}

	switch {
	case m.step == StepEndpoint && !m.checking:
		var cmd tea.Cmd
		m.endpointInput, cmd = m.endpointInput.Update(msg)
		cmds = append(cmds, cmd)
	case m.step == StepWalletKey:
		var cmd tea.Cmd
		m.keyInput, cmd = m.keyInput.Update(msg)
		cmds = append(cmds, cmd)
	case m.step == StepWalletPassword:
		var cmd tea.Cmd
		if m.passwordStep == 0 {
			m.passwordInput, cmd = m.passwordInput.Update(msg)
		} else {
			m.confirmInput, cmd = m.confirmInput.Update(msg)
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m WizardModel) updateWalletChoice(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.walletSelector.Update(msg)
	if m.walletSelector.Active() {
		return m, nil
	}

	if m.walletSelector.Cancelled() {
		m.step = StepEndpoint
		m.walletSelector = ui.NewSelector("Set up wallet (optional)", walletSelectorItems())
		return m, m.endpointInput.Focus()
	}

	m.walletChoice = m.walletSelector.Selected()
	m.walletError = ""
	switch m.walletChoice {
	case choiceCreate:
		m.passwordStep = 0
		m.step = StepWalletPassword
		return m, m.passwordInput.Focus()
	case choiceImport:
		m.step = StepWalletKey
		return m, m.keyInput.Focus()
	default:
		m.step = StepComplete
		return m, nil
	}
}

func (m WizardModel) updateWalletPassword() (tea.Model, tea.Cmd) {
	if m.passwordStep == 0 {
		if len(m.passwordInput.Value()) < minPasswordLen {
			m.walletError = fmt.Sprintf("Password must be at least %d characters", minPasswordLen)
			return m, nil
		}
		m.passwordStep = 1
		m.walletError = ""
		m.passwordInput.Blur()
		return m, m.confirmInput.Focus()
	}

	if m.passwordInput.Value() != m.confirmInput.Value() {
		m.walletError = "Passwords do not match. Try again."
		m.confirmInput.Reset()
		return m, m.confirmInput.Focus()
	}
	if m.walletChoice == choiceImport {
		return m, m.importWallet()
	}
	return m, m.createWallet()
}

func (m WizardModel) View() string {
	if m.quitting {
		if m.result != nil && m.result.Cancelled {
			return ui.DimStyle.Render("\n  Setup cancelled.\n\n")
		}
		return ""
	}

	var b strings.Builder
	if m.step > StepWelcome && m.step < StepComplete {
		b.WriteString("\n")
		b.WriteString(m.renderProgress())
		b.WriteString("\n")
	}

	switch m.step {
	case StepWelcome:
		b.WriteString(m.viewWelcome())
	case StepEndpoint:
		b.WriteString(m.viewEndpoint())
	case StepWalletChoice:
		b.WriteString(m.viewWalletChoice())
	case StepWalletKey:
		b.WriteString(m.viewWalletKey())
	case StepWalletPassword:
		b.WriteString(m.viewWalletPassword())
	case StepComplete:
		b.WriteString(m.viewComplete())
	}
	return b.String()
}

func (m WizardModel) renderProgress() string {
	var current int
	switch m.step {
	case StepEndpoint:
		current = 1
	case StepWalletChoice, StepWalletKey, StepWalletPassword:
		current = 2
	case StepComplete:
		current = 3
	}

	bar := m.progress.ViewAs(float64(current) / float64(totalSteps))
	labels := "  Network       Wallet       Ready"
	return fmt.Sprintf("  %s\n%s", bar, ui.DimStyle.Render(labels))
}

func (m WizardModel) viewWelcome() string {
	box := ui.BoxStyle.Render(
		ui.TitleStyle.Render("Welcome to walletsig") + "\n" +
			ui.SubtitleStyle.Render("Sign and verify Ethereum messages from your terminal") + "\n\n" +
			"You need an RPC endpoint and a keystore account.",
	)
	return "\n\n" + box + "\n\n" + ui.HelpStyle.Render("  Press Enter to continue...")
}

func (m WizardModel) viewEndpoint() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(ui.TitleStyle.Render("  Ethereum RPC endpoint"))
	b.WriteString("\n\n")
	b.WriteString(ui.SubtitleStyle.Render(fmt.Sprintf("  Saved to %s\n\n", config.FilePath(m.dataDir))))
	b.WriteString("  ")
	b.WriteString(m.endpointInput.View())
	b.WriteString("\n")

	if m.checking {
		b.WriteString(fmt.Sprintf("\n  %s Checking endpoint...\n", m.spinner.View()))
	} else if m.endpointError != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", ui.ErrorStyle.Render(ui.SymbolCross+" "+m.endpointError)))
	}

	b.WriteString("\n")
	b.WriteString(ui.HelpStyle.Render("  Enter to check • Esc back"))
	return b.String()
}

func (m WizardModel) viewWalletChoice() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(ui.DimStyle.Render("  The wallet is the account whose key signs your messages.\n"))
	b.WriteString(ui.DimStyle.Render("  Keys are stored encrypted; the password is asked on connect.\n\n"))
	b.WriteString(m.walletSelector.View())
	if m.walletError != "" {
		b.WriteString(fmt.Sprintf("\n%s\n", ui.ErrorStyle.Render(ui.SymbolCross+" "+m.walletError)))
	}
	return b.String()
}

func (m WizardModel) viewWalletKey() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(ui.TitleStyle.Render("  Import private key"))
	b.WriteString("\n\n  ")
	b.WriteString(m.keyInput.View())
	b.WriteString("\n")
	if m.walletError != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", ui.ErrorStyle.Render(ui.SymbolCross+" "+m.walletError)))
	}
	b.WriteString("\n")
	b.WriteString(ui.HelpStyle.Render("  Enter to continue • Esc back"))
	return b.String()
}

func (m WizardModel) viewWalletPassword() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(ui.TitleStyle.Render("  Wallet password"))
	b.WriteString("\n\n")
	b.WriteString(ui.DimStyle.Render("  This encrypts your key on disk.\n"))
	b.WriteString(ui.DimStyle.Render(fmt.Sprintf("  Requirements: %d+ characters\n\n", minPasswordLen)))

	if m.passwordStep == 0 {
		b.WriteString("  ")
		b.WriteString(m.passwordInput.View())
		b.WriteString("\n")
	} else {
		b.WriteString(fmt.Sprintf("  Password: %s\n\n", ui.SuccessStyle.Render(ui.SymbolCheck+" set")))
		b.WriteString("  ")
		b.WriteString(m.confirmInput.View())
		b.WriteString("\n")
	}

	if m.walletError != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", ui.ErrorStyle.Render(ui.SymbolCross+" "+m.walletError)))
	}
	b.WriteString("\n")
	b.WriteString(ui.HelpStyle.Render("  Enter to continue • Esc back"))
	return b.String()
}

func (m WizardModel) viewComplete() string {
	walletInfo := ui.DimStyle.Render("Not configured")
	if m.walletAddress != "" {
		walletInfo = display.Truncate(m.walletAddress)
	}
	endpoint := m.endpoint
	if m.networkName != "" {
		endpoint += " " + ui.DimStyle.Render(m.networkName)
	}

	content := fmt.Sprintf(
		"%s\n\n"+
			"Endpoint: %s\n"+
			"Wallet:   %s\n\n"+
			"%s\n"+
			"  %s\n"+
			"  %s",
		ui.TitleStyle.Render("You're all set!"),
		endpoint,
		walletInfo,
		ui.DimStyle.Render("Try these:"),
		"/connect",
		"/sign hello world",
	)

	return "\n\n" + ui.BoxStyle.Render(content) + "\n\n" + ui.HelpStyle.Render("  Press Enter to start walletsig...")
}

// RunWizard runs the wizard against dataDir.
func RunWizard(dataDir string, rpcURLs []string) (*SetupResult, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	m := NewWizard(dataDir, rpcURLs, nil)
	if m.step == StepComplete {
		return &SetupResult{
			Endpoint:      m.endpoint,
			WalletAddress: m.walletAddress,
		}, nil
	}

	final, err := tea.NewProgram(*m, tea.WithAltScreen()).Run()
	if err != nil {
		return nil, err
	}
	return final.(WizardModel).result, nil
}

// PrintEnvInstructions explains non-interactive configuration.
func PrintEnvInstructions() {
	fmt.Println("walletsig needs an RPC endpoint and a wallet to connect.")
	fmt.Println("")
	fmt.Println("Set these environment variables:")
	fmt.Println("  WALLETSIG_RPC_URLS=https://...")
	fmt.Println("  WALLETSIG_PASSWORD=...          (keystore password)")
	fmt.Println("  WALLETSIG_PRIVATE_KEY=0x...     (or a raw key instead of a keystore)")
	fmt.Println("")
	fmt.Println("Or run walletsig interactively to complete guided setup.")
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
