package setup

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/yolodolo42/walletsig/internal/wallet"
)

func (m WizardModel) createWallet() tea.Cmd {
	password := m.passwordInput.Value()
	dataDir := m.dataDir

	return func() tea.Msg {
		km, err := wallet.NewKeystoreManager(dataDir)
		if err != nil {
			return walletReadyMsg{err: err}
		}
		account, err := km.CreateAccount(password)
		if err != nil {
			return walletReadyMsg{err: err}
		}
		return walletReadyMsg{address: account.Address.Hex()}
	}
}

func (m WizardModel) importWallet() tea.Cmd {
	password := m.passwordInput.Value()
	key := m.keyInput.Value()
	dataDir := m.dataDir

	return func() tea.Msg {
		km, err := wallet.NewKeystoreManager(dataDir)
		if err != nil {
			return walletReadyMsg{err: err}
		}
		account, err := km.ImportKey(key, password)
		if err != nil {
			return walletReadyMsg{err: err}
		}
		return walletReadyMsg{address: account.Address.Hex()}
	}
}
