package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/yolodolo42/walletsig/internal/chain"
	"github.com/yolodolo42/walletsig/internal/display"
	"github.com/yolodolo42/walletsig/internal/session"
)

// StateBadge renders the connection state with its colour.
func StateBadge(s session.State) string {
	switch s {
	case session.Connected:
		return SuccessStyle.Render(SymbolBullet + " connected")
	case session.Connecting:
		return WarnStyle.Render(SymbolPending + " connecting")
	default:
		return DimStyle.Render(SymbolBullet + " disconnected")
	}
}

// CardLines returns the label/value rows of the session card, unstyled.
func CardLines(s session.Snapshot, r session.SignatureRecord) [][2]string {
	account := display.Placeholder
	if s.Account != nil {
		account = s.Account.Hex()
	}

	network, explorer := display.Placeholder, display.Placeholder
	balance := s.Balance
	if balance == "" {
		balance = display.Placeholder
	}
	if s.Network != nil {
		known := chain.LookupNetwork(s.Network.ChainID)
		network = fmt.Sprintf("%s (%d)", s.Network.Name, s.Network.ChainID)
		if known.IsTestnet {
			network += " testnet"
		}
		if known.NativeCurrency != "" && balance != display.Placeholder {
			balance += " " + known.NativeCurrency
		}
		if known.ExplorerURL != "" && s.Account != nil {
			explorer = known.ExplorerURL + "/address/" + s.Account.Hex()
		}
	}

	name, avatar := display.Placeholder, display.Placeholder
	if s.Identity.Name != "" {
		name = s.Identity.Name
	}
	if s.Identity.AvatarURI != "" {
		avatar = s.Identity.AvatarURI
	}

	recovered := display.Placeholder
	if r.Recovered != nil {
		recovered = r.Recovered.Hex()
	}

	return [][2]string{
		{"Account", account},
		{"Name", name},
		{"Avatar", avatar},
		{"Balance", balance},
		{"Network", network},
		{"Explorer", explorer},
		{"Signature", display.Truncate(r.Signature)},
		{"Recovered", recovered},
	}
}

// Card renders the session card at most width columns wide.
func Card(s session.Snapshot, r session.SignatureRecord, width int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("walletsig"))
	b.WriteString("  ")
	b.WriteString(StateBadge(s.State))
	b.WriteString("\n\n")

	for _, row := range CardLines(s, r) {
		b.WriteString(LabelStyle.Render(row[0]))
		b.WriteString(ValueStyle.Render(row[1]))
		b.WriteString("\n")
	}

	style := BoxStyle
	if width > 0 {
		style = style.MaxWidth(width)
	}
	return style.Render(strings.TrimRight(b.String(), "\n"))
}

// NoticeLine renders one notice for the activity log.
func NoticeLine(n session.Notice) string {
	var prefix string
	switch n.Level {
	case session.LevelError:
		prefix = ErrorStyle.Render(SymbolCross)
	case session.LevelWarn:
		prefix = WarnStyle.Render(SymbolWarn)
	default:
		prefix = DimStyle.Render(SymbolArrow)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, prefix, " ", DimStyle.Render(string(n.Op)+": "), n.Message)
}
