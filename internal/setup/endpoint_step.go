package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/yolodolo42/walletsig/internal/chain"
	"github.com/yolodolo42/walletsig/internal/config"
)

const endpointTimeout = 10 * time.Second

// validateEndpoint dials the RPC URL and asks for its chain id.
func (m WizardModel) validateEndpoint() tea.Cmd {
	url := strings.TrimSpace(m.endpointInput.Value())
	dial := m.dial

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), endpointTimeout)
		defer cancel()

		client := chain.NewClient([]string{url}, dial)
		defer client.Close()

		id, err := client.ChainID(ctx)
		if err != nil {
			return endpointCheckedMsg{err: err}
		}
		return endpointCheckedMsg{url: url, network: chain.LookupNetwork(id.Int64())}
	}
}

func (m WizardModel) saveEndpoint() error {
	if err := config.SaveEndpoint(config.FilePath(m.dataDir), []string{m.endpoint}); err != nil {
		return fmt.Errorf("failed to save endpoint: %w", err)
	}
	return nil
}

// formatEndpointError shortens dial and RPC errors for display.
func formatEndpointError(err error) string {
	if err == nil {
		return "Endpoint check failed. Please try again."
	}
	if errors.Is(err, chain.ErrNoEndpoints) {
		return "Enter an RPC URL."
	}
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "no such host"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "timeout"):
		return "Could not reach the endpoint. Check the URL and your connection."
	case strings.Contains(errStr, "401"), strings.Contains(errStr, "403"), strings.Contains(errStr, "unauthorized"):
		return "The endpoint rejected the request. Check the API key in the URL."
	case strings.Contains(errStr, "429"), strings.Contains(errStr, "rate"):
		return "Rate limited. Wait a moment and try again."
	}

	if len(errStr) > 60 {
		return errStr[:57] + "..."
	}
	return errStr
}
