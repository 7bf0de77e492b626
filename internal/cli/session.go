package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yolodolo42/walletsig/internal/config"
	"github.com/yolodolo42/walletsig/internal/display"
	"github.com/yolodolo42/walletsig/internal/server"
	"github.com/yolodolo42/walletsig/internal/session"
	"github.com/yolodolo42/walletsig/internal/signature"
	"github.com/yolodolo42/walletsig/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect the wallet and print the session",
	RunE:  runStatus,
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a personal message with the active account",
	RunE:  runSign,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recover the account that signed a message",
	Long: `Recover the signer of an EIP-191 personal message signature.

No wallet or RPC endpoint is needed.`,
	RunE: runVerify,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session over HTTP",
	Long: `Serve one wallet session over a local HTTP API:

  GET  /session      current session and signature record
  POST /connect      connect the wallet
  POST /disconnect   drop the session
  POST /sign         {"message": "..."}
  POST /verify       {"message": "...", "signature": "0x..."}
  GET  /notices      recent notices`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(serveCmd)

	signCmd.Flags().StringP("message", "m", "", "message to sign")
	signCmd.Flags().Bool("copy", false, "copy the signature to the clipboard")
	_ = signCmd.MarkFlagRequired("message")

	verifyCmd.Flags().StringP("message", "m", "", "signed message")
	verifyCmd.Flags().StringP("signature", "s", "", "0x-prefixed 65-byte signature")
	verifyCmd.Flags().String("expect", "", "fail unless the signer is this address")

	serveCmd.Flags().String("listen", "", "address to listen on (default 127.0.0.1:8787)")
	serveCmd.Flags().Bool("connect", false, "connect the wallet before serving")
	_ = viper.BindPFlag(config.KeyListen, serveCmd.Flags().Lookup("listen"))
}

// openSession loads configuration, logs to stderr and builds the app.
func openSession() (*config.Config, *app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if _, err := setupLogging(cfg, false); err != nil {
		return nil, nil, err
	}
	a, err := newApp(cfg, appOptions{promptPassword: true})
	if err != nil {
		return nil, nil, err
	}
	return cfg, a, nil
}

func connect(ctx context.Context, a *app) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return a.session.Connect(ctx)
}

// printNotices writes non-fatal notices collected so far.
func printNotices(w io.Writer, notices []session.Notice) {
	for _, n := range notices {
		if n.Level == session.LevelInfo {
			continue
		}
		fmt.Fprintf(w, "%s: %s: %s\n", n.Level, n.Op, n.Message)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, a, err := openSession()
	if err != nil {
		return err
	}
	defer a.Close()

	err = connect(cmd.Context(), a)
	printNotices(os.Stderr, a.notices.Recent())
	if err != nil {
		return err
	}

	s := a.session.Snapshot()
	rows := []kvRow{{Key: "State", Value: s.State.String()}}
	for _, l := range ui.CardLines(s, a.session.Record()) {
		rows = append(rows, kvRow{Key: l[0], Value: l[1]})
	}
	fmt.Println(renderKV(termWidth(), "", rows))
	return nil
}

func runSign(cmd *cobra.Command, args []string) error {
	message, _ := cmd.Flags().GetString("message")
	toClipboard, _ := cmd.Flags().GetBool("copy")

	_, a, err := openSession()
	if err != nil {
		return err
	}
	defer a.Close()

	err = connect(cmd.Context(), a)
	if err == nil {
		var sig string
		sig, err = a.session.Sign(cmd.Context(), message)
		if err == nil {
			fmt.Printf("Account:   %s\n", a.session.Snapshot().Account.Hex())
			fmt.Printf("Signature: %s\n", sig)
			fmt.Printf("Short:     %s\n", display.Truncate(sig))
			if toClipboard {
				if cerr := clipboard.WriteAll(sig); cerr != nil {
					fmt.Fprintf(os.Stderr, "Warning: could not copy signature: %v\n", cerr)
				}
			}
		}
	}
	printNotices(os.Stderr, a.notices.Recent())
	return err
}

func runVerify(cmd *cobra.Command, args []string) error {
	message, _ := cmd.Flags().GetString("message")
	sig, _ := cmd.Flags().GetString("signature")
	expect, _ := cmd.Flags().GetString("expect")

	var want common.Address
	if expect = strings.TrimSpace(expect); expect != "" {
		if !common.IsHexAddress(expect) {
			return fmt.Errorf("invalid address: %s", expect)
		}
		want = common.HexToAddress(expect)
	}

	addr, err := signature.Verify(message, sig)
	if err != nil {
		return err
	}
	fmt.Printf("Signer: %s\n", addr.Hex())

	if expect == "" {
		return nil
	}
	if ok, err := signature.Matches(message, sig, want); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("signature was made by %s, not %s", addr.Hex(), want.Hex())
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, a, err := openSession()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if connectFirst, _ := cmd.Flags().GetBool("connect"); connectFirst {
		if err := connect(ctx, a); err != nil {
			printNotices(os.Stderr, a.notices.Recent())
			return err
		}
	}

	srv := server.New(a.session, a.notices)
	return srv.ListenAndServe(ctx, cfg.Listen)
}
