// Package cli implements the wppctl commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/matheus3301/wppdash/internal/config"
	"github.com/matheus3301/wppdash/internal/lock"
	"github.com/matheus3301/wppdash/internal/session"
	"github.com/spf13/cobra"
)

type options struct {
	session string
	addr    string
	json    bool
	timeout time.Duration
}

// NewRootCmd builds the wppctl command tree.
func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "wppctl",
		Short:         "Control a running wppd session daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.session, "session", "s", "", "session name (overrides config default)")
	root.PersistentFlags().StringVar(&o.addr, "addr", "", "daemon HTTP address (default: from the session lock or config)")
	root.PersistentFlags().BoolVar(&o.json, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		statusCmd(o),
		pingCmd(o),
		qrCmd(o),
		restartCmd(o),
		newQRCmd(o),
		clearDataCmd(o),
		sanitizeCmd(o),
		chatsCmd(o),
		messagesCmd(o),
		sendCmd(o),
		syncCmd(o),
		clearChatCmd(o),
		readCmd(o),
		contactsCmd(o),
		saveNowCmd(o),
		backupsCmd(o),
		sendLogCmd(o),
	)
	return root
}

// Execute runs wppctl and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (o *options) sessionName() (string, error) {
	name := session.Resolve(o.session, nil)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// address resolves the daemon address: flag, then the lock file of the
// running daemon, then the config default.
func (o *options) address() (string, error) {
	if o.addr != "" {
		return o.addr, nil
	}
	name, err := o.sessionName()
	if err != nil {
		return "", err
	}
	if info, err := lock.ReadInfo(session.Dir(name)); err == nil && info.Listen != "" {
		return info.Listen, nil
	}
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return "", err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg.HTTP.Listen, nil
}

func (o *options) client() (*Client, error) {
	addr, err := o.address()
	if err != nil {
		return nil, err
	}
	return NewClient(addr), nil
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.timeout)
}

// run wraps a command body with a client and a request deadline.
func (o *options) run(fn func(ctx context.Context, c *Client, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := o.client()
		if err != nil {
			return err
		}
		ctx, cancel := o.context(cmd)
		defer cancel()
		return fn(ctx, c, cmd, args)
	}
}

// print writes v as JSON when --json is set, else calls text.
func (o *options) print(w io.Writer, v any, text func()) {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		}
		return
	}
	text()
}
