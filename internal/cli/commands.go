package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/wppdash/internal/daemon"
	"github.com/matheus3301/wppdash/internal/session"
	"github.com/matheus3301/wppdash/internal/store"
	"github.com/matheus3301/wppdash/internal/wa"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func statusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection and data status",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, _ []string) error {
			st, err := c.SystemStatus(ctx)
			if err != nil {
				return err
			}
			o.print(cmd.OutOrStdout(), st, func() {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "State:     %s\n", st.State)
				fmt.Fprintf(w, "Chats:     %d\n", st.TotalChats)
				fmt.Fprintf(w, "Contacts:  %d\n", st.TotalContacts)
				fmt.Fprintf(w, "Backups:   %d\n", st.Backups)
				if st.LatestBackup != "" {
					fmt.Fprintf(w, "Latest:    %s\n", st.LatestBackup)
				}
				if st.LastConnected != nil {
					fmt.Fprintf(w, "Connected: %s\n", st.LastConnected.Local().Format(time.RFC3339))
				}
				fmt.Fprintf(w, "Uptime:    %s\n", (time.Duration(st.Uptime) * time.Second).String())
			})
			return nil
		}),
	}
}

func pingCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Probe the daemon over its control socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := o.sessionName()
			if err != nil {
				return err
			}
			conn, err := grpc.NewClient(
				"unix://"+session.SocketPath(name),
				grpc.WithTransportCredentials(insecure.NewCredentials()),
			)
			if err != nil {
				return fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
			}
			defer func() { _ = conn.Close() }()

			ctx, cancel := o.context(cmd)
			defer cancel()
			hc := healthpb.NewHealthClient(conn)
			result := map[string]string{}
			for _, svc := range []string{"", daemon.WhatsAppService} {
				resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
				if err != nil {
					return fmt.Errorf("daemon for session %q not responding: %w", name, err)
				}
				result[svc] = resp.Status.String()
			}
			o.print(cmd.OutOrStdout(), map[string]string{
				"session":  name,
				"daemon":   result[""],
				"whatsapp": result[daemon.WhatsAppService],
			}, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s: daemon %s, whatsapp %s\n",
					name, result[""], result[daemon.WhatsAppService])
			})
			return nil
		},
	}
}

func qrCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "qr",
		Short: "Print the pending pairing QR code",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, _ []string) error {
			code, err := c.QR(ctx)
			if err != nil {
				return err
			}
			if code == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No QR code pending.")
				return nil
			}
			if o.json {
				o.print(cmd.OutOrStdout(), map[string]string{"code": code}, nil)
				return nil
			}
			art, err := wa.RenderQRTerminal(code)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), art)
			fmt.Fprintln(cmd.OutOrStdout(), "Scan with WhatsApp > Linked devices.")
			return nil
		}),
	}
}

// simpleCmd builds a command that performs one call and prints done.
func simpleCmd(o *options, use, short, done string, call func(*Client, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, _ []string) error {
			if err := call(c, ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
			return nil
		}),
	}
}

func restartCmd(o *options) *cobra.Command {
	return simpleCmd(o, "restart", "Restart the WhatsApp connection keeping credentials",
		"Connection restarting.", (*Client).Restart)
}

func newQRCmd(o *options) *cobra.Command {
	return simpleCmd(o, "new-qr", "Log out, clear credentials and start a fresh pairing",
		"New QR code requested. Run 'wppctl qr' to display it.", (*Client).ForceNewQR)
}

func clearDataCmd(o *options) *cobra.Command {
	return simpleCmd(o, "clear-data", "Delete all chats, messages and contacts",
		"All data cleared.", (*Client).ClearData)
}

func saveNowCmd(o *options) *cobra.Command {
	return simpleCmd(o, "save-now", "Flush all data files and take a backup",
		"Saved.", (*Client).ForceSave)
}

func sanitizeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize",
		Short: "Drop chats with invalid addresses",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, _ []string) error {
			n, err := c.Sanitize(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d chats.\n", n)
			return nil
		}),
	}
}

func chatsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, _ []string) error {
			chats, err := c.Chats(ctx)
			if err != nil {
				return err
			}
			o.print(cmd.OutOrStdout(), chats, func() {
				if len(chats) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No chats.")
					return
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tUNREAD\tLAST MESSAGE")
				for _, ch := range chats {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", ch.ID, ch.Name, ch.UnreadCount, truncate(ch.LastMessage, 40))
				}
				_ = tw.Flush()
			})
			return nil
		}),
	}
}

func messagesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "messages <chat-id>",
		Short: "Show the message history of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, args []string) error {
			msgs, err := c.Messages(ctx, args[0])
			if err != nil {
				return err
			}
			o.print(cmd.OutOrStdout(), msgs, func() {
				for _, m := range msgs {
					who := m.From
					if m.FromMe {
						who = "me"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", m.Timestamp.Local().Format("2006-01-02 15:04"), who, m.Body)
				}
			})
			return nil
		}),
	}
}

func sendCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat-id|phone> <text...>",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, args []string) error {
			msg, err := c.Send(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			o.print(cmd.OutOrStdout(), msg, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", msg.ID, msg.To)
			})
			return nil
		}),
	}
}

func syncCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Broadcast the chat list to dashboard clients",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, _ []string) error {
			n, err := c.SyncChats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d chats.\n", n)
			return nil
		}),
	}
}

func clearChatCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-chat <chat-id>",
		Short: "Delete the message history of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, args []string) error {
			n, err := c.ClearChat(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d messages.\n", n)
			return nil
		}),
	}
}

func readCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <chat-id>",
		Short: "Mark a chat as read",
		Args:  cobra.ExactArgs(1),
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, args []string) error {
			if err := c.MarkRead(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Marked as read.")
			return nil
		}),
	}
}

func contactsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage saved contacts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved contacts",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, _ []string) error {
			contacts, err := c.Contacts(ctx)
			if err != nil {
				return err
			}
			o.print(cmd.OutOrStdout(), contacts, func() {
				if len(contacts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No saved contacts.")
					return
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tPHONE\tNOTES")
				for _, sc := range contacts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", sc.ID, sc.Name, sc.Phone, truncate(sc.Notes, 30))
				}
				_ = tw.Flush()
			})
			return nil
		}),
	}

	save := &cobra.Command{
		Use:   "save <chat-id> <name>",
		Short: "Save a chat as a contact",
		Args:  cobra.ExactArgs(2),
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, args []string) error {
			notes, _ := cmd.Flags().GetString("notes")
			sc, err := c.SaveContact(ctx, args[0], args[1], notes)
			if err != nil {
				return err
			}
			o.print(cmd.OutOrStdout(), sc, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", sc.Name, sc.ID)
			})
			return nil
		}),
	}
	save.Flags().String("notes", "", "free-form notes")

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update fields of a saved contact",
		Args:  cobra.ExactArgs(1),
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, args []string) error {
			var patch store.ContactPatch
			for flag, field := range map[string]**string{
				"name":   &patch.Name,
				"phone":  &patch.Phone,
				"notes":  &patch.Notes,
				"gender": &patch.Gender,
			} {
				if cmd.Flags().Changed(flag) {
					v, _ := cmd.Flags().GetString(flag)
					*field = &v
				}
			}
			sc, err := c.UpdateContact(ctx, args[0], patch)
			if err != nil {
				return err
			}
			o.print(cmd.OutOrStdout(), sc, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (%s)\n", sc.Name, sc.ID)
			})
			return nil
		}),
	}
	update.Flags().String("name", "", "display name")
	update.Flags().String("phone", "", "phone number")
	update.Flags().String("notes", "", "free-form notes")
	update.Flags().String("gender", "", "gender")

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a saved contact",
		Args:  cobra.ExactArgs(1),
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, args []string) error {
			if err := c.RemoveContact(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Removed.")
			return nil
		}),
	}

	startChat := &cobra.Command{
		Use:   "start-chat <id>",
		Short: "Open a chat for a saved contact",
		Args:  cobra.ExactArgs(1),
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, args []string) error {
			if err := c.StartChat(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Chat ready.")
			return nil
		}),
	}

	cmd.AddCommand(list, save, update, rm, startChat)
	return cmd
}

func backupsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List or restore data snapshots",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, _ []string) error {
			backups, err := c.Backups(ctx)
			if err != nil {
				return err
			}
			o.print(cmd.OutOrStdout(), backups, func() {
				if len(backups) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No backups.")
					return
				}
				for _, b := range backups {
					fmt.Fprintln(cmd.OutOrStdout(), b)
				}
			})
			return nil
		}),
	}

	restore := &cobra.Command{
		Use:   "restore <name>",
		Short: "Restore a snapshot over the live data",
		Args:  cobra.ExactArgs(1),
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, args []string) error {
			if err := c.RestoreBackup(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s.\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(list, restore)
	return cmd
}

func sendLogCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send-log",
		Short: "Show recent send attempts",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, c *Client, cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := c.SendLog(ctx, limit)
			if err != nil {
				return err
			}
			o.print(cmd.OutOrStdout(), entries, func() {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tCHAT\tSTATUS\tBODY")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.ChatID, e.Status, truncate(e.Body, 40))
				}
				_ = tw.Flush()
			})
			return nil
		}),
	}
	cmd.Flags().IntP("limit", "n", 20, "number of entries")
	return cmd
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
