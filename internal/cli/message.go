package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/soyeahso/concierge/internal/chat"
	"github.com/spf13/cobra"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Talk to the assistant from the terminal",
	}

	cmd.AddCommand(newMessageSendCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message through the full chat pipeline and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			if logLevel == "" {
				logLevel = "warn"
			}
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, paths, log, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			reply, err := a.chat.SendMessage(ctx, chat.SendInput{Text: text})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(reply)
			}
			fmt.Fprintln(out, reply.Reply)
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[request %s, %dms, session %s]\n",
				reply.RequestID, reply.DurationMs, reply.SessionID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full reply as JSON")
	return cmd
}
