package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nugget/hayden/internal/chat"
	"github.com/nugget/hayden/internal/conversation"
)

func newAskCmd(flags *globalFlags) *cobra.Command {
	var user, room string

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run one conversation turn and print the reply",
		Long: `Run a single message through the conversation engine, exactly as if
it had arrived over chat, and print the reply. Logs go to stderr.

Bookkeeping mode does not survive between invocations: each run starts
in normal mode.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			a, _, err := newApp(flags.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			chatID := chat.Key(chat.Message{Sender: user, Room: room})
			reply, err := a.engine.Handle(cmd.Context(), conversation.Turn{
				ChatID:   chatID,
				UserName: user,
				Text:     strings.Join(args, " "),
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "cli", "user name the turn is attributed to")
	cmd.Flags().StringVarP(&room, "room", "r", "", "room name; the turn joins that room's chat")
	return cmd
}
