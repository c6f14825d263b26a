package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatchick/chatd/internal/convo"
	"github.com/chatchick/chatd/internal/history"
)

var tailGroupID int64

func init() {
	tailCmd.Flags().Int64Var(&tailGroupID, "group", 0, "follow a group id instead of a user")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail [user-id]",
	Short: "Print a conversation's history and follow new messages",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSetup()
		if err != nil {
			return err
		}

		var key convo.Key
		switch {
		case tailGroupID > 0:
			key = convo.GroupKey(tailGroupID)
		case len(args) == 1:
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("user-id must be numeric, got %q", args[0])
			}
			key = convo.DirectKey(s.self, args[0])
		default:
			return fmt.Errorf("usage: chatctl tail <user-id> | chatctl tail --group <id>")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		live, err := connectLive(ctx, s)
		if err != nil {
			return err
		}
		defer live.close()

		// Print everything already known, then only what arrives after.
		seen := make(map[string]struct{})
		print := func(msgs []convo.Message) {
			for _, m := range msgs {
				if _, done := seen[m.LocalID+"/"+m.ServerID]; done {
					continue
				}
				seen[m.LocalID+"/"+m.ServerID] = struct{}{}
				printMessage(s.self, m)
			}
		}

		unsub := live.store.Subscribe(key, print)
		defer unsub()

		if !key.IsGroup() {
			loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			_, err = live.loader.Load(loadCtx, key)
			cancel()
			if err != nil && !errors.Is(err, history.ErrSuperseded) {
				fmt.Fprintf(os.Stderr, "warning: history unavailable: %v\n", err)
			}
		}
		print(live.store.Snapshot(key))

		<-ctx.Done()
		return nil
	},
}

func printMessage(self string, m convo.Message) {
	sender := m.Sender
	if sender == self {
		sender = "me"
	}
	marker := ""
	switch m.State {
	case convo.Pending:
		marker = " [pending]"
	case convo.Failed:
		marker = " [failed]"
	}
	line := fmt.Sprintf("%s  %s: %s%s", m.CreatedAt.Format("15:04:05"), sender, m.Content, marker)
	if m.Attachment != nil {
		line += fmt.Sprintf(" (%s: %s)", m.Attachment.Kind, m.Attachment.URI)
	}
	fmt.Println(line)
}
