package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatchick/chatd/internal/convo"
)

var sendGroupID int64

func init() {
	sendCmd.Flags().Int64Var(&sendGroupID, "group", 0, "send to a group id instead of a user")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [user-id] <message...>",
	Short: "Send a message and wait for the server's verdict",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key convo.Key
		var content string

		s, err := loadSetup()
		if err != nil {
			return err
		}

		if sendGroupID > 0 {
			key = convo.GroupKey(sendGroupID)
			content = strings.Join(args, " ")
		} else {
			if len(args) < 2 {
				return fmt.Errorf("usage: chatctl send <user-id> <message...>")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("user-id must be numeric, got %q", args[0])
			}
			key = convo.DirectKey(s.self, args[0])
			content = strings.Join(args[1:], " ")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		live, err := connectLive(ctx, s)
		if err != nil {
			return err
		}
		defer live.close()

		verdicts, unsub := live.bus.Subscribe("send.", 16)
		defer unsub()

		localID, err := live.pipeline.Send(ctx, key, content, nil)
		if err != nil {
			return err
		}

		for {
			select {
			case <-ctx.Done():
				return fmt.Errorf("no verdict from server: %w", ctx.Err())
			case evt := <-verdicts:
				payload, ok := evt.Payload.(map[string]string)
				if !ok || payload["local_id"] != localID {
					continue
				}
				switch evt.Kind {
				case "send.confirmed":
					fmt.Printf("delivered (server id %s)\n", payload["server_id"])
					return nil
				case "send.rejected":
					return fmt.Errorf("rejected: %s: %s", payload["error_type"], payload["error_msg"])
				case "send.failed":
					return fmt.Errorf("send failed: %s", payload["error"])
				}
			}
		}
	},
}
