package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatchick/chatd/internal/session"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session configuration and account status",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSetup()
		if err != nil {
			return err
		}

		fmt.Printf("Session:  %s\n", s.session)
		fmt.Printf("Server:   %s\n", s.cfg.ServerURL)
		fmt.Printf("Socket:   %s\n", s.cfg.SocketEndpoint())
		fmt.Printf("User ID:  %s\n", s.self)

		// The daemon writes its pid into the session lock while running.
		if pid, ok := daemonPID(s.session); ok {
			fmt.Printf("Daemon:   running (pid %s)\n", pid)
		} else {
			fmt.Println("Daemon:   not running")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		profile, err := s.client.Profile(ctx)
		if err != nil {
			fmt.Printf("Account:  unreachable (%v)\n", err)
			return nil
		}
		fmt.Printf("Account:  %s (%s %s)\n", profile.Username, profile.FirstName, profile.LastName)
		return nil
	},
}

func daemonPID(name string) (string, bool) {
	data, err := os.ReadFile(session.LockPath(name))
	if err != nil {
		return "", false
	}
	pid := strings.TrimSpace(string(data))
	return pid, pid != ""
}
