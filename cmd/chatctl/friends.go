package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var searchEmail string

func init() {
	friendsSearchCmd.Flags().StringVar(&searchEmail, "email", "", "search by email instead of username")
	friendsCmd.AddCommand(friendsListCmd, friendsRequestsCmd, friendsAddCmd, friendsAcceptCmd, friendsSearchCmd)
	rootCmd.AddCommand(friendsCmd)
}

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "Manage the social graph",
}

var friendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List confirmed friends",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSetup()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		friends, err := s.client.Friends(ctx)
		if err != nil {
			return err
		}
		if len(friends) == 0 {
			fmt.Println("no friends yet")
			return nil
		}
		for _, f := range friends {
			fmt.Printf("%d\t%s\t%s %s\n", f.ID, f.Username, f.FirstName, f.LastName)
		}
		return nil
	},
}

var friendsRequestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List incoming friend requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSetup()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		requests, err := s.client.IncomingFriendRequests(ctx)
		if err != nil {
			return err
		}
		if len(requests) == 0 {
			fmt.Println("no pending requests")
			return nil
		}
		for _, r := range requests {
			fmt.Printf("%d\t%s %s\t%s\t%s\n", r.ID, r.FirstName, r.LastName, r.Email, r.Status)
		}
		return nil
	},
}

var friendsAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Send a friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSetup()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.client.SendFriendRequest(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("request sent to %s\n", args[0])
		return nil
	},
}

var friendsSearchCmd = &cobra.Command{
	Use:   "search [username]",
	Short: "Search users by username or email",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := ""
		if len(args) > 0 {
			username = args[0]
		}
		if username == "" && searchEmail == "" {
			return fmt.Errorf("provide a username argument or --email")
		}
		s, err := loadSetup()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		users, err := s.client.SearchUsers(ctx, username, searchEmail)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, u := range users {
			fmt.Printf("%d\t%s\t%s %s\t%s\n", u.ID, u.Username, u.FirstName, u.LastName, u.Email)
		}
		return nil
	},
}

var friendsAcceptCmd = &cobra.Command{
	Use:   "accept <request-id>",
	Short: "Accept an incoming friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("request-id must be numeric, got %q", args[0])
		}
		s, err := loadSetup()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.client.AcceptFriendRequest(ctx, id); err != nil {
			return err
		}
		fmt.Println("request accepted")
		return nil
	},
}
