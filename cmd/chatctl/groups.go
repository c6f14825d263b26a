package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var createMembers []string

func init() {
	groupsCreateCmd.Flags().StringSliceVar(&createMembers, "member", nil, "username to invite, repeatable")
	groupsCmd.AddCommand(groupsListCmd, groupsShowCmd, groupsCreateCmd)
	rootCmd.AddCommand(groupsCmd)
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage group conversations",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups you belong to",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSetup()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		groups, err := s.client.MyGroups(ctx)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Println("no groups yet")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("%d\t%s\n", g.ID, g.Name)
		}
		return nil
	},
}

var groupsShowCmd = &cobra.Command{
	Use:   "show <group-id>",
	Short: "Show a group and its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("group-id must be numeric, got %q", args[0])
		}
		s, err := loadSetup()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		group, err := s.client.Group(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("Group:   %s (%d)\n", group.Name, group.ID)
		fmt.Printf("Owner:   %d\n", group.Owner)
		fmt.Println("Members:")
		for _, m := range group.Members {
			fmt.Printf("  %d\t%s\n", m.UserID, m.Username)
		}
		return nil
	},
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSetup()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		group, err := s.client.CreateGroup(ctx, args[0], createMembers)
		if err != nil {
			return err
		}
		fmt.Printf("created group %s (%d)\n", group.Name, group.ID)
		return nil
	},
}
