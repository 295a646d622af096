package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Krajiyah/firebase-admin-util/internal/ui"
)

var usersCmd = &cobra.Command{
	Use:     "users",
	Short:   "Manage email/password accounts",
	GroupID: "ops",
}

// password returns the --password flag or prompts for it.
func password(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		return p, nil
	}
	return ui.ReadPassword("Password: ")
}

var usersCreateCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		pw, err := password(cmd)
		if err != nil {
			return err
		}
		a, err := c.CreateUser(context.Background(), args[0], pw)
		if err != nil {
			return fmt.Errorf("creating account %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(a)
		}
		fmt.Printf("Created account %s (%v)\n", args[0], a["uid"])
		return nil
	},
}

var usersUpdateCmd = &cobra.Command{
	Use:   "update <uid>",
	Short: "Change account attributes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		update := map[string]any{}
		for flag, field := range map[string]string{
			"email":        "email",
			"password":     "password",
			"display-name": "display_name",
		} {
			if cmd.Flags().Changed(flag) {
				update[field], _ = cmd.Flags().GetString(flag)
			}
		}
		for flag, field := range map[string]string{
			"verified": "email_verified",
			"disabled": "disabled",
		} {
			if cmd.Flags().Changed(flag) {
				update[field], _ = cmd.Flags().GetBool(flag)
			}
		}
		if len(update) == 0 {
			return fmt.Errorf("nothing to update")
		}

		a, err := c.UpdateUser(context.Background(), args[0], update)
		if err != nil {
			return fmt.Errorf("updating account %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(a)
		}
		fmt.Printf("Updated account %s\n", args[0])
		return nil
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <uid>...",
	Short: "Delete accounts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		for _, uid := range args {
			if err := c.DeleteUser(context.Background(), uid); err != nil {
				return fmt.Errorf("deleting account %s: %w", uid, err)
			}
			fmt.Printf("Deleted account %s\n", uid)
		}
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Exchange a password for a session token",
	Long: `Exchange an email and password for a session token. Pass the token to
later commands with --token or FBUTIL_TOKEN.`,
	GroupID: "ops",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := httpClient()
		if err != nil {
			return err
		}
		pw, err := password(cmd)
		if err != nil {
			return err
		}
		resp, err := c.Login(context.Background(), args[0], pw)
		if err != nil {
			return fmt.Errorf("logging in as %s: %w", args[0], err)
		}
		if jsonOutput {
			return printJSON(resp)
		}
		fmt.Println(resp.Token)
		return nil
	},
}

func init() {
	usersCreateCmd.Flags().String("password", "", "password (prompted when empty)")
	loginCmd.Flags().String("password", "", "password (prompted when empty)")

	usersUpdateCmd.Flags().String("email", "", "new email")
	usersUpdateCmd.Flags().String("password", "", "new password")
	usersUpdateCmd.Flags().String("display-name", "", "display name")
	usersUpdateCmd.Flags().Bool("verified", false, "mark the email verified")
	usersUpdateCmd.Flags().Bool("disabled", false, "disable sign-in")

	usersCmd.AddCommand(usersCreateCmd, usersUpdateCmd, usersDeleteCmd)
}
