// File: cmd/profile.go
package cmd

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/xkilldash9x/guardian-cli/internal/observability"
	"github.com/xkilldash9x/guardian-cli/internal/profile"
)

var profilePassword string

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Activate a supervised profile so blocked attempts are reported under it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openProfileStore()
		if err != nil {
			return err
		}
		password, err := resolvePassword()
		if err != nil {
			return err
		}
		if err := store.Login(args[0], password); err != nil {
			return err
		}
		fmt.Printf("Profile %q is now active.\n", args[0])
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Deactivate the supervised profile. Requires the password it was activated with.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openProfileStore()
		if err != nil {
			return err
		}
		password, err := resolvePassword()
		if err != nil {
			return err
		}
		if err := store.Logout(password); err != nil {
			return err
		}
		fmt.Println("Profile logged out.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a supervised profile is active.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openProfileStore()
		if err != nil {
			return err
		}
		rec := store.Snapshot()
		if !rec.Active() {
			fmt.Println("No supervised profile is active.")
			return nil
		}
		fmt.Printf("Supervised profile: %s (since %s)\n", rec.Username, rec.UpdatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func openProfileStore() (*profile.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return profile.NewStore(cfg.Profile.Path, observability.GetLogger())
}

// resolvePassword takes the --password flag when given, otherwise prompts
// without echo.
func resolvePassword() (string, error) {
	if profilePassword != "" {
		return profilePassword, nil
	}
	fmt.Print("Password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, logoutCmd} {
		c.Flags().StringVar(&profilePassword, "password", "", "profile password (prompted when omitted)")
	}
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd)
}
