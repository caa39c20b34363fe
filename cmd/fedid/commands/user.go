package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fedid/fedid/internal/cli/output"
	"github.com/fedid/fedid/internal/cli/prompt"
	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/connector"
	"github.com/fedid/fedid/pkg/store"
)

var (
	userDomain   string
	userEmail    string
	userPassword string
	userOffset   int
	userLength   int
	userOutput   string
	userForce    bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management",
	Long: `Manage users directly against the configured identity domains.

These commands open the configured backends locally. Use them for setup and
maintenance; a running server is not required (nor consulted).

Examples:
  # Add a user interactively
  fedid user add alice

  # Add a user in a specific domain
  fedid user add alice --domain SECONDARY

  # List users
  fedid user list

  # Show a user's claims
  fedid user get alice

  # Delete a user
  fedid user delete alice`,
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a new user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE:  runUserList,
}

var userGetCmd = &cobra.Command{
	Use:   "get <username>",
	Short: "Show a user's claims",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserGet,
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserDelete,
}

var userGroupsCmd = &cobra.Command{
	Use:   "groups <username>",
	Short: "List groups a user belongs to",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserGroups,
}

func init() {
	userCmd.PersistentFlags().StringVar(&userDomain, "domain", "", "Domain name (default: primary domain)")

	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address claim")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "Password (prompted interactively when omitted)")

	userListCmd.Flags().IntVar(&userOffset, "offset", 0, "Pagination offset")
	userListCmd.Flags().IntVar(&userLength, "length", 100, "Maximum number of users to list")
	userListCmd.Flags().StringVarP(&userOutput, "output", "o", "table", "Output format (table, json, yaml)")

	userDeleteCmd.Flags().BoolVar(&userForce, "force", false, "Skip confirmation prompt")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userGetCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userGroupsCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	username := args[0]

	password := userPassword
	if password == "" {
		var err error
		password, err = prompt.NewPassword()
		if err != nil {
			if prompt.IsAborted(err) {
				return fmt.Errorf("aborted")
			}
			return err
		}
	}

	return withStore(func(ctx context.Context, s *store.VirtualStore) error {
		claims := []claim.Claim{claim.NewClaim(claim.UsernameURI, username)}
		if userEmail != "" {
			claims = append(claims, claim.NewClaim(claim.EmailURI, userEmail))
		}

		user, err := s.AddUser(ctx, store.UserModel{
			Claims:      claims,
			Credentials: []connector.Credential{connector.PasswordCredential{Password: password}},
		}, userDomain)
		if err != nil {
			return err
		}

		fmt.Printf("User %q created in domain %q (id: %s)\n", username, user.DomainName(), user.ID())
		return nil
	})
}

// userRow is the list entry for machine-readable output.
type userRow struct {
	ID       string `json:"id" yaml:"id"`
	Domain   string `json:"domain" yaml:"domain"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
}

func runUserList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(userOutput)
	if err != nil {
		return err
	}

	return withStore(func(ctx context.Context, s *store.VirtualStore) error {
		users, err := s.ListUsers(ctx, userOffset, userLength, userDomain)
		if err != nil {
			return err
		}

		if len(users) == 0 {
			fmt.Println("No users found")
			return nil
		}

		rows := make([]userRow, len(users))
		for i, u := range users {
			rows[i] = userRow{ID: u.ID(), Domain: u.DomainName()}
			claims, err := u.Claims(ctx)
			if err != nil {
				return err
			}
			rows[i].Username = claimValue(claims, claim.UsernameURI)
		}

		if format != output.FormatTable {
			return output.NewPrinter(os.Stdout, format).Print(rows)
		}

		table := output.NewTableData("ID", "Domain", "Username")
		for _, r := range rows {
			table.AddRow(r.ID, r.Domain, r.Username)
		}
		return output.PrintTable(os.Stdout, table)
	})
}

func runUserGet(cmd *cobra.Command, args []string) error {
	username := args[0]

	return withStore(func(ctx context.Context, s *store.VirtualStore) error {
		user, err := s.GetUserByClaim(ctx, claim.NewClaim(claim.UsernameURI, username), userDomain)
		if err != nil {
			return err
		}

		claims, err := user.Claims(ctx)
		if err != nil {
			return err
		}

		pairs := [][2]string{
			{"ID", user.ID()},
			{"Domain", user.DomainName()},
		}
		for _, c := range claims {
			pairs = append(pairs, [2]string{c.ClaimURI, c.Value})
		}
		return output.SimpleTable(os.Stdout, pairs)
	})
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	username := args[0]

	if !userForce {
		confirmed, err := prompt.Confirm(fmt.Sprintf("Delete user %q", username), false)
		if err != nil {
			if prompt.IsAborted(err) {
				return fmt.Errorf("aborted")
			}
			return err
		}
		if !confirmed {
			fmt.Println("Cancelled")
			return nil
		}
	}

	return withStore(func(ctx context.Context, s *store.VirtualStore) error {
		user, err := s.GetUserByClaim(ctx, claim.NewClaim(claim.UsernameURI, username), userDomain)
		if err != nil {
			return err
		}

		if err := s.DeleteUser(ctx, user.ID(), userDomain); err != nil {
			return err
		}

		fmt.Printf("User %q deleted\n", username)
		return nil
	})
}

func runUserGroups(cmd *cobra.Command, args []string) error {
	username := args[0]

	return withStore(func(ctx context.Context, s *store.VirtualStore) error {
		user, err := s.GetUserByClaim(ctx, claim.NewClaim(claim.UsernameURI, username), userDomain)
		if err != nil {
			return err
		}

		groups, err := user.Groups(ctx)
		if err != nil {
			return err
		}

		if len(groups) == 0 {
			fmt.Printf("User %q is not a member of any groups\n", username)
			return nil
		}

		table := output.NewTableData("ID", "Domain", "Name")
		for _, g := range groups {
			claims, err := g.Claims(ctx)
			if err != nil {
				return err
			}
			table.AddRow(g.ID(), g.DomainName(), claimValue(claims, claim.UsernameURI))
		}
		return output.PrintTable(os.Stdout, table)
	})
}

// claimValue returns the value of the claim with the given URI, or "".
func claimValue(claims []claim.Claim, uri string) string {
	for _, c := range claims {
		if c.ClaimURI == uri {
			return c.Value
		}
	}
	return ""
}
