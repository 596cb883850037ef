package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gtdbot/internal/config"
	"gtdbot/internal/domain"
	"gtdbot/internal/identity"
	"gtdbot/internal/store"
)

// openStore opens the configured database for one-shot commands.
func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage registered accounts",
	}

	var a domain.Account
	add := &cobra.Command{
		Use:   "add",
		Short: "Register or update an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.UserID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.UpsertAccount(cmd.Context(), a); err != nil {
				return fmt.Errorf("save account: %w", err)
			}
			fmt.Printf("Account %s saved (subscription: %s)\n", a.UserID, a.SubscriptionStatus)
			return nil
		},
	}
	add.Flags().StringVar(&a.UserID, "user", "", "user id")
	add.Flags().StringVar(&a.Name, "name", "", "display name")
	add.Flags().StringVar(&a.Phone, "phone", "", "registered phone number")
	add.Flags().StringVar(&a.SubscriptionStatus, "subscription", "trial", "subscription status (active, trial, test, canceled, ...)")
	add.Flags().StringVar(&a.Role, "role", "user", "account role")
	cmd.AddCommand(add)

	return cmd
}

func linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Issue, revoke and list chat address links",
	}

	var userID, address string

	withLinker := func(fn func(l *identity.Linker) error) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(identity.NewLinker(identity.LinkerConfig{
			Accounts: st,
			TTL:      cfg.Pipeline.LinkCodeTTL(),
			Logger:   logger,
		}))
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a 6-digit link code for a user and chat address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLinker(func(l *identity.Linker) error {
				link, err := l.CreateCode(cmd.Context(), userID, address)
				if err != nil {
					return err
				}
				fmt.Printf("Code: %s\n", link.LinkCode)
				fmt.Printf("Expires: %s\n", link.LinkCodeExpiry.Format(time.RFC3339))
				fmt.Println("Send the code from the chat to activate the link.")
				return nil
			})
		},
	}
	create.Flags().StringVar(&userID, "user", "", "user id")
	create.Flags().StringVar(&address, "address", "", "chat address (phone number or Telegram chat id)")
	_ = create.MarkFlagRequired("user")
	_ = create.MarkFlagRequired("address")
	cmd.AddCommand(create)

	unlink := &cobra.Command{
		Use:   "unlink",
		Short: "Deactivate the links between a user and a chat address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLinker(func(l *identity.Linker) error {
				n, err := l.Unlink(cmd.Context(), userID, address)
				if err != nil {
					return err
				}
				fmt.Printf("%d link(s) deactivated\n", n)
				return nil
			})
		},
	}
	unlink.Flags().StringVar(&userID, "user", "", "user id")
	unlink.Flags().StringVar(&address, "address", "", "chat address")
	_ = unlink.MarkFlagRequired("user")
	_ = unlink.MarkFlagRequired("address")
	cmd.AddCommand(unlink)

	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's links",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLinker(func(l *identity.Linker) error {
				links, err := l.List(cmd.Context(), userID)
				if err != nil {
					return err
				}
				if len(links) == 0 {
					fmt.Println("No links.")
					return nil
				}
				for _, link := range links {
					state := "pending"
					if link.IsActive {
						state = "active"
					}
					fmt.Printf("  %-8s %-16s created %s\n",
						state, identity.MaskAddress(link.NormalizedAddress), link.CreatedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&userID, "user", "", "user id")
	_ = list.MarkFlagRequired("user")
	cmd.AddCommand(list)

	return cmd
}
