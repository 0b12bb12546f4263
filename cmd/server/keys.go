package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gdg-garage/number-info-api/internal/auth"
	"github.com/gdg-garage/number-info-api/internal/config"
	"github.com/gdg-garage/number-info-api/internal/database"
	"github.com/gdg-garage/number-info-api/internal/keystore"
	"github.com/gdg-garage/number-info-api/internal/models"
	"github.com/gdg-garage/number-info-api/internal/notifier"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keys",
		Aliases: []string{"key"},
		Short:   "Manage access keys",
		Long:    "Issue, list, revoke, rotate and delete access keys without going through the Telegram bot.",
	}

	cmd.AddCommand(newKeysIssueCmd())
	cmd.AddCommand(newKeysListCmd())
	cmd.AddCommand(newKeysRevokeCmd())
	cmd.AddCommand(newKeysRotateCmd())
	cmd.AddCommand(newKeysDeleteCmd())
	cmd.AddCommand(newKeysTokenCmd())

	return cmd
}

// keyEnv bundles what the key commands need.
type keyEnv struct {
	cfg      *config.Config
	store    *keystore.Store
	notifier notifier.Notifier
	close    func()
}

func openKeyEnv(ctx context.Context) (*keyEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	repo, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	return &keyEnv{
		cfg:      cfg,
		store:    keystore.NewStore(repo),
		notifier: newNotifier(cfg),
		close:    func() { repo.Close(context.Background()) },
	}, nil
}

func (e *keyEnv) notify(err error) {
	if err != nil {
		logrus.WithError(err).Warn("Failed to send key notification")
	}
}

// ---------- keys issue ----------

func newKeysIssueCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "issue <name> <days>",
		Aliases: []string{"create"},
		Short:   "Issue a new access key",
		Example: "  number-info-api keys issue partner 30",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("days must be an integer: %w", err)
			}
			env, err := openKeyEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			key, err := env.store.Issue(cmd.Context(), args[0], days)
			if err != nil {
				return fmt.Errorf("issue key: %w", err)
			}
			env.notify(env.notifier.NotifyKeyIssued(*key, 0))
			printKey(cmd.OutOrStdout(), env.cfg, key)
			return nil
		},
	}
}

// ---------- keys list ----------

func newKeysListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all access keys",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openKeyEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			keys, err := env.store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}
			return printListing(cmd.OutOrStdout(), keys, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- keys revoke ----------

func newKeysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <name>",
		Short: "Deactivate every active key with a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openKeyEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			n, err := env.store.Revoke(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("revoke keys: %w", err)
			}
			if n > 0 {
				env.notify(env.notifier.NotifyKeysRevoked(args[0], n))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %d key(s) with name %q\n", n, args[0])
			return nil
		},
	}
}

// ---------- keys rotate ----------

func newKeysRotateCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "rotate <name>",
		Short: "Revoke the keys of a name and issue a replacement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openKeyEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			key, deactivated, err := env.store.Rotate(cmd.Context(), args[0], days)
			if err != nil {
				return fmt.Errorf("rotate key: %w", err)
			}
			env.notify(env.notifier.NotifyKeyIssued(*key, deactivated))
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %d key(s)\n", deactivated)
			printKey(cmd.OutOrStdout(), env.cfg, key)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", keystore.DefaultRotateDays, "Validity of the new key in days")

	return cmd
}

// ---------- keys delete ----------

func newKeysDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key-or-name>",
		Aliases: []string{"rm"},
		Short:   "Delete a key, or every key with a name",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openKeyEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			res, err := env.store.Delete(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("delete keys: %w", err)
			}
			if res.Count == 0 {
				return fmt.Errorf("no matching key or name found")
			}
			env.notify(env.notifier.NotifyKeysDeleted(args[0], res.ByKey, res.Count))
			if res.ByKey {
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted 1 key")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d key(s) with name %q\n", res.Count, args[0])
			}
			return nil
		},
	}
}

// ---------- keys token ----------

func newKeysTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print an admin API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			admin := auth.NewAdminAuth(cfg.AdminJWTSecret, cfg.AdminID)
			if !admin.Enabled() {
				return fmt.Errorf("admin API disabled: set ADMIN_JWT_SECRET and ADMIN_ID")
			}
			token, exp, err := admin.GenerateToken(cfg.AdminID)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(os.Stderr, "expires %s\n", models.FormatTimestamp(exp))
			return nil
		},
	}
}

func printKey(w io.Writer, cfg *config.Config, key *models.AccessKey) {
	fmt.Fprintln(w, "Access key issued:")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Name:    %s\n", key.Name)
	fmt.Fprintf(w, "  Key:     %s\n", key.Key)
	fmt.Fprintf(w, "  Expires: %s\n", models.FormatTimestamp(key.ExpiresAt))
	fmt.Fprintf(w, "  Example: %s/number-to-info?api_key=%s&number=9123456789\n", cfg.PublicBaseURL(), key.Key)
}

func printListing(w io.Writer, keys []models.AccessKeyListing, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(w, "No keys found. Use 'number-info-api keys issue' to create one.")
		return nil
	}

	fmt.Fprintf(w, "%-20s %-34s %-22s %-6s\n", "NAME", "KEY", "EXPIRES", "ACTIVE")
	fmt.Fprintf(w, "%-20s %-34s %-22s %-6s\n", "----", "---", "-------", "------")
	for _, k := range keys {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		fmt.Fprintf(w, "%-20s %-34s %-22s %-6s\n", k.Name, k.Key, k.ExpiresAt, active)
	}
	return nil
}
