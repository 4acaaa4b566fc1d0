package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manages stored provider credentials",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Stores a credential for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		provider, err := parseProvider(args[0])
		if err != nil {
			return err
		}
		token, _ := cmd.Flags().GetString("token")
		refresh, _ := cmd.Flags().GetString("refresh-token")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")
		if token == "" && refresh == "" {
			return apperrors.NewBadRequestError("--token or --refresh-token is required")
		}

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		if expiresIn > 0 {
			err = a.store.SetWithLifetime(ctx, provider, token, refresh, expiresIn)
		} else {
			err = a.store.Set(ctx, provider, domain.Credential{AccessToken: token, RefreshToken: refresh})
		}
		if err != nil {
			return fmt.Errorf("failed to store credential: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Stored credential for %s.\n", provider)
		return nil
	},
}

var credentialsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows which providers are connected",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Provider", "Connected", "Expires"})
		for _, p := range domain.AllProviders {
			cred, ok, err := a.store.Get(ctx, p)
			if err != nil {
				return fmt.Errorf("failed to read %s credential: %w", p, err)
			}
			connected, expires := unavailableColor.Sprint("no"), "-"
			if ok {
				connected = availableColor.Sprint("yes")
				expires = "unknown"
				if cred.ExpiresAt != nil {
					expires = cred.ExpiresAt.Local().Format(time.RFC3339)
				}
			}
			table.Append([]string{string(p), connected, expires})
		}
		table.Render()
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:     "disconnect <provider>",
	Aliases: []string{"clear"},
	Short:   "Forgets the stored credential of a provider",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		provider, err := parseProvider(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.aggregator.Disconnect(ctx, provider); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Disconnected %s.\n", provider)
		return nil
	},
}

func parseProvider(name string) (domain.Provider, error) {
	provider := domain.Provider(name)
	if !provider.Valid() {
		return "", apperrors.NewBadRequestError(fmt.Sprintf("unknown provider %q", name))
	}
	return provider, nil
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	rootCmd.AddCommand(disconnectCmd)
	credentialsCmd.AddCommand(credentialsSetCmd)
	credentialsCmd.AddCommand(credentialsStatusCmd)

	credentialsSetCmd.Flags().String("token", "", "Access token or API key")
	credentialsSetCmd.Flags().String("refresh-token", "", "Refresh token (Google only)")
	credentialsSetCmd.Flags().Duration("expires-in", 0, "Lifetime of the access token, e.g. 1h (default is unknown)")
}
