package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/year-review/internal/domain"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Builds the year in review and prints it as a table or JSON",
	Long: `Builds the year in review for the connected providers and prints it.
Providers without a credential, or whose credential was rejected, are
listed as unavailable with the reason.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		year, _ := cmd.Flags().GetInt("year")
		if year == 0 {
			year = cfg.Year
		}
		if year == 0 {
			year = time.Now().Year()
		}
		names, _ := cmd.Flags().GetStringSlice("providers")
		providers := make([]domain.Provider, 0, len(names))
		for _, name := range names {
			providers = append(providers, domain.Provider(name))
		}

		// Inject dependencies and run the main business logic.
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.aggregator.Aggregate(ctx, year, providers)
		if err != nil {
			return fmt.Errorf("failed to aggregate stats: %w", err)
		}

		if cfg.Output == "json" {
			return renderJSON(os.Stdout, report)
		}
		renderTable(os.Stdout, report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.Flags().IntP("year", "y", 0, "Year to review (default is the current year)")
	reviewCmd.Flags().StringSliceP("providers", "p", nil, "Providers to include (default is all): github,google,slack,linear")
	reviewCmd.Flags().StringP("output", "o", "table", "Output format: table or json")
	bindFlag("output", reviewCmd.Flags().Lookup("output"))
}
