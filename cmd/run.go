package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-citations/internal/app"
)

// newRunCmd creates the 'run' subcommand.
func newRunCmd() *cobra.Command {
	var sel app.Selection

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Retrieve citation counts for one proceedings year",
		Long: `Loads the NeurIPS proceedings for --year, resolves each paper's
citation count on Google Scholar and writes NeurIPS<year>.csv. When a CAPTCHA
appears, solve it in the browser window and press enter in this terminal.
An interrupted run can be resumed from its checkpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := appInstance.Run(cmd.Context(), sel)
			if err != nil {
				// cobra skips the post-run hook after an error
				if cerr := closeApp(cmd.Context()); cerr != nil {
					appInstance.GetLogger().Warn("close after failed run", zap.Error(cerr))
				}
				return fmt.Errorf("run %d: %w", sel.Year, err)
			}
			appInstance.GetLogger().Info("run finished",
				zap.String("csv", sum.CSVPath),
				zap.Int("resolved", sum.Resolved),
				zap.Int("no_result", sum.NoResult),
				zap.Int("errored", sum.Errored),
				zap.Int("citations", sum.Citations),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&sel.Year, "year", 0, "proceedings year (2010-2020)")
	cmd.Flags().IntVar(&sel.Month, "month", 0, "optional month (1-12) for the cit/month column")
	cmd.Flags().StringVar(&sel.CSVDir, "csvpath", "", "directory for the CSV report (default report.output_dir)")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}
