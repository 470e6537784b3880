package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizmaster-service/internal/app"
)

// NewExportCmd writes the results CSV.
func NewExportCmd(configPath *string) *cobra.Command {
	var quizID, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export quiz results as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			b, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			reports := app.NewReportService(b.quizCache, b.store, b.store, logger)
			if err := reports.ExportResultsCSV(cmd.Context(), w, quizID); err != nil {
				return err
			}
			if out != "" {
				logger.Info("results exported", zap.String("file", out), zap.String("quiz", quizID))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&quizID, "quiz", "", "only export results of this quiz")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}
