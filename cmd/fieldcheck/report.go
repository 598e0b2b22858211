package main

import (
	"fmt"

	"github.com/creditfield/loan_backend/config"
	"github.com/creditfield/loan_backend/models"
	"github.com/creditfield/loan_backend/models/reports"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newReportCmd(v *viper.Viper) *cobra.Command {
	var (
		id  int
		out string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export the discrepancy report of an investigation to xlsx",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 {
				return fmt.Errorf("--id must be a positive investigation id")
			}
			if out == "" {
				out = fmt.Sprintf("discrepancies-%d.xlsx", id)
			}
			if err := connect(v); err != nil {
				return err
			}
			inv, err := models.NewGormInvestigationStore(config.GetDB()).Get(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load investigation %d: %w", id, err)
			}
			report := models.GenerateDiscrepancyReport(inv)
			if err := reports.SaveDiscrepancyExcel(report, out); err != nil {
				return err
			}
			config.GetLogger().WithFields(logrus.Fields{
				"field":            "report",
				"investigation_id": id,
				"discrepancies":    report.TotalDiscrepancies,
			}).Info("discrepancy report exported")
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d discrepancies to %s\n", report.TotalDiscrepancies, out)
			return nil
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "investigation id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default discrepancies-<id>.xlsx)")
	return cmd
}
