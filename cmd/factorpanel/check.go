package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"factorpanel/internal/validation"
)

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the configuration and every input source without running",
		Long: `Check validates the configuration, opens every input source, verifies
its header names the configured columns and makes sure the output
directories are writable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := c.setup()
			if err != nil {
				return err
			}

			v := validation.NewFileValidator(logger, cfg.Inputs.HTTPTimeout)
			report := v.ValidateConfig(cmd.Context(), cfg)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CHECK\tLOCATION\tRESULT")
			for _, check := range report.Checks {
				result := "ok"
				if !check.OK() {
					result = check.Err.Error()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", check.Name, check.Location, result)
			}
			tw.Flush()

			return report.Err()
		},
	}
}
