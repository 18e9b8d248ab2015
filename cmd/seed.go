package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	var (
		vendorName string
		params     map[string]string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Push a LIST job for a vendor",
		Example: `  catalog-crawler seed --vendor acme
  catalog-crawler seed --vendor acme --param url=https://acme.example/sale`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job, err := appInstance.Manager().Seed(cmd.Context(), vendorName, params)
			if err != nil {
				return fmt.Errorf("seed %s: %w", vendorName, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s job %s for %s\n", job.Kind, job.ID, job.Vendor)
			return nil
		},
	}
	cmd.Flags().StringVar(&vendorName, "vendor", "", "vendor to list")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "listing parameter as key=value (repeatable); url overrides the start page")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}
