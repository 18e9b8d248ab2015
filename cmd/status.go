package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print queue size and head for every vendor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := appInstance.Manager().QueueSnapshot(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VENDOR\tPENDING\tHEAD")
			for _, vq := range snap {
				head := make([]string, 0, len(vq.Head))
				for _, job := range vq.Head {
					label := string(job.Kind)
					if job.Target != "" {
						label += " " + job.Target
					}
					head = append(head, label)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", vq.Vendor, vq.Size, strings.Join(head, ", "))
			}
			return tw.Flush()
		},
	}
}
