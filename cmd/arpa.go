package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uclllabs/sasm-dns/internal/arpa"
)

var arpaCmd = &cobra.Command{
	Use:          "arpa <ip>...",
	Short:        "Print the reverse lookup name of IPv4 or IPv6 addresses",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, ip := range args {
			name, err := arpa.ReverseName(ip)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ip, name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(arpaCmd)
}
