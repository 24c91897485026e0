package cli

import (
	"github.com/spf13/cobra"
)

var discoverAdapter string

// discoverCmd represents the discover command.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Sweep the subnets of the local network adapters",
	Long: `Sweep every IPv4 subnet attached to the local network adapters.

Only adapters that are up and are neither loopback nor point-to-point are
used. Subnets wider than /16 are rejected. Use --adapter to restrict the
sweep to one adapter by name or index; 'netsweep adapters'
lists the candidates.`,
	Example: `  netsweep discover
  netsweep discover --adapter eth0
  netsweep discover --adapter eth0 --hide-offline -o json`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().StringVarP(&discoverAdapter, "adapter", "a", "", "adapter name or index")
	addSweepFlags(discoverCmd)
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	return runSweep(cmd, func(eng *engine) ([]string, error) {
		return eng.expander.Discover(discoverAdapter)
	})
}
