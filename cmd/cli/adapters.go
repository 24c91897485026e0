package cli

import (
	"io"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netsweep/internal/discovery"
)

// adaptersCmd represents the adapters command.
var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List network adapters and their subnets",
	Long: `List the local network adapters with their IPv4 subnets. Adapters marked
eligible are swept by 'netsweep discover' when no adapter is selected.`,
	Example: `  netsweep adapters
  netsweep adapters -o json`,
	Args: cobra.NoArgs,
	RunE: runAdapters,
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}

func runAdapters(cmd *cobra.Command, _ []string) error {
	adapters, err := discovery.NewExpander().ListAdapters()
	if err != nil {
		return err
	}
	return printAdapters(cmd.OutOrStdout(), adapters)
}

// adapterView is the JSON shape of one adapter.
type adapterView struct {
	Name         string   `json:"name"`
	Index        int      `json:"index"`
	HardwareAddr string   `json:"hardware_addr,omitempty"`
	Subnets      []string `json:"subnets"`
	Eligible     bool     `json:"eligible"`
}

func printAdapters(w io.Writer, adapters []discovery.Adapter) error {
	format, err := resolveFormat(outputFormat, w)
	if err != nil {
		return err
	}

	views := make([]adapterView, 0, len(adapters))
	for _, a := range adapters {
		subnets := make([]string, 0, len(a.Prefixes))
		for _, p := range a.Prefixes {
			subnets = append(subnets, p.String())
		}
		views = append(views, adapterView{
			Name:         a.Name,
			Index:        a.Index,
			HardwareAddr: a.HardwareAddr,
			Subnets:      subnets,
			Eligible:     a.Eligible(),
		})
	}

	if format == formatJSON {
		for _, v := range views {
			line, err := sonic.Marshal(v)
			if err != nil {
				return err
			}
			if _, err := w.Write(append(line, '\n')); err != nil {
				return err
			}
		}
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Index", "Name", "MAC Address", "Subnets", "Eligible")
	for _, v := range views {
		eligible := "no"
		if v.Eligible {
			eligible = "yes"
		}
		_ = table.Append([]string{
			strconv.Itoa(v.Index),
			v.Name,
			v.HardwareAddr,
			strings.Join(v.Subnets, ", "),
			eligible,
		})
	}
	return table.Render()
}
