package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/minerops/stratum-counter/pkg/netstat"
)

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "List TCP state names and their JSON output codes",
	Long: `Display the TCP connection states accepted by --state and the
integer codes used for the "state" field in --json output.

The codes follow the kernel's own encoding and are a stable contract for
downstream consumers: ESTABLISHED is always 1.`,
	Run: runStates,
}

func init() {
	rootCmd.AddCommand(statesCmd)
}

func runStates(cmd *cobra.Command, args []string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "CODE\tNAME\t--state VALUE")
	fmt.Fprintln(w, "----\t----\t-------------")
	for _, state := range netstat.States() {
		fmt.Fprintf(w, "%d\t%s\t%s\n", uint8(state), state, strings.ToLower(state.String()))
	}
	w.Flush()
}
