package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/minerops/stratum-counter/pkg/containers"
	"github.com/minerops/stratum-counter/pkg/correlate"
	"github.com/minerops/stratum-counter/pkg/filter"
	"github.com/minerops/stratum-counter/pkg/netstat"
	"github.com/minerops/stratum-counter/pkg/output"
	"github.com/minerops/stratum-counter/pkg/procs"
)

const defaultPort = 3333

var (
	jsonFlag    bool
	remoteFlag  bool
	noColorFlag bool
	stateFlag   string
	filterFlag  string
	runtimeFlag string
)

var rootCmd = &cobra.Command{
	Use:   "stratum-counter [port]",
	Short: "Report per-container TCP connections on a port",
	Long: `Report the established TCP connections on a given local port,
grouped by the Docker (or containerd/podman/cri-o) container that owns
each connection.

The tool takes one snapshot of the kernel socket table, the host process
table and the container runtime state, joins them, and exits. The default
port is 3333, the Stratum mining protocol port.`,
	Example: `  stratum-counter               # connections on port 3333
  stratum-counter 34333         # connections on port 34333
  stratum-counter --json 3333   # machine-readable output
  stratum-counter --state listen --filter 'conn.localAddr != "127.0.0.1"'`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().BoolVarP(&jsonFlag, "json", "j", false, "Output in JSON format")
	rootCmd.Flags().BoolVar(&remoteFlag, "remote", false, "Match the remote port instead of the local one")
	rootCmd.Flags().BoolVar(&noColorFlag, "no-color", false, "Disable colored output")
	rootCmd.Flags().StringVar(&stateFlag, "state", "established", "TCP state to report (e.g. established, listen, time_wait)")
	rootCmd.Flags().StringVar(&filterFlag, "filter", "", "CEL expression over 'conn' (e.g. 'conn.remotePort > 1024')")
	rootCmd.Flags().StringVar(&runtimeFlag, "runtime", "", "Restrict to one runtime: docker, containerd, podman or cri-o")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func run(cmd *cobra.Command, args []string) error {
	port := uint16(defaultPort)
	if len(args) == 1 {
		p, err := parsePort(args[0])
		if err != nil {
			return err
		}
		port = p
	}

	state, err := netstat.ParseState(stateFlag)
	if err != nil {
		return err
	}

	side := correlate.LocalSide
	if remoteFlag {
		side = correlate.RemoteSide
	}

	var expr *filter.Filter
	if filterFlag != "" {
		expr, err = filter.New(filterFlag)
		if err != nil {
			return fmt.Errorf("invalid --filter: %w", err)
		}
	}

	// All input validated; only now touch the system
	registry, err := containers.DetectRegistry(runtimeFlag)
	if err != nil {
		return err
	}

	report, err := correlate.Correlate(
		cmd.Context(),
		netstat.NewReader(""),
		inventorySource{procs.NewInventory("")},
		registry,
		correlate.Options{Port: port, State: state, Side: side, Expr: expr},
	)
	if err != nil {
		return err
	}

	// Diagnostics stay on stderr so --json stdout remains parseable
	for _, warning := range report.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	if jsonFlag {
		return output.WriteJSON(os.Stdout, report)
	}

	output.NewPrinter(os.Stdout, output.WithColors(!noColorFlag)).Print(report)
	return nil
}

func parsePort(arg string) (uint16, error) {
	port, err := strconv.ParseUint(arg, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: must be an integer between 0 and 65535", arg)
	}
	return uint16(port), nil
}

// inventorySource adapts the concrete procs.Inventory to the correlator's
// process source interface.
type inventorySource struct {
	inv *procs.Inventory
}

func (s inventorySource) Snapshot() (correlate.ProcessSnapshot, error) {
	return s.inv.Snapshot()
}
