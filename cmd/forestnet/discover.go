package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forestnet/forestnet/internal/discovery"
	"github.com/forestnet/forestnet/internal/ui"
)

var (
	discoverTimeout time.Duration
	discoverMode    string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find endpoints announced on the local network",
	Long: `Browse mDNS for endpoints started with 'forestnet serve --advertise'
and list them with their scheme, mode and address.`,
	Example: `  # Browse for five seconds (default)
  forestnet discover

  # Only SOAP endpoints, longer scan
  forestnet discover --mode soap --timeout 15s`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVarP(&discoverTimeout, "timeout", "t", discovery.DefaultScanTimeout, "How long to listen for announcements")
	discoverCmd.Flags().StringVar(&discoverMode, "mode", "", "Only list endpoints in this mode")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	printer := ui.NewPrinter(cmd.OutOrStdout())
	printer.PrintHeader("Endpoint discovery", "forestnet discover", []ui.Param{
		{Key: "Service", Value: discovery.ServiceType},
		{Key: "Timeout", Value: discoverTimeout.String()},
	})

	scanner := discovery.NewScanner()
	scanner.Timeout = discoverTimeout
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	found, err := scanner.Scan(ctx)
	if err != nil {
		printer.PrintError("Scan failed", err,
			"Check that multicast traffic is allowed on this network",
			"Some VPN clients block mDNS; try disconnecting")
		return err
	}

	var endpoints []*discovery.Endpoint
	for _, e := range found {
		if discoverMode == "" || strings.EqualFold(e.Mode, discoverMode) {
			endpoints = append(endpoints, e)
		}
	}
	if len(endpoints) == 0 {
		printer.PrintWarning("No endpoints found",
			ui.Param{Key: "Hint", Value: "start one with 'forestnet serve --advertise'"},
			ui.Param{Key: "Hint", Value: "increase --timeout on busy networks"})
		return nil
	}

	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Instance < endpoints[j].Instance })
	details := make([]ui.Param, 0, len(endpoints))
	for _, e := range endpoints {
		value := fmt.Sprintf("%s  (%s)", e.URL(), e.Mode)
		if v := e.GetMetadata("version"); v != "" {
			value += "  " + v
		}
		details = append(details, ui.Param{Key: e.Instance, Value: value})
	}
	printer.PrintSuccess(fmt.Sprintf("Found %d endpoint(s)", len(endpoints)), details...)
	return nil
}
