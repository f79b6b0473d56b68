package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

type flags struct {
	addr     string
	httpAddr string
	timeout  time.Duration
}

func main() {
	var f flags
	executable := filepath.Base(os.Args[0])
	cmd := &cobra.Command{
		Use:   executable,
		Short: "Control a clickctl daemon",
		Args:  cobra.NoArgs,
		// errors are printed in main
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&f.addr, "addr", "localhost:5122", "grpc address of the daemon")
	cmd.PersistentFlags().StringVar(&f.httpAddr, "http-addr", "localhost:5120", "http address of the daemon")
	cmd.PersistentFlags().DurationVar(&f.timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(
		newCall(&f),
		newMethods(&f),
		newLinkCommand(&f, "delay", "updateDelay", "delay", "Set the delay of a link"),
		newLinkCommand(&f, "capacity", "updateCapacity", "capacity", "Set the capacity of a link"),
		newLinkCommand(&f, "loss", "updateLossProbability", "loss", "Set the loss probability of a link"),
		newRoute(&f),
		newQuery(&f, "routes", "getRouteTables", "Show route tables"),
		newQuery(&f, "p2p", "getPointToPoint", "Show point to point routes"),
		newQuery(&f, "topology", "getTopologyUpdates", "Show the click router adjacencies"),
		newQuery(&f, "edges", "getNetworkEdgeMap", "Show the network edge map"),
		newQuery(&f, "neighbors", "getNeighbors", "Show one hop neighbors"),
		newQuery(&f, "stop-flaps", "stopRouteFlaps", "Stop route flapping"),
	)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
