package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/DrC0ns0le/clickctl/internal/server"
)

// invoke calls method on the daemon and prints the value of a successful
// result as indented JSON.
func invoke(cmd *cobra.Command, f *flags, method string, args map[string]any) error {
	conn, err := grpc.NewClient(f.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", f.addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	res, err := server.Call(ctx, conn, method, args)
	if err != nil {
		return err
	}
	if !res.OK {
		return errors.New(res.Error)
	}
	if res.Value == nil {
		return nil
	}
	return printJSON(cmd.OutOrStdout(), res.Value)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCall(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [json-args]",
		Short: "Call a dispatch method",
		Example: `  clickctl call updateDelay '{"link":"r1_r2","delay":"10ms"}'
  clickctl call getRouteTables`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var a map[string]any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &a); err != nil {
					return fmt.Errorf("invalid arguments: %w", err)
				}
			}
			cmd.SilenceUsage = true
			return invoke(cmd, f, args[0], a)
		},
	}
}

func newMethods(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the methods the daemon dispatches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+f.httpAddr+"/dispatch", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %s", resp.Status)
			}
			var methods []string
			if err := json.NewDecoder(resp.Body).Decode(&methods); err != nil {
				return fmt.Errorf("failed to decode methods: %w", err)
			}
			for _, m := range methods {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

// newLinkCommand builds a "<name> <link> <value>" command for a single
// valued link setter.
func newLinkCommand(f *flags, name, method, key, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <link> <" + key + ">",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return invoke(cmd, f, method, map[string]any{"link": args[0], key: args[1]})
		},
	}
}

func newRoute(f *flags) *cobra.Command {
	var port, nextHop string
	cmd := &cobra.Command{
		Use:   "route <router> <ip-addr>",
		Short: "Point a router's route for an address at a port or next hop",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == "" && nextHop == "" {
				return errors.New("one of --port or --next-hop is required")
			}
			cmd.SilenceUsage = true
			return invoke(cmd, f, "updateRoute", map[string]any{
				"router":   args[0],
				"ip_addr":  args[1],
				"port":     port,
				"next_hop": nextHop,
			})
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "output port")
	cmd.Flags().StringVar(&nextHop, "next-hop", "", "neighbor router, resolved to its port")
	return cmd
}

func newQuery(f *flags, name, method, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return invoke(cmd, f, method, nil)
		},
	}
}
