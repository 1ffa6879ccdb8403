// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/iotexproject/iotex-channel-service/pathfinding"
)

func newRouteCmd() *cobra.Command {
	var maxPaths int
	cmd := &cobra.Command{
		Use:   "route DB_PATH TOKEN_NETWORK FROM TO AMOUNT",
		Short: "Find routes on the stored graph",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				req pathfinding.Request
				err error
			)
			if req.TokenNetwork, err = parseAddress(args[1]); err != nil {
				return err
			}
			if req.Source, err = parseAddress(args[2]); err != nil {
				return err
			}
			if req.Target, err = parseAddress(args[3]); err != nil {
				return err
			}
			amount, ok := new(big.Int).SetString(args[4], 0)
			if !ok {
				return errors.Errorf("invalid amount %s", args[4])
			}
			req.Amount = amount
			req.MaxPaths = maxPaths

			ctx := cmd.Context()
			s, err := openStores(ctx, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = s.close(ctx) }()

			routes, err := pathfinding.NewFinder(pathfinding.DefaultConfig, s.graph).FindRoutes(ctx, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(routes) == 0 {
				fmt.Fprintln(out, "no route")
				return nil
			}
			for i, r := range routes {
				nodes := make([]string, 0, len(r.Path))
				for _, n := range r.Path {
					nodes = append(nodes, n.Hex())
				}
				fmt.Fprintf(out, "%d. fee %s, %d hops: %s\n", i+1, r.EstimatedFee, len(r.Hops), strings.Join(nodes, " -> "))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxPaths, "max-paths", pathfinding.DefaultConfig.DefaultMaxPaths, "number of routes to find")
	return cmd
}
