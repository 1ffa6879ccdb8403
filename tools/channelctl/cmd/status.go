// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iotexproject/iotex-channel-service/graph"
	"github.com/iotexproject/iotex-channel-service/monitoring"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status DB_PATH",
		Short: "Show the sync cursors and what the db holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStores(ctx, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = s.close(ctx) }()

			out := cmd.OutOrStdout()
			snap := s.graph.Snapshot()
			cursor := snap.Cursor()
			fmt.Fprintf(out, "graph cursor:      %d %s\n", cursor.Height, cursor.Hash.Hex())
			if last, ok := snap.LastApplied(); ok {
				fmt.Fprintf(out, "last event:        block %d log %d\n", last.BlockNumber, last.LogIndex)
			}
			mc := s.monitor.Cursor()
			fmt.Fprintf(out, "monitoring cursor: %d %s\n", mc.Height, mc.Hash.Hex())

			st := snap.Stats()
			fmt.Fprintf(out, "token networks:    %d\n", st.TokenNetworks)
			for _, status := range []graph.ChannelStatus{graph.StatusOpened, graph.StatusClosed, graph.StatusSettled} {
				fmt.Fprintf(out, "channels %-9s %d\n", status.String()+":", st.Channels[status])
			}
			fmt.Fprintf(out, "user deposits:     %d\n", st.Deposits)

			counts := make(map[monitoring.State]int)
			for _, r := range s.monitor.Requests() {
				counts[r.State]++
			}
			for state := monitoring.StateArmed; state <= monitoring.StateFailed; state++ {
				if counts[state] > 0 {
					fmt.Fprintf(out, "requests %-9s %d\n", state.String()+":", counts[state])
				}
			}
			return nil
		},
	}
}
