// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package cmd

import (
	"github.com/pkg/errors"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

func newChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels DB_PATH TOKEN_NETWORK",
		Short: "List the channels of a token network",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenNetwork, err := parseAddress(args[1])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openStores(ctx, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = s.close(ctx) }()

			snap := s.graph.Snapshot()
			if _, ok := snap.TokenNetwork(tokenNetwork); !ok {
				return errors.Errorf("unknown token network %s", tokenNetwork.Hex())
			}
			tb := table.New("ID", "STATUS", "PARTICIPANT1", "CAPACITY1", "PARTICIPANT2", "CAPACITY2", "SETTLE").
				WithWriter(cmd.OutOrStdout())
			for _, c := range snap.Channels(tokenNetwork) {
				tb.AddRow(
					c.ID, c.Status,
					c.Participant1.Hex(), c.Capacity(c.Participant1),
					c.Participant2.Hex(), c.Capacity(c.Participant2),
					c.SettleBlock,
				)
			}
			tb.Print()
			return nil
		},
	}
}
