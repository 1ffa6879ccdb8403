// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package cmd

import (
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

func newRequestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requests DB_PATH",
		Short: "List the monitor requests that still need work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openStores(ctx, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = s.close(ctx) }()

			tb := table.New("TOKEN_NETWORK", "CHANNEL", "PARTICIPANT", "NONCE", "REWARD", "STATE", "DEADLINE", "TX").
				WithWriter(cmd.OutOrStdout())
			for _, r := range s.monitor.Requests() {
				tx := "-"
				if r.Submission.Submitted {
					tx = r.Submission.TxHash.Hex()
				}
				tb.AddRow(
					r.TokenNetwork().Hex(), r.ChannelID(), r.NonClosingParticipant.Hex(),
					r.BalanceProof.Nonce, r.RewardAmount, r.State, r.DeadlineBlock, tx,
				)
			}
			tb.Print()
			return nil
		},
	}
}
