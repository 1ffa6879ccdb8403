// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/iotexproject/iotex-channel-service/graph"
	"github.com/iotexproject/iotex-channel-service/monitoring"
	"github.com/iotexproject/iotex-channel-service/pathfinding"
)

// Amounts are read as decimal or 0x-prefixed hex strings and written as decimal strings.
type (
	pathsRequest struct {
		From     common.Address        `json:"from"`
		To       common.Address        `json:"to"`
		Value    *math.HexOrDecimal256 `json:"value"`
		MaxPaths *int                  `json:"max_paths,omitempty"`
	}

	hopResponse struct {
		ChannelID string         `json:"channel_identifier"`
		From      common.Address `json:"from"`
		To        common.Address `json:"to"`
		Capacity  string         `json:"capacity"`
		Fee       string         `json:"fee"`
	}

	routeResponse struct {
		Path         []common.Address `json:"path"`
		Hops         []hopResponse    `json:"hops"`
		EstimatedFee string           `json:"estimated_fee"`
	}

	pathsResponse struct {
		Result []routeResponse `json:"result"`
		Block  uint64          `json:"block"`
	}

	tokenNetworkInfo struct {
		Address      common.Address `json:"address"`
		Token        common.Address `json:"token"`
		CreatedBlock uint64         `json:"created_block"`
		Channels     map[string]int `json:"channels"`
	}

	infoResponse struct {
		Version            string             `json:"version"`
		ChainID            string             `json:"chain_id,omitempty"`
		Operator           *common.Address    `json:"operator,omitempty"`
		MonitoringContract *common.Address    `json:"monitoring_contract,omitempty"`
		Ready              bool               `json:"ready"`
		ConfirmedBlock     uint64             `json:"confirmed_block"`
		ConfirmedHash      common.Hash        `json:"confirmed_block_hash"`
		TokenNetworks      []tokenNetworkInfo `json:"token_networks"`
		UserDeposits       int                `json:"user_deposits"`
	}

	balanceProofJSON struct {
		ChainID           *math.HexOrDecimal256 `json:"chain_id"`
		TokenNetwork      common.Address        `json:"token_network_address"`
		ChannelID         *math.HexOrDecimal256 `json:"channel_identifier"`
		Nonce             *math.HexOrDecimal256 `json:"nonce"`
		TransferredAmount *math.HexOrDecimal256 `json:"transferred_amount"`
		LockedAmount      *math.HexOrDecimal256 `json:"locked_amount"`
		Locksroot         common.Hash           `json:"locksroot"`
		AdditionalHash    common.Hash           `json:"additional_hash"`
		Signature         hexutil.Bytes         `json:"signature"`
	}

	monitorRequestJSON struct {
		BalanceProof          balanceProofJSON      `json:"balance_proof"`
		NonClosingParticipant common.Address        `json:"non_closing_participant"`
		NonClosingSignature   hexutil.Bytes         `json:"non_closing_signature"`
		RewardAmount          *math.HexOrDecimal256 `json:"reward_amount"`
		RewardProofSignature  hexutil.Bytes         `json:"reward_proof_signature"`
	}

	monitorStatusResponse struct {
		NonClosingParticipant common.Address `json:"non_closing_participant"`
		ClosingParticipant    common.Address `json:"closing_participant"`
		Nonce                 string         `json:"nonce"`
		RewardAmount          string         `json:"reward_amount"`
		State                 string         `json:"state"`
		ClosedBlock           uint64         `json:"closed_block,omitempty"`
		DeadlineBlock         uint64         `json:"deadline_block,omitempty"`
		MonitorTx             *common.Hash   `json:"monitor_tx,omitempty"`
		Acknowledged          bool           `json:"acknowledged"`
		ClaimTx               *common.Hash   `json:"claim_tx,omitempty"`
		RewardClaimed         bool           `json:"reward_claimed"`
	}

	monitorResponse struct {
		TokenNetwork common.Address          `json:"token_network_address"`
		ChannelID    string                  `json:"channel_identifier"`
		Requests     []monitorStatusResponse `json:"requests"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

func toInt(v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(v))
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func toPathsResponse(routes []pathfinding.Route, height uint64) pathsResponse {
	resp := pathsResponse{
		Result: make([]routeResponse, 0, len(routes)),
		Block:  height,
	}
	for _, r := range routes {
		hops := make([]hopResponse, 0, len(r.Hops))
		for _, h := range r.Hops {
			hops = append(hops, hopResponse{
				ChannelID: decimal(h.ChannelID),
				From:      h.From,
				To:        h.To,
				Capacity:  decimal(h.Capacity),
				Fee:       decimal(h.Fee),
			})
		}
		resp.Result = append(resp.Result, routeResponse{
			Path:         r.Path,
			Hops:         hops,
			EstimatedFee: decimal(r.EstimatedFee),
		})
		resp.Block = r.Height
	}
	return resp
}

func toTokenNetworkInfo(snap *graph.Snapshot, tn graph.TokenNetwork) tokenNetworkInfo {
	info := tokenNetworkInfo{
		Address:      tn.Address,
		Token:        tn.Token,
		CreatedBlock: tn.CreatedBlock,
		Channels:     make(map[string]int),
	}
	for _, c := range snap.Channels(tn.Address) {
		info.Channels[c.Status.String()]++
	}
	return info
}

func (m *monitorRequestJSON) toRequest() *monitoring.MonitorRequest {
	bp := &m.BalanceProof
	return &monitoring.MonitorRequest{
		BalanceProof: monitoring.BalanceProof{
			ChainID:           toInt(bp.ChainID),
			TokenNetwork:      bp.TokenNetwork,
			ChannelID:         toInt(bp.ChannelID),
			Nonce:             toInt(bp.Nonce),
			TransferredAmount: toInt(bp.TransferredAmount),
			LockedAmount:      toInt(bp.LockedAmount),
			Locksroot:         bp.Locksroot,
			AdditionalHash:    bp.AdditionalHash,
			Signature:         bp.Signature,
		},
		NonClosingParticipant: m.NonClosingParticipant,
		NonClosingSignature:   m.NonClosingSignature,
		RewardAmount:          toInt(m.RewardAmount),
		RewardProofSignature:  m.RewardProofSignature,
	}
}

func toMonitorStatus(r *monitoring.MonitorRequest) monitorStatusResponse {
	st := monitorStatusResponse{
		NonClosingParticipant: r.NonClosingParticipant,
		ClosingParticipant:    r.ClosingParticipant,
		Nonce:                 decimal(r.BalanceProof.Nonce),
		RewardAmount:          decimal(r.RewardAmount),
		State:                 r.State.String(),
		ClosedBlock:           r.ClosedBlock,
		DeadlineBlock:         r.DeadlineBlock,
		Acknowledged:          r.Acknowledged,
		RewardClaimed:         r.RewardClaimed,
	}
	if r.Submission.Submitted {
		h := r.Submission.TxHash
		st.MonitorTx = &h
	}
	if r.Claim.Submitted {
		h := r.Claim.TxHash
		st.ClaimTx = &h
	}
	return st
}
