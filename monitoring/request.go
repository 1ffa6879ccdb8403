// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package monitoring

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// State is the state of a monitor request
type State uint8

// request states
const (
	StateIdle State = iota
	StateArmed
	StateTriggered
	StateSubmitted
	StateDone
	// StateSkipped means the channel closed without a claim to make
	StateSkipped
	// StateExpired means the deadline passed before a claim could be made
	StateExpired
	// StateFailed means the submitted transaction was reverted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateTriggered:
		return "triggered"
	case StateSubmitted:
		return "submitted"
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no more on-chain action follows for the channel
func (s State) Terminal() bool {
	return s == StateDone || s == StateSkipped || s == StateExpired || s == StateFailed
}

type (
	// MonitorRequest asks the service to submit BalanceProof on behalf of
	// NonClosingParticipant if its partner closes the channel with an older one.
	// Fields below Submission are tracked by the service.
	MonitorRequest struct {
		BalanceProof          BalanceProof
		NonClosingParticipant common.Address
		NonClosingSignature   []byte
		RewardAmount          *big.Int
		RewardProofSignature  []byte

		ClosingParticipant common.Address
		SettleTimeout      uint64
		State              State
		// ClosedBlock is the block the partner closed the channel in
		ClosedBlock uint64
		// DeadlineBlock is the last block a submission is accepted in
		DeadlineBlock      uint64
		ClosingNonce       *big.Int
		ClosingTransferred *big.Int
		Submission         Submission
		Acknowledged       bool
		Claim              Submission
		RewardClaimed      bool
		Archived           bool
	}

	// Submission is a transaction signed and persisted before it was sent. Once
	// Submitted is set only the same raw transaction is ever broadcast.
	Submission struct {
		Submitted bool
		TxHash    common.Hash
		RawTx     []byte
		Block     uint64
		Mined     bool
		Failed    bool
	}

	// RequestKey identifies a monitor request
	RequestKey struct {
		TokenNetwork          common.Address
		ChannelID             string
		NonClosingParticipant common.Address
	}

	// ChannelKey identifies a channel
	ChannelKey struct {
		TokenNetwork common.Address
		ChannelID    string
	}
)

// TokenNetwork returns the token network of the monitored channel
func (r *MonitorRequest) TokenNetwork() common.Address { return r.BalanceProof.TokenNetwork }

// ChannelID returns the monitored channel
func (r *MonitorRequest) ChannelID() *big.Int { return r.BalanceProof.ChannelID }

// Key returns the key of the request
func (r *MonitorRequest) Key() RequestKey {
	return RequestKey{
		TokenNetwork:          r.TokenNetwork(),
		ChannelID:             r.ChannelID().String(),
		NonClosingParticipant: r.NonClosingParticipant,
	}
}

// Channel returns the key of the monitored channel
func (r *MonitorRequest) Channel() ChannelKey {
	return channelKeyOf(r.TokenNetwork(), r.ChannelID())
}

func channelKeyOf(tokenNetwork common.Address, id *big.Int) ChannelKey {
	return ChannelKey{TokenNetwork: tokenNetwork, ChannelID: id.String()}
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Clone returns a deep copy
func (r *MonitorRequest) Clone() *MonitorRequest {
	c := *r
	c.BalanceProof.ChainID = copyInt(r.BalanceProof.ChainID)
	c.BalanceProof.ChannelID = copyInt(r.BalanceProof.ChannelID)
	c.BalanceProof.Nonce = copyInt(r.BalanceProof.Nonce)
	c.BalanceProof.TransferredAmount = copyInt(r.BalanceProof.TransferredAmount)
	c.BalanceProof.LockedAmount = copyInt(r.BalanceProof.LockedAmount)
	c.BalanceProof.Signature = copyBytes(r.BalanceProof.Signature)
	c.NonClosingSignature = copyBytes(r.NonClosingSignature)
	c.RewardAmount = copyInt(r.RewardAmount)
	c.RewardProofSignature = copyBytes(r.RewardProofSignature)
	c.ClosingNonce = copyInt(r.ClosingNonce)
	c.ClosingTransferred = copyInt(r.ClosingTransferred)
	c.Submission.RawTx = copyBytes(r.Submission.RawTx)
	c.Claim.RawTx = copyBytes(r.Claim.RawTx)
	return &c
}

// dbKey is token network, channel id and non-closing participant
// dbKey starts with the channel prefix so a channel's records are stored together
func (r *MonitorRequest) dbKey() []byte {
	return append(channelPrefix(r.TokenNetwork(), r.ChannelID()), r.NonClosingParticipant.Bytes()...)
}

func channelPrefix(tokenNetwork common.Address, id *big.Int) []byte {
	key := make([]byte, 0, 72)
	key = append(key, tokenNetwork.Bytes()...)
	return append(key, common.BigToHash(id).Bytes()...)
}

type (
	cursorRecord struct {
		Height uint64
		Hash   common.Hash
	}

	balanceProofRecord struct {
		ChainID           *big.Int
		TokenNetwork      common.Address
		ChannelID         *big.Int
		Nonce             *big.Int
		TransferredAmount *big.Int
		LockedAmount      *big.Int
		Locksroot         common.Hash
		AdditionalHash    common.Hash
		Signature         []byte
	}

	submissionRecord struct {
		Submitted bool
		TxHash    common.Hash
		RawTx     []byte
		Block     uint64
		Mined     bool
		Failed    bool
	}

	requestRecord struct {
		BalanceProof          balanceProofRecord
		NonClosingParticipant common.Address
		NonClosingSignature   []byte
		RewardAmount          *big.Int
		RewardProofSignature  []byte
		ClosingParticipant    common.Address
		SettleTimeout         uint64
		State                 uint8
		ClosedBlock           uint64
		DeadlineBlock         uint64
		ClosingNonce          *big.Int
		ClosingTransferred    *big.Int
		Submission            submissionRecord
		Acknowledged          bool
		Claim                 submissionRecord
		RewardClaimed         bool
		Archived              bool
	}
)

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func encodeRequest(r *MonitorRequest) ([]byte, error) {
	bp := r.BalanceProof
	return rlp.EncodeToBytes(&requestRecord{
		BalanceProof: balanceProofRecord{
			ChainID:           orZero(bp.ChainID),
			TokenNetwork:      bp.TokenNetwork,
			ChannelID:         orZero(bp.ChannelID),
			Nonce:             orZero(bp.Nonce),
			TransferredAmount: orZero(bp.TransferredAmount),
			LockedAmount:      orZero(bp.LockedAmount),
			Locksroot:         bp.Locksroot,
			AdditionalHash:    bp.AdditionalHash,
			Signature:         bp.Signature,
		},
		NonClosingParticipant: r.NonClosingParticipant,
		NonClosingSignature:   r.NonClosingSignature,
		RewardAmount:          orZero(r.RewardAmount),
		RewardProofSignature:  r.RewardProofSignature,
		ClosingParticipant:    r.ClosingParticipant,
		SettleTimeout:         r.SettleTimeout,
		State:                 uint8(r.State),
		ClosedBlock:           r.ClosedBlock,
		DeadlineBlock:         r.DeadlineBlock,
		ClosingNonce:          orZero(r.ClosingNonce),
		ClosingTransferred:    orZero(r.ClosingTransferred),
		Submission:            submissionRecord(r.Submission),
		Acknowledged:          r.Acknowledged,
		Claim:                 submissionRecord(r.Claim),
		RewardClaimed:         r.RewardClaimed,
		Archived:              r.Archived,
	})
}

func decodeRequest(b []byte) (*MonitorRequest, error) {
	var rec requestRecord
	if err := rlp.DecodeBytes(b, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode monitor request")
	}
	bp := rec.BalanceProof
	return &MonitorRequest{
		BalanceProof: BalanceProof{
			ChainID:           bp.ChainID,
			TokenNetwork:      bp.TokenNetwork,
			ChannelID:         bp.ChannelID,
			Nonce:             bp.Nonce,
			TransferredAmount: bp.TransferredAmount,
			LockedAmount:      bp.LockedAmount,
			Locksroot:         bp.Locksroot,
			AdditionalHash:    bp.AdditionalHash,
			Signature:         bp.Signature,
		},
		NonClosingParticipant: rec.NonClosingParticipant,
		NonClosingSignature:   rec.NonClosingSignature,
		RewardAmount:          rec.RewardAmount,
		RewardProofSignature:  rec.RewardProofSignature,
		ClosingParticipant:    rec.ClosingParticipant,
		SettleTimeout:         rec.SettleTimeout,
		State:                 State(rec.State),
		ClosedBlock:           rec.ClosedBlock,
		DeadlineBlock:         rec.DeadlineBlock,
		ClosingNonce:          rec.ClosingNonce,
		ClosingTransferred:    rec.ClosingTransferred,
		Submission:            Submission(rec.Submission),
		Acknowledged:          rec.Acknowledged,
		Claim:                 Submission(rec.Claim),
		RewardClaimed:         rec.RewardClaimed,
		Archived:              rec.Archived,
	}, nil
}
