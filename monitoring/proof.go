// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package monitoring

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// message types of signed channel messages
const (
	MessageTypeBalanceProof       = 1
	MessageTypeBalanceProofUpdate = 2
	MessageTypeReward             = 6
)

// ErrInvalidSignature indicates a signature that cannot be recovered
var ErrInvalidSignature = errors.New("invalid signature")

// BalanceProof is the latest off-chain state of a channel, signed by the participant
// that would close it
type BalanceProof struct {
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

func word(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	return math.U256Bytes(new(big.Int).Set(v))
}

// BalanceHash commits to the transferred and locked amounts
func (bp *BalanceProof) BalanceHash() common.Hash {
	return crypto.Keccak256Hash(word(bp.TransferredAmount), word(bp.LockedAmount), bp.Locksroot.Bytes())
}

// packed is the message the closing participant signs
func (bp *BalanceProof) packed() []byte {
	var data []byte
	data = append(data, bp.TokenNetwork.Bytes()...)
	data = append(data, word(bp.ChainID)...)
	data = append(data, word(big.NewInt(MessageTypeBalanceProof))...)
	data = append(data, word(bp.ChannelID)...)
	data = append(data, bp.BalanceHash().Bytes()...)
	data = append(data, word(bp.Nonce)...)
	data = append(data, bp.AdditionalHash.Bytes()...)
	return data
}

// updatePacked is the message the non-closing participant signs to let others submit
// the balance proof on its behalf
func (bp *BalanceProof) updatePacked() []byte {
	var data []byte
	data = append(data, bp.TokenNetwork.Bytes()...)
	data = append(data, word(bp.ChainID)...)
	data = append(data, word(big.NewInt(MessageTypeBalanceProofUpdate))...)
	data = append(data, word(bp.ChannelID)...)
	data = append(data, bp.BalanceHash().Bytes()...)
	data = append(data, word(bp.Nonce)...)
	data = append(data, bp.AdditionalHash.Bytes()...)
	return append(data, bp.Signature...)
}

// rewardPacked is the message the non-closing participant signs to promise reward
func rewardPacked(monitoringService common.Address, chainID *big.Int, nonClosingSignature []byte, reward *big.Int) []byte {
	var data []byte
	data = append(data, monitoringService.Bytes()...)
	data = append(data, word(chainID)...)
	data = append(data, word(big.NewInt(MessageTypeReward))...)
	data = append(data, nonClosingSignature...)
	return append(data, word(reward)...)
}

// ClosingSigner recovers who signed the balance proof
func (bp *BalanceProof) ClosingSigner() (common.Address, error) {
	return Recover(bp.packed(), bp.Signature)
}

// Recover returns the signer of data under the Ethereum signed message prefix
func Recover(data, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Wrapf(ErrInvalidSignature, "signature length %d", len(sig))
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(data), s)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrInvalidSignature, err.Error())
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign signs data under the Ethereum signed message prefix, with v in {27, 28}
func Sign(data []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(data), key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignBalanceProof fills in the closing participant's signature
func SignBalanceProof(bp *BalanceProof, key *ecdsa.PrivateKey) error {
	sig, err := Sign(bp.packed(), key)
	if err != nil {
		return err
	}
	bp.Signature = sig
	return nil
}

// SignRequest fills in the non-closing participant's signatures of a monitor request
func SignRequest(req *MonitorRequest, monitoringService common.Address, key *ecdsa.PrivateKey) error {
	sig, err := Sign(req.BalanceProof.updatePacked(), key)
	if err != nil {
		return err
	}
	req.NonClosingSignature = sig
	sig, err = Sign(rewardPacked(monitoringService, req.BalanceProof.ChainID, req.NonClosingSignature, req.RewardAmount), key)
	if err != nil {
		return err
	}
	req.RewardProofSignature = sig
	return nil
}
