/*
 * Copyright © 2024 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package coordinator

import (
	"context"
	"math/big"
	"time"

	"github.com/hyperledger/firefly-common/pkg/fftypes"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/kaleido-io/tokengate/internal/ledger"
	"github.com/kaleido-io/tokengate/internal/metrics"
	"github.com/kaleido-io/tokengate/internal/msgs"
	"github.com/kaleido-io/tokengate/internal/requests"
)

// Coordinator sequences the off-chain request queue against the on-chain
// access token contract. It owns no token state of its own: every validity
// and expiry answer is read fresh from the ledger, and the queue only ever
// shrinks in response to a confirmed on-chain issuance.
type Coordinator struct {
	contract *ledger.Contract
	queue    *requests.Queue
	now      func() time.Time
}

// GrantResult reports a confirmed issuance, including how many queued
// requests for the same address were purged as a side effect
type GrantResult struct {
	TokenID         *fftypes.FFBigInt         `json:"tokenId"`
	User            *ethtypes.Address0xHex    `json:"user"`
	Resource        string                    `json:"resource"`
	Expiry          *fftypes.FFBigInt         `json:"expiry"`
	TransactionHash ethtypes.HexBytes0xPrefix `json:"transactionHash"`
	RequestsPurged  int                       `json:"requestsPurged"`
}

// RevokeResult reports a confirmed on-chain revocation
type RevokeResult struct {
	TokenID         *fftypes.FFBigInt         `json:"tokenId"`
	TransactionHash ethtypes.HexBytes0xPrefix `json:"transactionHash"`
}

func NewCoordinator(contract *ledger.Contract, queue *requests.Queue) *Coordinator {
	return &Coordinator{
		contract: contract,
		queue:    queue,
		now:      time.Now,
	}
}

// RequestAccess validates and enqueues a pending access request. Nothing is
// written to the ledger at this point - the request just waits for an
// administrator to grant it.
func (co *Coordinator) RequestAccess(ctx context.Context, userAddress, resource string, duration uint64) (*requests.AccessRequest, error) {
	addr, err := ethtypes.NewAddress(userAddress)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgRequestInvalidAddress, userAddress)
	}
	if resource == "" {
		return nil, i18n.NewError(ctx, msgs.MsgRequestInvalidResource)
	}
	if duration == 0 {
		return nil, i18n.NewError(ctx, msgs.MsgRequestInvalidDuration)
	}
	req := &requests.AccessRequest{
		UserAddress: addr,
		Resource:    resource,
		Duration:    duration,
	}
	co.queue.Append(req)
	metrics.QueueDepthGauge.Set(float64(co.queue.Len()))
	log.L(ctx).Infof("Queued access request (user=%s resource=%s duration=%ds depth=%d)", addr, resource, duration, co.queue.Len())
	return req, nil
}

// ListRequests returns a snapshot of the pending queue in arrival order
func (co *Coordinator) ListRequests(ctx context.Context) []*requests.AccessRequest {
	return co.queue.List()
}

// GrantAccess submits an issuance transaction, waits for it to be mined, and
// decodes the emitted issuance event to learn the new token ID. Only after a
// mined receipt carrying the event are the queued requests for the address
// purged - every failure path leaves the queue exactly as it was.
func (co *Coordinator) GrantAccess(ctx context.Context, userAddress, resource string, duration uint64) (*GrantResult, error) {
	addr, err := ethtypes.NewAddress(userAddress)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgRequestInvalidAddress, userAddress)
	}
	if resource == "" {
		return nil, i18n.NewError(ctx, msgs.MsgRequestInvalidResource)
	}
	if duration == 0 {
		return nil, i18n.NewError(ctx, msgs.MsgRequestInvalidDuration)
	}

	submitted := co.now()
	txHash, err := co.contract.IssueToken(ctx, addr, resource, new(big.Int).SetUint64(duration))
	if err != nil {
		metrics.GrantsCounter.WithLabelValues("submit_failed").Inc()
		return nil, err
	}
	log.L(ctx).Infof("Issuance submitted (tx=%s user=%s resource=%s)", txHash, addr, resource)

	receipt, err := co.contract.Client().WaitForReceipt(ctx, txHash)
	if err != nil {
		metrics.GrantsCounter.WithLabelValues("timeout").Inc()
		return nil, err
	}
	metrics.ConfirmationHistogram.Observe(co.now().Sub(submitted).Seconds())
	if !receipt.Success {
		metrics.GrantsCounter.WithLabelValues("reverted").Inc()
		revertReason := "unknown"
		if receipt.ErrorMessage != nil {
			revertReason = *receipt.ErrorMessage
		}
		return nil, i18n.NewError(ctx, msgs.MsgLedgerTxReverted, txHash, revertReason)
	}

	ev, err := co.contract.FindTokenIssued(ctx, receipt)
	if err != nil {
		metrics.GrantsCounter.WithLabelValues("decode_failed").Inc()
		return nil, err
	}
	if ev == nil {
		// Mined without the event means the contract did not behave as the
		// ABI promises. The queue must not be purged on this path.
		metrics.GrantsCounter.WithLabelValues("event_missing").Inc()
		return nil, i18n.NewError(ctx, msgs.MsgTokenIssuedEventNotFound, txHash, co.contract.Address())
	}

	purged := co.queue.RemoveAllFor(addr)
	metrics.QueueDepthGauge.Set(float64(co.queue.Len()))
	metrics.GrantsCounter.WithLabelValues("confirmed").Inc()
	log.L(ctx).Infof("Token %s issued (tx=%s user=%s expiry=%s purged=%d)", ev.TokenID.Int(), txHash, addr, ev.Expiry.Int(), purged)

	return &GrantResult{
		TokenID:         ev.TokenID,
		User:            ev.User,
		Resource:        ev.Resource,
		Expiry:          ev.Expiry,
		TransactionHash: txHash,
		RequestsPurged:  purged,
	}, nil
}

// RevokeAccess invalidates a token on-chain. A pre-flight validity read
// avoids burning gas on tokens that are already expired or revoked; a revert
// that slips through anyway (the token expired between the read and the
// mining of the transaction) is reported the same way.
func (co *Coordinator) RevokeAccess(ctx context.Context, tokenID *big.Int) (*RevokeResult, error) {
	valid, err := co.contract.IsTokenValid(ctx, tokenID)
	if err != nil {
		metrics.RevocationsCounter.WithLabelValues("check_failed").Inc()
		return nil, err
	}
	if !valid {
		metrics.RevocationsCounter.WithLabelValues("already_invalid").Inc()
		return nil, i18n.NewError(ctx, msgs.MsgTokenAlreadyInvalid, tokenID)
	}

	submitted := co.now()
	txHash, err := co.contract.RevokeToken(ctx, tokenID)
	if err != nil {
		metrics.RevocationsCounter.WithLabelValues("submit_failed").Inc()
		return nil, err
	}
	log.L(ctx).Infof("Revocation submitted (tx=%s tokenId=%s)", txHash, tokenID)

	receipt, err := co.contract.Client().WaitForReceipt(ctx, txHash)
	if err != nil {
		metrics.RevocationsCounter.WithLabelValues("timeout").Inc()
		return nil, err
	}
	metrics.ConfirmationHistogram.Observe(co.now().Sub(submitted).Seconds())
	if !receipt.Success {
		metrics.RevocationsCounter.WithLabelValues("reverted").Inc()
		return nil, i18n.NewError(ctx, msgs.MsgLedgerRejected, "token already expired or revoked, cannot revoke")
	}

	metrics.RevocationsCounter.WithLabelValues("confirmed").Inc()
	log.L(ctx).Infof("Token %s revoked (tx=%s)", tokenID, txHash)
	return &RevokeResult{
		TokenID:         (*fftypes.FFBigInt)(tokenID),
		TransactionHash: txHash,
	}, nil
}

// CheckAccess is a read-only passthrough to the contract's validity view
func (co *Coordinator) CheckAccess(ctx context.Context, tokenID *big.Int) (bool, error) {
	valid, err := co.contract.IsTokenValid(ctx, tokenID)
	if err != nil {
		return false, err
	}
	metrics.ChecksCounter.Inc()
	return valid, nil
}
