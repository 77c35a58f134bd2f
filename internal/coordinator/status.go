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

	"github.com/hyperledger/firefly-common/pkg/fftypes"
	"github.com/hyperledger/firefly-common/pkg/log"
)

const (
	StatusValid   = "Valid"
	StatusInvalid = "Invalid"
)

// TokenStatus is a point-in-time view of one token, assembled from two
// ledger reads (validity and expiry)
type TokenStatus struct {
	TokenID       *fftypes.FFBigInt `json:"tokenId"`
	Status        string            `json:"status"`
	RemainingTime uint64            `json:"remainingTime"` // seconds, floored at zero
}

// GetTokenStatuses resolves the status of each requested token, best effort.
// A token whose reads fail is logged and omitted rather than failing the
// whole batch - one flaky token must not hide the rest of the dashboard.
//
// Status comes from the contract's validity view, not from the remaining
// time: a token revoked before its expiry reports Invalid even while its
// expiry timestamp is still in the future.
func (co *Coordinator) GetTokenStatuses(ctx context.Context, tokenIDs []*big.Int) []*TokenStatus {
	statuses := make([]*TokenStatus, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		valid, err := co.contract.IsTokenValid(ctx, id)
		if err != nil {
			log.L(ctx).Warnf("Skipping token %s in status batch: %s", id, err)
			continue
		}
		expiry, err := co.contract.GetTokenExpiry(ctx, id)
		if err != nil {
			log.L(ctx).Warnf("Skipping token %s in status batch: %s", id, err)
			continue
		}

		status := StatusInvalid
		if valid {
			status = StatusValid
		}
		var remaining uint64
		nowSecs := co.now().Unix()
		if expirySecs := expiry.Int(); expirySecs.IsInt64() && expirySecs.Int64() > nowSecs {
			remaining = uint64(expirySecs.Int64() - nowSecs)
		}
		statuses = append(statuses, &TokenStatus{
			TokenID:       (*fftypes.FFBigInt)(id),
			Status:        status,
			RemainingTime: remaining,
		})
	}
	return statuses
}
