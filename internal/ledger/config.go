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

package ledger

import (
	"github.com/kaleido-io/tokengate/internal/confutil"
	"github.com/kaleido-io/tokengate/internal/retry"
	"github.com/kaleido-io/tokengate/internal/rpcclient"
)

// GasLimitConfig sets fixed per-operation gas limits. Issuance writes more
// state than revocation, so they are configured independently. Any unset
// limit falls back to node estimation with the estimate factor applied.
type GasLimitConfig struct {
	Issue  *int64 `yaml:"issue"`
	Revoke *int64 `yaml:"revoke"`
}

type Config struct {
	HTTP rpcclient.HTTPConfig `yaml:"http"`
	WS   rpcclient.WSConfig   `yaml:"ws"`

	ContractAddress *string `yaml:"contractAddress"`
	ABIFile         *string `yaml:"abiFile"` // optional override of the embedded ABI

	TXVersion         *string        `yaml:"txVersion"` // legacy_original, legacy_eip155 or eip1559
	GasEstimateFactor *float64       `yaml:"gasEstimateFactor"`
	GasLimits         GasLimitConfig `yaml:"gasLimits"`
	GasPrice          *int64         `yaml:"gasPrice"` // fixed gas price in wei; queried from the node when unset

	ConfirmationTimeout *string      `yaml:"confirmationTimeout"`
	ReceiptPolling      retry.Config `yaml:"receiptPolling"`
}

var Defaults = &Config{
	TXVersion:           confutil.P("legacy_eip155"),
	GasEstimateFactor:   confutil.P(1.5),
	ConfirmationTimeout: confutil.P("2m"),
	ReceiptPolling: retry.Config{
		InitialDelay: confutil.P("200ms"),
		MaxDelay:     confutil.P("2s"),
		Factor:       confutil.P(1.5),
	},
}
