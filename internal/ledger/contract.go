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
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"math/big"
	"os"

	"github.com/hyperledger/firefly-common/pkg/fftypes"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/kaleido-io/tokengate/internal/confutil"
	"github.com/kaleido-io/tokengate/internal/msgs"
)

//go:embed abis/AccessToken.json
var accessTokenABIJSON []byte

// Contract binds the client to the deployed access token contract. All the
// functions the coordinator depends on are resolved from the ABI once at
// startup, so a bad ABI fails the boot rather than the first grant.
type Contract struct {
	client  Client
	address *ethtypes.Address0xHex

	txVersion      EthTXVersion
	issueGasLimit  *big.Int
	revokeGasLimit *big.Int

	issueToken     ABIFunctionClient
	revokeToken    ABIFunctionClient
	isTokenValid   ABIFunctionClient
	getTokenExpiry ABIFunctionClient
	admin          ABIFunctionClient

	tokenIssuedEvent *abi.Entry
	tokenIssuedTopic ethtypes.HexBytes0xPrefix
}

// TokenIssuedEvent is the decoded issuance notification - the only channel
// through which a tokenId is ever learned
type TokenIssuedEvent struct {
	TokenID  *fftypes.FFBigInt      `json:"tokenId"`
	User     *ethtypes.Address0xHex `json:"user"`
	Resource string                 `json:"resource"`
	Expiry   *fftypes.FFBigInt      `json:"expiry"`
}

func NewContract(ctx context.Context, client Client, conf *Config) (_ *Contract, err error) {
	if conf.ContractAddress == nil || *conf.ContractAddress == "" {
		return nil, i18n.NewError(ctx, msgs.MsgConfigMissingField, "blockchain.contractAddress")
	}
	address, err := ethtypes.NewAddress(*conf.ContractAddress)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerInvalidContractAddr, *conf.ContractAddress)
	}

	abiJSON := accessTokenABIJSON
	if conf.ABIFile != nil && *conf.ABIFile != "" {
		if abiJSON, err = os.ReadFile(*conf.ABIFile); err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgConfigFileReadError, *conf.ABIFile)
		}
	}

	txVersion := EthTXVersion(confutil.StringNotEmpty(conf.TXVersion, *Defaults.TXVersion))
	switch txVersion {
	case LEGACY_ORIGINAL, LEGACY_EIP155, EIP1559:
	default:
		return nil, i18n.NewError(ctx, msgs.MsgLedgerUnsupportedVersion, txVersion)
	}

	abic, err := client.ABIJSON(ctx, abiJSON)
	if err != nil {
		return nil, err
	}

	c := &Contract{
		client:    client,
		address:   address,
		txVersion: txVersion,
	}
	if conf.GasLimits.Issue != nil {
		c.issueGasLimit = big.NewInt(*conf.GasLimits.Issue)
	}
	if conf.GasLimits.Revoke != nil {
		c.revokeGasLimit = big.NewInt(*conf.GasLimits.Revoke)
	}
	if c.issueToken, err = abic.Function(ctx, "issueToken"); err == nil {
		c.revokeToken, err = abic.Function(ctx, "revokeToken")
	}
	if err == nil {
		c.isTokenValid, err = abic.Function(ctx, "isTokenValid")
	}
	if err == nil {
		c.getTokenExpiry, err = abic.Function(ctx, "getTokenExpiry")
	}
	if err == nil {
		c.admin, err = abic.Function(ctx, "admin")
	}
	if err != nil {
		return nil, err
	}

	c.tokenIssuedEvent = abic.ABI().Events()["TokenIssued"]
	if c.tokenIssuedEvent == nil {
		return nil, i18n.NewError(ctx, msgs.MsgLedgerEventNotInABI, "TokenIssued")
	}
	if c.tokenIssuedTopic, err = c.tokenIssuedEvent.SignatureHash(); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerABIInvalid)
	}

	log.L(ctx).Infof("Access token contract bound (address=%s chainId=%d)", address, client.ChainID())
	return c, nil
}

func (c *Contract) Address() *ethtypes.Address0xHex {
	return c.address
}

func (c *Contract) Client() Client {
	return c.client
}

func (c *Contract) IssueToken(ctx context.Context, user *ethtypes.Address0xHex, resource string, duration *big.Int) (ethtypes.HexBytes0xPrefix, error) {
	return c.issueToken.R(ctx).
		TXVersion(c.txVersion).
		To(c.address).
		GasLimit(c.issueGasLimit).
		Input(map[string]any{
			"user":     user.String(),
			"resource": resource,
			"duration": duration.String(),
		}).
		SignAndSend()
}

func (c *Contract) RevokeToken(ctx context.Context, tokenID *big.Int) (ethtypes.HexBytes0xPrefix, error) {
	return c.revokeToken.R(ctx).
		TXVersion(c.txVersion).
		To(c.address).
		GasLimit(c.revokeGasLimit).
		Input(map[string]any{"tokenId": tokenID.String()}).
		SignAndSend()
}

func (c *Contract) IsTokenValid(ctx context.Context, tokenID *big.Int) (bool, error) {
	var res struct {
		Valid bool `json:"valid"`
	}
	err := c.isTokenValid.R(ctx).
		To(c.address).
		Input(map[string]any{"tokenId": tokenID.String()}).
		Output(&res).
		Call()
	if err != nil {
		return false, i18n.WrapError(ctx, err, msgs.MsgTokenCheckFailed, tokenID)
	}
	return res.Valid, nil
}

func (c *Contract) GetTokenExpiry(ctx context.Context, tokenID *big.Int) (*fftypes.FFBigInt, error) {
	var res struct {
		Expiry *fftypes.FFBigInt `json:"expiry"`
	}
	err := c.getTokenExpiry.R(ctx).
		To(c.address).
		Input(map[string]any{"tokenId": tokenID.String()}).
		Output(&res).
		Call()
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgTokenExpiryFailed, tokenID)
	}
	return res.Expiry, nil
}

// Admin reads the admin address recorded in the contract. The coordinator only
// observes this for a consistency check - it never adopts it as an identity.
func (c *Contract) Admin(ctx context.Context) (*ethtypes.Address0xHex, error) {
	var res struct {
		Admin *ethtypes.Address0xHex `json:"admin"`
	}
	err := c.admin.R(ctx).
		To(c.address).
		Output(&res).
		Call()
	if err != nil {
		return nil, err
	}
	return res.Admin, nil
}

// FindTokenIssued scans the receipt logs for the issuance event, matching on
// the topic0 signature hash. Absence is not an error at this layer - (nil,nil)
// is returned and the caller decides what a missing event means.
func (c *Contract) FindTokenIssued(ctx context.Context, receipt *Receipt) (*TokenIssuedEvent, error) {
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 || !bytes.Equal(l.Topics[0], c.tokenIssuedTopic) {
			continue
		}
		cv, err := c.tokenIssuedEvent.DecodeEventDataCtx(ctx, l.Topics, l.Data)
		if err != nil {
			// Same signature, different indexing - not ours
			log.L(ctx).Warnf("Log %s/%d matched TokenIssued signature but failed to decode: %s", receipt.TransactionHash, l.LogIndex.BigInt().Int64(), err)
			continue
		}
		jsonData, err := StandardABISerializer().SerializeJSONCtx(ctx, cv)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerDecodeFailed, "TokenIssued")
		}
		var ev TokenIssuedEvent
		if err := json.Unmarshal(jsonData, &ev); err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerDecodeFailed, "TokenIssued")
		}
		return &ev, nil
	}
	return nil, nil
}
