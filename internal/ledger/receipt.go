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
	"encoding/hex"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/fftypes"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/kaleido-io/tokengate/internal/msgs"
)

// txReceiptJSONRPC is the receipt obtained over JSON/RPC from the ethereum client, with gas used, logs and contract address
type txReceiptJSONRPC struct {
	BlockHash         ethtypes.HexBytes0xPrefix  `json:"blockHash"`
	BlockNumber       *ethtypes.HexInteger       `json:"blockNumber"`
	ContractAddress   *ethtypes.Address0xHex     `json:"contractAddress"`
	CumulativeGasUsed *ethtypes.HexInteger       `json:"cumulativeGasUsed"`
	From              *ethtypes.Address0xHex     `json:"from"`
	GasUsed           *ethtypes.HexInteger       `json:"gasUsed"`
	Logs              []*logJSONRPC              `json:"logs"`
	Status            *ethtypes.HexInteger       `json:"status"`
	To                *ethtypes.Address0xHex     `json:"to"`
	TransactionHash   ethtypes.HexBytes0xPrefix  `json:"transactionHash"`
	TransactionIndex  *ethtypes.HexInteger       `json:"transactionIndex"`
	RevertReason      *ethtypes.HexBytes0xPrefix `json:"revertReason"`
}

type logJSONRPC struct {
	Removed          bool                        `json:"removed"`
	LogIndex         *ethtypes.HexInteger        `json:"logIndex"`
	TransactionIndex *ethtypes.HexInteger        `json:"transactionIndex"`
	BlockNumber      *ethtypes.HexInteger        `json:"blockNumber"`
	TransactionHash  ethtypes.HexBytes0xPrefix   `json:"transactionHash"`
	BlockHash        ethtypes.HexBytes0xPrefix   `json:"blockHash"`
	Address          *ethtypes.Address0xHex      `json:"address"`
	Data             ethtypes.HexBytes0xPrefix   `json:"data"`
	Topics           []ethtypes.HexBytes0xPrefix `json:"topics"`
}

// Receipt is the completed-transaction view handed up to the coordinator,
// with numbers decimalized and the revert reason (if any) decoded
type Receipt struct {
	TransactionHash  ethtypes.HexBytes0xPrefix `json:"transactionHash"`
	BlockNumber      *fftypes.FFBigInt         `json:"blockNumber"`
	TransactionIndex *fftypes.FFBigInt         `json:"transactionIndex"`
	BlockHash        string                    `json:"blockHash"`
	Success          bool                      `json:"success"`
	ContractAddress  *ethtypes.Address0xHex    `json:"contractAddress,omitempty"`
	From             *ethtypes.Address0xHex    `json:"from,omitempty"`
	To               *ethtypes.Address0xHex    `json:"to,omitempty"`
	GasUsed          *fftypes.FFBigInt         `json:"gasUsed,omitempty"`
	ReturnValue      *string                   `json:"returnValue,omitempty"`
	ErrorMessage     *string                   `json:"errorMessage,omitempty"`
	Logs             []*Log                    `json:"-"`
}

// Log is a raw un-decoded log from the receipt
type Log struct {
	LogIndex *ethtypes.HexInteger        `json:"logIndex"`
	Address  *ethtypes.Address0xHex      `json:"address"`
	Data     ethtypes.HexBytes0xPrefix   `json:"data"`
	Topics   []ethtypes.HexBytes0xPrefix `json:"topics"`
}

var (
	// See https://docs.soliditylang.org/en/v0.8.14/control-structures.html#revert
	// The default error for `revert("some error")` is a function Error(string)
	defaultError = &abi.Entry{
		Type: abi.Error,
		Name: "Error",
		Inputs: abi.ParameterArray{
			{
				Type: "string",
			},
		},
	}
	defaultErrorID = defaultError.FunctionSelectorBytes()
)

// GetTransactionReceipt returns nil (without error) while the transaction is not yet mined
func (ec *ledgerClient) GetTransactionReceipt(ctx context.Context, txHash ethtypes.HexBytes0xPrefix) (*Receipt, error) {

	// Get the receipt in the back-end JSON/RPC format
	var ethReceipt *txReceiptJSONRPC
	rpcErr := ec.rpc.CallRPC(ctx, &ethReceipt, "eth_getTransactionReceipt", txHash)
	if rpcErr != nil {
		return nil, i18n.WrapError(ctx, rpcErr.Error(), msgs.MsgLedgerReceiptFailed, txHash)
	}
	if ethReceipt == nil {
		return nil, nil
	}
	isSuccess := (ethReceipt.Status != nil && ethReceipt.Status.BigInt().Int64() > 0)

	var returnDataString *string
	var transactionErrorMessage *string
	if !isSuccess {
		returnDataString, transactionErrorMessage = ec.getErrorInfo(ctx, ethReceipt.RevertReason)
	}

	logs := make([]*Log, len(ethReceipt.Logs))
	for i, l := range ethReceipt.Logs {
		logs[i] = &Log{
			LogIndex: l.LogIndex,
			Address:  l.Address,
			Data:     l.Data,
			Topics:   l.Topics,
		}
	}

	return &Receipt{
		TransactionHash:  ethReceipt.TransactionHash,
		BlockNumber:      (*fftypes.FFBigInt)(ethReceipt.BlockNumber),
		TransactionIndex: (*fftypes.FFBigInt)(ethReceipt.TransactionIndex),
		BlockHash:        ethReceipt.BlockHash.String(),
		Success:          isSuccess,
		ContractAddress:  ethReceipt.ContractAddress,
		From:             ethReceipt.From,
		To:               ethReceipt.To,
		GasUsed:          (*fftypes.FFBigInt)(ethReceipt.GasUsed),
		ReturnValue:      returnDataString,
		ErrorMessage:     transactionErrorMessage,
		Logs:             logs,
	}, nil
}

// WaitForReceipt polls until the transaction is mined, or the confirmation
// timeout pops. Cancellation comes only from the timeout, or from the caller's
// own context.
func (ec *ledgerClient) WaitForReceipt(ctx context.Context, txHash ethtypes.HexBytes0xPrefix) (*Receipt, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, ec.confirmationTimeout)
	defer cancel()
	attempt := 0
	for {
		receipt, err := ec.GetTransactionReceipt(timeoutCtx, txHash)
		if err != nil {
			// Transient RPC failures are retried until the timeout pops
			log.L(ctx).Warnf("Receipt poll for %s failed: %s", txHash, err)
		} else if receipt != nil {
			log.L(ctx).Debugf("Transaction %s mined in block %d (success=%t)", txHash, receipt.BlockNumber.Int64(), receipt.Success)
			return receipt, nil
		}
		attempt++
		if waitErr := ec.receiptRetry.WaitDelay(timeoutCtx, attempt); waitErr != nil {
			if ctx.Err() != nil {
				return nil, i18n.NewError(ctx, msgs.MsgContextCanceled)
			}
			return nil, i18n.NewError(ctx, msgs.MsgLedgerConfirmationTimeout, txHash, ec.confirmationTimeout)
		}
	}
}

func (ec *ledgerClient) getErrorInfo(ctx context.Context, revertFromReceipt *ethtypes.HexBytes0xPrefix) (pReturnValue *string, pErrorMessage *string) {

	var revertReason string
	if revertFromReceipt != nil {
		revertReason = revertFromReceipt.String()
	}

	// See if the return value is using the default error you get from "revert"
	var errorMessage string
	returnDataBytes, _ := hex.DecodeString(padHexData(revertReason))
	if len(returnDataBytes) > 4 && bytes.Equal(returnDataBytes[0:4], defaultErrorID) {
		value, err := defaultError.DecodeCallDataCtx(ctx, returnDataBytes)
		if err == nil {
			errorMessage = value.Children[0].Value.(string)
		}
	}

	// Otherwise we can't decode it, so put it directly in the error
	if errorMessage == "" {
		errorMessage = "transaction reverted"
		if len(returnDataBytes) > 0 {
			errorMessage = "transaction reverted: " + revertReason
		}
	}
	return &revertReason, &errorMessage
}

func padHexData(hexString string) string {
	hexString = strings.TrimPrefix(hexString, "0x")
	if len(hexString)%2 == 1 {
		hexString = "0" + hexString
	}

	return hexString
}
