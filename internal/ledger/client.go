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
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/hyperledger/firefly-common/pkg/wsclient"
	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/rpcbackend"
	"github.com/kaleido-io/tokengate/internal/confutil"
	"github.com/kaleido-io/tokengate/internal/keymgr"
	"github.com/kaleido-io/tokengate/internal/msgs"
	"github.com/kaleido-io/tokengate/internal/retry"
	"github.com/kaleido-io/tokengate/internal/rpcclient"
	"golang.org/x/crypto/sha3"
)

// Client is the connection to the base Ethereum ledger for the coordinator.
// Submission, receipt polling and event decoding all go through here.
type Client interface {
	Close()
	ChainID() int64
	CallContract(ctx context.Context, from *ethtypes.Address0xHex, tx *ethsigner.Transaction, block string) (data ethtypes.HexBytes0xPrefix, err error)
	SignAndSend(ctx context.Context, txVersion EthTXVersion, tx *ethsigner.Transaction) (txHash ethtypes.HexBytes0xPrefix, err error)
	GasPrice(ctx context.Context) (*ethtypes.HexInteger, error)
	GetTransactionCount(ctx context.Context, fromAddr ethtypes.Address0xHex) (*ethtypes.HexUint64, error)
	GetTransactionReceipt(ctx context.Context, txHash ethtypes.HexBytes0xPrefix) (*Receipt, error)
	WaitForReceipt(ctx context.Context, txHash ethtypes.HexBytes0xPrefix) (*Receipt, error)
	ABI(ctx context.Context, a abi.ABI) (ABIClient, error)
	ABIJSON(ctx context.Context, abiJson []byte) (ABIClient, error)
	Signer() *keymgr.AdminSigner
}

type ledgerClient struct {
	chainID           int64
	gasEstimateFactor float64
	fixedGasPrice     *ethtypes.HexInteger
	rpc               rpcbackend.RPC
	signer            *keymgr.AdminSigner

	// One in-flight signed submission at a time, so the fresh nonce read
	// cannot be duplicated between two goroutines
	nonceLock sync.Mutex

	receiptRetry        *retry.Retry
	confirmationTimeout time.Duration
}

func NewClient(ctx context.Context, signer *keymgr.AdminSigner, conf *Config) (_ Client, err error) {
	var rpc rpcbackend.RPC
	if conf.HTTP.URL != "" {
		// Use HTTP by preference (provides parallelism on performance)
		rpcConf, err := rpcclient.ParseHTTPConfig(ctx, &conf.HTTP)
		if err != nil {
			return nil, err
		}
		rpc = rpcbackend.NewRPCClient(rpcConf)
	} else if conf.WS.URL != "" {
		// Otherwise use WS
		var wsRPC rpcbackend.WebSocketRPCClient
		var wsConf *wsclient.WSConfig
		wsConf, err = rpcclient.ParseWSConfig(ctx, &conf.WS)
		if err == nil {
			wsRPC = rpcbackend.NewWSRPCClient(wsConf)
			err = wsRPC.Connect(ctx)
		}
		if err != nil {
			return nil, err
		}
		rpc = wsRPC
	} else {
		return nil, i18n.NewError(ctx, msgs.MsgLedgerMissingURL)
	}
	return WrapRPCClient(ctx, signer, rpc, conf)
}

func WrapRPCClient(ctx context.Context, signer *keymgr.AdminSigner, rpc rpcbackend.RPC, conf *Config) (Client, error) {
	ec := &ledgerClient{
		signer:              signer,
		rpc:                 rpc,
		gasEstimateFactor:   confutil.Float64Min(conf.GasEstimateFactor, 1.0, *Defaults.GasEstimateFactor),
		receiptRetry:        retry.NewRetryIndefinite(&conf.ReceiptPolling),
		confirmationTimeout: confutil.DurationMin(conf.ConfirmationTimeout, 1*time.Second, confutil.Duration(Defaults.ConfirmationTimeout, 2*time.Minute)),
	}
	if conf.GasPrice != nil {
		ec.fixedGasPrice = ethtypes.NewHexInteger64(*conf.GasPrice)
	}
	if err := ec.setupChainID(ctx); err != nil {
		return nil, err
	}
	return ec, nil
}

func (ec *ledgerClient) Close() {
	wsRPC, isWS := ec.rpc.(rpcbackend.WebSocketRPCClient)
	if isWS {
		wsRPC.Close()
	}
}

func (ec *ledgerClient) ChainID() int64 {
	return ec.chainID
}

func (ec *ledgerClient) Signer() *keymgr.AdminSigner {
	return ec.signer
}

func (ec *ledgerClient) setupChainID(ctx context.Context) error {
	var chainID ethtypes.HexUint64
	if rpcErr := ec.rpc.CallRPC(ctx, &chainID, "eth_chainId"); rpcErr != nil {
		log.L(ctx).Errorf("eth_chainId failed: %+v", rpcErr)
		return i18n.WrapError(ctx, rpcErr.Error(), msgs.MsgLedgerChainIDFailed)
	}
	ec.chainID = int64(chainID.Uint64())
	return nil
}

func (ec *ledgerClient) CallContract(ctx context.Context, from *ethtypes.Address0xHex, tx *ethsigner.Transaction, block string) (data ethtypes.HexBytes0xPrefix, err error) {

	if from != nil {
		tx.From = json.RawMessage(fmt.Sprintf(`"%s"`, from))
	}

	if rpcErr := ec.rpc.CallRPC(ctx, &data, "eth_call", tx, block); rpcErr != nil {
		log.L(ctx).Errorf("eth_call failed: %+v", rpcErr)
		return nil, rpcErr.Error()
	}

	return data, err

}

func (ec *ledgerClient) GasPrice(ctx context.Context) (*ethtypes.HexInteger, error) {
	if ec.fixedGasPrice != nil {
		return ec.fixedGasPrice, nil
	}
	// currently only support London style gas price
	var gasPrice ethtypes.HexInteger
	if rpcErr := ec.rpc.CallRPC(ctx, &gasPrice, "eth_gasPrice"); rpcErr != nil {
		log.L(ctx).Errorf("eth_gasPrice failed: %+v", rpcErr)
		return nil, rpcErr.Error()
	}
	return &gasPrice, nil
}

func (ec *ledgerClient) GetTransactionCount(ctx context.Context, fromAddr ethtypes.Address0xHex) (*ethtypes.HexUint64, error) {
	var transactionCount ethtypes.HexUint64
	if rpcErr := ec.rpc.CallRPC(ctx, &transactionCount, "eth_getTransactionCount", fromAddr, "latest"); rpcErr != nil {
		log.L(ctx).Errorf("eth_getTransactionCount(%s) failed: %+v", fromAddr, rpcErr)
		return nil, i18n.WrapError(ctx, rpcErr.Error(), msgs.MsgLedgerNonceFailed, fromAddr)
	}
	return &transactionCount, nil
}

// SignAndSend submits a transaction from the admin signing address.
//
// In node signing mode the unsigned transaction goes to the node's own wallet
// with eth_sendTransaction. In local mode the nonce is read fresh from the
// node and the signed transaction submitted, all under the nonce lock, so
// concurrent submissions are serialized rather than racing for a nonce.
func (ec *ledgerClient) SignAndSend(ctx context.Context, txVersion EthTXVersion, tx *ethsigner.Transaction) (ethtypes.HexBytes0xPrefix, error) {

	fromAddr := ec.signer.Address()
	tx.From = json.RawMessage(fmt.Sprintf(`"%s"`, &fromAddr))

	if ec.signer.Type() == keymgr.SignerTypeNode {
		var txHash ethtypes.HexBytes0xPrefix
		if rpcErr := ec.rpc.CallRPC(ctx, &txHash, "eth_sendTransaction", tx); rpcErr != nil {
			log.L(ctx).Errorf("eth_sendTransaction failed: %+v", rpcErr)
			return nil, rpcErr.Error()
		}
		return txHash, nil
	}

	ec.nonceLock.Lock()
	defer ec.nonceLock.Unlock()

	rawTX, err := ec.buildRawTransaction(ctx, txVersion, fromAddr, tx)
	if err != nil {
		return nil, err
	}
	return ec.sendRawTransaction(ctx, rawTX)
}

func (ec *ledgerClient) buildRawTransaction(ctx context.Context, txVersion EthTXVersion, fromAddr ethtypes.Address0xHex, tx *ethsigner.Transaction) (ethtypes.HexBytes0xPrefix, error) {

	// The nonce is always read fresh from the node mempool for each signed TX
	nonce, err := ec.GetTransactionCount(ctx, fromAddr)
	if err != nil {
		return nil, err
	}
	tx.Nonce = ethtypes.NewHexInteger64(int64(nonce.Uint64()))

	if tx.GasLimit == nil {
		// Estimate gas before submission
		var gasEstimate ethtypes.HexInteger
		if rpcErr := ec.rpc.CallRPC(ctx, &gasEstimate, "eth_estimateGas", tx); rpcErr != nil {
			log.L(ctx).Errorf("eth_estimateGas failed: %+v", rpcErr)
			return nil, rpcErr.Error()
		}
		// If that went well, do submission with a bump on the estimation
		gasLimitFactored := new(big.Float).SetInt(gasEstimate.BigInt())
		gasLimitFactored = gasLimitFactored.Mul(gasLimitFactored, big.NewFloat(ec.gasEstimateFactor))
		gasLimit, _ := gasLimitFactored.Int(nil)
		tx.GasLimit = ethtypes.NewHexInteger(gasLimit)
	}

	if tx.GasPrice == nil && (txVersion == LEGACY_EIP155 || txVersion == LEGACY_ORIGINAL) {
		gasPrice, err := ec.GasPrice(ctx)
		if err != nil {
			return nil, err
		}
		tx.GasPrice = gasPrice
	}

	// Sign
	var sigPayload *ethsigner.TransactionSignaturePayload
	switch txVersion {
	case EIP1559:
		sigPayload = tx.SignaturePayloadEIP1559(ec.chainID)
	case LEGACY_EIP155:
		sigPayload = tx.SignaturePayloadLegacyEIP155(ec.chainID)
	case LEGACY_ORIGINAL:
		sigPayload = tx.SignaturePayloadLegacyOriginal()
	default:
		return nil, i18n.NewError(ctx, msgs.MsgLedgerUnsupportedVersion, txVersion)
	}
	hash := sha3.NewLegacyKeccak256()
	_, _ = hash.Write(sigPayload.Bytes())
	sig, err := ec.signer.Sign(ctx, hash.Sum(nil))
	var rawTX []byte
	if err == nil {
		switch txVersion {
		case EIP1559:
			rawTX, err = tx.FinalizeEIP1559WithSignature(sigPayload, sig)
		case LEGACY_EIP155:
			rawTX, err = tx.FinalizeLegacyEIP155WithSignature(sigPayload, sig, ec.chainID)
		case LEGACY_ORIGINAL:
			rawTX, err = tx.FinalizeLegacyOriginalWithSignature(sigPayload, sig)
		}
	}
	if err != nil {
		log.L(ctx).Errorf("signing failed (addr=%s): %s", &fromAddr, err)
		return nil, err
	}
	return rawTX, nil
}

func (ec *ledgerClient) sendRawTransaction(ctx context.Context, rawTX ethtypes.HexBytes0xPrefix) (ethtypes.HexBytes0xPrefix, error) {
	var txHash ethtypes.HexBytes0xPrefix
	if rpcErr := ec.rpc.CallRPC(ctx, &txHash, "eth_sendRawTransaction", rawTX); rpcErr != nil {
		addr, decodedTX, err := ethsigner.RecoverRawTransaction(ctx, rawTX, ec.chainID)
		if err != nil {
			log.L(ctx).Errorf("Invalid transaction build during signing: %s", err)
		} else {
			log.L(ctx).Errorf("Rejected TX (from=%s): %+v", addr, logJSON(decodedTX.Transaction))
		}
		return nil, rpcErr.Error()
	}
	return txHash, nil
}

func logJSON(v interface{}) string {
	ret := ""
	b, _ := json.Marshal(v)
	if len(b) > 0 {
		ret = (string)(b)
	}
	return ret
}
