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
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/kaleido-io/tokengate/internal/confutil"
	"github.com/kaleido-io/tokengate/internal/keymgr"
	"github.com/kaleido-io/tokengate/internal/ledger"
	"github.com/kaleido-io/tokengate/internal/requests"
	"github.com/kaleido-io/tokengate/internal/retry"
	"github.com/kaleido-io/tokengate/internal/rpcclient"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

const (
	testChainID      = int64(12345)
	testContractAddr = "0xCC3b61E636B395a4821Df122d652820361FF26f1"
	testEventExpiry  = "1767225600"
)

var testContractABIJSON = []byte(`[
	{"name":"issueToken","type":"function","inputs":[{"name":"user","type":"address"},{"name":"resource","type":"string"},{"name":"duration","type":"uint256"}],"outputs":[]},
	{"name":"revokeToken","type":"function","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"name":"isTokenValid","type":"function","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"valid","type":"bool"}]},
	{"name":"getTokenExpiry","type":"function","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"expiry","type":"uint256"}]},
	{"name":"admin","type":"function","inputs":[],"outputs":[{"name":"admin","type":"address"}]},
	{"name":"TokenIssued","type":"event","inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"resource","type":"string"},{"name":"expiry","type":"uint256"}]}
]`)

// fakeNode is a scripted Ethereum JSON/RPC endpoint: it recovers signed
// transactions, matches call data against the contract ABI, and serves
// receipts with (or without) the issuance event per the test script
type fakeNode struct {
	t   *testing.T
	abi abi.ABI

	lock      sync.Mutex
	nextToken int64
	sends     int
	validity  map[string]bool
	failCalls map[string]bool

	revertIssueWith  string
	revertRevokeWith string
	dropIssueEvent   bool
	neverMine        bool

	pending map[string]*pendingTx
}

type pendingTx struct {
	method   string
	tokenID  int64
	user     *ethtypes.Address0xHex
	resource string
}

func newFakeNode(t *testing.T) *fakeNode {
	var a abi.ABI
	require.NoError(t, json.Unmarshal(testContractABIJSON, &a))
	return &fakeNode{
		t:         t,
		abi:       a,
		nextToken: 1,
		validity:  map[string]bool{},
		failCalls: map[string]bool{},
		pending:   map[string]*pendingTx{},
	}
}

type jsonRPCRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req jsonRPCRequest
	require.NoError(n.t, json.NewDecoder(r.Body).Decode(&req))

	n.lock.Lock()
	result, err := n.handle(&req)
	n.lock.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32000, "message": err.Error()},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0", "id": req.ID, "result": result,
	})
}

func (n *fakeNode) handle(req *jsonRPCRequest) (any, error) {
	switch req.Method {
	case "eth_chainId":
		return fmt.Sprintf("0x%x", testChainID), nil
	case "eth_getTransactionCount":
		return "0x1", nil
	case "eth_estimateGas":
		return "0x186a0", nil
	case "eth_gasPrice":
		return "0x3b9aca00", nil
	case "eth_call":
		var tx ethsigner.Transaction
		require.NoError(n.t, json.Unmarshal(req.Params[0], &tx))
		return n.handleCall(&tx)
	case "eth_sendRawTransaction":
		var rawTX ethtypes.HexBytes0xPrefix
		require.NoError(n.t, json.Unmarshal(req.Params[0], &rawTX))
		return n.handleSendRaw(rawTX)
	case "eth_getTransactionReceipt":
		var txHash ethtypes.HexBytes0xPrefix
		require.NoError(n.t, json.Unmarshal(req.Params[0], &txHash))
		return n.handleReceipt(txHash)
	default:
		return nil, fmt.Errorf("method %s not supported", req.Method)
	}
}

func (n *fakeNode) fn(name string) *abi.Entry {
	fn := n.abi.Functions()[name]
	require.NotNil(n.t, fn)
	return fn
}

func (n *fakeNode) decodeArg0(fn *abi.Entry, data ethtypes.HexBytes0xPrefix) string {
	cv, err := fn.DecodeCallData(data)
	require.NoError(n.t, err)
	return cv.Children[0].Value.(*big.Int).String()
}

func (n *fakeNode) encodeOutputs(fn *abi.Entry, jsonStr string) (string, error) {
	data, err := fn.Outputs.EncodeABIDataJSON([]byte(jsonStr))
	require.NoError(n.t, err)
	return "0x" + hex.EncodeToString(data), nil
}

func (n *fakeNode) handleCall(tx *ethsigner.Transaction) (any, error) {
	selector := []byte(tx.Data[0:4])
	switch {
	case bytes.Equal(selector, n.fn("isTokenValid").FunctionSelectorBytes()):
		tokenID := n.decodeArg0(n.fn("isTokenValid"), tx.Data)
		if n.failCalls[tokenID] {
			return nil, fmt.Errorf("execution reverted")
		}
		return n.encodeOutputs(n.fn("isTokenValid"), fmt.Sprintf(`{"valid": %t}`, n.validity[tokenID]))
	case bytes.Equal(selector, n.fn("getTokenExpiry").FunctionSelectorBytes()):
		return n.encodeOutputs(n.fn("getTokenExpiry"), fmt.Sprintf(`{"expiry": "%s"}`, testEventExpiry))
	case bytes.Equal(selector, n.fn("admin").FunctionSelectorBytes()):
		return n.encodeOutputs(n.fn("admin"), `{"admin": "0xfd33700f0511abb60ff31a8a533854db90b0a32a"}`)
	default:
		return nil, fmt.Errorf("unexpected call selector %x", selector)
	}
}

func (n *fakeNode) handleSendRaw(rawTX ethtypes.HexBytes0xPrefix) (any, error) {
	_, tx, err := ethsigner.RecoverRawTransaction(context.Background(), rawTX, testChainID)
	require.NoError(n.t, err)

	hash := sha3.NewLegacyKeccak256()
	_, _ = hash.Write(rawTX)
	txHash := "0x" + hex.EncodeToString(hash.Sum(nil))

	selector := []byte(tx.Data[0:4])
	p := &pendingTx{}
	switch {
	case bytes.Equal(selector, n.fn("issueToken").FunctionSelectorBytes()):
		cv, err := n.fn("issueToken").DecodeCallData(tx.Data)
		require.NoError(n.t, err)
		p.method = "issueToken"
		addr := cv.Children[0].Value.(*big.Int).Bytes()
		user := &ethtypes.Address0xHex{}
		copy(user[20-len(addr):], addr)
		p.user = user
		p.resource = cv.Children[1].Value.(string)
		p.tokenID = n.nextToken
		n.nextToken++
	case bytes.Equal(selector, n.fn("revokeToken").FunctionSelectorBytes()):
		p.method = "revokeToken"
		tokenID, ok := new(big.Int).SetString(n.decodeArg0(n.fn("revokeToken"), tx.Data), 10)
		require.True(n.t, ok)
		p.tokenID = tokenID.Int64()
	default:
		return nil, fmt.Errorf("unexpected send selector %x", selector)
	}

	n.sends++
	n.pending[txHash] = p
	return txHash, nil
}

func (n *fakeNode) handleReceipt(txHash ethtypes.HexBytes0xPrefix) (any, error) {
	if n.neverMine {
		return nil, nil
	}
	p := n.pending[txHash.String()]
	require.NotNil(n.t, p)

	receipt := map[string]any{
		"transactionHash": txHash.String(),
		"blockNumber":     "0x3e8",
		"blockHash":       "0xaabbcc",
		"status":          "0x1",
		"logs":            []any{},
	}

	revertWith := ""
	if p.method == "issueToken" && n.revertIssueWith != "" {
		revertWith = n.revertIssueWith
	}
	if p.method == "revokeToken" && n.revertRevokeWith != "" {
		revertWith = n.revertRevokeWith
	}
	if revertWith != "" {
		receipt["status"] = "0x0"
		receipt["revertReason"] = n.encodeRevert(revertWith)
		return receipt, nil
	}

	if p.method == "issueToken" && !n.dropIssueEvent {
		receipt["logs"] = []any{n.tokenIssuedLog(p)}
	}
	return receipt, nil
}

func (n *fakeNode) tokenIssuedLog(p *pendingTx) map[string]any {
	ev := n.abi.Events()["TokenIssued"]
	require.NotNil(n.t, ev)
	sigHash, err := ev.SignatureHash()
	require.NoError(n.t, err)

	tokenTopic := make([]byte, 32)
	big.NewInt(p.tokenID).FillBytes(tokenTopic)
	userTopic := make([]byte, 32)
	copy(userTopic[12:], p.user[:])

	nonIndexed := abi.ParameterArray{
		{Name: "resource", Type: "string"},
		{Name: "expiry", Type: "uint256"},
	}
	data, err := nonIndexed.EncodeABIDataJSON([]byte(fmt.Sprintf(`{"resource": %q, "expiry": "%s"}`, p.resource, testEventExpiry)))
	require.NoError(n.t, err)

	return map[string]any{
		"logIndex": "0x0",
		"address":  testContractAddr,
		"topics": []string{
			"0x" + hex.EncodeToString(sigHash),
			"0x" + hex.EncodeToString(tokenTopic),
			"0x" + hex.EncodeToString(userTopic),
		},
		"data": "0x" + hex.EncodeToString(data),
	}
}

func (n *fakeNode) encodeRevert(message string) string {
	errEntry := &abi.Entry{Type: abi.Error, Name: "Error", Inputs: abi.ParameterArray{{Type: "string"}}}
	inputs, err := errEntry.Inputs.TypeComponentTreeCtx(context.Background())
	require.NoError(n.t, err)
	cv, err := inputs.ParseExternalCtx(context.Background(), []interface{}{message})
	require.NoError(n.t, err)
	data, err := cv.EncodeABIDataCtx(context.Background())
	require.NoError(n.t, err)
	return "0x" + hex.EncodeToString(append(errEntry.FunctionSelectorBytes(), data...))
}

func newTestCoordinator(t *testing.T, node *fakeNode) (ctx context.Context, co *Coordinator, done func()) {
	ctx = context.Background()
	server := httptest.NewServer(node)

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	signer, err := keymgr.NewAdminSigner(ctx, &keymgr.Config{
		Key: confutil.P("0x" + hex.EncodeToString(key)),
	})
	require.NoError(t, err)

	conf := &ledger.Config{
		HTTP:                rpcclient.HTTPConfig{URL: server.URL},
		ContractAddress:     confutil.P(testContractAddr),
		ConfirmationTimeout: confutil.P("1s"),
		ReceiptPolling:      retry.Config{InitialDelay: confutil.P("1ms"), MaxDelay: confutil.P("10ms")},
	}
	client, err := ledger.NewClient(ctx, signer, conf)
	require.NoError(t, err)
	contract, err := ledger.NewContract(ctx, client, conf)
	require.NoError(t, err)

	co = NewCoordinator(contract, requests.NewQueue())
	return ctx, co, func() {
		client.Close()
		server.Close()
	}
}
