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
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/kaleido-io/tokengate/internal/confutil"
	"github.com/kaleido-io/tokengate/internal/keymgr"
	"github.com/kaleido-io/tokengate/internal/rpcclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEth is a fake JSON/RPC node - each field that is non-nil becomes a
// served method
type mockEth struct {
	eth_chainId               func(context.Context) (ethtypes.HexUint64, error)
	eth_getTransactionCount   func(context.Context, ethtypes.Address0xHex, string) (ethtypes.HexUint64, error)
	eth_estimateGas           func(context.Context, ethsigner.Transaction) (ethtypes.HexInteger, error)
	eth_gasPrice              func(context.Context) (ethtypes.HexInteger, error)
	eth_call                  func(context.Context, ethsigner.Transaction, string) (ethtypes.HexBytes0xPrefix, error)
	eth_sendRawTransaction    func(context.Context, ethtypes.HexBytes0xPrefix) (ethtypes.HexBytes0xPrefix, error)
	eth_sendTransaction       func(context.Context, ethsigner.Transaction) (ethtypes.HexBytes0xPrefix, error)
	eth_getTransactionReceipt func(context.Context, ethtypes.HexBytes0xPrefix) (*txReceiptJSONRPC, error)
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func param[T any](t *testing.T, req *rpcRequest, i int) T {
	var v T
	require.Greater(t, len(req.Params), i)
	require.NoError(t, json.Unmarshal(req.Params[i], &v))
	return v
}

func (m *mockEth) dispatch(t *testing.T, ctx context.Context, req *rpcRequest) (any, error) {
	switch req.Method {
	case "eth_chainId":
		return m.eth_chainId(ctx)
	case "eth_getTransactionCount":
		return m.eth_getTransactionCount(ctx, param[ethtypes.Address0xHex](t, req, 0), param[string](t, req, 1))
	case "eth_estimateGas":
		return m.eth_estimateGas(ctx, param[ethsigner.Transaction](t, req, 0))
	case "eth_gasPrice":
		return m.eth_gasPrice(ctx)
	case "eth_call":
		return m.eth_call(ctx, param[ethsigner.Transaction](t, req, 0), param[string](t, req, 1))
	case "eth_sendRawTransaction":
		return m.eth_sendRawTransaction(ctx, param[ethtypes.HexBytes0xPrefix](t, req, 0))
	case "eth_sendTransaction":
		return m.eth_sendTransaction(ctx, param[ethsigner.Transaction](t, req, 0))
	case "eth_getTransactionReceipt":
		return m.eth_getTransactionReceipt(ctx, param[ethtypes.HexBytes0xPrefix](t, req, 0))
	default:
		return nil, fmt.Errorf("method %s not supported", req.Method)
	}
}

func newTestRPCServer(t *testing.T, mEth *mockEth) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)

		res := &rpcResponse{JSONRPC: "2.0", ID: req.ID}
		result, err := mEth.dispatch(t, r.Context(), &req)
		status := http.StatusOK
		if err != nil {
			res.Error = &rpcError{Code: -32000, Message: err.Error()}
			status = http.StatusInternalServerError
		} else {
			res.Result, err = json.Marshal(result)
			require.NoError(t, err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(res)
	}))
}

func writeTestFile(t *testing.T, path, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func randHexKey(t *testing.T) string {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(key)
}

func newTestSigner(t *testing.T) *keymgr.AdminSigner {
	signer, err := keymgr.NewAdminSigner(context.Background(), &keymgr.Config{
		Key: confutil.P(randHexKey(t)),
	})
	require.NoError(t, err)
	return signer
}

func newTestClientAndServer(t *testing.T, mEth *mockEth, confMod ...func(*Config)) (ctx context.Context, ec *ledgerClient, done func()) {
	ctx = context.Background()
	if mEth.eth_chainId == nil {
		mEth.eth_chainId = func(ctx context.Context) (ethtypes.HexUint64, error) {
			return 12345, nil
		}
	}
	server := newTestRPCServer(t, mEth)

	conf := &Config{
		HTTP: rpcclient.HTTPConfig{URL: server.URL},
	}
	for _, mod := range confMod {
		mod(conf)
	}
	iec, err := NewClient(ctx, newTestSigner(t), conf)
	assert.NoError(t, err)
	ec = iec.(*ledgerClient)

	return ctx, ec, func() {
		ec.Close()
		server.Close()
	}
}
