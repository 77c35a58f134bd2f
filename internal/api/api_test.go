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

package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/kaleido-io/tokengate/internal/confutil"
	"github.com/kaleido-io/tokengate/internal/coordinator"
	"github.com/kaleido-io/tokengate/internal/keymgr"
	"github.com/kaleido-io/tokengate/internal/ledger"
	"github.com/kaleido-io/tokengate/internal/metrics"
	"github.com/kaleido-io/tokengate/internal/requests"
	"github.com/kaleido-io/tokengate/internal/rpcclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var viewABIJSON = []byte(`[
	{"name":"isTokenValid","type":"function","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"valid","type":"bool"}]},
	{"name":"getTokenExpiry","type":"function","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"expiry","type":"uint256"}]}
]`)

// newTestAPIServer wires a real coordinator and router against a read-only
// fake node: validity comes from the supplied map, expiry is fixed
func newTestAPIServer(t *testing.T, validity map[string]bool) (*httptest.Server, func()) {
	ctx := context.Background()
	var viewABI abi.ABI
	require.NoError(t, json.Unmarshal(viewABIJSON, &viewABI))

	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result string
		switch req.Method {
		case "eth_chainId":
			result = "0x3039"
		case "eth_call":
			var tx ethsigner.Transaction
			require.NoError(t, json.Unmarshal(req.Params[0], &tx))
			selector := []byte(tx.Data[0:4])
			switch {
			case bytes.Equal(selector, viewABI.Functions()["isTokenValid"].FunctionSelectorBytes()):
				cv, err := viewABI.Functions()["isTokenValid"].DecodeCallData(tx.Data)
				require.NoError(t, err)
				tokenID := cv.Children[0].Value.(*big.Int).String()
				out, err := viewABI.Functions()["isTokenValid"].Outputs.EncodeABIDataJSON([]byte(fmt.Sprintf(`{"valid": %t}`, validity[tokenID])))
				require.NoError(t, err)
				result = "0x" + hex.EncodeToString(out)
			case bytes.Equal(selector, viewABI.Functions()["getTokenExpiry"].FunctionSelectorBytes()):
				out, err := viewABI.Functions()["getTokenExpiry"].Outputs.EncodeABIDataJSON([]byte(`{"expiry": "1767225600"}`))
				require.NoError(t, err)
				result = "0x" + hex.EncodeToString(out)
			default:
				t.Errorf("unexpected call selector %x", selector)
			}
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID, "result": result,
		})
	}))

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	signer, err := keymgr.NewAdminSigner(ctx, &keymgr.Config{
		Key: confutil.P("0x" + hex.EncodeToString(key)),
	})
	require.NoError(t, err)

	conf := &ledger.Config{
		HTTP:            rpcclient.HTTPConfig{URL: node.URL},
		ContractAddress: confutil.P("0xCC3b61E636B395a4821Df122d652820361FF26f1"),
	}
	client, err := ledger.NewClient(ctx, signer, conf)
	require.NoError(t, err)
	contract, err := ledger.NewContract(ctx, client, conf)
	require.NoError(t, err)

	co := coordinator.NewCoordinator(contract, requests.NewQueue())
	apiServer := httptest.NewServer(NewRouter(co))
	return apiServer, func() {
		apiServer.Close()
		client.Close()
		node.Close()
	}
}

func post(t *testing.T, url, body string) (int, string) {
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(resBody)
}

func get(t *testing.T, url string) (int, string) {
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(resBody)
}

func TestPostAndListRequests(t *testing.T) {
	s, done := newTestAPIServer(t, nil)
	defer done()

	status, body := post(t, s.URL+"/api/v1/requests", `{
		"userAddress": "0xFd33700f0511AbB60FF31A8A533854dB90B0a32A",
		"resource": "dashboard",
		"duration": 3600
	}`)
	assert.Equal(t, http.StatusCreated, status)
	assert.Contains(t, body, "dashboard")

	status, body = get(t, s.URL+"/api/v1/requests")
	assert.Equal(t, http.StatusOK, status)

	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "0xfd33700f0511abb60ff31a8a533854db90b0a32a", list[0]["userAddress"])
}

func TestPostRequestBadJSON(t *testing.T) {
	s, done := newTestAPIServer(t, nil)
	defer done()

	status, body := post(t, s.URL+"/api/v1/requests", `{!!!`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Regexp(t, "TG010800", body)
}

func TestPostRequestInvalidAddress(t *testing.T) {
	s, done := newTestAPIServer(t, nil)
	defer done()

	status, body := post(t, s.URL+"/api/v1/requests", `{
		"userAddress": "wrongness",
		"resource": "dashboard",
		"duration": 3600
	}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Regexp(t, "TG010100", body)
	assert.Regexp(t, `"reason":"invalid_inputs"`, body)
}

func TestPostGrantInvalidInputs(t *testing.T) {
	s, done := newTestAPIServer(t, nil)
	defer done()

	status, body := post(t, s.URL+"/api/v1/grants", `{
		"userAddress": "0xFd33700f0511AbB60FF31A8A533854dB90B0a32A",
		"resource": "",
		"duration": 3600
	}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Regexp(t, "TG010101", body)
}

func TestGetToken(t *testing.T) {
	s, done := newTestAPIServer(t, map[string]bool{"5": true})
	defer done()

	status, body := get(t, s.URL+"/api/v1/tokens/5")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"tokenId": "5", "valid": true}`, body)

	status, body = get(t, s.URL+"/api/v1/tokens/6")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"tokenId": "6", "valid": false}`, body)
}

func TestGetTokenBadID(t *testing.T) {
	s, done := newTestAPIServer(t, nil)
	defer done()

	status, body := get(t, s.URL+"/api/v1/tokens/not-a-number")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Regexp(t, "TG010801", body)
}

func TestPostTokenStatuses(t *testing.T) {
	s, done := newTestAPIServer(t, map[string]bool{"1": true, "2": false})
	defer done()

	status, body := post(t, s.URL+"/api/v1/tokens/status", `{"tokenIds": ["1", "2"]}`)
	assert.Equal(t, http.StatusOK, status)

	var statuses []map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "Valid", statuses[0]["status"])
	assert.Equal(t, "Invalid", statuses[1]["status"])
}

func TestPostTokenStatusesMissingField(t *testing.T) {
	s, done := newTestAPIServer(t, nil)
	defer done()

	status, body := post(t, s.URL+"/api/v1/tokens/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Regexp(t, "TG010802", body)
}

func TestPostRevocationAlreadyInvalid(t *testing.T) {
	s, done := newTestAPIServer(t, map[string]bool{"42": false})
	defer done()

	status, body := post(t, s.URL+"/api/v1/revocations", `{"tokenId": "42"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Regexp(t, "TG010702", body)
	assert.Regexp(t, `"reason":"already_invalid"`, body)
}

func TestPostRevocationMissingTokenID(t *testing.T) {
	s, done := newTestAPIServer(t, nil)
	defer done()

	status, body := post(t, s.URL+"/api/v1/revocations", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Regexp(t, "TG010802", body)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Init()
	s, done := newTestAPIServer(t, nil)
	defer done()

	status, body := get(t, s.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "tokengate_coordinator_queue_depth")
}
