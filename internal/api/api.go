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
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/hyperledger/firefly-common/pkg/fftypes"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/kaleido-io/tokengate/internal/coordinator"
	"github.com/kaleido-io/tokengate/internal/ledger"
	"github.com/kaleido-io/tokengate/internal/metrics"
	"github.com/kaleido-io/tokengate/internal/msgs"
)

// Routes binds the coordinator operations to the REST surface:
//
//	POST /api/v1/requests        queue an access request
//	GET  /api/v1/requests        list pending requests
//	POST /api/v1/grants          issue a token on-chain (purges matching requests)
//	POST /api/v1/revocations     revoke a token on-chain
//	GET  /api/v1/tokens/{tokenId} check validity of one token
//	POST /api/v1/tokens/status   batch status view (validity + remaining time)
//	GET  /metrics                prometheus scrape endpoint
type routes struct {
	co *coordinator.Coordinator
}

func NewRouter(co *coordinator.Coordinator) *mux.Router {
	h := &routes{co: co}
	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/requests", h.postRequest).Methods(http.MethodPost)
	v1.HandleFunc("/requests", h.getRequests).Methods(http.MethodGet)
	v1.HandleFunc("/grants", h.postGrant).Methods(http.MethodPost)
	v1.HandleFunc("/revocations", h.postRevocation).Methods(http.MethodPost)
	v1.HandleFunc("/tokens/status", h.postTokenStatuses).Methods(http.MethodPost)
	v1.HandleFunc("/tokens/{tokenId}", h.getToken).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

type accessRequestInput struct {
	UserAddress string `json:"userAddress"`
	Resource    string `json:"resource"`
	Duration    uint64 `json:"duration"` // seconds
}

type revocationInput struct {
	TokenID *fftypes.FFBigInt `json:"tokenId"`
}

type tokenStatusInput struct {
	TokenIDs []*fftypes.FFBigInt `json:"tokenIds"`
}

type tokenValidity struct {
	TokenID *fftypes.FFBigInt `json:"tokenId"`
	Valid   bool              `json:"valid"`
}

type errorResponse struct {
	Error  string             `json:"error"`
	Reason ledger.ErrorReason `json:"reason,omitempty"`
}

func (h *routes) postRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var input accessRequestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(ctx, w, i18n.WrapError(ctx, err, msgs.MsgAPIInvalidJSON))
		return
	}
	req, err := h.co.RequestAccess(ctx, input.UserAddress, input.Resource, input.Duration)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, req)
}

func (h *routes) getRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(ctx, w, http.StatusOK, h.co.ListRequests(ctx))
}

func (h *routes) postGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var input accessRequestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(ctx, w, i18n.WrapError(ctx, err, msgs.MsgAPIInvalidJSON))
		return
	}
	result, err := h.co.GrantAccess(ctx, input.UserAddress, input.Resource, input.Duration)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, result)
}

func (h *routes) postRevocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var input revocationInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(ctx, w, i18n.WrapError(ctx, err, msgs.MsgAPIInvalidJSON))
		return
	}
	if input.TokenID == nil {
		writeError(ctx, w, i18n.NewError(ctx, msgs.MsgAPIMissingField, "tokenId"))
		return
	}
	result, err := h.co.RevokeAccess(ctx, input.TokenID.Int())
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, result)
}

func (h *routes) getToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idStr := mux.Vars(r)["tokenId"]
	tokenID, ok := new(big.Int).SetString(idStr, 10)
	if !ok {
		writeError(ctx, w, i18n.NewError(ctx, msgs.MsgAPIInvalidTokenID, idStr))
		return
	}
	valid, err := h.co.CheckAccess(ctx, tokenID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, &tokenValidity{
		TokenID: (*fftypes.FFBigInt)(tokenID),
		Valid:   valid,
	})
}

func (h *routes) postTokenStatuses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var input tokenStatusInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(ctx, w, i18n.WrapError(ctx, err, msgs.MsgAPIInvalidJSON))
		return
	}
	if input.TokenIDs == nil {
		writeError(ctx, w, i18n.NewError(ctx, msgs.MsgAPIMissingField, "tokenIds"))
		return
	}
	tokenIDs := make([]*big.Int, len(input.TokenIDs))
	for i, id := range input.TokenIDs {
		tokenIDs[i] = id.Int()
	}
	writeJSON(ctx, w, http.StatusOK, h.co.GetTokenStatuses(ctx, tokenIDs))
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.L(ctx).Errorf("Failed to write response: %s", err)
	}
}

// writeError maps the classified reason to an HTTP status, so integrations
// get a stable contract regardless of message wording
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	reason := ledger.MapError(err)
	status := http.StatusInternalServerError
	switch reason {
	case ledger.ErrorReasonConfirmationTimeout:
		status = http.StatusGatewayTimeout
	case ledger.ErrorReasonAlreadyInvalid,
		ledger.ErrorReasonLedgerRejected,
		ledger.ErrorReasonInvalidInputs:
		status = http.StatusBadRequest
	default:
		errString := strings.ToLower(err.Error())
		if strings.Contains(errString, "tg010800") ||
			strings.Contains(errString, "tg010801") ||
			strings.Contains(errString, "tg010802") {
			status = http.StatusBadRequest
		}
	}
	log.L(ctx).Errorf("<-- [%d] %s", status, err)
	writeJSON(ctx, w, status, &errorResponse{
		Error:  err.Error(),
		Reason: reason,
	})
}
