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
	"strings"
)

// ErrorReason is the set of machine-stable error classifications surfaced by
// the coordinator. Callers branch on the reason, never on message text, so
// message wording can change without breaking integrations.
type ErrorReason string

const (
	// ErrorReasonTransportError the JSON/RPC endpoint could not be reached, or the connection failed mid-exchange
	ErrorReasonTransportError ErrorReason = "transport_error"
	// ErrorReasonConfirmationTimeout the transaction was submitted, but no receipt appeared within the bounded wait
	ErrorReasonConfirmationTimeout ErrorReason = "confirmation_timeout"
	// ErrorReasonEventNotFound the transaction was mined but the expected event was absent from the receipt logs
	ErrorReasonEventNotFound ErrorReason = "event_not_found"
	// ErrorReasonAlreadyInvalid the pre-flight validity check showed the token is already expired or revoked
	ErrorReasonAlreadyInvalid ErrorReason = "already_invalid"
	// ErrorReasonLedgerRejected on-chain execution reverted the transaction
	ErrorReasonLedgerRejected ErrorReason = "ledger_rejected"
	// ErrorReasonInvalidInputs the inputs could not be validated or encoded (nothing was sent to the ledger)
	ErrorReasonInvalidInputs ErrorReason = "invalid_inputs"
	// ErrorReasonNonceTooLow on transaction submission, if the nonce has already been used on the canonical chain known to the local node
	ErrorReasonNonceTooLow ErrorReason = "nonce_too_low"
	// ErrorReasonInsufficientFunds the admin account does not hold enough of the network coin to submit
	ErrorReasonInsufficientFunds ErrorReason = "insufficient_funds"
	// ErrorReasonKnownTransaction the exact transaction is already known to the node
	ErrorReasonKnownTransaction ErrorReason = "known_transaction"
)

// MapError classifies an error by the stable message codes of this module,
// falling back to the well-known substrings Ethereum nodes use
func MapError(err error) ErrorReason {
	if err == nil {
		return ""
	}
	errString := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errString, "tg010603"):
		return ErrorReasonConfirmationTimeout
	case strings.Contains(errString, "tg010700"):
		return ErrorReasonEventNotFound
	case strings.Contains(errString, "tg010702"):
		return ErrorReasonAlreadyInvalid
	case strings.Contains(errString, "tg010604"),
		strings.Contains(errString, "tg010703"),
		strings.Contains(errString, "execution reverted"),
		strings.Contains(errString, "revert"):
		return ErrorReasonLedgerRejected
	case strings.Contains(errString, "tg010100"),
		strings.Contains(errString, "tg010101"),
		strings.Contains(errString, "tg010102"),
		strings.Contains(errString, "tg010505"),
		strings.Contains(errString, "invalid argument"):
		return ErrorReasonInvalidInputs
	case strings.Contains(errString, "nonce too low"):
		return ErrorReasonNonceTooLow
	case strings.Contains(errString, "insufficient funds"):
		return ErrorReasonInsufficientFunds
	case strings.Contains(errString, "known transaction"),
		strings.Contains(errString, "already known"):
		return ErrorReasonKnownTransaction
	case strings.Contains(errString, "connection refused"),
		strings.Contains(errString, "i/o timeout"),
		strings.Contains(errString, "dial tcp"),
		strings.Contains(errString, "eof"),
		strings.Contains(errString, "context deadline exceeded"),
		strings.Contains(errString, "tg010500"),
		strings.Contains(errString, "tg010508"),
		strings.Contains(errString, "tg010606"):
		return ErrorReasonTransportError
	default:
		// default to no mapping
		return ""
	}
}
