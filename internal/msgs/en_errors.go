// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package msgs

import (
	"fmt"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

const tokengatePrefix = "TG01"

var registered = false
var ffe = func(key, translation string, statusHint ...int) i18n.ErrorMessageKey {
	if !registered {
		i18n.RegisterPrefix(tokengatePrefix, "Tokengate Access Coordinator")
		registered = true
	}
	if !strings.HasPrefix(key, tokengatePrefix) {
		panic(fmt.Errorf("must have prefix '%s': %s", tokengatePrefix, key))
	}
	return i18n.FFE(language.AmericanEnglish, key, translation, statusHint...)
}

var (

	// Config TG0100XX
	MsgConfigFileReadError  = ffe("TG010000", "Failed to read config file %s")
	MsgConfigFileParseError = ffe("TG010001", "Failed to parse config file %s")
	MsgConfigMissingField   = ffe("TG010002", "Missing required configuration '%s'")
	MsgContextCanceled      = ffe("TG010003", "Context canceled")
	MsgConfigFileMissing    = ffe("TG010004", "Config file not found at %s")

	// Access requests TG0101XX
	MsgRequestInvalidAddress  = ffe("TG010100", "Invalid Ethereum address '%s'", 400)
	MsgRequestInvalidResource = ffe("TG010101", "Resource must be a non-empty string", 400)
	MsgRequestInvalidDuration = ffe("TG010102", "Duration must be a positive number of seconds", 400)

	// Signing TG0102XX
	MsgSignerNoKeyConfigured  = ffe("TG010200", "No signing key configured (set signer.key or signer.keyStoreFile)")
	MsgSignerInvalidKey       = ffe("TG010201", "Invalid signing key")
	MsgSignerKeystoreFailed   = ffe("TG010202", "Failed to load keystore file %s")
	MsgSignerAccountMissing   = ffe("TG010203", "signer.account must be set when signer.type is '%s'")
	MsgSignerUnknownType      = ffe("TG010204", "Unknown signer type '%s'")
	MsgSignerSignFailed       = ffe("TG010205", "Failed to sign transaction")
	MsgSignerPassphraseFailed = ffe("TG010206", "Failed to read keystore passphrase file %s")

	// Ledger connectivity and ABI TG0105XX
	MsgLedgerMissingURL          = ffe("TG010500", "Missing URL for JSON-RPC connection to the ledger")
	MsgLedgerInvalidContractAddr = ffe("TG010501", "Invalid contract address '%s'")
	MsgLedgerABIInvalid          = ffe("TG010502", "Contract ABI failed validation")
	MsgLedgerFunctionNotFound    = ffe("TG010503", "Function '%s' not found in contract ABI")
	MsgLedgerEventNotInABI       = ffe("TG010504", "Event '%s' not found in contract ABI")
	MsgLedgerEncodeFailed        = ffe("TG010505", "Failed to encode inputs for '%s'")
	MsgLedgerDecodeFailed        = ffe("TG010506", "Failed to decode outputs from '%s'")
	MsgLedgerUnsupportedVersion  = ffe("TG010507", "Unsupported transaction version '%s'")
	MsgLedgerChainIDFailed       = ffe("TG010508", "Failed to query the chain ID from the ledger")
	MsgRPCClientInvalidHTTPURL   = ffe("TG010509", "Invalid HTTP URL for JSON/RPC connection: %s")
	MsgRPCClientInvalidWSURL     = ffe("TG010510", "Invalid WebSocket URL for JSON/RPC connection: %s")

	// Transaction lifecycle TG0106XX
	MsgLedgerCallFailed          = ffe("TG010600", "Call to '%s' failed")
	MsgLedgerSendFailed          = ffe("TG010601", "Transaction submission for '%s' failed")
	MsgLedgerNonceFailed         = ffe("TG010602", "Failed to fetch nonce for signing address %s")
	MsgLedgerConfirmationTimeout = ffe("TG010603", "Transaction %s was not confirmed within %s", 504)
	MsgLedgerTxReverted          = ffe("TG010604", "Transaction %s reverted: %s", 400)
	MsgLedgerGasEstimateFailed   = ffe("TG010605", "Gas estimation failed for '%s'")
	MsgLedgerReceiptFailed       = ffe("TG010606", "Failed to query receipt for transaction %s")

	// Token lifecycle TG0107XX
	MsgTokenIssuedEventNotFound = ffe("TG010700", "Transaction %s confirmed but no token issuance event was emitted by contract %s", 500)
	MsgTokenCheckFailed         = ffe("TG010701", "Failed to check validity of token %s")
	MsgTokenAlreadyInvalid      = ffe("TG010702", "Token %s is already expired or revoked", 400)
	MsgLedgerRejected           = ffe("TG010703", "The ledger rejected the transaction: %s", 400)
	MsgTokenExpiryFailed        = ffe("TG010704", "Failed to query expiry of token %s")

	// API TG0108XX
	MsgAPIInvalidJSON        = ffe("TG010800", "Invalid JSON request body", 400)
	MsgAPIInvalidTokenID     = ffe("TG010801", "Invalid token ID '%s'", 400)
	MsgAPIMissingField       = ffe("TG010802", "Missing required field '%s'", 400)
	MsgHTTPServerMissingPort = ffe("TG010803", "HTTP server port missing in configuration for %s")
	MsgHTTPServerStartFailed = ffe("TG010804", "Failed to start %s server listening on %s")
	MsgHTTPServerNoWSUpgrade = ffe("TG010805", "HTTP server does not support WebSocket upgrade (%T)")

	// TLS TG0109XX
	MsgTLSInvalidCAFile             = ffe("TG010900", "Invalid CA certificates file")
	MsgTLSInvalidKeyPairFiles       = ffe("TG010901", "Invalid certificate and key pair files")
	MsgTLSInvalidTLSDnMatcherAttr   = ffe("TG010902", "Unknown DN attribute '%s'")
	MsgTLSInvalidTLSDnMatcherType   = ffe("TG010903", "Expected string value for '%s' field of requiredDNAttributes (found %T)")
	MsgTLSInvalidTLSDnMatcherRegexp = ffe("TG010904", "Invalid regexp '%s' for requiredDNAttributes[%s]: %s")
	MsgTLSInvalidTLSDnChain         = ffe("TG010905", "Cannot match subject distinguished name as cert chain is not verified")
	MsgTLSDnMatcherFailed           = ffe("TG010906", "Certificate subject does not meet requirements (%d attributes checked)")
)
