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

package keymgr

import (
	"context"
	"os"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/keystorev3"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"github.com/kaleido-io/tokengate/internal/confutil"
	"github.com/kaleido-io/tokengate/internal/msgs"
)

type SignerType string

const (
	// SignerTypeLocal signs transactions in this process, submitting with eth_sendRawTransaction
	SignerTypeLocal SignerType = "local"
	// SignerTypeNode delegates signing to the node's own wallet via eth_sendTransaction
	SignerTypeNode SignerType = "node"
)

type Config struct {
	Type           *string `yaml:"type"`
	Account        *string `yaml:"account"`        // required for type: node
	Key            *string `yaml:"key"`            // inline hex private key (dev only)
	KeyFile        *string `yaml:"keyFile"`        // Ethereum keystore v3 file
	PassphraseFile *string `yaml:"passphraseFile"` // passphrase for the keystore file
}

var Defaults = &Config{
	Type: confutil.P(string(SignerTypeLocal)),
}

// AdminSigner holds the coordinator's administrative signing identity. In local
// mode it owns the secp256k1 key pair and produces signatures over pre-hashed
// payloads. In node mode it only knows the unlocked account address, and the
// ledger client submits via eth_sendTransaction instead.
type AdminSigner struct {
	signerType SignerType
	address    ethtypes.Address0xHex
	keypair    *secp256k1.KeyPair
}

func NewAdminSigner(ctx context.Context, conf *Config) (*AdminSigner, error) {
	signerType := SignerType(confutil.StringNotEmpty(conf.Type, *Defaults.Type))
	switch signerType {
	case SignerTypeNode:
		if conf.Account == nil || *conf.Account == "" {
			return nil, i18n.NewError(ctx, msgs.MsgSignerAccountMissing, signerType)
		}
		addr, err := ethtypes.NewAddress(*conf.Account)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgRequestInvalidAddress, *conf.Account)
		}
		return &AdminSigner{signerType: signerType, address: *addr}, nil
	case SignerTypeLocal:
		keypair, err := loadKeyPair(ctx, conf)
		if err != nil {
			return nil, err
		}
		log.L(ctx).Infof("Admin signer initialized (address=%s)", keypair.Address)
		return &AdminSigner{signerType: signerType, address: keypair.Address, keypair: keypair}, nil
	default:
		return nil, i18n.NewError(ctx, msgs.MsgSignerUnknownType, signerType)
	}
}

func loadKeyPair(ctx context.Context, conf *Config) (*secp256k1.KeyPair, error) {
	switch {
	case conf.Key != nil && *conf.Key != "":
		keyBytes, err := ethtypes.NewHexBytes0xPrefix(strings.TrimSpace(*conf.Key))
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgSignerInvalidKey)
		}
		keypair, err := secp256k1.NewSecp256k1KeyPair(keyBytes)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgSignerInvalidKey)
		}
		return keypair, nil
	case conf.KeyFile != nil && *conf.KeyFile != "":
		keyData, err := os.ReadFile(*conf.KeyFile)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgSignerKeystoreFailed, *conf.KeyFile)
		}
		var passData []byte
		if conf.PassphraseFile != nil && *conf.PassphraseFile != "" {
			if passData, err = os.ReadFile(*conf.PassphraseFile); err != nil {
				return nil, i18n.WrapError(ctx, err, msgs.MsgSignerPassphraseFailed, *conf.PassphraseFile)
			}
		}
		wf, err := keystorev3.ReadWalletFile(keyData, passData)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgSignerKeystoreFailed, *conf.KeyFile)
		}
		keypair, err := secp256k1.NewSecp256k1KeyPair(wf.PrivateKey())
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgSignerInvalidKey)
		}
		return keypair, nil
	default:
		return nil, i18n.NewError(ctx, msgs.MsgSignerNoKeyConfigured)
	}
}

func (s *AdminSigner) Type() SignerType {
	return s.signerType
}

// Address is the admin account observed by the contract's admin() function.
// It is always configured or derived locally, never inferred from the node's
// account list.
func (s *AdminSigner) Address() ethtypes.Address0xHex {
	return s.address
}

// Sign produces a signature over an already-hashed payload
func (s *AdminSigner) Sign(ctx context.Context, hash []byte) (*secp256k1.SignatureData, error) {
	if s.keypair == nil {
		return nil, i18n.NewError(ctx, msgs.MsgSignerSignFailed)
	}
	sig, err := s.keypair.SignDirect(hash)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSignerSignFailed)
	}
	return sig, nil
}
