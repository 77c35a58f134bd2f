// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"os"
	"regexp"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/kaleido-io/tokengate/internal/msgs"
)

type TLSType string

const (
	ClientType TLSType = "client"
	ServerType TLSType = "server"
)

type Config struct {
	Enabled                bool                   `yaml:"enabled"`
	ClientAuth             bool                   `yaml:"clientAuth"`
	CAFile                 string                 `yaml:"caFile"`
	CA                     string                 `yaml:"ca"`
	CertFile               string                 `yaml:"certFile"`
	Cert                   string                 `yaml:"cert"`
	KeyFile                string                 `yaml:"keyFile"`
	Key                    string                 `yaml:"key"`
	InsecureSkipHostVerify bool                   `yaml:"insecureSkipHostVerify"`
	RequiredDNAttributes   map[string]interface{} `yaml:"requiredDNAttributes"`
}

var SubjectDNKnownAttributes = map[string]func(pkix.Name) []string{
	"C":  func(n pkix.Name) []string { return nonNil(n.Country) },
	"O":  func(n pkix.Name) []string { return nonNil(n.Organization) },
	"OU": func(n pkix.Name) []string { return nonNil(n.OrganizationalUnit) },
	"CN": func(n pkix.Name) []string {
		if n.CommonName == "" {
			return []string{}
		}
		return []string{n.CommonName}
	},
	"L":      func(n pkix.Name) []string { return nonNil(n.Locality) },
	"ST":     func(n pkix.Name) []string { return nonNil(n.Province) },
	"STREET": func(n pkix.Name) []string { return nonNil(n.StreetAddress) },
	"POSTALCODE": func(n pkix.Name) []string {
		return nonNil(n.PostalCode)
	},
	"SERIALNUMBER": func(n pkix.Name) []string {
		if n.SerialNumber == "" {
			return []string{}
		}
		return []string{n.SerialNumber}
	},
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func BuildTLSConfig(ctx context.Context, config *Config, tlsType TLSType) (*tls.Config, error) {
	if !config.Enabled {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	var err error
	var rootCAs *x509.CertPool
	switch {
	case config.CA != "" || config.CAFile != "":
		rootCAs = x509.NewCertPool()
		var caBytes []byte
		if config.CA != "" {
			caBytes = []byte(config.CA)
		} else {
			caBytes, err = os.ReadFile(config.CAFile)
		}
		if err == nil {
			ok := rootCAs.AppendCertsFromPEM(caBytes)
			if !ok {
				err = i18n.NewError(ctx, msgs.MsgTLSInvalidCAFile)
			}
		}
	default:
		rootCAs, err = x509.SystemCertPool()
	}
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgTLSInvalidCAFile)
	}
	tlsConfig.RootCAs = rootCAs

	// For mutual TLS (reverse of normal) the client certs are validated against the same CA
	if config.CertFile != "" && config.KeyFile != "" || config.Cert != "" && config.Key != "" {
		var cert tls.Certificate
		if config.Cert != "" && config.Key != "" {
			cert, err = tls.X509KeyPair([]byte(config.Cert), []byte(config.Key))
		} else {
			cert, err = tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		}
		if err != nil {
			log.L(ctx).Errorf("Invalid certificate/key pair: %s", err)
			return nil, i18n.WrapError(ctx, err, msgs.MsgTLSInvalidKeyPairFiles)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if tlsType == ServerType {
		tlsConfig.ClientCAs = rootCAs
		if config.ClientAuth {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	if len(config.RequiredDNAttributes) > 0 {
		if tlsConfig.VerifyPeerCertificate, err = buildDNValidator(ctx, config.RequiredDNAttributes); err != nil {
			return nil, err
		}
	}

	tlsConfig.InsecureSkipVerify = config.InsecureSkipHostVerify

	return tlsConfig, nil
}

func buildDNValidator(ctx context.Context, requiredDNAttributes map[string]interface{}) (func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error, error) {
	validators := map[string]*regexp.Regexp{}
	for attr, v := range requiredDNAttributes {
		attr = strings.ToUpper(attr)
		if SubjectDNKnownAttributes[attr] == nil {
			return nil, i18n.NewError(ctx, msgs.MsgTLSInvalidTLSDnMatcherAttr, attr)
		}
		vs, ok := v.(string)
		if !ok {
			return nil, i18n.NewError(ctx, msgs.MsgTLSInvalidTLSDnMatcherType, attr, v)
		}
		validator, err := regexp.Compile(vs)
		if err != nil {
			return nil, i18n.NewError(ctx, msgs.MsgTLSInvalidTLSDnMatcherRegexp, vs, attr, err)
		}
		validators[attr] = validator
	}
	return func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
		if len(verifiedChains) == 0 || len(verifiedChains[0]) == 0 {
			return i18n.NewError(ctx, msgs.MsgTLSInvalidTLSDnChain)
		}
		// Only the leaf certificate is checked for the subject attributes
		cert := verifiedChains[0][0]
		for attr, validator := range validators {
			matched := false
			for _, value := range SubjectDNKnownAttributes[attr](cert.Subject) {
				matched = matched || validator.MatchString(value)
			}
			if !matched {
				log.L(ctx).Errorf("Certificate subject '%s' does not match %s =~ /%s/", cert.Subject, attr, validator)
				return i18n.NewError(ctx, msgs.MsgTLSDnMatcherFailed, len(validators))
			}
		}
		return nil
	}, nil
}
