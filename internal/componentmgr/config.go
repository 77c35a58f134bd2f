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

package componentmgr

import (
	"context"
	"os"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/kaleido-io/tokengate/internal/httpserver"
	"github.com/kaleido-io/tokengate/internal/keymgr"
	"github.com/kaleido-io/tokengate/internal/ledger"
	"github.com/kaleido-io/tokengate/internal/msgs"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level *string `yaml:"level"`
}

type Config struct {
	Log        LogConfig         `yaml:"log"`
	Blockchain ledger.Config     `yaml:"blockchain"`
	Signer     keymgr.Config     `yaml:"signer"`
	API        httpserver.Config `yaml:"api"`
}

func ReadAndParseYAMLFile(ctx context.Context, filePath string, config interface{}) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return i18n.NewError(ctx, msgs.MsgConfigFileMissing, filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		log.L(ctx).Errorf("failed to read file: %v", err)
		return i18n.WrapError(ctx, err, msgs.MsgConfigFileReadError, filePath)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		log.L(ctx).Errorf("failed to parse file: %v", err)
		return i18n.WrapError(ctx, err, msgs.MsgConfigFileParseError, filePath)
	}

	return nil
}
