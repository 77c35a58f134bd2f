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

	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/kaleido-io/tokengate/internal/api"
	"github.com/kaleido-io/tokengate/internal/coordinator"
	"github.com/kaleido-io/tokengate/internal/httpserver"
	"github.com/kaleido-io/tokengate/internal/keymgr"
	"github.com/kaleido-io/tokengate/internal/ledger"
	"github.com/kaleido-io/tokengate/internal/metrics"
	"github.com/kaleido-io/tokengate/internal/requests"
)

// ComponentManager owns the construction and lifecycle ordering of
// everything behind the API: signer, ledger client, contract binding,
// request queue and coordinator, then the HTTP listener last so no
// traffic arrives before the ledger connection is proven.
type ComponentManager interface {
	Init() error
	Start() error
	Stop()
	Coordinator() *coordinator.Coordinator
	APIServer() httpserver.Server
}

type componentManager struct {
	bgCtx context.Context
	conf  *Config

	signer       *keymgr.AdminSigner
	ledgerClient ledger.Client
	contract     *ledger.Contract
	queue        *requests.Queue
	coordinator  *coordinator.Coordinator
	apiServer    httpserver.Server

	// keep track of everything we started/opened
	started []stoppable
	opened  []closeable
}

// things that have a running component that is active in the background and hence "stop"
type stoppable interface {
	Stop()
}

// things that hold connections and hence "close"
type closeable interface {
	Close()
}

func NewComponentManager(bgCtx context.Context, conf *Config) ComponentManager {
	return &componentManager{
		bgCtx: bgCtx,
		conf:  conf,
	}
}

func (cm *componentManager) Init() (err error) {
	metrics.Init()

	cm.signer, err = keymgr.NewAdminSigner(cm.bgCtx, &cm.conf.Signer)
	if err == nil {
		cm.ledgerClient, err = ledger.NewClient(cm.bgCtx, cm.signer, &cm.conf.Blockchain)
		cm.addIfOpened(cm.ledgerClient, err)
	}
	if err == nil {
		cm.contract, err = ledger.NewContract(cm.bgCtx, cm.ledgerClient, &cm.conf.Blockchain)
	}
	if err == nil {
		cm.queue = requests.NewQueue()
		cm.coordinator = coordinator.NewCoordinator(cm.contract, cm.queue)
		cm.apiServer, err = httpserver.NewServer(cm.bgCtx, "api", &cm.conf.API, api.NewRouter(cm.coordinator))
	}
	return err
}

func (cm *componentManager) Start() (err error) {
	cm.checkAdminConsistency()

	// start the HTTP listener last
	err = cm.apiServer.Start()
	cm.addIfStarted(cm.apiServer, err)
	if err == nil {
		log.L(cm.bgCtx).Infof("Access coordinator started (api=%s contract=%s)", cm.apiServer.Addr(), cm.contract.Address())
	}
	return err
}

// checkAdminConsistency compares the contract's admin view with the locally
// configured signing address. The contract stays authoritative - a mismatch
// is only logged, because every admin transaction will be rejected on-chain
// anyway and that rejection is the real enforcement.
func (cm *componentManager) checkAdminConsistency() {
	if cm.signer.Type() != keymgr.SignerTypeLocal {
		return
	}
	adminAddr, err := cm.contract.Admin(cm.bgCtx)
	if err != nil {
		log.L(cm.bgCtx).Warnf("Could not read admin address from contract %s: %s", cm.contract.Address(), err)
		return
	}
	if *adminAddr != cm.signer.Address() {
		log.L(cm.bgCtx).Warnf("Configured signing address %s is not the contract admin %s - grant/revoke transactions will revert", cm.signer.Address(), adminAddr)
	}
}

func (cm *componentManager) addIfStarted(c stoppable, err error) {
	if err == nil {
		cm.started = append(cm.started, c)
	}
}

func (cm *componentManager) addIfOpened(c closeable, err error) {
	if err == nil {
		cm.opened = append(cm.opened, c)
	}
}

func (cm *componentManager) Stop() {
	// stop all the stoppable things we started
	for _, c := range cm.started {
		c.Stop()
	}
	// close all the closable things we opened
	for _, c := range cm.opened {
		c.Close()
	}
}

func (cm *componentManager) Coordinator() *coordinator.Coordinator {
	return cm.coordinator
}

func (cm *componentManager) APIServer() httpserver.Server {
	return cm.apiServer
}
