/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"

	"go.uber.org/zap"

	"bridge-wallet-go/internal/chains"
	"bridge-wallet-go/internal/common"
	"bridge-wallet-go/internal/config"
)

// One-shot idempotent provisioning: creates the database schema, upserts
// the operator custody account, optionally registers custody deposit
// addresses, and sanity-checks the chain registry. Safe to run repeatedly.
func main() {
	depositAddress := flag.String("deposit-address", "", "Custody deposit address to register for the operator account (all chains)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()

	registry, err := chains.LoadRegistry(cfg.ChainsFile)
	if err != nil {
		zap.L().Fatal("Failed to load chain registry", zap.Error(err))
	}
	for _, id := range registry.IDs() {
		chain, err := registry.Get(id)
		if err != nil {
			zap.L().Fatal("Chain registry inconsistent", zap.Uint64("chain", uint64(id)), zap.Error(err))
		}
		zap.L().Info("Chain configured",
			zap.Uint64("chain", uint64(chain.ID)),
			zap.String("name", chain.ProviderName),
			zap.Uint32("domain", chain.Domain))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	if err := dbService.EnsureAccount(ctx, config.OperatorAccount, "Operator custody account"); err != nil {
		zap.L().Fatal("Failed to provision operator account", zap.Error(err))
	}
	zap.L().Info("Operator account provisioned", zap.String("account", config.OperatorAccount))

	if *depositAddress != "" {
		if err := dbService.RegisterAccountAddress(ctx, config.OperatorAccount, *depositAddress, 0); err != nil {
			zap.L().Fatal("Failed to register deposit address", zap.Error(err))
		}
		zap.L().Info("Deposit address registered",
			zap.String("address", *depositAddress),
			zap.String("account", config.OperatorAccount))
	}

	zap.L().Info("Setup complete")
}
