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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"bridge-wallet-go/internal/models"
)

// OperatorAccount is the custody account all admin and bridge steps book
// against. Provisioned idempotently at startup.
const OperatorAccount = "operator"

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	readTimeout, err := getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	writeTimeout, err := getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	providerTimeout, err := getEnvDuration("CIRCLE_REQUEST_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	attestationPoll, err := getEnvDuration("ATTESTATION_POLL_INTERVAL", 4*time.Second)
	if err != nil {
		return nil, err
	}

	attestationBoundedPoll, err := getEnvDuration("ATTESTATION_BOUNDED_INTERVAL", 3*time.Second)
	if err != nil {
		return nil, err
	}

	attestationTimeout, err := getEnvDuration("ATTESTATION_REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "transfers.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Server: models.ServerConfig{
			ListenAddr:      getEnvString("SERVER_LISTEN_ADDR", ":8080"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
		Provider: models.ProviderConfig{
			BaseURL:                getEnvString("CIRCLE_API_BASE_URL", "https://api.circle.com"),
			APIKey:                 os.Getenv("CIRCLE_API_KEY"),
			EntitySecretCiphertext: os.Getenv("CIRCLE_ENTITY_SECRET_CIPHERTEXT"),
			RequestTimeout:         providerTimeout,
		},
		Attestation: models.AttestationConfig{
			BaseURL:         getEnvString("IRIS_API_BASE_URL", "https://iris-api-sandbox.circle.com"),
			PollInterval:    attestationPoll,
			BoundedInterval: attestationBoundedPoll,
			BoundedAttempts: getEnvInt("ATTESTATION_BOUNDED_ATTEMPTS", 60),
			RequestTimeout:  attestationTimeout,
		},
		Signers: models.SignerConfig{
			DepositorWalletId:  os.Getenv("DEPOSITOR_WALLET_ID"),
			BurnSignerWalletId: os.Getenv("BURN_SIGNER_WALLET_ID"),
			BurnSignerAddress:  os.Getenv("BURN_SIGNER_ADDRESS"),
			MinterWalletId:     os.Getenv("MINTER_WALLET_ID"),
			MinterAddress:      os.Getenv("MINTER_ADDRESS"),
		},
		ChainsFile: getEnvString("CHAINS_FILE", ""),
	}, nil
}

// Validate checks the settings the server cannot run without. The setup
// binary tolerates missing provider credentials; the server does not.
func Validate(cfg *models.Config) error {
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("CIRCLE_API_KEY is required")
	}
	if cfg.Provider.EntitySecretCiphertext == "" {
		return fmt.Errorf("CIRCLE_ENTITY_SECRET_CIPHERTEXT is required")
	}
	if cfg.Signers.DepositorWalletId == "" || cfg.Signers.BurnSignerWalletId == "" || cfg.Signers.MinterWalletId == "" {
		return fmt.Errorf("DEPOSITOR_WALLET_ID, BURN_SIGNER_WALLET_ID and MINTER_WALLET_ID are required")
	}
	if cfg.Signers.MinterAddress == "" {
		return fmt.Errorf("MINTER_ADDRESS is required")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
