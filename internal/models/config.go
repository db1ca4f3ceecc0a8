package models

import "time"

// Config represents the application configuration
type Config struct {
	Database    DatabaseConfig
	Server      ServerConfig
	Provider    ProviderConfig
	Attestation AttestationConfig
	Signers     SignerConfig
	ChainsFile  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ProviderConfig holds wallet provider API settings
type ProviderConfig struct {
	BaseURL                string
	APIKey                 string
	EntitySecretCiphertext string
	RequestTimeout         time.Duration
}

// AttestationConfig holds bridge attestation service settings
type AttestationConfig struct {
	BaseURL         string
	PollInterval    time.Duration
	BoundedInterval time.Duration
	BoundedAttempts int
	RequestTimeout  time.Duration
}

// SignerConfig resolves which provider wallet executes each step of a
// transfer. The depositor holds the custodial balance, the burn signer is
// a dedicated EOA authorizing cross-chain burn intents, and the minter
// relays mints on destination chains.
type SignerConfig struct {
	DepositorWalletId  string
	BurnSignerWalletId string
	BurnSignerAddress  string
	MinterWalletId     string
	MinterAddress      string
}
