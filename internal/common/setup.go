package common

import (
	"context"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"bridge-wallet-go/internal/attestation"
	"bridge-wallet-go/internal/chains"
	"bridge-wallet-go/internal/circle"
	"bridge-wallet-go/internal/config"
	"bridge-wallet-go/internal/database"
	"bridge-wallet-go/internal/gas"
	"bridge-wallet-go/internal/models"
	"bridge-wallet-go/internal/orchestrator"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService    *database.Service
	Provider     *circle.Client
	Registry     *chains.Registry
	Orchestrator *orchestrator.Orchestrator
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	registry, err := chains.LoadRegistry(cfg.ChainsFile)
	if err != nil {
		return nil, err
	}

	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := dbService.EnsureAccount(ctx, config.OperatorAccount, "Operator custody account"); err != nil {
		dbService.Close()
		return nil, err
	}

	provider, err := circle.NewClient(cfg.Provider)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	attestations := attestation.NewPoller(attestation.NewClient(cfg.Attestation), cfg.Attestation)
	gasChecker := gas.NewChecker(registry)

	orch := orchestrator.New(dbService, provider, attestations, gasChecker,
		registry, cfg.Signers, config.OperatorAccount)

	return &Services{
		DbService:    dbService,
		Provider:     provider,
		Registry:     registry,
		Orchestrator: orch,
	}, nil
}

// InitializeDatabaseOnly initializes just the store, without the provider
// client. Used by the setup binary and read-only tooling.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	return database.NewService(ctx, cfg.Database)
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
