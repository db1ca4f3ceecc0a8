package attestation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bridge-wallet-go/internal/models"
)

var (
	// ErrAttestationTimeout is returned by the bounded path when the
	// attempt budget runs out before the attestation completes.
	ErrAttestationTimeout = errors.New("attestation not complete within attempt budget")
	// ErrAttestationFailed is returned when the bridge reports the message
	// itself as failed; never retried.
	ErrAttestationFailed = errors.New("bridge reported message failure")
)

// MessageLookup is the slice of the bridge client the poller needs.
type MessageLookup interface {
	LookupMessage(ctx context.Context, domain uint32, txHash string) (*Attestation, bool, error)
}

// Poller waits for a burn's attestation to complete. The webhook-driven
// path waits indefinitely (nobody is blocked on it); the client-initiated
// path is bounded so a synchronous request cannot hang.
type Poller struct {
	client          MessageLookup
	pollInterval    time.Duration
	boundedInterval time.Duration
	boundedAttempts int
}

func NewPoller(client MessageLookup, cfg models.AttestationConfig) *Poller {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 4 * time.Second
	}
	boundedInterval := cfg.BoundedInterval
	if boundedInterval <= 0 {
		boundedInterval = 3 * time.Second
	}
	boundedAttempts := cfg.BoundedAttempts
	if boundedAttempts <= 0 {
		boundedAttempts = 60
	}
	return &Poller{
		client:          client,
		pollInterval:    pollInterval,
		boundedInterval: boundedInterval,
		boundedAttempts: boundedAttempts,
	}
}

// Await polls until the attestation completes, the bridge reports failure,
// or ctx is cancelled. No attempt cap; a transient lookup failure is just
// another poll interval.
func (p *Poller) Await(ctx context.Context, domain uint32, txHash string) (*Attestation, error) {
	for attempt := 1; ; attempt++ {
		att, done, err := p.checkOnce(ctx, domain, txHash, attempt)
		if err != nil {
			if errors.Is(err, ErrAttestationFailed) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zap.L().Warn("Attestation lookup failed, retrying",
				zap.Uint32("domain", domain),
				zap.String("tx_hash", txHash),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		if done {
			return att, nil
		}
		if err := sleepCtx(ctx, p.pollInterval); err != nil {
			return nil, err
		}
	}
}

// AwaitBounded polls with a fixed attempt budget and fails with
// ErrAttestationTimeout when it runs out.
func (p *Poller) AwaitBounded(ctx context.Context, domain uint32, txHash string) (*Attestation, error) {
	for attempt := 1; attempt <= p.boundedAttempts; attempt++ {
		att, done, err := p.checkOnce(ctx, domain, txHash, attempt)
		if err != nil {
			return nil, err
		}
		if done {
			return att, nil
		}
		if attempt < p.boundedAttempts {
			if err := sleepCtx(ctx, p.boundedInterval); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %d attempts for domain %d tx %s", ErrAttestationTimeout, p.boundedAttempts, domain, txHash)
}

// checkOnce performs a single lookup. done=false means keep waiting: both
// "not indexed yet" and "indexed but not yet attested" land here.
func (p *Poller) checkOnce(ctx context.Context, domain uint32, txHash string, attempt int) (*Attestation, bool, error) {
	att, found, err := p.client.LookupMessage(ctx, domain, txHash)
	if err != nil {
		return nil, false, err
	}
	if !found {
		zap.L().Debug("Attestation not indexed yet",
			zap.Uint32("domain", domain),
			zap.String("tx_hash", txHash),
			zap.Int("attempt", attempt))
		return nil, false, nil
	}

	switch att.Status {
	case StatusComplete:
		zap.L().Info("Attestation complete",
			zap.Uint32("domain", domain),
			zap.String("tx_hash", txHash),
			zap.Int("attempt", attempt))
		return att, true, nil
	case StatusFailed:
		return nil, false, fmt.Errorf("%w: domain %d tx %s", ErrAttestationFailed, domain, txHash)
	default:
		zap.L().Debug("Attestation pending",
			zap.Uint32("domain", domain),
			zap.String("tx_hash", txHash),
			zap.String("status", att.Status),
			zap.Int("attempt", attempt))
		return nil, false, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
