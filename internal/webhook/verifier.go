package webhook

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"bridge-wallet-go/internal/circle"
)

// KeySource fetches the provider's notification public key for a key id.
type KeySource interface {
	GetNotificationPublicKey(ctx context.Context, keyId string) (string, error)
}

// Verifier checks webhook authenticity: an ECDSA signature over the exact
// raw body bytes, verified against a provider-published public key. Keys
// are cached per key id.
type Verifier struct {
	keys KeySource

	mu    sync.RWMutex
	cache map[string]*ecdsa.PublicKey
}

func NewVerifier(keys KeySource) *Verifier {
	return &Verifier{
		keys:  keys,
		cache: make(map[string]*ecdsa.PublicKey),
	}
}

// Verify reports whether signatureB64 is a valid signature over rawBody by
// the key identified by keyId. An invalid or malformed signature is
// (false, nil). The only error case is a transport failure fetching the
// key; callers must reject the delivery retryably, not process unverified.
func (v *Verifier) Verify(ctx context.Context, rawBody []byte, signatureB64, keyId string) (bool, error) {
	pub, err := v.publicKey(ctx, keyId)
	if err != nil {
		if circle.IsTransport(err) {
			return false, err
		}
		// Upstream rejected the key id: no such key means no valid
		// signature is possible.
		zap.L().Warn("Provider rejected notification key lookup",
			zap.String("key_id", keyId),
			zap.Error(err))
		return false, nil
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, nil
	}

	// The digest covers the raw bytes as delivered. Re-serializing the
	// parsed payload would break verification.
	digest := sha256.Sum256(rawBody)
	return ecdsa.VerifyASN1(pub, digest[:], signature), nil
}

func (v *Verifier) publicKey(ctx context.Context, keyId string) (*ecdsa.PublicKey, error) {
	v.mu.RLock()
	cached, ok := v.cache[keyId]
	v.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := v.keys.GetNotificationPublicKey(ctx, keyId)
	if err != nil {
		return nil, err
	}

	pub, err := parsePublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notification public key %s: %w", keyId, err)
	}

	v.mu.Lock()
	v.cache[keyId] = pub
	v.mu.Unlock()
	return pub, nil
}

// parsePublicKey accepts the key either as bare base64 DER or as a full
// PEM block, reconstructing the PEM framing when absent.
func parsePublicKey(raw string) (*ecdsa.PublicKey, error) {
	pemText := strings.TrimSpace(raw)
	if !strings.Contains(pemText, "BEGIN PUBLIC KEY") {
		pemText = "-----BEGIN PUBLIC KEY-----\n" + pemText + "\n-----END PUBLIC KEY-----"
	}

	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", parsed)
	}
	return pub, nil
}
