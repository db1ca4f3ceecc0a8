package attestation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bridge-wallet-go/internal/models"
)

// Message statuses reported by the bridge attestation service.
const (
	StatusComplete             = "complete"
	StatusPendingConfirmations = "pending_confirmations"
	StatusFailed               = "failed"
)

// Attestation is a complete attestation bundle authorizing a mint for a
// specific burn.
type Attestation struct {
	Message     string `json:"message"`
	Attestation string `json:"attestation"`
	EventNonce  string `json:"eventNonce"`
	Status      string `json:"status"`
}

// Client queries the bridge protocol's public message-lookup API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg models.AttestationConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// LookupMessage fetches the bridge message for a (source domain, burn tx
// hash) pair. found=false covers both "transaction not indexed yet" and an
// empty message list; callers treat it as "keep waiting".
func (c *Client) LookupMessage(ctx context.Context, domain uint32, txHash string) (*Attestation, bool, error) {
	reqURL := fmt.Sprintf("%s/v2/messages/%d?transactionHash=%s", c.baseURL, domain, txHash)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("attestation lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("attestation API error (status %d): %s", resp.StatusCode, string(body))
	}

	var out struct {
		Messages []Attestation `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("failed to decode attestation response: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, false, nil
	}
	return &out.Messages[0], true, nil
}
