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

package circle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"bridge-wallet-go/internal/models"
)

// Client is a typed REST client for the wallet provider's
// developer-controlled wallet API: it signs and submits on-chain actions
// on our behalf and reports transaction lifecycle via webhooks.
type Client struct {
	baseURL                string
	apiKey                 string
	entitySecretCiphertext string
	httpClient             http.Client
}

func NewClient(cfg models.ProviderConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL cannot be empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider API key cannot be empty")
	}

	httpClient, err := createCustomHttpClient(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	return &Client{
		baseURL:                cfg.BaseURL,
		apiKey:                 cfg.APIKey,
		entitySecretCiphertext: cfg.EntitySecretCiphertext,
		httpClient:             httpClient,
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (http.Client, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// TransferRequest submits a plain token transfer from a provider wallet.
type TransferRequest struct {
	IdempotencyKey     string
	WalletId           string
	DestinationAddress string
	Blockchain         string
	TokenAddress       string
	Amount             string // human decimal
}

// ContractExecutionRequest submits an arbitrary contract call signed by a
// provider wallet (approve, depositForBurn, receiveMessage).
type ContractExecutionRequest struct {
	IdempotencyKey       string
	WalletId             string
	Blockchain           string
	ContractAddress      string
	ABIFunctionSignature string
	ABIParameters        []any
}

// TransactionReference identifies a submitted provider transaction.
type TransactionReference struct {
	Id    string `json:"id"`
	State string `json:"state"`
}

// Transaction is the provider's view of a submitted transaction.
type Transaction struct {
	Id                 string   `json:"id"`
	WalletId           string   `json:"walletId"`
	State              string   `json:"state"`
	Blockchain         string   `json:"blockchain"`
	TxHash             string   `json:"txHash"`
	SourceAddress      string   `json:"sourceAddress"`
	DestinationAddress string   `json:"destinationAddress"`
	Amounts            []string `json:"amounts"`
	ErrorReason        string   `json:"errorReason"`
}

// CreateTransfer submits a single-step wallet transfer.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*TransactionReference, error) {
	zap.L().Info("Creating provider transfer",
		zap.String("wallet_id", req.WalletId),
		zap.String("blockchain", req.Blockchain),
		zap.String("destination", req.DestinationAddress),
		zap.String("amount", req.Amount))

	body := map[string]any{
		"idempotencyKey":         req.IdempotencyKey,
		"walletId":               req.WalletId,
		"destinationAddress":     req.DestinationAddress,
		"blockchain":             req.Blockchain,
		"tokenAddress":           req.TokenAddress,
		"amounts":                []string{req.Amount},
		"feeLevel":               "MEDIUM",
		"entitySecretCiphertext": c.entitySecretCiphertext,
	}

	var out struct {
		Data TransactionReference `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/w3s/developer/transactions/transfer", body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// CreateContractExecution submits a contract call.
func (c *Client) CreateContractExecution(ctx context.Context, req ContractExecutionRequest) (*TransactionReference, error) {
	zap.L().Info("Creating provider contract execution",
		zap.String("wallet_id", req.WalletId),
		zap.String("blockchain", req.Blockchain),
		zap.String("contract", req.ContractAddress),
		zap.String("function", req.ABIFunctionSignature))

	body := map[string]any{
		"idempotencyKey":         req.IdempotencyKey,
		"walletId":               req.WalletId,
		"contractAddress":        req.ContractAddress,
		"abiFunctionSignature":   req.ABIFunctionSignature,
		"abiParameters":          req.ABIParameters,
		"feeLevel":               "MEDIUM",
		"entitySecretCiphertext": c.entitySecretCiphertext,
	}

	var out struct {
		Data TransactionReference `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/w3s/developer/transactions/contractExecution", body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetTransaction fetches the detail of a submitted transaction, including
// its on-chain hash once broadcast.
func (c *Client) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var out struct {
		Data struct {
			Transaction Transaction `json:"transaction"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/w3s/transactions/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data.Transaction, nil
}

// GetNotificationPublicKey fetches the base64 DER public key used to sign
// webhook notifications for the given key id.
func (c *Client) GetNotificationPublicKey(ctx context.Context, keyId string) (string, error) {
	var out struct {
		Data struct {
			Id        string `json:"id"`
			PublicKey string `json:"publicKey"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/notifications/publicKey/"+keyId, nil, &out); err != nil {
		return "", err
	}
	return out.Data.PublicKey, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &errBody) == nil {
			apiErr.Code = errBody.Code
			apiErr.Message = errBody.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = string(raw)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
