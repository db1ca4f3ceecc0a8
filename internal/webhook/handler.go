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

package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"bridge-wallet-go/internal/models"
	"bridge-wallet-go/internal/status"
	"bridge-wallet-go/internal/store"
)

// Signature headers on provider deliveries.
const (
	HeaderSignature = "X-Circle-Signature"
	HeaderKeyId     = "X-Circle-Key-Id"
)

// Orchestrator is the slice of the transfer orchestrator the ingest
// endpoint hands verified notifications to. Both paths are independently
// idempotent; either may be a no-op for a given notification.
type Orchestrator interface {
	HandleTransferNotification(ctx context.Context, env models.WebhookEnvelope) error
	HandleBridgeNotification(ctx context.Context, env models.WebhookEnvelope) error
}

// Handler is the webhook ingest endpoint: verify, log, dispatch.
type Handler struct {
	verifier     *Verifier
	store        store.TransferStore
	orchestrator Orchestrator
}

func NewHandler(verifier *Verifier, st store.TransferStore, orch Orchestrator) *Handler {
	return &Handler{
		verifier:     verifier,
		store:        st,
		orchestrator: orch,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unable to read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(HeaderSignature)
	keyId := r.Header.Get(HeaderKeyId)
	if signature == "" || keyId == "" {
		// Malformed, not retried.
		http.Error(w, "missing signature headers", http.StatusBadRequest)
		return
	}

	var env models.WebhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	valid, err := h.verifier.Verify(r.Context(), rawBody, signature, keyId)
	if err != nil {
		// Key fetch transport failure: respond 5xx so the provider
		// redelivers later. Never process unverified.
		zap.L().Error("Webhook key fetch failed", zap.Error(err))
		http.Error(w, "verification unavailable", http.StatusInternalServerError)
		return
	}
	if !valid {
		// A forged or corrupted payload will not verify on retry either.
		zap.L().Warn("Webhook signature verification failed",
			zap.String("key_id", keyId),
			zap.String("notification_id", env.NotificationId))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	mappedStatus := ""
	if s, ok := status.FromProviderState(env.Notification.State); ok {
		mappedStatus = string(s)
	}

	dedupeHash := sha256.Sum256(rawBody)
	duplicate, err := h.store.RecordWebhookEvent(r.Context(), store.RecordWebhookParams{
		ProviderEventId:       env.NotificationId,
		DedupeHash:            hex.EncodeToString(dedupeHash[:]),
		NotificationType:      env.NotificationType,
		ProviderTransactionId: env.Notification.Id,
		RawPayload:            string(rawBody),
		MappedStatus:          mappedStatus,
		SignatureValid:        true,
	})
	if err != nil {
		zap.L().Error("Failed to log webhook event", zap.Error(err))
		http.Error(w, "failed to record event", http.StatusInternalServerError)
		return
	}
	if duplicate {
		// The audit log already holds this delivery, but a redelivery may
		// be the provider retrying after a failed handoff below. Dispatch
		// again; the handlers are idempotent either way.
		zap.L().Info("Duplicate webhook delivery",
			zap.String("notification_id", env.NotificationId))
	}

	if env.NotificationType == models.NotificationTypeTest {
		zap.L().Info("Webhook connectivity test acknowledged")
		respondReceived(w)
		return
	}

	if env.Notification.Id != "" {
		// Simple-transfer ledger first, then the bridge step ledger. Both
		// are idempotent; business no-ops resolve silently.
		if err := h.orchestrator.HandleTransferNotification(r.Context(), env); err != nil {
			zap.L().Error("Transfer notification handling failed",
				zap.String("provider_transaction_id", env.Notification.Id),
				zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if err := h.orchestrator.HandleBridgeNotification(r.Context(), env); err != nil {
			zap.L().Error("Bridge notification handling failed",
				zap.String("provider_transaction_id", env.Notification.Id),
				zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	respondReceived(w)
}

func respondReceived(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}
