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

package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"bridge-wallet-go/internal/models"
	"bridge-wallet-go/internal/store"
)

// Transfers is the slice of the orchestrator the HTTP surface drives.
type Transfers interface {
	InitiateTopUp(ctx context.Context, req models.TopUpRequest) (*models.TransferRecord, bool, error)
	InitiateAdminTransfer(ctx context.Context, req models.AdminTransferRequest) (*models.TransferRecord, error)
	InitiateBridgeTransfer(ctx context.Context, req models.BridgeTransferRequest) (*models.BridgeTransferResponse, error)
}

// Server wires the ledger query surface and the transfer API onto a chi
// router. The webhook ingest endpoint is mounted alongside but owns its
// own verification pipeline.
type Server struct {
	store     store.TransferStore
	transfers Transfers
	webhooks  http.Handler
}

func NewServer(st store.TransferStore, transfers Transfers, webhooks http.Handler) *Server {
	return &Server{
		store:     st,
		transfers: transfers,
		webhooks:  webhooks,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhooks/circle", s.webhooks.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/topups", s.handleTopUp)
		r.Post("/transfers/bridge", s.handleBridgeTransfer)
		r.Post("/transfers/admin", s.handleAdminTransfer)
		r.Get("/transfers/{id}", s.handleGetTransfer)
		r.Get("/accounts/{account}/transfers", s.handleListTransfers)
		r.Get("/accounts/{account}/balance", s.handleGetBalance)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, httpStatus int, code, message string) {
	writeJSON(w, httpStatus, models.ErrorResponse{Error: models.ErrorBody{
		Code:    code,
		Message: message,
	}})
}
