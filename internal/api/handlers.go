package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bridge-wallet-go/internal/attestation"
	"bridge-wallet-go/internal/circle"
	"bridge-wallet-go/internal/models"
	"bridge-wallet-go/internal/orchestrator"
	"bridge-wallet-go/internal/store"
)

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req models.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	record, created, err := s.transfers.InitiateTopUp(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.ErrCodeInvalidRequest, err.Error())
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, transferResponse(record))
}

func (s *Server) handleAdminTransfer(w http.ResponseWriter, r *http.Request) {
	var req models.AdminTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	record, err := s.transfers.InitiateAdminTransfer(r.Context(), req)
	if err != nil {
		s.writeTransferError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transferResponse(record))
}

func (s *Server) handleBridgeTransfer(w http.ResponseWriter, r *http.Request) {
	var req models.BridgeTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	result, err := s.transfers.InitiateBridgeTransfer(r.Context(), req)
	if err != nil {
		s.writeTransferError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeTransferError maps orchestration failures onto the structured error
// body. The gas case carries the starving signer and chain so clients can
// drive their funding flow without parsing the message.
func (s *Server) writeTransferError(w http.ResponseWriter, err error) {
	var gasErr *orchestrator.InsufficientGasError
	if errors.As(err, &gasErr) {
		writeJSON(w, http.StatusUnprocessableEntity, models.ErrorResponse{Error: models.ErrorBody{
			Code:    models.ErrCodeInsufficientGas,
			Message: gasErr.Error(),
			Address: gasErr.Address,
			Chain:   uint64(gasErr.ChainID),
		}})
		return
	}
	if errors.Is(err, attestation.ErrAttestationTimeout) {
		writeError(w, http.StatusGatewayTimeout, models.ErrCodeTimeout, err.Error())
		return
	}
	var apiErr *circle.APIError
	if errors.As(err, &apiErr) || circle.IsTransport(err) {
		writeError(w, http.StatusBadGateway, models.ErrCodeUpstream, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, models.ErrCodeInvalidRequest, err.Error())
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := s.store.GetTransfer(r.Context(), id)
	if errors.Is(err, store.ErrTransferNotFound) {
		writeError(w, http.StatusNotFound, models.ErrCodeNotFound, "transfer not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to load transfer")
		return
	}
	events, err := s.store.ListStatusEvents(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to load status history")
		return
	}

	history := make([]models.StatusEventResponse, 0, len(events))
	for _, e := range events {
		history = append(history, models.StatusEventResponse{
			OldStatus: string(e.OldStatus),
			NewStatus: string(e.NewStatus),
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, models.TransferDetailResponse{
		Transfer: *transferResponse(record),
		History:  history,
	})
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	limit, offset := pagination(r)

	records, err := s.store.ListTransfersByAccount(r.Context(), account, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to list transfers")
		return
	}
	out := make([]models.TransferResponse, 0, len(records))
	for i := range records {
		out = append(out, *transferResponse(&records[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": out})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	balance, err := s.store.GetAccountBalance(r.Context(), account, orchestrator.AssetUSDC)
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to load balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account,
		"asset":   orchestrator.AssetUSDC,
		"balance": balance.String(),
	})
}

func pagination(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

func transferResponse(record *models.TransferRecord) *models.TransferResponse {
	return &models.TransferResponse{
		Id:                    record.Id,
		Kind:                  string(record.Kind),
		ProviderTransactionId: record.ProviderTransactionId,
		SourceAccount:         record.SourceAccount,
		DestinationAddress:    record.DestinationAddress,
		Chain:                 uint64(record.ChainID),
		Amount:                record.Amount().String(),
		Asset:                 record.Asset,
		Status:                string(record.Status),
		LinkedStepId:          record.LinkedStepId,
		Metadata:              record.Metadata,
		CreatedAt:             record.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt:             record.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}
