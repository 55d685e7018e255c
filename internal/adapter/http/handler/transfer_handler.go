package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iho/xledger/internal/adapter/http/dto"
	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

// TransferService is the transfer boundary the handler depends on.
type TransferService interface {
	CreateTransfer(ctx context.Context, input usecase.CreateTransferInput) (*domain.Transfer, error)
	GetTransferStatus(ctx context.Context, id string) (*usecase.TransferStatus, error)
	ListTransfers(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error)
}

// TransferExpirer injects an operator leg-expired signal.
type TransferExpirer interface {
	ExpireTransfer(ctx context.Context, id string) error
}

// TransferEventLog reads the outbox events written for a transfer.
type TransferEventLog interface {
	GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error)
}

// TransferHandler handles transfer-related HTTP requests.
type TransferHandler struct {
	transfers TransferService
	expirer   TransferExpirer
	events    TransferEventLog
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(transfers TransferService, expirer TransferExpirer) *TransferHandler {
	return &TransferHandler{transfers: transfers, expirer: expirer}
}

// WithEventLog enables the events endpoint.
func (h *TransferHandler) WithEventLog(events TransferEventLog) *TransferHandler {
	h.events = events
	return h
}

// Create validates the request and starts the saga. The response reflects
// the transfer right after its first leg was submitted.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateTransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	transfer, err := h.transfers.CreateTransfer(r.Context(), input)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to create transfer", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, dto.TransferFromDomain(transfer))
}

// Get returns the status of a transfer.
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transfer ID", "")
		return
	}

	status, err := h.transfers.GetTransferStatus(r.Context(), id)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get transfer", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.TransferFromStatus(status))
}

// List returns transfers matching the query filters.
func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := dto.TransferFilterFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter", err.Error())
		return
	}
	filter.Limit, filter.Offset = domain.ValidatePagination(filter.Limit, filter.Offset)

	transfers, err := h.transfers.ListTransfers(r.Context(), filter)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to list transfers", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.TransferListResponse{
		Transfers: dto.TransfersFromDomain(transfers),
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

// Expire fails the pending leg of a transfer as if its event never came.
func (h *TransferHandler) Expire(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transfer ID", "")
		return
	}

	if err := h.expirer.ExpireTransfer(r.Context(), id); err != nil {
		writeError(w, mapDomainError(err), "failed to expire transfer", err.Error())
		return
	}

	status, err := h.transfers.GetTransferStatus(r.Context(), id)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to get transfer", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.TransferFromStatus(status))
}

// Events lists the outbox events of a transfer. Only journals backed by a
// database keep them.
func (h *TransferHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "transfer events are not recorded", "")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transfer ID", "")
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset", err.Error())
		return
	}
	limit, offset = domain.ValidatePagination(limit, offset)

	if _, err := h.transfers.GetTransferStatus(r.Context(), id); err != nil {
		writeError(w, mapDomainError(err), "failed to get transfer", err.Error())
		return
	}

	events, err := h.events.GetByAggregate(r.Context(), domain.AggregateTypeTransfer, id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list transfer events", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.TransferEventsResponse{
		TransferID: id,
		Events:     dto.OutboxEventsFromDomain(events),
	})
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
