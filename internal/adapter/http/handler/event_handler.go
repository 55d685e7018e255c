package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/iho/xledger/internal/adapter/http/dto"
	"github.com/iho/xledger/internal/domain"
)

// EventSink consumes ledger events.
type EventSink interface {
	OnEvent(ctx context.Context, event domain.LedgerEvent) error
}

// EventObserver counts received events by source.
type EventObserver interface {
	LedgerEvent(chainID, source string)
}

// EventHandler accepts ledger notifications pushed over HTTP.
type EventHandler struct {
	sink     EventSink
	observer EventObserver
	chains   map[string]bool
}

// NewEventHandler creates an EventHandler accepting events of chains.
// observer may be nil.
func NewEventHandler(sink EventSink, observer EventObserver, chains []string) *EventHandler {
	known := make(map[string]bool, len(chains))
	for _, c := range chains {
		known[c] = true
	}
	return &EventHandler{sink: sink, observer: observer, chains: known}
}

// Deliver feeds one event to the coordinator. Unmatched events are held for
// a short while in case their submission is still being recorded.
func (h *EventHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	var req dto.LedgerEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	event, err := req.ToDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event", err.Error())
		return
	}
	if !h.chains[event.ChainID] {
		writeError(w, http.StatusUnprocessableEntity, "unknown chain", event.ChainID)
		return
	}

	if h.observer != nil {
		h.observer.LedgerEvent(event.ChainID, "webhook")
	}

	err = h.sink.OnEvent(r.Context(), event)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, dto.EventResponse{Status: dto.EventApplied})
	case errors.Is(err, domain.ErrCorrelationMiss):
		writeJSON(w, http.StatusAccepted, dto.EventResponse{Status: dto.EventBuffered})
	case errors.Is(err, domain.ErrStaleUpdate):
		writeJSON(w, http.StatusOK, dto.EventResponse{Status: dto.EventStale})
	default:
		writeError(w, mapDomainError(err), "failed to apply event", err.Error())
	}
}
