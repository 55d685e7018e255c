package dto

import (
	"time"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

// TransferResponse represents a transfer in API responses.
type TransferResponse struct {
	ID              string             `json:"id"`
	RuleID          string             `json:"rule_id"`
	Topology        domain.Topology    `json:"topology"`
	Source          domain.Endpoint    `json:"source"`
	Destination     domain.Endpoint    `json:"destination"`
	Stage           domain.Stage       `json:"stage"`
	Progress        string             `json:"progress"`
	Outcome         domain.Outcome     `json:"outcome,omitempty"`
	PendingEventRef string             `json:"pending_event_ref,omitempty"`
	PendingSince    *time.Time         `json:"pending_since,omitempty"`
	Version         int64              `json:"version"`
	History         []domain.LegResult `json:"history"`
	Failure         string             `json:"failure,omitempty"`
	Reason          string             `json:"reason,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// TransferFromDomain converts a transfer to a response.
func TransferFromDomain(t *domain.Transfer) *TransferResponse {
	resp := &TransferResponse{
		ID:              t.ID,
		RuleID:          t.RuleID,
		Topology:        t.Topology,
		Source:          t.Source,
		Destination:     t.Destination,
		Stage:           t.Stage,
		Progress:        domain.ProgressOf(t),
		Outcome:         t.Outcome,
		PendingEventRef: t.PendingEventRef,
		Version:         t.Version,
		History:         t.History,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
	if resp.History == nil {
		resp.History = []domain.LegResult{}
	}
	if t.IsPending() && !t.PendingSince.IsZero() {
		since := t.PendingSince
		resp.PendingSince = &since
	}
	if err := t.Outcome.Surfaced(); err != nil {
		resp.Failure = err.Error()
	}
	return resp
}

// TransferFromStatus converts a status view to a response.
func TransferFromStatus(s *usecase.TransferStatus) *TransferResponse {
	resp := TransferFromDomain(s.Transfer)
	resp.Progress = s.Progress
	resp.Reason = s.Reason
	if s.Failure != nil {
		resp.Failure = s.Failure.Error()
	}
	return resp
}

// TransfersFromDomain converts transfers to responses.
func TransfersFromDomain(transfers []*domain.Transfer) []*TransferResponse {
	result := make([]*TransferResponse, len(transfers))
	for i, t := range transfers {
		result[i] = TransferFromDomain(t)
	}
	return result
}

// TransferListResponse is a page of transfers.
type TransferListResponse struct {
	Transfers []*TransferResponse `json:"transfers"`
	Limit     int                 `json:"limit"`
	Offset    int                 `json:"offset"`
}

// OutboxEventResponse is a terminal transfer event as written to the outbox.
type OutboxEventResponse struct {
	ID          string         `json:"id"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload"`
	CreatedAt   time.Time      `json:"created_at"`
	Published   bool           `json:"published"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
}

// TransferEventsResponse lists the outbox events of one transfer.
type TransferEventsResponse struct {
	TransferID string                 `json:"transfer_id"`
	Events     []*OutboxEventResponse `json:"events"`
}

// OutboxEventsFromDomain converts outbox events to responses.
func OutboxEventsFromDomain(events []*domain.OutboxEvent) []*OutboxEventResponse {
	result := make([]*OutboxEventResponse, len(events))
	for i, e := range events {
		result[i] = &OutboxEventResponse{
			ID:          e.ID,
			EventType:   e.EventType,
			Payload:     e.Payload,
			CreatedAt:   e.CreatedAt,
			Published:   e.Published,
			PublishedAt: e.PublishedAt,
		}
	}
	return result
}

// EventResponse reports what the coordinator did with a pushed event.
type EventResponse struct {
	Status string `json:"status"`
}

// Event dispositions.
const (
	EventApplied  = "applied"
	EventBuffered = "buffered"
	EventStale    = "stale"
)

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
