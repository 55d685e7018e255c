package domain

import (
	"fmt"
	"strings"
)

// PayloadStatusKey is the payload field carrying a ledger result status.
const PayloadStatusKey = "status"

// StatusExpired marks an injected leg-expired signal.
const StatusExpired = "expired"

// LedgerEvent is one notification observed on a ledger subscription, or an
// injected expiry signal.
type LedgerEvent struct {
	ChainID  string         `json:"chain_id"`
	EventRef string         `json:"event_ref"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// ExpiredEvent builds the leg-expired signal for a pending ref.
func ExpiredEvent(chainID, eventRef string) LedgerEvent {
	return LedgerEvent{
		ChainID:  chainID,
		EventRef: eventRef,
		Payload:  map[string]any{PayloadStatusKey: StatusExpired},
	}
}

// LegOutcome is the interpreted result of one leg.
type LegOutcome struct {
	Confirmed bool
	Reason    string
}

// State returns the leg state the outcome moves to.
func (o LegOutcome) State() LegState {
	if o.Confirmed {
		return LegConfirmed
	}
	return LegFailed
}

// Confirmed and Failed build LegOutcome values.
func Confirmed() LegOutcome { return LegOutcome{Confirmed: true} }

func Failed(reason string) LegOutcome { return LegOutcome{Reason: reason} }

// PayloadInterpreter decides whether an event payload confirms its leg.
type PayloadInterpreter func(payload map[string]any) LegOutcome

// StatusInterpreter treats a missing status, HTTP-like 200 and the usual
// success words as confirmation. Anything else, including an "error" field,
// fails the leg. Ledgers whose events always carry a status should use
// StrictStatusInterpreter.
func StatusInterpreter(payload map[string]any) LegOutcome {
	return interpretStatus(payload, false)
}

// StrictStatusInterpreter is StatusInterpreter without the missing-status
// default: an event without a status fails its leg.
func StrictStatusInterpreter(payload map[string]any) LegOutcome {
	return interpretStatus(payload, true)
}

func interpretStatus(payload map[string]any, strict bool) LegOutcome {
	if msg, ok := payload["error"].(string); ok && msg != "" {
		return Failed(msg)
	}

	raw, ok := payload[PayloadStatusKey]
	if !ok || raw == nil {
		if strict {
			return Failed("ledger event carries no status")
		}
		return Confirmed()
	}

	switch v := raw.(type) {
	case float64:
		if v == 200 {
			return Confirmed()
		}
	case int:
		if v == 200 {
			return Confirmed()
		}
	case bool:
		if v {
			return Confirmed()
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "200", "ok", "success", "confirmed", "valid", "committed":
			return Confirmed()
		case StatusExpired:
			return Failed(ErrLegExpired.Error())
		}
	}

	return Failed(fmt.Sprintf("ledger reported status %v", raw))
}
