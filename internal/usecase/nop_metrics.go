package usecase

import (
	"time"

	"github.com/iho/xledger/internal/domain"
)

// NopMetrics discards saga observations.
type NopMetrics struct{}

func (NopMetrics) LegSubmitted(domain.Leg)                       {}
func (NopMetrics) LegResolved(domain.Leg, domain.LegState)       {}
func (NopMetrics) TransferFinished(domain.Outcome, time.Duration) {}
func (NopMetrics) CorrelationMiss(string)                        {}
func (NopMetrics) EarlyEventReplayed(string)                     {}
