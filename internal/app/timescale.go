package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"opt-hedge-bot/internal/hedge"
	"opt-hedge-bot/internal/timescale"

	"go.uber.org/zap"
)

const (
	orderHistoryPrefix = "hedge:order:"
	orderHistoryKeep   = 20
)

type orderRecord struct {
	Time       time.Time `json:"time"`
	Underlying string    `json:"underlying"`
	Side       string    `json:"side"`
	Size       float64   `json:"size"`
	Filled     float64   `json:"filled"`
	Status     string    `json:"status"`
	TxHash     string    `json:"tx_hash,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

func (a *App) recordReport(report hedge.CycleReport) {
	if a.writer == nil {
		return
	}
	now := time.Now().UTC()
	for _, check := range report.Checks {
		a.writer.EnqueueExposure(timescale.ExposureSnapshot{
			Time:        now,
			Underlying:  check.Underlying,
			TargetDelta: check.TargetDelta,
			TargetHedge: check.TargetHedge,
			HedgeHeld:   check.Held,
			Gap:         check.Gap,
			Partial:     check.Partial,
			State:       string(check.State),
			Cycle:       report.Cycle,
		})
	}
}

// handleOutcome runs on the engine's dispatch goroutine: it records the
// order in the audit table and notifies the operator channel about
// anything that needs eyes.
func (a *App) handleOutcome(outcome hedge.Outcome) {
	if a.writer != nil {
		a.writer.EnqueueOrder(timescale.HedgeOrder{
			Time:       time.Now().UTC(),
			Underlying: outcome.Intent.Underlying,
			Side:       string(outcome.Intent.Side),
			Size:       outcome.Intent.Size,
			WorstPrice: outcome.Intent.WorstPrice,
			Filled:     outcome.Filled,
			Status:     string(outcome.Status),
			TxHash:     outcome.TxHash,
			Reason:     outcome.Reason,
			ClientID:   outcome.Intent.ClientID,
		})
	}
	a.recordOrder(outcome)
	if outcome.Status == hedge.OutcomeFilled {
		return
	}
	msg := fmt.Sprintf("hedge %s %s %.6f %s: %s", outcome.Status, outcome.Intent.Side,
		outcome.Intent.Size, outcome.Intent.Underlying, outcome.Reason)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.alerts.Send(ctx, msg); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}

// handleAuthFailure pushes the one-time credential alert to the operator
// channel. The engine holds the affected scope out of reconciliation
// until /resume, so this has to reach a human.
func (a *App) handleAuthFailure(underlying string, err error) {
	msg := fmt.Sprintf("auth failure on hedge venue for %s: %v\nhedging for it is halted until /resume", underlying, err)
	if underlying == "" {
		msg = fmt.Sprintf("auth failure on delta source: %v\nreconciliation is halted until /resume", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.alerts.Send(ctx, msg); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}

// recordOrder keeps a short kv-backed order history for the operator,
// pruned to the newest entries. Keys sort by timestamp.
func (a *App) recordOrder(outcome hedge.Outcome) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := orderRecord{
		Time:       time.Now().UTC(),
		Underlying: outcome.Intent.Underlying,
		Side:       string(outcome.Intent.Side),
		Size:       outcome.Intent.Size,
		Filled:     outcome.Filled,
		Status:     string(outcome.Status),
		TxHash:     outcome.TxHash,
		Reason:     outcome.Reason,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s%020d", orderHistoryPrefix, rec.Time.UnixNano())
	if err := a.store.Set(ctx, key, string(payload)); err != nil {
		a.log.Warn("order history write failed", zap.Error(err))
		return
	}
	existing, err := a.store.List(ctx, orderHistoryPrefix)
	if err != nil || len(existing) <= orderHistoryKeep {
		return
	}
	keys := make([]string, 0, len(existing))
	for k := range existing {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-orderHistoryKeep] {
		_ = a.store.Delete(ctx, k)
	}
}
