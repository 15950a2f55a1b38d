package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"opt-hedge-bot/internal/alerts"
	"opt-hedge-bot/internal/config"
	"opt-hedge-bot/internal/hedge"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64             `json:"update_id"`
	Time         time.Time         `json:"time"`
	Action       string            `json:"action"`
	Command      string            `json:"command"`
	UserID       int64             `json:"user_id"`
	Username     string            `json:"username,omitempty"`
	ChatID       int64             `json:"chat_id"`
	PausedBefore bool              `json:"paused_before"`
	PausedAfter  bool              `json:"paused_after"`
	Contract     string            `json:"contract,omitempty"`
	Quantity     float64           `json:"quantity,omitempty"`
	Threshold    *config.Threshold `json:"threshold,omitempty"`
	Interval     string            `json:"interval,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled || !a.alerts.Enabled() {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "add":
		return a.handleAddCommand(ctx, args, meta)
	case "remove":
		return a.handleRemoveCommand(ctx, args, meta)
	case "positions":
		return a.positionsStatus(), nil
	case "orders":
		return a.orderHistory(ctx)
	case "status":
		return a.operatorStatus(), nil
	case "hedge":
		report, err := a.TriggerCycle(ctx)
		if err != nil {
			return "", err
		}
		return formatReport(report), nil
	case "pause":
		before := a.engine.Paused()
		a.engine.Pause()
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "pause",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  true,
		})
		if before {
			return "hedging already paused", nil
		}
		return "hedging paused", nil
	case "resume":
		before := a.engine.Paused()
		a.engine.Resume()
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "resume",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  false,
		})
		if !before {
			return "hedging already active", nil
		}
		return "hedging resumed", nil
	case "threshold":
		return a.handleThresholdCommand(ctx, args, meta)
	case "interval":
		return a.handleIntervalCommand(ctx, args, meta)
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) handleAddCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) != 2 {
		return "", errors.New("usage: /add CONTRACT QUANTITY (e.g. /add SOL-USD-215-C -2)")
	}
	qty, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return "", fmt.Errorf("quantity: %w", err)
	}
	pos, err := a.ledger.Add(ctx, args[0], qty)
	if err != nil {
		return "", err
	}
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     time.Now().UTC(),
		Action:   "ledger_add",
		Command:  meta.Raw,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
		Contract: args[0],
		Quantity: qty,
	})
	if pos.Quantity == 0 {
		return fmt.Sprintf("%s netted to zero and was removed", pos.ContractID), nil
	}
	return fmt.Sprintf("%s now %s", pos.ContractID, formatQty(pos.Quantity)), nil
}

func (a *App) handleRemoveCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) != 1 {
		return "", errors.New("usage: /remove CONTRACT")
	}
	if err := a.ledger.Remove(ctx, args[0]); err != nil {
		return "", err
	}
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     time.Now().UTC(),
		Action:   "ledger_remove",
		Command:  meta.Raw,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
		Contract: args[0],
	})
	return fmt.Sprintf("%s removed", args[0]), nil
}

func (a *App) handleThresholdCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) == 0 || strings.EqualFold(args[0], "show") {
		return a.thresholdStatus(), nil
	}
	if len(args) < 2 || len(args) > 3 {
		return "", errors.New("usage: /threshold UNDERLYING TOLERANCE [MIN_ORDER_SIZE]")
	}
	underlying := strings.ToUpper(args[0])
	tolerance, err := strconv.ParseFloat(args[1], 64)
	if err != nil || tolerance < 0 {
		return "", fmt.Errorf("invalid tolerance: %s", args[1])
	}
	th := config.Threshold{Tolerance: tolerance}
	if len(args) == 3 {
		minSize, err := strconv.ParseFloat(args[2], 64)
		if err != nil || minSize < 0 {
			return "", fmt.Errorf("invalid min order size: %s", args[2])
		}
		th.MinOrderSize = minSize
	}
	a.setThresholdOverride(underlying, th)
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID:  meta.UpdateID,
		Time:      time.Now().UTC(),
		Action:    "threshold_set",
		Command:   meta.Raw,
		UserID:    meta.UserID,
		Username:  meta.Username,
		ChatID:    meta.ChatID,
		Contract:  underlying,
		Threshold: &th,
	})
	return fmt.Sprintf("%s threshold now tolerance=%s min_order_size=%s",
		underlying, formatQty(th.Tolerance), formatQty(th.MinOrderSize)), nil
}

func (a *App) handleIntervalCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) != 1 {
		return "", errors.New("usage: /interval DURATION (e.g. /interval 30s)")
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return "", err
	}
	if d < time.Second {
		return "", errors.New("interval must be at least 1s")
	}
	a.setCycleInterval(d)
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     time.Now().UTC(),
		Action:   "interval_set",
		Command:  meta.Raw,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
		Interval: d.String(),
	})
	return fmt.Sprintf("cycle interval now %s", d), nil
}

func (a *App) positionsStatus() string {
	positions := a.ledger.List()
	if len(positions) == 0 {
		return "ledger is empty"
	}
	lines := make([]string, 0, len(positions))
	for _, pos := range positions {
		lines = append(lines, fmt.Sprintf("%s: %s", pos.ContractID, formatQty(pos.Quantity)))
	}
	return strings.Join(lines, "\n")
}

func (a *App) orderHistory(ctx context.Context) (string, error) {
	records, err := a.store.List(ctx, orderHistoryPrefix)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "no hedge orders recorded", nil
	}
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		var rec orderRecord
		if err := json.Unmarshal([]byte(records[k]), &rec); err != nil {
			continue
		}
		line := fmt.Sprintf("%s %s %s %s filled=%s status=%s",
			rec.Time.Format(time.RFC3339), rec.Underlying, rec.Side,
			formatQty(rec.Size), formatQty(rec.Filled), rec.Status)
		if rec.Reason != "" {
			line += " reason=" + rec.Reason
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (a *App) operatorStatus() string {
	a.opsMu.RLock()
	report := a.lastReport
	interval := a.interval
	a.opsMu.RUnlock()

	lines := []string{
		fmt.Sprintf("paused: %t", a.engine.Paused()),
		fmt.Sprintf("interval: %s", interval),
		fmt.Sprintf("positions: %d", len(a.ledger.List())),
		fmt.Sprintf("last_cycle: %d", report.Cycle),
		fmt.Sprintf("degraded: %t", report.Degraded),
	}
	for _, check := range report.Checks {
		lines = append(lines, fmt.Sprintf("%s: target=%s held=%s gap=%s state=%s",
			check.Underlying,
			formatQty(check.TargetHedge),
			formatQty(check.Held),
			formatQty(check.Gap),
			check.State))
	}
	return strings.Join(lines, "\n")
}

func (a *App) thresholdStatus() string {
	a.opsMu.RLock()
	overrides := make(map[string]config.Threshold, len(a.thresholds))
	for u, th := range a.thresholds {
		overrides[u] = th
	}
	a.opsMu.RUnlock()

	lines := []string{
		fmt.Sprintf("default: tolerance=%s min_order_size=%s",
			formatQty(a.cfg.Hedge.Threshold.Tolerance),
			formatQty(a.cfg.Hedge.Threshold.MinOrderSize)),
	}
	for u, th := range a.cfg.Hedge.Underlyings {
		lines = append(lines, fmt.Sprintf("%s (config): tolerance=%s min_order_size=%s",
			u, formatQty(th.Tolerance), formatQty(th.MinOrderSize)))
	}
	for u, th := range overrides {
		lines = append(lines, fmt.Sprintf("%s (override): tolerance=%s min_order_size=%s",
			u, formatQty(th.Tolerance), formatQty(th.MinOrderSize)))
	}
	return strings.Join(lines, "\n")
}

func formatReport(report hedge.CycleReport) string {
	if report.Degraded {
		return fmt.Sprintf("cycle %d: degraded, no evaluation", report.Cycle)
	}
	if len(report.Checks) == 0 {
		return fmt.Sprintf("cycle %d: nothing to hedge", report.Cycle)
	}
	lines := make([]string, 0, len(report.Checks)+1)
	lines = append(lines, fmt.Sprintf("cycle %d:", report.Cycle))
	for _, check := range report.Checks {
		lines = append(lines, fmt.Sprintf("%s: gap=%s state=%s",
			check.Underlying, formatQty(check.Gap), check.State))
	}
	return strings.Join(lines, "\n")
}

func formatQty(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/add CONTRACT QTY - record an option position (e.g. /add SOL-USD-215-C -2)",
		"/remove CONTRACT - drop a position from the ledger",
		"/positions - list tracked positions",
		"/orders - recent hedge order history",
		"/status - engine status and last cycle",
		"/hedge - run a reconcile cycle now",
		"/pause - stop dispatching hedge orders",
		"/resume - resume dispatching",
		"/threshold UNDERLYING TOL [MIN] - override rebalance threshold",
		"/threshold show - show active thresholds",
		"/interval DURATION - change the cycle interval",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	if a.log == nil {
		return
	}
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	if val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
