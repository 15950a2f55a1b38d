package state

import (
	"context"
	"encoding/json"
	"strings"
)

const EngineSnapshotKey = "hedge:last_cycle"

// EngineSnapshot is the last reconciliation cycle result persisted for
// operator status across restarts.
type EngineSnapshot struct {
	Paused      bool                 `json:"paused"`
	CycleCount  uint64               `json:"cycle_count"`
	Underlyings map[string]GapRecord `json:"underlyings"`
	UpdatedAtMS int64                `json:"updated_at_ms"`
}

type GapRecord struct {
	TargetDelta float64 `json:"target_delta"`
	HedgeHeld   float64 `json:"hedge_held"`
	Gap         float64 `json:"gap"`
	Partial     bool    `json:"partial"`
	State       string  `json:"state"`
}

func LoadEngineSnapshot(ctx context.Context, store Store) (EngineSnapshot, bool, error) {
	if store == nil {
		return EngineSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, EngineSnapshotKey)
	if err != nil {
		return EngineSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return EngineSnapshot{}, false, nil
	}
	var snapshot EngineSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return EngineSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveEngineSnapshot(ctx context.Context, store Store, snapshot EngineSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, EngineSnapshotKey, string(payload))
}
