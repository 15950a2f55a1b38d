package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"opt-hedge-bot/internal/state"

	"go.uber.org/zap"
)

var ErrInvalidContract = errors.New("invalid contract id")

const positionKeyPrefix = "ledger:position:"

// Position is one tracked option position. Quantity is signed:
// positive long, negative short.
type Position struct {
	ContractID string
	Quantity   float64
}

// Ledger owns the set of operator-entered option positions. A repeated Add
// for the same contract accumulates quantity; an entry whose quantity nets
// to zero is pruned. Mutations are mirrored into the kv store so a restart
// reloads the book.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]float64
	store     state.Store
	log       *zap.Logger
}

func New(store state.Store, log *zap.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]float64),
		store:     store,
		log:       log,
	}
}

// Load restores persisted positions. Entries that fail to parse are
// dropped with a warning rather than aborting startup.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	entries, err := l.store.List(ctx, positionKeyPrefix)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, raw := range entries {
		contractID := strings.TrimPrefix(key, positionKeyPrefix)
		qty, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || qty == 0 {
			l.log.Warn("dropping unparseable ledger entry", zap.String("contract", contractID), zap.String("raw", raw))
			continue
		}
		if err := ValidateContractID(contractID); err != nil {
			l.log.Warn("dropping invalid ledger entry", zap.String("contract", contractID))
			continue
		}
		l.positions[contractID] = qty
	}
	return nil
}

// Add inserts or accumulates a position. Accumulation (not replacement) is
// the fixed policy: add SOL-USD-215-C 2 twice leaves quantity 4, and an
// opposite-signed add reduces toward zero. A net-zero result deletes the
// entry.
func (l *Ledger) Add(ctx context.Context, contractID string, quantity float64) (Position, error) {
	if err := ValidateContractID(contractID); err != nil {
		return Position{}, err
	}
	if quantity == 0 {
		return Position{}, fmt.Errorf("%w: quantity must be non-zero", ErrInvalidContract)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.positions[contractID] + quantity
	if next == 0 {
		delete(l.positions, contractID)
		l.persistDelete(ctx, contractID)
		return Position{ContractID: contractID, Quantity: 0}, nil
	}
	l.positions[contractID] = next
	l.persistSet(ctx, contractID, next)
	return Position{ContractID: contractID, Quantity: next}, nil
}

// Remove deletes the entry outright. Removing an absent contract is a
// no-op so a double remove from the operator console is harmless.
func (l *Ledger) Remove(ctx context.Context, contractID string) error {
	if err := ValidateContractID(contractID); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[contractID]; !ok {
		return nil
	}
	delete(l.positions, contractID)
	l.persistDelete(ctx, contractID)
	return nil
}

// List returns a point-in-time copy sorted by contract id. Callers may
// iterate it freely while the ledger keeps mutating.
func (l *Ledger) List() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for id, qty := range l.positions {
		out = append(out, Position{ContractID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContractID < out[j].ContractID })
	return out
}

func (l *Ledger) Get(contractID string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	qty, ok := l.positions[contractID]
	return Position{ContractID: contractID, Quantity: qty}, ok
}

func (l *Ledger) persistSet(ctx context.Context, contractID string, qty float64) {
	if l.store == nil {
		return
	}
	val := strconv.FormatFloat(qty, 'f', -1, 64)
	if err := l.store.Set(ctx, positionKeyPrefix+contractID, val); err != nil {
		l.log.Warn("failed to persist ledger entry", zap.String("contract", contractID), zap.Error(err))
	}
}

func (l *Ledger) persistDelete(ctx context.Context, contractID string) {
	if l.store == nil {
		return
	}
	if err := l.store.Delete(ctx, positionKeyPrefix+contractID); err != nil {
		l.log.Warn("failed to delete ledger entry", zap.String("contract", contractID), zap.Error(err))
	}
}

// ValidateContractID checks the UNDERLYING-QUOTE-STRIKE-{C|P} shape used by
// the options venue, e.g. SOL-USD-215-C.
func ValidateContractID(contractID string) error {
	parts := strings.Split(contractID, "-")
	if len(parts) != 4 {
		return fmt.Errorf("%w: %q", ErrInvalidContract, contractID)
	}
	if parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: %q", ErrInvalidContract, contractID)
	}
	if _, err := strconv.ParseFloat(parts[2], 64); err != nil {
		return fmt.Errorf("%w: bad strike in %q", ErrInvalidContract, contractID)
	}
	if parts[3] != "C" && parts[3] != "P" {
		return fmt.Errorf("%w: bad option kind in %q", ErrInvalidContract, contractID)
	}
	return nil
}

// Underlying extracts the base asset from a contract id. Invalid ids
// return the empty string.
func Underlying(contractID string) string {
	idx := strings.IndexByte(contractID, '-')
	if idx <= 0 {
		return ""
	}
	return contractID[:idx]
}
