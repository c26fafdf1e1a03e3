package services

import (
	"context"
	"sync"

	"rufous/internal/core"
)

// MemoryOverrides keeps manual category overrides in memory. It backs the
// override endpoints when the service runs without SQLite; overrides are lost
// on restart.
type MemoryOverrides struct {
	mu    sync.RWMutex
	byTxn map[string]string
}

func NewMemoryOverrides() *MemoryOverrides {
	return &MemoryOverrides{byTxn: make(map[string]string)}
}

func (m *MemoryOverrides) SetCategory(ctx context.Context, txnID, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byTxn[txnID] = category
	return nil
}

func (m *MemoryOverrides) ClearCategory(ctx context.Context, txnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byTxn[txnID]; !ok {
		return core.ErrTransactionNotFound
	}
	delete(m.byTxn, txnID)
	return nil
}

// Overrides returns every stored override. Transaction IDs are globally
// unique, so account scoping happens naturally when the caller applies them.
func (m *MemoryOverrides) Overrides(ctx context.Context, accountID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.byTxn))
	for id, category := range m.byTxn {
		out[id] = category
	}
	return out, nil
}
