package invest

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory operation journal for demo/development mode.
type MemoryStore struct {
	ops map[string]*Operation
	mu  sync.RWMutex
}

// NewMemoryStore creates a new in-memory operation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ops: make(map[string]*Operation),
	}
}

func (m *MemoryStore) CreateOperation(_ context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *op
	m.ops[op.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateOperation(_ context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ops[op.ID]; !ok {
		return ErrOperationNotFound
	}
	cp := *op
	m.ops[op.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOperation(_ context.Context, id string) (*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	cp := *op
	return &cp, nil
}

func (m *MemoryStore) ListByWallet(_ context.Context, walletAddr string, limit int) ([]*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Operation
	for _, op := range m.ops {
		if strings.EqualFold(op.WalletAddr, walletAddr) {
			cp := *op
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
