package pending

import (
	"context"
	"sync"

	"github.com/pg-sharding/bulkload/pkg/models/loaderror"
)

// TxnRegistrar records the indexes a load writes into its transaction.
type TxnRegistrar interface {
	AddTableIndexes(ctx context.Context, txnID, tableID int64, indexIDs []int64) error
}

// MemTxns is an in-memory TxnRegistrar.
type MemTxns struct {
	mu   sync.Mutex
	txns map[int64]map[int64][]int64
}

var _ TxnRegistrar = &MemTxns{}

func NewMemTxns() *MemTxns {
	return &MemTxns{txns: map[int64]map[int64][]int64{}}
}

// Begin opens a transaction. Opening it twice is a no-op.
func (m *MemTxns) Begin(txnID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txns[txnID]; !ok {
		m.txns[txnID] = map[int64][]int64{}
	}
}

// Abort forgets a transaction.
func (m *MemTxns) Abort(txnID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txns, txnID)
}

func (m *MemTxns) AddTableIndexes(_ context.Context, txnID, tableID int64, indexIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tables, ok := m.txns[txnID]
	if !ok {
		return loaderror.Newf(loaderror.LOAD_NOT_FOUND, "txn does not exist: %d", txnID)
	}
	tables[tableID] = append([]int64(nil), indexIDs...)
	return nil
}

// TableIndexes returns the indexes registered for a table.
func (m *MemTxns) TableIndexes(txnID, tableID int64) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txns[txnID][tableID]
}
