package history

import (
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// View is an immutable snapshot of a customer's transaction history, ordered
// chronologically (oldest first). Narrowing methods return derived views
// sharing the underlying records; checks never mutate transactions.
type View struct {
	txs []*domain.Transaction
}

// NewView builds a view from transactions in any order.
func NewView(txs []*domain.Transaction) *View {
	sorted := make([]*domain.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &View{txs: sorted}
}

// All returns the snapshot's transactions, oldest first.
func (v *View) All() []*domain.Transaction {
	return v.txs
}

// Len returns the number of transactions in the snapshot.
func (v *View) Len() int {
	return len(v.txs)
}

// Empty reports whether the snapshot holds no transactions. An empty history
// is a meaningful state (a first-time customer), not an error.
func (v *View) Empty() bool {
	return len(v.txs) == 0
}

// Oldest returns the earliest transaction, or nil for an empty view.
func (v *View) Oldest() *domain.Transaction {
	if len(v.txs) == 0 {
		return nil
	}
	return v.txs[0]
}

// Newest returns the latest transaction, or nil for an empty view.
func (v *View) Newest() *domain.Transaction {
	if len(v.txs) == 0 {
		return nil
	}
	return v.txs[len(v.txs)-1]
}

// Filter returns a view of the transactions matching pred, order preserved.
func (v *View) Filter(pred func(*domain.Transaction) bool) *View {
	out := make([]*domain.Transaction, 0, len(v.txs))
	for _, tx := range v.txs {
		if pred(tx) {
			out = append(out, tx)
		}
	}
	return &View{txs: out}
}

// Since narrows the view to transactions at or after t.
func (v *View) Since(t time.Time) *View {
	// Ordered ascending, so binary search for the cut point.
	i := sort.Search(len(v.txs), func(i int) bool {
		return !v.txs[i].Timestamp.Before(t)
	})
	return &View{txs: v.txs[i:]}
}

// Before narrows the view to transactions strictly before t.
func (v *View) Before(t time.Time) *View {
	i := sort.Search(len(v.txs), func(i int) bool {
		return !v.txs[i].Timestamp.Before(t)
	})
	return &View{txs: v.txs[:i]}
}

// Merchant narrows the view to one merchant.
func (v *View) Merchant(merchantID string) *View {
	return v.Filter(func(tx *domain.Transaction) bool {
		return tx.MerchantID == merchantID
	})
}

// Category narrows the view to one merchant category.
func (v *View) Category(category string) *View {
	return v.Filter(func(tx *domain.Transaction) bool {
		return tx.Category == category
	})
}

// Amounts returns the transaction amounts in chronological order.
func (v *View) Amounts() []float64 {
	out := make([]float64, len(v.txs))
	for i, tx := range v.txs {
		out[i] = tx.Amount
	}
	return out
}
