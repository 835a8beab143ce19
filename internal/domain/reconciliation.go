// internal/domain/reconciliation.go
package domain

import "github.com/shopspring/decimal"

// Reconciliation is the result of replaying an address's audit log against its
// stored balance.
type Reconciliation struct {
	UserAddress     string          `json:"user_address"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ReplayedBalance decimal.Decimal `json:"replayed_balance"`
	Entries         int             `json:"entries"`
	Problems        []string        `json:"problems"`
}

// Consistent reports whether the replay found no problems.
func (r *Reconciliation) Consistent() bool {
	return len(r.Problems) == 0
}
