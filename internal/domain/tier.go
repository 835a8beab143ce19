// internal/domain/tier.go
package domain

import "github.com/shopspring/decimal"

// Tier is a caller-facing classification derived from balance thresholds.
type Tier string

const (
	TierFree   Tier = "free"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

var (
	silverThreshold = decimal.NewFromInt(10_000)
	goldThreshold   = decimal.NewFromInt(100_000)
)

// TierFor classifies a balance. Unknown addresses are treated as zero, so free.
func TierFor(balance decimal.Decimal) Tier {
	switch {
	case balance.GreaterThanOrEqual(goldThreshold):
		return TierGold
	case balance.GreaterThanOrEqual(silverThreshold):
		return TierSilver
	default:
		return TierFree
	}
}
