package auction

import (
	"github.com/shopspring/decimal"

	"github.com/maqzone/livebid/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// BuyerPremium is the fee added to a hammer price at settlement, rounded
// half away from zero to whole currency units. Settlement itself happens
// downstream; this figure is informational.
func BuyerPremium(hammer int64, cfg domain.AuctionConfig) int64 {
	if hammer <= 0 {
		return 0
	}
	pct := cfg.WithDefaults().BuyerPremiumPct
	return decimal.NewFromInt(hammer).Mul(pct).Div(hundred).Round(0).IntPart()
}
