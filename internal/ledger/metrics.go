package ledger

import (
	"paperbroker/internal/model"
	"paperbroker/internal/types"

	"github.com/shopspring/decimal"
)

// ContractMultiplier scales position P&L in the mock pricing model.
const ContractMultiplier = 100

var (
	contractMultiplier = decimal.NewFromInt(ContractMultiplier)

	tierVIP      = decimal.NewFromInt(100000)
	tierGold     = decimal.NewFromInt(50000)
	tierSilver   = decimal.NewFromInt(25000)
	tierBronze   = decimal.NewFromInt(10000)
	tierStandard = decimal.NewFromInt(5000)
)

// PriceFunc resolves the current price for a symbol. ok=false means
// the oracle had nothing; the metrics computation then marks the
// position at its entry price instead of blocking or failing.
type PriceFunc func(symbol string) (price decimal.Decimal, ok bool)

// Metrics is the full set of derived account figures. Values are
// unrounded; rounding to 2 dp happens once, when they are written back
// to the account.
type Metrics struct {
	Equity        decimal.Decimal
	UsedMargin    decimal.Decimal
	FreeMargin    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	PnLTotal      decimal.Decimal
	Tier          types.AccountTier
}

// PositionPnL is the mark-to-market P&L of a position at the given
// price: direction * (price - entry) * multiplier * (size/entry) * leverage.
func PositionPnL(p model.Position, price decimal.Decimal) decimal.Decimal {
	diff := p.Direction().Mul(price.Sub(p.EntryPrice))
	return diff.Mul(contractMultiplier).Mul(p.Size.Div(p.EntryPrice)).Mul(p.Leverage)
}

// RealizedPnL is the P&L locked in when closing at closePrice, rounded
// to cents.
func RealizedPnL(p model.Position, closePrice decimal.Decimal) decimal.Decimal {
	return PositionPnL(p, closePrice).Round(2)
}

// ComputeMetrics derives every account metric from the balance, the
// position sets and a price lookup. It is a pure function: identical
// inputs always produce identical outputs.
func ComputeMetrics(balance decimal.Decimal, open, closed []model.Position, priceAt PriceFunc) Metrics {
	usedMargin := decimal.Zero
	unrealized := decimal.Zero
	for _, p := range open {
		usedMargin = usedMargin.Add(p.Margin())
		price, ok := priceAt(p.Instrument)
		if !ok {
			price = p.EntryPrice
		}
		unrealized = unrealized.Add(PositionPnL(p, price))
	}

	realized := decimal.Zero
	for _, p := range closed {
		if p.PnL != nil {
			realized = realized.Add(*p.PnL)
		}
	}

	equity := balance.Add(unrealized)
	return Metrics{
		Equity:        equity,
		UsedMargin:    usedMargin,
		FreeMargin:    equity.Sub(usedMargin),
		UnrealizedPnL: unrealized,
		RealizedPnL:   realized,
		PnLTotal:      realized.Add(unrealized),
		Tier:          TierFor(balance),
	}
}

// TierFor maps a balance onto the account tier ladder.
func TierFor(balance decimal.Decimal) types.AccountTier {
	switch {
	case balance.GreaterThanOrEqual(tierVIP):
		return types.TierVIP
	case balance.GreaterThanOrEqual(tierGold):
		return types.TierGold
	case balance.GreaterThanOrEqual(tierSilver):
		return types.TierSilver
	case balance.GreaterThanOrEqual(tierBronze):
		return types.TierBronze
	case balance.GreaterThanOrEqual(tierStandard):
		return types.TierStandard
	default:
		return types.TierStudent
	}
}
