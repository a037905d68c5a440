package negotiation

// Price rules for the simulated dealer agent. All favor the buyer: the agent
// opens well under the target and only concedes upward when the buyer's
// counter already carries a meaningful discount.

const (
	// priceLookback bounds the reverse scan that derives the current
	// negotiated price from the message ledger.
	priceLookback = 10

	initialOfferMultiplier = 0.87
	overpricedFairValueCut = 0.95

	excellentDiscountPct = 10.0
	goodDiscountPct      = 5.0

	holdFirmMultiplier   = 1.01
	smallRaiseMultiplier = 1.02
	pressDownMultiplier  = 0.98

	defaultTargetRate = 0.90
)

// DiscountPercent is how far price sits below (positive) or above (negative)
// the asking price, in percent.
func DiscountPercent(asking, price float64) float64 {
	if asking <= 0 {
		return 0
	}
	return (asking - price) / asking * 100
}

// OpeningOffer computes the first suggested price. An externally supplied
// fair value below 90% of asking marks the deal as overpriced and anchors an
// aggressive opening just under fair value; otherwise the opening starts 13%
// under the best anchor available.
func OpeningOffer(asking, userTarget float64, fairValue *float64) float64 {
	if fairValue != nil && *fairValue < asking*0.9 {
		return *fairValue * overpricedFairValueCut
	}
	base := userTarget
	if fairValue != nil {
		base = *fairValue
	}
	return base * initialOfferMultiplier
}

// CounterResponse computes the agent's new suggested price in reply to a
// buyer counter-offer. A counter already >=10% under asking is held almost
// flat; >=5% gets a small raise; anything weaker is pushed further down.
func CounterResponse(asking, counterOffer float64) float64 {
	disc := DiscountPercent(asking, counterOffer)
	switch {
	case disc >= excellentDiscountPct:
		return counterOffer * holdFirmMultiplier
	case disc >= goodDiscountPct:
		return counterOffer * smallRaiseMultiplier
	default:
		return counterOffer * pressDownMultiplier
	}
}

// LatestSuggestedPrice derives the current negotiated price: scan the most
// recent messages (newest first, bounded look-back) for the first
// suggested_price entry, falling back to the asking price. Every operation
// that needs the current price goes through this helper.
func LatestSuggestedPrice(newestFirst []Message, asking float64) float64 {
	for i, m := range newestFirst {
		if i >= priceLookback {
			break
		}
		if v, ok := m.Metadata.Float(MetaSuggestedPrice); ok {
			return v
		}
	}
	return asking
}

// LatestTargetPrice resolves the buyer's most recently stated target the same
// way, defaulting to 90% of asking.
func LatestTargetPrice(newestFirst []Message, asking float64) float64 {
	for i, m := range newestFirst {
		if i >= priceLookback {
			break
		}
		if v, ok := m.Metadata.Float(MetaTargetPrice); ok {
			return v
		}
	}
	return asking * defaultTargetRate
}
