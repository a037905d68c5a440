package negotiation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/carverlabs/dealpilot/internal/deal"
)

// AIMetrics is the per-turn scoring snapshot attached to agent messages.
type AIMetrics struct {
	ConfidenceScore      float64  `json:"confidence_score"`
	RecommendedAction    string   `json:"recommended_action"`
	DealerConcessionRate float64  `json:"dealer_concession_rate"`
	NegotiationVelocity  float64  `json:"negotiation_velocity"`
	MarketComparison     string   `json:"market_comparison"`
	StrategyAdjustments  string   `json:"strategy_adjustments"`
	MarketAveragePrice   *float64 `json:"market_average_price,omitempty"`
	DemandLevel          string   `json:"demand_level,omitempty"`
	PriceTrend           string   `json:"price_trend,omitempty"`
	SuccessProbability   *float64 `json:"success_probability,omitempty"`
}

const (
	ActionAccept   = "accept"
	ActionCounter  = "counter"
	ActionConsider = "consider"
	ActionReject   = "reject"
)

type MarketComparables struct {
	AveragePrice float64 `json:"average_price"`
	MedianPrice  float64 `json:"median_price"`
	TotalFound   int     `json:"total_found"`
	Summary      string  `json:"summary"`
}

type MarketTrend struct {
	TrendDirection string `json:"trend_direction"`
	DemandLevel    string `json:"demand_level"`
	DaysSupply     int    `json:"days_supply"`
}

// MarketSource supplies optional market intelligence. May be nil; every call
// is best-effort.
type MarketSource interface {
	GetComparables(ctx context.Context, mk, mdl string, year, mileage int) (*MarketComparables, error)
	GetPriceTrend(ctx context.Context, mk, mdl string, year int) (*MarketTrend, error)
}

// SuccessSignal supplies an optional ML success-probability estimate.
type SuccessSignal interface {
	SuccessProbability(ctx context.Context, sessionID string, currentPrice, userTarget, asking float64) (float64, error)
}

// MetricsCalculator scores a negotiation turn. The base computation is pure;
// market and ML enrichments are layered on top and individually swallowed on
// failure, so the base metrics always come back.
type MetricsCalculator struct {
	market MarketSource
	signal SuccessSignal
}

func NewMetricsCalculator(market MarketSource, signal SuccessSignal) *MetricsCalculator {
	return &MetricsCalculator{market: market, signal: signal}
}

func confidenceForDiscount(disc float64) float64 {
	switch {
	case disc < 0:
		return 0.20
	case disc >= 15:
		return 0.95
	case disc >= 10:
		return 0.85
	case disc >= 5:
		return 0.75
	case disc >= 2:
		return 0.65
	default:
		return 0.50
	}
}

func distinctRounds(messages []Message) int {
	seen := map[int]bool{}
	for _, m := range messages {
		seen[m.Round] = true
	}
	return len(seen)
}

// Compute builds the metrics snapshot for the current price position.
func (c *MetricsCalculator) Compute(ctx context.Context, sessionID string, d *deal.Deal, currentPrice, userTarget float64, messages []Message) AIMetrics {
	asking := d.AskingPrice
	disc := DiscountPercent(asking, currentPrice)

	concession := 0.0
	if asking > 0 {
		concession = (asking - currentPrice) / asking
	}

	rounds := distinctRounds(messages)
	velocityRounds := rounds
	if velocityRounds < 1 {
		velocityRounds = 1
	}

	m := AIMetrics{
		ConfidenceScore:      confidenceForDiscount(disc),
		RecommendedAction:    recommendAction(disc, currentPrice, userTarget),
		DealerConcessionRate: concession,
		NegotiationVelocity:  (asking - currentPrice) / float64(velocityRounds),
		StrategyAdjustments:  strategyText(concession, rounds),
		MarketComparison:     marketComparisonText(disc),
	}

	c.enrichMarket(ctx, d, currentPrice, &m)
	c.enrichSuccessSignal(ctx, sessionID, currentPrice, userTarget, asking, &m)

	return m
}

func recommendAction(disc, currentPrice, userTarget float64) string {
	switch {
	case disc < 0:
		return ActionReject
	case currentPrice <= userTarget:
		return ActionAccept
	case disc >= 8:
		return ActionConsider
	default:
		return ActionCounter
	}
}

func strategyText(concession float64, rounds int) string {
	switch {
	case concession > 0.10:
		return "The dealer is showing strong flexibility. Keep pressing while momentum is on your side."
	case concession > 0.05:
		return "Moderate progress so far. Hold your position and let the dealer close the gap."
	case rounds > 5:
		return "Limited movement over many rounds. Consider accepting the current offer or walking away."
	case concession <= 0.02:
		return "The dealer is showing limited flexibility. Prepare a walk-away price before your next move."
	default:
		return "Early stage of the negotiation. Continue strategically and avoid revealing your ceiling."
	}
}

func marketComparisonText(disc float64) string {
	switch {
	case disc < 0:
		return fmt.Sprintf("Warning: the current price is %.1f%% above asking. Most negotiations end below the asking price.", -disc)
	case disc >= 10:
		return fmt.Sprintf("Excellent position: %.1f%% below asking, better than the typical negotiated discount.", disc)
	case disc >= 5:
		return fmt.Sprintf("Solid position: %.1f%% below asking. The average negotiated discount runs 3-7%%.", disc)
	default:
		return fmt.Sprintf("Currently %.1f%% below asking. Most buyers achieve 5-10%% before closing.", disc)
	}
}

func (c *MetricsCalculator) enrichMarket(ctx context.Context, d *deal.Deal, currentPrice float64, m *AIMetrics) {
	if c.market == nil {
		return
	}

	comps, err := c.market.GetComparables(ctx, d.Make, d.Model, d.Year, d.Mileage)
	if err != nil {
		log.Printf("metrics: market comparables unavailable: %v", err)
	} else if comps != nil && comps.AveragePrice > 0 {
		avg := comps.AveragePrice
		m.MarketAveragePrice = &avg
		diff := (currentPrice - avg) / avg * 100
		if diff >= 0 {
			m.MarketComparison += fmt.Sprintf(" The current price is %.1f%% above the market average of $%.0f.", diff, avg)
		} else {
			m.MarketComparison += fmt.Sprintf(" The current price is %.1f%% below the market average of $%.0f.", -diff, avg)
		}
	}

	trend, err := c.market.GetPriceTrend(ctx, d.Make, d.Model, d.Year)
	if err != nil {
		log.Printf("metrics: market trend unavailable: %v", err)
		return
	}
	if trend == nil {
		return
	}
	m.DemandLevel = trend.DemandLevel
	m.PriceTrend = trend.TrendDirection
	if trend.TrendDirection != "" {
		m.MarketComparison += fmt.Sprintf(" Prices for this model are trending %s.", trend.TrendDirection)
	}
	switch strings.ToLower(trend.DemandLevel) {
	case "high":
		m.StrategyAdjustments += " Demand for this model is high, so negotiate quickly before the listing moves."
	case "low":
		m.StrategyAdjustments += " Demand for this model is low, which gives you strong leverage."
	}
}

func (c *MetricsCalculator) enrichSuccessSignal(ctx context.Context, sessionID string, currentPrice, userTarget, asking float64, m *AIMetrics) {
	if c.signal == nil {
		return
	}
	p, err := c.signal.SuccessProbability(ctx, sessionID, currentPrice, userTarget, asking)
	if err != nil {
		log.Printf("metrics: success signal unavailable: %v", err)
		return
	}

	m.SuccessProbability = &p
	m.ConfidenceScore = m.ConfidenceScore*0.6 + p*0.4

	if p > 0.75 && m.RecommendedAction == ActionCounter {
		m.RecommendedAction = ActionConsider
	}

	switch {
	case p > 0.75:
		m.StrategyAdjustments += fmt.Sprintf(" Similar negotiations succeeded %.0f%% of the time from here; a close is within reach.", p*100)
	case p < 0.3:
		m.StrategyAdjustments += fmt.Sprintf(" Success probability is only %.0f%% from this position; consider reworking your offer.", p*100)
	}
}
