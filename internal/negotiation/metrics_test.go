package negotiation

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/carverlabs/dealpilot/internal/deal"
)

func testDeal() *deal.Deal {
	return &deal.Deal{
		ID:          1,
		Make:        "Toyota",
		Model:       "Camry",
		Year:        2021,
		Mileage:     30000,
		AskingPrice: 25000,
	}
}

type fakeMarket struct {
	comps    *MarketComparables
	trend    *MarketTrend
	compsErr error
	trendErr error
}

func (f *fakeMarket) GetComparables(ctx context.Context, mk, mdl string, year, mileage int) (*MarketComparables, error) {
	return f.comps, f.compsErr
}

func (f *fakeMarket) GetPriceTrend(ctx context.Context, mk, mdl string, year int) (*MarketTrend, error) {
	return f.trend, f.trendErr
}

type fakeSignal struct {
	p   float64
	err error
}

func (f *fakeSignal) SuccessProbability(ctx context.Context, sessionID string, currentPrice, userTarget, asking float64) (float64, error) {
	return f.p, f.err
}

func TestCompute_ConfidenceLadder(t *testing.T) {
	calc := NewMetricsCalculator(nil, nil)
	d := testDeal()

	cases := []struct {
		price float64
		want  float64
	}{
		{26000, 0.20}, // above asking
		{21000, 0.95}, // 16% discount
		{22000, 0.85}, // 12%
		{23500, 0.75}, // 6%
		{24400, 0.65}, // 2.4%
		{24800, 0.50}, // 0.8%
	}
	for _, tc := range cases {
		m := calc.Compute(context.Background(), "s1", d, tc.price, 22000, nil)
		if math.Abs(m.ConfidenceScore-tc.want) > 0.001 {
			t.Fatalf("price %.0f: expected confidence %.2f, got %.2f", tc.price, tc.want, m.ConfidenceScore)
		}
	}
}

func TestCompute_RecommendedAction(t *testing.T) {
	calc := NewMetricsCalculator(nil, nil)
	d := testDeal()

	cases := []struct {
		price  float64
		target float64
		want   string
	}{
		{26000, 22000, ActionReject},   // above asking
		{21500, 22000, ActionAccept},   // at or below target
		{22800, 22000, ActionConsider}, // 8.8% discount
		{24500, 22000, ActionCounter},  // weak discount
	}
	for _, tc := range cases {
		m := calc.Compute(context.Background(), "s1", d, tc.price, tc.target, nil)
		if m.RecommendedAction != tc.want {
			t.Fatalf("price %.0f target %.0f: expected %q, got %q", tc.price, tc.target, tc.want, m.RecommendedAction)
		}
	}
}

func TestCompute_AboveAskingWarning(t *testing.T) {
	calc := NewMetricsCalculator(nil, nil)
	m := calc.Compute(context.Background(), "s1", testDeal(), 26000, 22000, nil)
	if !strings.Contains(m.MarketComparison, "above asking") {
		t.Fatalf("expected above-asking warning, got %q", m.MarketComparison)
	}
}

func TestCompute_Idempotent(t *testing.T) {
	calc := NewMetricsCalculator(nil, nil)
	d := testDeal()
	a := calc.Compute(context.Background(), "s1", d, 22000, 21000, nil)
	b := calc.Compute(context.Background(), "s1", d, 22000, 21000, nil)
	if a.ConfidenceScore != b.ConfidenceScore || a.RecommendedAction != b.RecommendedAction ||
		a.StrategyAdjustments != b.StrategyAdjustments {
		t.Fatalf("same inputs produced different metrics: %+v vs %+v", a, b)
	}
}

func TestCompute_MarketEnrichment(t *testing.T) {
	mkt := &fakeMarket{
		comps: &MarketComparables{AveragePrice: 23000, MedianPrice: 22800, TotalFound: 12},
		trend: &MarketTrend{TrendDirection: "declining", DemandLevel: "low", DaysSupply: 70},
	}
	calc := NewMetricsCalculator(mkt, nil)

	m := calc.Compute(context.Background(), "s1", testDeal(), 22000, 21000, nil)
	if m.MarketAveragePrice == nil || *m.MarketAveragePrice != 23000 {
		t.Fatalf("expected market average 23000, got %v", m.MarketAveragePrice)
	}
	if m.DemandLevel != "low" || m.PriceTrend != "declining" {
		t.Fatalf("expected trend fields, got demand=%q trend=%q", m.DemandLevel, m.PriceTrend)
	}
	if !strings.Contains(m.StrategyAdjustments, "leverage") {
		t.Fatalf("expected low-demand leverage note, got %q", m.StrategyAdjustments)
	}
}

func TestCompute_MarketFailureDegradesGracefully(t *testing.T) {
	mkt := &fakeMarket{
		compsErr: errors.New("api down"),
		trendErr: errors.New("api down"),
	}
	sig := &fakeSignal{err: errors.New("model down")}
	calc := NewMetricsCalculator(mkt, sig)

	m := calc.Compute(context.Background(), "s1", testDeal(), 22000, 21000, nil)
	// base metrics intact, enrichments absent
	if m.ConfidenceScore != 0.85 {
		t.Fatalf("expected base confidence 0.85, got %.2f", m.ConfidenceScore)
	}
	if m.MarketAveragePrice != nil || m.SuccessProbability != nil {
		t.Fatalf("expected no enrichment fields on failure")
	}
}

func TestCompute_SuccessSignalBlend(t *testing.T) {
	sig := &fakeSignal{p: 0.8}
	calc := NewMetricsCalculator(nil, sig)

	// 2% discount: base confidence 0.65, base action counter
	m := calc.Compute(context.Background(), "s1", testDeal(), 24400, 22000, nil)

	want := 0.65*0.6 + 0.8*0.4
	if math.Abs(m.ConfidenceScore-want) > 0.001 {
		t.Fatalf("expected blended confidence %.3f, got %.3f", want, m.ConfidenceScore)
	}
	// strong signal upgrades counter to consider
	if m.RecommendedAction != ActionConsider {
		t.Fatalf("expected consider after upgrade, got %q", m.RecommendedAction)
	}
	if m.SuccessProbability == nil || *m.SuccessProbability != 0.8 {
		t.Fatalf("expected success probability 0.8, got %v", m.SuccessProbability)
	}
}

func TestCompute_Velocity(t *testing.T) {
	calc := NewMetricsCalculator(nil, nil)
	msgs := []Message{
		{Round: 1}, {Round: 1}, {Round: 2}, {Round: 3},
	}
	m := calc.Compute(context.Background(), "s1", testDeal(), 22000, 21000, msgs)
	// (25000-22000)/3 distinct rounds
	if math.Abs(m.NegotiationVelocity-1000) > 0.001 {
		t.Fatalf("expected velocity 1000, got %.2f", m.NegotiationVelocity)
	}
}
