package analytics

import (
	"context"
	"errors"
	"math"
	"testing"
)

type fakeSource struct {
	facts     *SessionFacts
	factsErr  error
	points    []PricePoint
	pointsErr error
}

func (f *fakeSource) Facts(ctx context.Context, sessionID string) (*SessionFacts, error) {
	return f.facts, f.factsErr
}

func (f *fakeSource) PricePoints(ctx context.Context, sessionID string) ([]PricePoint, error) {
	return f.points, f.pointsErr
}

type fakeIndex struct {
	sims []SimilarSession
	err  error
}

func (f *fakeIndex) FindSimilar(ctx context.Context, query, excludeSessionID string, limit int) ([]SimilarSession, error) {
	return f.sims, f.err
}

func activeFacts() *SessionFacts {
	return &SessionFacts{
		SessionID:    "s1",
		Status:       "active",
		CurrentRound: 2,
		MaxRounds:    10,
		AskingPrice:  25000,
		UserTarget:   22000,
		Summary:      "2021 Toyota Camry, asking $25000",
	}
}

func completedSims(n int) []SimilarSession {
	sims := make([]SimilarSession, n)
	for i := range sims {
		sims[i] = SimilarSession{SessionID: "h", Status: "completed", Rounds: 4, Similarity: 1}
	}
	return sims
}

func TestCalculateSuccessProbability_BlendsHistorical(t *testing.T) {
	e := NewEstimator(&fakeSource{facts: activeFacts()}, &fakeIndex{sims: completedSims(10)})

	pred, err := e.CalculateSuccessProbability(context.Background(), "s1", 23000, 22000, 25000)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	// base = 0.4*priceGap + 0.3*roundProgress + 0.3*discountFactor
	// priceGap = 1 - 2*1000/25000 = 0.92, roundProgress = 0.8, discountFactor = 0.4
	base := 0.4*0.92 + 0.3*0.8 + 0.3*0.4
	want := base*0.6 + 1.0*0.4 // all neighbors completed at similarity 1
	if math.Abs(pred.Probability-want) > 0.001 {
		t.Fatalf("expected probability %.4f, got %.4f", want, pred.Probability)
	}
	if pred.ConfidenceLevel != "high" {
		t.Fatalf("expected high confidence with 10 decisive neighbors, got %q", pred.ConfidenceLevel)
	}
	if pred.SimilarSessionsCount != 10 {
		t.Fatalf("expected 10 neighbors, got %d", pred.SimilarSessionsCount)
	}
	if len(pred.KeyFactors) == 0 {
		t.Fatalf("expected key factors")
	}
}

func TestCalculateSuccessProbability_NoNeighbors(t *testing.T) {
	e := NewEstimator(&fakeSource{facts: activeFacts()}, &fakeIndex{})

	pred, err := e.CalculateSuccessProbability(context.Background(), "s1", 23000, 22000, 25000)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	base := 0.4*0.92 + 0.3*0.8 + 0.3*0.4
	if math.Abs(pred.Probability-base) > 0.001 {
		t.Fatalf("expected pure base %.4f without neighbors, got %.4f", base, pred.Probability)
	}
	if pred.ConfidenceLevel != "low" {
		t.Fatalf("expected low confidence, got %q", pred.ConfidenceLevel)
	}
}

func TestCalculateSuccessProbability_NeutralOnIndexFailure(t *testing.T) {
	e := NewEstimator(&fakeSource{facts: activeFacts()}, &fakeIndex{err: errors.New("redis down")})

	pred, err := e.CalculateSuccessProbability(context.Background(), "s1", 23000, 22000, 25000)
	if err != nil {
		t.Fatalf("expected neutral fallback, got error %v", err)
	}
	if pred.Probability != 0.5 || pred.ConfidenceLevel != "low" {
		t.Fatalf("expected neutral prediction, got %+v", pred)
	}
	if len(pred.KeyFactors) != 1 || pred.KeyFactors[0] != "insufficient data" {
		t.Fatalf("expected insufficient-data factor, got %v", pred.KeyFactors)
	}
	if pred.Recommendation != "continue with standard strategy" {
		t.Fatalf("unexpected recommendation %q", pred.Recommendation)
	}
}

func TestCalculateSuccessProbability_MissingSessionIsHardError(t *testing.T) {
	e := NewEstimator(&fakeSource{factsErr: ErrSessionNotFound}, &fakeIndex{})

	if _, err := e.CalculateSuccessProbability(context.Background(), "nope", 1, 1, 1); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestOptimalCounterOffer_ScalesWithRounds(t *testing.T) {
	e := NewEstimator(&fakeSource{facts: activeFacts()}, &fakeIndex{})

	plan, err := e.OptimalCounterOffer(context.Background(), "s1", 23000, 22000, 25000)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	// gap 1000, roundFactor 0.8: move = 1000 * 0.4 * 1.4 = 560
	if math.Abs(plan.OptimalOffer-22440) > 0.01 {
		t.Fatalf("expected 22440, got %.2f", plan.OptimalOffer)
	}
	if plan.RiskAssessment != "low" {
		t.Fatalf("expected low risk, got %q", plan.RiskAssessment)
	}
	if len(plan.Alternatives) != 2 {
		t.Fatalf("expected conservative and aggressive alternatives, got %d", len(plan.Alternatives))
	}
	if math.Abs(plan.ExpectedSavings-(25000-22440)) > 0.01 {
		t.Fatalf("unexpected savings %.2f", plan.ExpectedSavings)
	}
}

func TestOptimalCounterOffer_ClampsAtTarget(t *testing.T) {
	facts := activeFacts()
	facts.CurrentRound = 1
	e := NewEstimator(&fakeSource{facts: facts}, &fakeIndex{})

	// tiny gap: the computed move would overshoot the target
	plan, err := e.OptimalCounterOffer(context.Background(), "s1", 22010, 22000, 25000)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.OptimalOffer < 22000 {
		t.Fatalf("offer %f undercuts the target", plan.OptimalOffer)
	}
}

func TestOptimalCounterOffer_HoldsBelowTarget(t *testing.T) {
	e := NewEstimator(&fakeSource{facts: activeFacts()}, &fakeIndex{})

	plan, err := e.OptimalCounterOffer(context.Background(), "s1", 21500, 22000, 25000)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.OptimalOffer != 21500 {
		t.Fatalf("expected hold at current offer, got %.2f", plan.OptimalOffer)
	}
	if plan.RiskAssessment != "low" {
		t.Fatalf("expected low risk when holding, got %q", plan.RiskAssessment)
	}
}

func TestOptimalCounterOffer_MidpointFallback(t *testing.T) {
	e := NewEstimator(&fakeSource{factsErr: errors.New("db down")}, &fakeIndex{})

	plan, err := e.OptimalCounterOffer(context.Background(), "s1", 23000, 22000, 25000)
	if err != nil {
		t.Fatalf("expected fallback, got error %v", err)
	}
	if math.Abs(plan.OptimalOffer-22500) > 0.01 {
		t.Fatalf("expected midpoint 22500, got %.2f", plan.OptimalOffer)
	}
	if plan.RiskAssessment != "medium" {
		t.Fatalf("expected medium risk fallback, got %q", plan.RiskAssessment)
	}
}

func f(v float64) *float64 { return &v }

func TestAnalyzeNegotiationPatterns(t *testing.T) {
	source := &fakeSource{
		facts: activeFacts(),
		points: []PricePoint{
			{Round: 1, Suggested: f(25000)},
			{Round: 2, Counter: f(24000), Suggested: f(23500)},
			{Round: 3, Counter: f(23800), Suggested: f(22200)},
		},
	}
	e := NewEstimator(source, &fakeIndex{sims: completedSims(4)})

	report, err := e.AnalyzeNegotiationPatterns(context.Background(), "s1")
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	// suggested deltas 1500 and 1300, average 1400
	if report.Velocity != "fast" {
		t.Fatalf("expected fast velocity, got %q", report.Velocity)
	}
	// dealer concession (25000-22200)/25000 = 11.2%
	if report.DealerFlexibility != "high" {
		t.Fatalf("expected high flexibility, got %q", report.DealerFlexibility)
	}
	// counter delta 200: cautious buyer
	if report.UserStyle != "conservative" {
		t.Fatalf("expected conservative style, got %q", report.UserStyle)
	}
	if report.PredictedOutcome != "likely_success" {
		t.Fatalf("expected likely_success, got %q", report.PredictedOutcome)
	}
	if len(report.Insights) == 0 {
		t.Fatalf("expected insights")
	}
}

func TestAnalyzeNegotiationPatterns_SparseHistory(t *testing.T) {
	source := &fakeSource{
		facts:  activeFacts(),
		points: []PricePoint{{Round: 1, Suggested: f(25000)}},
	}
	e := NewEstimator(source, &fakeIndex{})

	report, err := e.AnalyzeNegotiationPatterns(context.Background(), "s1")
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if report.Velocity != "unknown" || report.UserStyle != "unknown" {
		t.Fatalf("expected unknown classifications, got %+v", report)
	}
	if len(report.Insights) == 0 {
		t.Fatalf("expected a keep-negotiating insight")
	}
}

func TestAnalyzeNegotiationPatterns_MissingSession(t *testing.T) {
	e := NewEstimator(&fakeSource{pointsErr: ErrSessionNotFound}, &fakeIndex{})

	if _, err := e.AnalyzeNegotiationPatterns(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
