// Package analytics estimates negotiation outcomes by blending rule-based
// heuristics with similarity-retrieved historical sessions. Estimates degrade
// to documented neutral fallbacks; only a missing session is a hard error.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionFacts is the read-only view of a session the estimator works from.
type SessionFacts struct {
	SessionID    string
	Status       string
	CurrentRound int
	MaxRounds    int
	AskingPrice  float64
	UserTarget   float64
	// Summary is the textual description used as the similarity query.
	Summary string
}

// PricePoint is one ledger entry carrying price metadata, oldest first.
type PricePoint struct {
	Round     int
	Suggested *float64
	Counter   *float64
}

// SessionSource loads session facts and price history. Implementations must
// report a missing session with ErrSessionNotFound.
type SessionSource interface {
	Facts(ctx context.Context, sessionID string) (*SessionFacts, error)
	PricePoints(ctx context.Context, sessionID string) ([]PricePoint, error)
}

// SimilarSession is a historical neighbor returned by the similarity index.
type SimilarSession struct {
	SessionID  string  `json:"session_id"`
	Status     string  `json:"status"`
	Rounds     int     `json:"rounds"`
	Similarity float64 `json:"similarity"`
}

// SimilarityIndex retrieves historical sessions resembling the query text.
// An empty result or an error only reduces estimate quality, never
// correctness.
type SimilarityIndex interface {
	FindSimilar(ctx context.Context, query, excludeSessionID string, limit int) ([]SimilarSession, error)
}

type SuccessPrediction struct {
	Probability          float64  `json:"probability"`
	ConfidenceLevel      string   `json:"confidence_level"`
	KeyFactors           []string `json:"key_factors"`
	SimilarSessionsCount int      `json:"similar_sessions_count"`
	Recommendation       string   `json:"recommendation"`
}

type OfferAlternative struct {
	Amount    float64 `json:"amount"`
	Label     string  `json:"label"`
	Rationale string  `json:"rationale"`
}

type CounterPlan struct {
	OptimalOffer    float64            `json:"optimal_offer"`
	Rationale       string             `json:"rationale"`
	ExpectedSavings float64            `json:"expected_savings"`
	RiskAssessment  string             `json:"risk_assessment"`
	Alternatives    []OfferAlternative `json:"alternative_offers"`
}

type PatternReport struct {
	Velocity          string   `json:"velocity"`
	DealerFlexibility string   `json:"dealer_flexibility"`
	UserStyle         string   `json:"user_style"`
	PredictedOutcome  string   `json:"predicted_outcome"`
	Insights          []string `json:"insights"`
}

const similarLimit = 20

type Estimator struct {
	source SessionSource
	index  SimilarityIndex
}

func NewEstimator(source SessionSource, index SimilarityIndex) *Estimator {
	return &Estimator{source: source, index: index}
}

func neutralPrediction() *SuccessPrediction {
	return &SuccessPrediction{
		Probability:          0.5,
		ConfidenceLevel:      "low",
		KeyFactors:           []string{"insufficient data"},
		SimilarSessionsCount: 0,
		Recommendation:       "continue with standard strategy",
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// historicalCompletionRate weights each neighbor's outcome by similarity.
// A zero total weight falls back to the unweighted completion rate.
func historicalCompletionRate(sims []SimilarSession) float64 {
	var weighted, totalWeight float64
	completed := 0
	for _, s := range sims {
		done := 0.0
		if s.Status == "completed" {
			done = 1.0
			completed++
		}
		weighted += done * s.Similarity
		totalWeight += s.Similarity
	}
	if totalWeight > 0 {
		return weighted / totalWeight
	}
	return float64(completed) / float64(len(sims))
}

// CalculateSuccessProbability blends a rule-based base probability with the
// similarity-weighted completion rate of historical neighbors. Internal
// failures other than a missing session return a neutral fallback.
func (e *Estimator) CalculateSuccessProbability(ctx context.Context, sessionID string, currentPrice, userTarget, asking float64) (*SuccessPrediction, error) {
	facts, err := e.source.Facts(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		log.Printf("analytics: facts unavailable session=%s err=%v", sessionID, err)
		return neutralPrediction(), nil
	}

	priceGap := 0.0
	discount := 0.0
	if asking > 0 {
		priceGap = math.Max(0, 1-2*math.Abs(currentPrice-userTarget)/asking)
		discount = (asking - currentPrice) / asking
	}
	roundProgress := 0.0
	if facts.MaxRounds > 0 {
		roundProgress = 1 - float64(facts.CurrentRound)/float64(facts.MaxRounds)
	}
	discountFactor := math.Min(1, 5*discount)

	base := clamp01(0.4*priceGap + 0.3*roundProgress + 0.3*discountFactor)

	sims, err := e.index.FindSimilar(ctx, facts.Summary, sessionID, similarLimit)
	if err != nil {
		log.Printf("analytics: similarity search unavailable session=%s err=%v", sessionID, err)
		return neutralPrediction(), nil
	}

	probability := base
	historical := 0.0
	if len(sims) > 0 {
		historical = historicalCompletionRate(sims)
		probability = clamp01(base*0.6 + historical*0.4)
	}

	confidence := "low"
	switch {
	case len(sims) >= 10 && (probability > 0.7 || probability < 0.3):
		confidence = "high"
	case len(sims) >= 5:
		confidence = "medium"
	}

	return &SuccessPrediction{
		Probability:          probability,
		ConfidenceLevel:      confidence,
		KeyFactors:           keyFactors(facts, currentPrice, userTarget, asking, sims, historical),
		SimilarSessionsCount: len(sims),
		Recommendation:       recommendationText(probability),
	}, nil
}

func keyFactors(facts *SessionFacts, currentPrice, userTarget, asking float64, sims []SimilarSession, historical float64) []string {
	factors := make([]string, 0, 3)

	gapRatio := 0.0
	if asking > 0 {
		gapRatio = math.Abs(currentPrice-userTarget) / asking
	}
	switch {
	case gapRatio < 0.03:
		factors = append(factors, "price gap to target is nearly closed")
	case gapRatio < 0.08:
		factors = append(factors, "moderate price gap to target remains")
	default:
		factors = append(factors, "large gap between current price and target")
	}

	remaining := facts.MaxRounds - facts.CurrentRound
	switch {
	case facts.MaxRounds > 0 && facts.CurrentRound <= facts.MaxRounds/3:
		factors = append(factors, "early in the negotiation with rounds to spare")
	case remaining <= 2:
		factors = append(factors, "few rounds remaining")
	default:
		factors = append(factors, "mid-negotiation with room to maneuver")
	}

	if len(sims) > 0 {
		switch {
		case historical > 0.7:
			factors = append(factors, "similar negotiations usually completed")
		case historical < 0.3:
			factors = append(factors, "similar negotiations often stalled")
		default:
			factors = append(factors, "mixed outcomes among similar negotiations")
		}
	}
	return factors
}

func recommendationText(probability float64) string {
	switch {
	case probability > 0.7:
		return "push for a close; the odds are in your favor"
	case probability < 0.3:
		return "consider improving your offer or preparing to walk away"
	default:
		return "continue with standard strategy"
	}
}

// SuccessProbability adapts the full prediction to the plain ML-signal shape
// the metrics engine consumes.
func (e *Estimator) SuccessProbability(ctx context.Context, sessionID string, currentPrice, userTarget, asking float64) (float64, error) {
	p, err := e.CalculateSuccessProbability(ctx, sessionID, currentPrice, userTarget, asking)
	if err != nil {
		return 0, err
	}
	return p.Probability, nil
}

// OptimalCounterOffer computes the next counter the buyer should make. Never
// fails: any internal problem falls back to the midpoint between the current
// offer and the target, labeled as low confidence.
func (e *Estimator) OptimalCounterOffer(ctx context.Context, sessionID string, currentOffer, userTarget, asking float64) (*CounterPlan, error) {
	midpointFallback := func() *CounterPlan {
		mid := (currentOffer + userTarget) / 2
		return &CounterPlan{
			OptimalOffer:    mid,
			Rationale:       "low-confidence estimate: session history was unavailable, so this is the midpoint between the current offer and your target",
			ExpectedSavings: asking - mid,
			RiskAssessment:  "medium",
		}
	}

	facts, err := e.source.Facts(ctx, sessionID)
	if err != nil {
		log.Printf("analytics: optimal offer fallback session=%s err=%v", sessionID, err)
		return midpointFallback(), nil
	}

	gap := currentOffer - userTarget
	if gap <= 0 {
		// Already at or below target; nothing left to extract.
		return &CounterPlan{
			OptimalOffer:    currentOffer,
			Rationale:       "the current offer already meets your target; hold this position",
			ExpectedSavings: asking - currentOffer,
			RiskAssessment:  "low",
		}, nil
	}

	roundFactor := 1 - float64(facts.CurrentRound)/10.0
	move := gap * 0.4 * (1 + roundFactor*0.5)
	optimal := math.Max(currentOffer-move, userTarget)

	movePct := 0.0
	if currentOffer > 0 {
		movePct = (currentOffer - optimal) / currentOffer
	}
	remaining := facts.MaxRounds - facts.CurrentRound

	risk := "low"
	switch {
	case movePct > 0.05 && remaining <= 2:
		risk = "high"
	case movePct > 0.03:
		risk = "medium"
	}

	conservative := (optimal + currentOffer) / 2
	aggressive := math.Max(userTarget, optimal-(optimal-userTarget)*0.5)

	return &CounterPlan{
		OptimalOffer: optimal,
		Rationale: fmt.Sprintf("moves %.1f%% off the current offer in round %d of %d, scaled to the remaining gap to your target",
			movePct*100, facts.CurrentRound, facts.MaxRounds),
		ExpectedSavings: asking - optimal,
		RiskAssessment:  risk,
		Alternatives: []OfferAlternative{
			{Amount: conservative, Label: "conservative", Rationale: "smaller step that keeps the dealer engaged"},
			{Amount: aggressive, Label: "aggressive", Rationale: "pushes harder toward your target while rounds remain"},
		},
	}, nil
}

// AnalyzeNegotiationPatterns classifies the session's tempo and style from
// its price history and predicts the outcome from historical neighbors.
func (e *Estimator) AnalyzeNegotiationPatterns(ctx context.Context, sessionID string) (*PatternReport, error) {
	report := &PatternReport{
		Velocity:          "unknown",
		DealerFlexibility: "unknown",
		UserStyle:         "unknown",
		PredictedOutcome:  "uncertain",
	}

	points, err := e.source.PricePoints(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		log.Printf("analytics: price points unavailable session=%s err=%v", sessionID, err)
		report.Insights = []string{"insufficient data to analyze this negotiation"}
		return report, nil
	}

	suggested := make([]float64, 0, len(points))
	counters := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Suggested != nil {
			suggested = append(suggested, *p.Suggested)
		}
		if p.Counter != nil {
			counters = append(counters, *p.Counter)
		}
	}

	if len(suggested) >= 2 {
		avg := averageAbsDelta(suggested)
		switch {
		case avg > 1000:
			report.Velocity = "fast"
		case avg > 300:
			report.Velocity = "moderate"
		default:
			report.Velocity = "slow"
		}
		report.Insights = append(report.Insights,
			fmt.Sprintf("the negotiated price moves about $%.0f per round", avg))
	}

	if len(counters) >= 2 {
		avg := averageAbsDelta(counters)
		switch {
		case avg > 800:
			report.UserStyle = "aggressive"
		case avg > 300:
			report.UserStyle = "moderate"
		default:
			report.UserStyle = "conservative"
		}
	}

	if facts, err := e.source.Facts(ctx, sessionID); err == nil {
		if len(suggested) >= 2 && facts.AskingPrice > 0 {
			concession := (suggested[0] - suggested[len(suggested)-1]) / facts.AskingPrice
			switch {
			case concession > 0.08:
				report.DealerFlexibility = "high"
			case concession > 0.03:
				report.DealerFlexibility = "moderate"
			default:
				report.DealerFlexibility = "low"
			}
		}

		sims, err := e.index.FindSimilar(ctx, facts.Summary, sessionID, similarLimit)
		if err != nil {
			log.Printf("analytics: similarity search unavailable session=%s err=%v", sessionID, err)
		} else if len(sims) > 0 {
			rate := historicalCompletionRate(sims)
			switch {
			case rate > 0.7:
				report.PredictedOutcome = "likely_success"
			case rate < 0.4:
				report.PredictedOutcome = "likely_failure"
			default:
				report.PredictedOutcome = "uncertain"
			}
			report.Insights = append(report.Insights,
				fmt.Sprintf("%.0f%% of %d similar negotiations completed", rate*100, len(sims)))
		}
	}

	if len(report.Insights) == 0 {
		report.Insights = []string{"not enough price history yet; keep negotiating to build a pattern"}
	}
	return report, nil
}

func averageAbsDelta(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(values); i++ {
		total += math.Abs(values[i] - values[i-1])
	}
	return total / float64(len(values)-1)
}
