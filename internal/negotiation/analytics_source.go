package negotiation

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/carverlabs/dealpilot/internal/analytics"
	"github.com/carverlabs/dealpilot/internal/deal"
)

// EstimatorSource adapts the negotiation repositories to the read-only view
// the analytics estimator consumes.
type EstimatorSource struct {
	repo  *Repo
	deals *deal.Repo
}

func NewEstimatorSource(repo *Repo, deals *deal.Repo) *EstimatorSource {
	return &EstimatorSource{repo: repo, deals: deals}
}

// SessionSummary is the canonical similarity-query text for a session. The
// index stores the same text on upsert so queries and records line up.
func SessionSummary(d *deal.Deal, userTarget float64, rounds int, status string) string {
	return fmt.Sprintf("%d %s %s, %d miles, asking $%.0f, target $%.0f, %d rounds, %s",
		d.Year, d.Make, d.Model, d.Mileage, d.AskingPrice, userTarget, rounds, status)
}

func (s *EstimatorSource) Facts(ctx context.Context, sessionID string) (*analytics.SessionFacts, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, analytics.ErrSessionNotFound
		}
		return nil, err
	}
	d, err := s.deals.Get(ctx, sess.DealID)
	if err != nil {
		return nil, err
	}
	recent, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, priceLookback)
	if err != nil {
		return nil, err
	}
	userTarget := LatestTargetPrice(recent, d.AskingPrice)

	return &analytics.SessionFacts{
		SessionID:    sess.SessionID,
		Status:       sess.Status,
		CurrentRound: sess.CurrentRound,
		MaxRounds:    sess.MaxRounds,
		AskingPrice:  d.AskingPrice,
		UserTarget:   userTarget,
		Summary:      SessionSummary(d, userTarget, sess.CurrentRound, sess.Status),
	}, nil
}

func (s *EstimatorSource) PricePoints(ctx context.Context, sessionID string) ([]analytics.PricePoint, error) {
	if _, err := s.repo.GetSessionBySessionID(ctx, sessionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, analytics.ErrSessionNotFound
		}
		return nil, err
	}

	desc, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, historyFetchLimit)
	if err != nil {
		return nil, err
	}

	// oldest first
	points := make([]analytics.PricePoint, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		m := desc[i]
		p := analytics.PricePoint{Round: m.Round}
		if v, ok := m.Metadata.Float(MetaSuggestedPrice); ok {
			p.Suggested = &v
		}
		if v, ok := m.Metadata.Float(MetaCounterOffer); ok {
			p.Counter = &v
		}
		if p.Suggested != nil || p.Counter != nil {
			points = append(points, p)
		}
	}
	return points, nil
}
