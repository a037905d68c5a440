package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/carverlabs/dealpilot/internal/agent"
	"github.com/carverlabs/dealpilot/internal/ai"
	"github.com/carverlabs/dealpilot/internal/common"
	"github.com/carverlabs/dealpilot/internal/deal"
	"github.com/carverlabs/dealpilot/internal/financing"
)

// User actions accepted by ProcessNextRound.
const (
	ActionNameCounter = "counter"
	ActionNameConfirm = "confirm"
	ActionNameReject  = "reject"
)

// historyFetchLimit bounds how much ledger the metrics engine sees per turn.
const historyFetchLimit = 100

// AgentResponder produces the dealer agent's text. Any method may fail; the
// service substitutes deterministic fallback text and never lets an LLM
// outage fail a turn.
type AgentResponder interface {
	GenerateInitial(ctx context.Context, v agent.Vars) (string, error)
	GenerateCounter(ctx context.Context, v agent.Vars) (string, error)
	GenerateChat(ctx context.Context, question string, v agent.Vars) (string, error)
	GenerateDealerAnalysis(ctx context.Context, v agent.Vars) (string, error)
}

// Evaluation is optional third-party pricing context supplied at creation.
type Evaluation struct {
	FairValue *float64 `json:"fair_value,omitempty"`
}

// TurnResult is the payload returned by session-mutating operations.
type TurnResult struct {
	SessionID    string   `json:"session_id"`
	Status       string   `json:"status"`
	CurrentRound int      `json:"current_round"`
	AgentMessage string   `json:"agent_message"`
	Metadata     Metadata `json:"metadata"`
}

// ChatResult is the payload of a free-form chat exchange.
type ChatResult struct {
	UserMessage  string `json:"user_message"`
	AgentMessage string `json:"agent_message"`
	LLMUsed      bool   `json:"llm_used"`
}

// DealerAnalysis is the payload of a dealer-info turn.
type DealerAnalysis struct {
	Analysis          string `json:"analysis"`
	RecommendedAction string `json:"recommended_action,omitempty"`
}

// Service owns the negotiation state machine: round progression, terminal
// transitions and the message ledger. Turns for one session are serialized
// with a per-session mutex; the repositories are the only mutable state.
type Service struct {
	repo      *Repo
	deals     *deal.Repo
	responder AgentResponder
	metrics   *MetricsCalculator
	maxRounds int

	// contextWindow bounds the rolling conversation slice handed to the LLM
	// for chat and dealer-analysis turns.
	contextWindow int

	locks sync.Map // session id -> *sync.Mutex
}

func NewService(repo *Repo, deals *deal.Repo, responder AgentResponder, metrics *MetricsCalculator, maxRounds, contextWindow int) *Service {
	if maxRounds <= 0 {
		maxRounds = 10
	}
	if contextWindow <= 0 {
		contextWindow = 6
	}
	return &Service{
		repo:          repo,
		deals:         deals,
		responder:     responder,
		metrics:       metrics,
		maxRounds:     maxRounds,
		contextWindow: contextWindow,
	}
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) getDeal(ctx context.Context, dealID uint64) (*deal.Deal, error) {
	d, err := s.deals.Get(ctx, dealID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *Service) getOwnedSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	// hide existence from other users
	if sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func vehicleVars(d *deal.Deal) agent.Vars {
	return agent.Vars{
		VehicleMake:  d.Make,
		VehicleModel: d.Model,
		VehicleYear:  d.Year,
		Mileage:      d.Mileage,
		AskingPrice:  d.AskingPrice,
	}
}

// historyWindow converts the newest-first ledger slice into oldest-first
// provider messages, bounded to the configured context window.
func (s *Service) historyWindow(newestFirst []Message) []ai.Message {
	n := len(newestFirst)
	if n > s.contextWindow {
		n = s.contextWindow
	}
	out := make([]ai.Message, 0, n)
	for i := n - 1; i >= 0; i-- {
		role := "user"
		if newestFirst[i].Role == RoleAgent {
			role = "assistant"
		}
		out = append(out, ai.Message{Role: role, Content: newestFirst[i].Content})
	}
	return out
}

// CreateSession starts a negotiation at round 1 for an existing deal and
// produces the opening offer turn.
func (s *Service) CreateSession(ctx context.Context, userID, dealID uint64, userTargetPrice float64, strategy string, eval *Evaluation) (*TurnResult, error) {
	d, err := s.getDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	sid, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	sess := &Session{
		SessionID:    sid,
		UserID:       userID,
		DealID:       dealID,
		Status:       StatusActive,
		CurrentRound: 1,
		MaxRounds:    s.maxRounds,
		Strategy:     strategy,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	openContent := fmt.Sprintf("Starting negotiation for the %d %s %s. Asking price is $%.2f, my target is $%.2f.",
		d.Year, d.Make, d.Model, d.AskingPrice, userTargetPrice)
	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sid,
		UserID:    userID,
		Round:     1,
		Role:      RoleUser,
		Content:   openContent,
		Metadata: Metadata{
			MetaAction:      "start",
			MetaTargetPrice: userTargetPrice,
		},
	}); err != nil {
		return nil, err
	}

	var fairValue *float64
	if eval != nil {
		fairValue = eval.FairValue
	}
	suggested := OpeningOffer(d.AskingPrice, userTargetPrice, fairValue)

	opts := financing.OptionsMenu(suggested, "good")
	cashSavings := financing.CashSavings(suggested, opts)
	metrics := s.metrics.Compute(ctx, sid, d, suggested, userTargetPrice, nil)

	vars := vehicleVars(d)
	vars.SuggestedPrice = suggested
	vars.TargetPrice = userTargetPrice
	vars.Round = 1
	vars.MaxRounds = s.maxRounds

	llmUsed := true
	text, err := s.responder.GenerateInitial(ctx, vars)
	if err != nil {
		log.Printf("negotiation: initial agent text fallback session=%s err=%v", sid, err)
		llmUsed = false
		text = fmt.Sprintf("I suggest opening at $%.2f for the %d %s %s (asking $%.2f). That leaves room to negotiate toward your $%.2f target.",
			suggested, d.Year, d.Make, d.Model, d.AskingPrice, userTargetPrice)
	}

	md := Metadata{
		MetaSuggestedPrice:   suggested,
		MetaTargetPrice:      userTargetPrice,
		MetaFinancingOptions: opts,
		MetaCashSavings:      cashSavings,
		MetaAIMetrics:        metrics,
		MetaLLMUsed:          llmUsed,
		MetaAction:           "initial_offer",
	}
	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sid,
		UserID:    userID,
		Round:     1,
		Role:      RoleAgent,
		Content:   text,
		Metadata:  md,
	}); err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:    sid,
		Status:       StatusActive,
		CurrentRound: 1,
		AgentMessage: text,
		Metadata:     md,
	}, nil
}

// ProcessNextRound applies one user action (counter, confirm or reject) to an
// active session.
func (s *Service) ProcessNextRound(ctx context.Context, userID uint64, sessionID, action string, counterOffer *float64) (*TurnResult, error) {
	mu := s.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	d, err := s.getDeal(ctx, sess.DealID)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusActive {
		return nil, ErrSessionNotActive
	}

	switch action {
	case ActionNameCounter:
		return s.processCounter(ctx, sess, d, counterOffer)
	case ActionNameConfirm:
		return s.processConfirm(ctx, sess, d)
	case ActionNameReject:
		return s.processReject(ctx, sess, d)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func (s *Service) processCounter(ctx context.Context, sess *Session, d *deal.Deal, counterOffer *float64) (*TurnResult, error) {
	if sess.CurrentRound >= sess.MaxRounds {
		// Round exhaustion is itself a terminal transition.
		if err := s.repo.UpdateSessionStatus(ctx, sess.SessionID, StatusCompleted); err != nil {
			return nil, err
		}
		return nil, ErrRoundLimit
	}
	if counterOffer == nil || *counterOffer <= 0 {
		return nil, ErrInvalidCounterOffer
	}

	if err := s.repo.IncrementRound(ctx, sess.SessionID); err != nil {
		return nil, err
	}
	round := sess.CurrentRound + 1

	offer := *counterOffer
	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Round:     round,
		Role:      RoleUser,
		Content:   fmt.Sprintf("I counter at $%.2f.", offer),
		Metadata: Metadata{
			MetaAction:       ActionNameCounter,
			MetaCounterOffer: offer,
		},
	}); err != nil {
		return nil, err
	}

	suggested := CounterResponse(d.AskingPrice, offer)

	history, err := s.repo.ListRecentMessagesDesc(ctx, sess.SessionID, historyFetchLimit)
	if err != nil {
		return nil, err
	}
	userTarget := LatestTargetPrice(history, d.AskingPrice)

	opts := financing.OptionsMenu(suggested, "good")
	cashSavings := financing.CashSavings(suggested, opts)
	metrics := s.metrics.Compute(ctx, sess.SessionID, d, suggested, userTarget, history)

	vars := vehicleVars(d)
	vars.SuggestedPrice = suggested
	vars.TargetPrice = userTarget
	vars.CounterOffer = offer
	vars.Round = round
	vars.MaxRounds = sess.MaxRounds
	vars.History = s.historyWindow(history)

	llmUsed := true
	text, err := s.responder.GenerateCounter(ctx, vars)
	if err != nil {
		log.Printf("negotiation: counter agent text fallback session=%s err=%v", sess.SessionID, err)
		llmUsed = false
		text = fmt.Sprintf("Based on your $%.2f counter-offer, my new position is $%.2f against the $%.2f asking price. Your target of $%.2f is still in play.",
			offer, suggested, d.AskingPrice, userTarget)
	}

	md := Metadata{
		MetaSuggestedPrice:   suggested,
		MetaCounterOffer:     offer,
		MetaFinancingOptions: opts,
		MetaCashSavings:      cashSavings,
		MetaAIMetrics:        metrics,
		MetaLLMUsed:          llmUsed,
		MetaAction:           ActionNameCounter,
	}
	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Round:     round,
		Role:      RoleAgent,
		Content:   text,
		Metadata:  md,
	}); err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:    sess.SessionID,
		Status:       StatusActive,
		CurrentRound: round,
		AgentMessage: text,
		Metadata:     md,
	}, nil
}

func (s *Service) processConfirm(ctx context.Context, sess *Session, d *deal.Deal) (*TurnResult, error) {
	recent, err := s.repo.ListRecentMessagesDesc(ctx, sess.SessionID, priceLookback)
	if err != nil {
		return nil, err
	}
	finalPrice := LatestSuggestedPrice(recent, d.AskingPrice)

	if err := s.repo.UpdateSessionStatus(ctx, sess.SessionID, StatusCompleted); err != nil {
		return nil, err
	}

	notes := strings.TrimSpace(d.Notes)
	note := fmt.Sprintf("Negotiated to $%.2f over %d rounds.", finalPrice, sess.CurrentRound)
	if notes != "" {
		notes = notes + "\n" + note
	} else {
		notes = note
	}
	if err := s.deals.Update(ctx, d.ID, map[string]any{
		"offer_price": finalPrice,
		"status":      "completed",
		"notes":       notes,
	}); err != nil {
		return nil, err
	}

	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Round:     sess.CurrentRound,
		Role:      RoleUser,
		Content:   fmt.Sprintf("I accept the current offer of $%.2f.", finalPrice),
		Metadata:  Metadata{MetaAction: ActionNameConfirm},
	}); err != nil {
		return nil, err
	}

	// Fixed confirmation exchange, no LLM call.
	text := fmt.Sprintf("Deal confirmed at $%.2f for the %d %s %s. The offer has been recorded; bring this summary to the dealership to finalize paperwork.",
		finalPrice, d.Year, d.Make, d.Model)
	md := Metadata{
		MetaAction:         ActionNameConfirm,
		MetaSuggestedPrice: finalPrice,
		MetaLLMUsed:        false,
	}
	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Round:     sess.CurrentRound,
		Role:      RoleAgent,
		Content:   text,
		Metadata:  md,
	}); err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:    sess.SessionID,
		Status:       StatusCompleted,
		CurrentRound: sess.CurrentRound,
		AgentMessage: text,
		Metadata:     md,
	}, nil
}

func (s *Service) processReject(ctx context.Context, sess *Session, d *deal.Deal) (*TurnResult, error) {
	if err := s.repo.UpdateSessionStatus(ctx, sess.SessionID, StatusCancelled); err != nil {
		return nil, err
	}

	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Round:     sess.CurrentRound,
		Role:      RoleUser,
		Content:   "I want to end this negotiation.",
		Metadata:  Metadata{MetaAction: ActionNameReject},
	}); err != nil {
		return nil, err
	}

	// Fixed rejection exchange, no LLM call.
	text := fmt.Sprintf("Understood, the negotiation for the %d %s %s is closed. You can start a new session on this or another listing whenever you are ready.",
		d.Year, d.Make, d.Model)
	md := Metadata{
		MetaAction:  ActionNameReject,
		MetaLLMUsed: false,
	}
	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Round:     sess.CurrentRound,
		Role:      RoleAgent,
		Content:   text,
		Metadata:  md,
	}); err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:    sess.SessionID,
		Status:       StatusCancelled,
		CurrentRound: sess.CurrentRound,
		AgentMessage: text,
		Metadata:     md,
	}, nil
}

// SendChatMessage handles free-form Q&A. Allowed on any session status
// (post-negotiation questions are fine) and never changes the negotiated
// price, so no metrics are recomputed.
func (s *Service) SendChatMessage(ctx context.Context, userID uint64, sessionID, text, messageType string) (*ChatResult, error) {
	sess, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	d, err := s.getDeal(ctx, sess.DealID)
	if err != nil {
		return nil, err
	}
	if messageType == "" {
		messageType = "general"
	}

	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sessionID,
		UserID:    userID,
		Round:     sess.CurrentRound,
		Role:      RoleUser,
		Content:   text,
		Metadata: Metadata{
			MetaAction:      "chat_message",
			MetaMessageType: messageType,
		},
	}); err != nil {
		return nil, err
	}

	recent, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, priceLookback)
	if err != nil {
		return nil, err
	}
	currentPrice := LatestSuggestedPrice(recent, d.AskingPrice)

	vars := vehicleVars(d)
	vars.SuggestedPrice = currentPrice
	vars.Round = sess.CurrentRound
	vars.MaxRounds = sess.MaxRounds
	vars.History = s.historyWindow(recent)

	llmUsed := true
	reply, err := s.responder.GenerateChat(ctx, text, vars)
	if err != nil {
		log.Printf("negotiation: chat agent text fallback session=%s err=%v", sessionID, err)
		llmUsed = false
		reply = fmt.Sprintf("I can't reach the assistant right now. The current position is $%.2f against an asking price of $%.2f; holding near your target is a sound default.",
			currentPrice, d.AskingPrice)
	}

	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sessionID,
		UserID:    userID,
		Round:     sess.CurrentRound,
		Role:      RoleAgent,
		Content:   reply,
		Metadata: Metadata{
			MetaAction:  "chat_message",
			MetaLLMUsed: llmUsed,
		},
	}); err != nil {
		return nil, err
	}

	return &ChatResult{UserMessage: text, AgentMessage: reply, LLMUsed: llmUsed}, nil
}

// deriveDealerAction maps a dealer-mentioned price onto a recommendation.
// Used for both the LLM path and the fallback so the recommendation is
// identical either way.
func deriveDealerAction(priceMentioned *float64, userTarget, suggestedPrice float64) string {
	if priceMentioned == nil || *priceMentioned <= 0 {
		return ""
	}
	switch {
	case *priceMentioned <= userTarget:
		return ActionAccept
	case *priceMentioned <= suggestedPrice:
		return ActionConsider
	default:
		return ActionCounter
	}
}

// AnalyzeDealerInfo records information the buyer relayed from the dealership
// and returns an analysis plus a deterministic recommendation.
func (s *Service) AnalyzeDealerInfo(ctx context.Context, userID uint64, sessionID, infoType, content string, priceMentioned *float64, extra Metadata) (*DealerAnalysis, error) {
	sess, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusActive {
		return nil, ErrSessionNotActive
	}
	d, err := s.getDeal(ctx, sess.DealID)
	if err != nil {
		return nil, err
	}

	userContent := fmt.Sprintf("Dealer info (%s): %s", infoType, content)
	md := Metadata{
		MetaAction:   "dealer_info",
		MetaInfoType: infoType,
	}
	if priceMentioned != nil && *priceMentioned > 0 {
		userContent += fmt.Sprintf(" They mentioned $%.2f.", *priceMentioned)
		md[MetaPriceMentioned] = *priceMentioned
	}
	for k, v := range extra {
		if _, taken := md[k]; !taken {
			md[k] = v
		}
	}
	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sessionID,
		UserID:    userID,
		Round:     sess.CurrentRound,
		Role:      RoleUser,
		Content:   userContent,
		Metadata:  md,
	}); err != nil {
		return nil, err
	}

	recent, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, priceLookback)
	if err != nil {
		return nil, err
	}
	suggestedPrice := LatestSuggestedPrice(recent, d.AskingPrice)
	userTarget := LatestTargetPrice(recent, d.AskingPrice)

	recommended := deriveDealerAction(priceMentioned, userTarget, suggestedPrice)

	vars := vehicleVars(d)
	vars.SuggestedPrice = suggestedPrice
	vars.TargetPrice = userTarget
	vars.DealerInfoType = infoType
	vars.DealerInfoText = content
	if priceMentioned != nil {
		vars.PriceMentioned = *priceMentioned
	}
	vars.History = s.historyWindow(recent)

	llmUsed := true
	analysis, err := s.responder.GenerateDealerAnalysis(ctx, vars)
	if err != nil {
		log.Printf("negotiation: dealer analysis fallback session=%s err=%v", sessionID, err)
		llmUsed = false
		analysis = dealerAnalysisFallback(infoType, priceMentioned, userTarget, suggestedPrice, recommended)
	}

	agentMD := Metadata{
		MetaAction:  "dealer_info",
		MetaLLMUsed: llmUsed,
	}
	if recommended != "" {
		agentMD[MetaRecommendedAction] = recommended
	}
	if err := s.repo.InsertMessage(ctx, &Message{
		SessionID: sessionID,
		UserID:    userID,
		Round:     sess.CurrentRound,
		Role:      RoleAgent,
		Content:   analysis,
		Metadata:  agentMD,
	}); err != nil {
		return nil, err
	}

	return &DealerAnalysis{Analysis: analysis, RecommendedAction: recommended}, nil
}

func dealerAnalysisFallback(infoType string, priceMentioned *float64, userTarget, suggestedPrice float64, recommended string) string {
	if priceMentioned == nil || *priceMentioned <= 0 {
		return fmt.Sprintf("Noted the dealer's %s. No price was mentioned, so keep pressing toward your $%.2f target.", infoType, userTarget)
	}
	p := *priceMentioned
	switch recommended {
	case ActionAccept:
		return fmt.Sprintf("The dealer's $%.2f meets your $%.2f target. Recommend accepting.", p, userTarget)
	case ActionConsider:
		return fmt.Sprintf("The dealer's $%.2f is at or below our current $%.2f position. Worth considering, though your $%.2f target may still be reachable.", p, suggestedPrice, userTarget)
	default:
		return fmt.Sprintf("The dealer's $%.2f is above our current $%.2f position. Recommend countering rather than accepting.", p, suggestedPrice)
	}
}

// PurgeSession is the administrative delete: removes the session and all of
// its messages and jobs.
func (s *Service) PurgeSession(ctx context.Context, userID uint64, sessionID string) error {
	if _, err := s.getOwnedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	return s.repo.DeleteSession(ctx, sessionID)
}

// ListMessages pages the ledger newest-first for delivery.
func (s *Service) ListMessages(ctx context.Context, userID uint64, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if _, err := s.getOwnedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, sessionID, limit, beforeID)
}

// GetSession returns an owned session for delivery-layer reads.
func (s *Service) GetSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	return s.getOwnedSession(ctx, userID, sessionID)
}

// CurrentPrice resolves the session's negotiated price for delivery-layer
// reads (analytics endpoints).
func (s *Service) CurrentPrice(ctx context.Context, userID uint64, sessionID string) (currentPrice, userTarget, asking float64, err error) {
	sess, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return 0, 0, 0, err
	}
	d, err := s.getDeal(ctx, sess.DealID)
	if err != nil {
		return 0, 0, 0, err
	}
	recent, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, priceLookback)
	if err != nil {
		return 0, 0, 0, err
	}
	return LatestSuggestedPrice(recent, d.AskingPrice), LatestTargetPrice(recent, d.AskingPrice), d.AskingPrice, nil
}
