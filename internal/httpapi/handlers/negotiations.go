package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carverlabs/dealpilot/internal/analytics"
	"github.com/carverlabs/dealpilot/internal/common"
	"github.com/carverlabs/dealpilot/internal/negotiation"
)

const patternsCacheTTL = 10 * time.Minute

// failNegotiation maps domain sentinels onto the response envelope.
func failNegotiation(c *gin.Context, err error) {
	switch {
	case errors.Is(err, negotiation.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "session not found")
	case errors.Is(err, negotiation.ErrDealNotFound):
		common.Fail(c, http.StatusNotFound, 40403, "deal not found")
	case errors.Is(err, negotiation.ErrSessionNotActive):
		common.Fail(c, http.StatusBadRequest, 10031, "session is not active")
	case errors.Is(err, negotiation.ErrRoundLimit):
		common.Fail(c, http.StatusBadRequest, 10032, "maximum rounds reached, session completed")
	case errors.Is(err, negotiation.ErrInvalidCounterOffer):
		common.Fail(c, http.StatusBadRequest, 10033, "counter_offer must be a positive number")
	case errors.Is(err, negotiation.ErrUnknownAction):
		common.Fail(c, http.StatusBadRequest, 10034, "action must be counter, confirm or reject")
	default:
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
	}
}

// enqueueAnalytics queues a background analytics refresh for the session.
// Best-effort: a broker or db problem never fails the originating request.
func (h *Handler) enqueueAnalytics(ctx context.Context, sessionID string) {
	jobID, err := common.NewULID()
	if err != nil {
		log.Printf("analytics enqueue: ulid: %v", err)
		return
	}
	job := &negotiation.AnalyticsJob{
		ID:        jobID,
		SessionID: sessionID,
		Status:    negotiation.JobQueued,
	}
	if err := h.Repo.CreateJob(ctx, job); err != nil {
		log.Printf("analytics enqueue: create job session=%s err=%v", sessionID, err)
		return
	}
	if h.Rabbit == nil {
		return
	}
	if err := h.Rabbit.PublishJob(ctx, jobID); err != nil {
		log.Printf("analytics enqueue: publish job=%s err=%v", jobID, err)
	}
}

// indexOutcome records a finished session in the similarity index so later
// negotiations can learn from it. Best-effort.
func (h *Handler) indexOutcome(ctx context.Context, sessionID string) {
	facts, err := h.Source.Facts(ctx, sessionID)
	if err != nil {
		log.Printf("similarity index: facts session=%s err=%v", sessionID, err)
		return
	}
	if err := h.Index.Upsert(ctx, sessionID, facts.Summary, facts.Status, facts.CurrentRound); err != nil {
		log.Printf("similarity index: upsert session=%s err=%v", sessionID, err)
	}
}

type createNegotiationReq struct {
	DealID      uint64                  `json:"deal_id"`
	TargetPrice float64                 `json:"target_price"`
	Strategy    string                  `json:"strategy"`
	Evaluation  *negotiation.Evaluation `json:"evaluation,omitempty"`
}

func (h *Handler) CreateNegotiation(c *gin.Context) {
	var req createNegotiationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.DealID == 0 || req.TargetPrice <= 0 {
		common.Fail(c, http.StatusBadRequest, 10021, "deal_id and a positive target_price required")
		return
	}

	res, err := h.Negotiation.CreateSession(c.Request.Context(),
		currentUserID(c), req.DealID, req.TargetPrice, req.Strategy, req.Evaluation)
	if err != nil {
		failNegotiation(c, err)
		return
	}

	h.enqueueAnalytics(c.Request.Context(), res.SessionID)
	h.Hub.Broadcast(res.SessionID, "session_created", res)
	common.OK(c, res)
}

type processRoundReq struct {
	Action       string   `json:"action"`
	CounterOffer *float64 `json:"counter_offer,omitempty"`
}

func (h *Handler) ProcessRound(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req processRoundReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.Negotiation.ProcessNextRound(c.Request.Context(),
		currentUserID(c), sessionID, req.Action, req.CounterOffer)
	if err != nil {
		failNegotiation(c, err)
		return
	}

	h.enqueueAnalytics(c.Request.Context(), sessionID)
	h.Hub.Broadcast(sessionID, "round_processed", res)
	if res.Status == negotiation.StatusCompleted || res.Status == negotiation.StatusCancelled {
		h.indexOutcome(c.Request.Context(), sessionID)
	}
	common.OK(c, res)
}

type chatReq struct {
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Message == "" {
		common.Fail(c, http.StatusBadRequest, 10022, "message required")
		return
	}

	res, err := h.Negotiation.SendChatMessage(c.Request.Context(),
		currentUserID(c), sessionID, req.Message, req.MessageType)
	if err != nil {
		failNegotiation(c, err)
		return
	}
	common.OK(c, res)
}

type dealerInfoReq struct {
	InfoType       string               `json:"info_type"`
	Content        string               `json:"content"`
	PriceMentioned *float64             `json:"price_mentioned,omitempty"`
	Metadata       negotiation.Metadata `json:"metadata,omitempty"`
}

func (h *Handler) AnalyzeDealerInfo(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req dealerInfoReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.InfoType == "" || req.Content == "" {
		common.Fail(c, http.StatusBadRequest, 10023, "info_type and content required")
		return
	}

	res, err := h.Negotiation.AnalyzeDealerInfo(c.Request.Context(),
		currentUserID(c), sessionID, req.InfoType, req.Content, req.PriceMentioned, req.Metadata)
	if err != nil {
		failNegotiation(c, err)
		return
	}
	common.OK(c, res)
}

func (h *Handler) ListNegotiationMessages(c *gin.Context) {
	sessionID := c.Param("session_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	beforeID, _ := strconv.ParseUint(c.DefaultQuery("before_id", "0"), 10, 64)

	msgs, err := h.Negotiation.ListMessages(c.Request.Context(),
		currentUserID(c), sessionID, limit, beforeID)
	if err != nil {
		failNegotiation(c, err)
		return
	}

	var nextBefore uint64
	if len(msgs) > 0 {
		nextBefore = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBefore,
	})
}

func (h *Handler) GetNegotiation(c *gin.Context) {
	sess, err := h.Negotiation.GetSession(c.Request.Context(), currentUserID(c), c.Param("session_id"))
	if err != nil {
		failNegotiation(c, err)
		return
	}
	common.OK(c, sess)
}

func (h *Handler) DeleteNegotiation(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.Negotiation.PurgeSession(c.Request.Context(), currentUserID(c), sessionID); err != nil {
		failNegotiation(c, err)
		return
	}
	// drop the cached analytics along with the session
	_ = h.Redis.Client.Del(c.Request.Context(), patternsCacheKey(sessionID)).Err()
	common.OK(c, gin.H{"deleted": sessionID})
}

func (h *Handler) SuccessProbability(c *gin.Context) {
	sessionID := c.Param("session_id")

	current, target, asking, err := h.Negotiation.CurrentPrice(c.Request.Context(), currentUserID(c), sessionID)
	if err != nil {
		failNegotiation(c, err)
		return
	}

	pred, err := h.Estimator.CalculateSuccessProbability(c.Request.Context(), sessionID, current, target, asking)
	if err != nil {
		if errors.Is(err, analytics.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, pred)
}

func (h *Handler) OptimalOffer(c *gin.Context) {
	sessionID := c.Param("session_id")

	current, target, asking, err := h.Negotiation.CurrentPrice(c.Request.Context(), currentUserID(c), sessionID)
	if err != nil {
		failNegotiation(c, err)
		return
	}

	// explicit overrides, e.g. to test a hypothetical position
	if v := c.Query("current_offer"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			current = f
		}
	}
	if v := c.Query("target"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			target = f
		}
	}

	plan, err := h.Estimator.OptimalCounterOffer(c.Request.Context(), sessionID, current, target, asking)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, plan)
}

func patternsCacheKey(sessionID string) string {
	return "analytics:session:" + sessionID + ":patterns"
}

// NegotiationPatterns serves the pattern report, cached in redis. A worker
// refresh or an earlier request may have populated the cache already.
func (h *Handler) NegotiationPatterns(c *gin.Context) {
	sessionID := c.Param("session_id")

	// ownership check before touching the cache
	if _, err := h.Negotiation.GetSession(c.Request.Context(), currentUserID(c), sessionID); err != nil {
		failNegotiation(c, err)
		return
	}

	key := patternsCacheKey(sessionID)
	var cached analytics.PatternReport
	if found, err := h.Redis.GetJSON(c.Request.Context(), key, &cached); err == nil && found {
		common.OK(c, &cached)
		return
	}

	report, err := h.Estimator.AnalyzeNegotiationPatterns(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, analytics.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if err := h.Redis.SetJSON(c.Request.Context(), key, report, patternsCacheTTL); err != nil {
		log.Printf("patterns cache: set session=%s err=%v", sessionID, err)
	}
	common.OK(c, report)
}

// WatchNegotiation upgrades to a websocket that receives round broadcasts.
func (h *Handler) WatchNegotiation(c *gin.Context) {
	sessionID := c.Param("session_id")
	if _, err := h.Negotiation.GetSession(c.Request.Context(), currentUserID(c), sessionID); err != nil {
		failNegotiation(c, err)
		return
	}
	h.Hub.Serve(c.Writer, c.Request, sessionID)
}
