package handlers

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/carverlabs/dealpilot/internal/agent"
	"github.com/carverlabs/dealpilot/internal/ai"
	"github.com/carverlabs/dealpilot/internal/analytics"
	"github.com/carverlabs/dealpilot/internal/config"
	"github.com/carverlabs/dealpilot/internal/deal"
	"github.com/carverlabs/dealpilot/internal/httpapi/ws"
	"github.com/carverlabs/dealpilot/internal/market"
	"github.com/carverlabs/dealpilot/internal/negotiation"
	"github.com/carverlabs/dealpilot/internal/similarity"
	"github.com/carverlabs/dealpilot/internal/store/rabbitmq"
	"github.com/carverlabs/dealpilot/internal/store/redisstore"
	"github.com/carverlabs/dealpilot/internal/user"
)

type Handler struct {
	DB    *gorm.DB
	Cfg   config.Config
	Redis *redisstore.Store

	// Rabbit is nil when the broker is unreachable; analytics jobs are then
	// skipped rather than failing requests.
	Rabbit *rabbitmq.Publisher
	Hub    *ws.Hub

	Users *user.Repo
	Deals *deal.Repo
	Repo  *negotiation.Repo

	Negotiation *negotiation.Service
	Estimator   *analytics.Estimator
	Index       *similarity.Index
	Source      *negotiation.EstimatorSource
}

func NewHandler(db *gorm.DB, cfg config.Config, r *redisstore.Store, pub *rabbitmq.Publisher, hub *ws.Hub) *Handler {
	repo := negotiation.NewRepo(db)
	dealRepo := deal.NewRepo(db)
	userRepo := user.NewRepo(db)

	// Provider registry (route by AI_PROVIDER)
	reg := ai.NewRegistry()
	reg.Register("ollama", func() ai.Provider {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel)
	})
	reg.Register("openrouter", func() ai.Provider {
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
			cfg.OpenRouterModel, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName)
	})

	name := cfg.AIProvider
	if name == "" {
		name = "ollama"
	}
	provider, err := reg.Get(name)
	if err != nil {
		panic(fmt.Sprintf("unsupported AI_PROVIDER=%q: %v", cfg.AIProvider, err))
	}
	responder := agent.NewResponder(provider, cfg.LLMTimeout)

	embedder := similarity.NewOllamaEmbedder(cfg.EmbedBaseURL, cfg.EmbedModel)
	index := similarity.NewIndex(r.Client, embedder)

	source := negotiation.NewEstimatorSource(repo, dealRepo)
	estimator := analytics.NewEstimator(source, index)

	var marketSrc negotiation.MarketSource
	if cfg.MarketAPIBaseURL != "" {
		marketSrc = market.NewClient(cfg.MarketAPIBaseURL, cfg.MarketAPIKey, cfg.MarketCacheTTL)
	}
	metrics := negotiation.NewMetricsCalculator(marketSrc, estimator)

	svc := negotiation.NewService(repo, dealRepo, responder, metrics, cfg.MaxRounds, cfg.ContextWindowSize)

	return &Handler{
		DB:          db,
		Cfg:         cfg,
		Redis:       r,
		Rabbit:      pub,
		Hub:         hub,
		Users:       userRepo,
		Deals:       dealRepo,
		Repo:        repo,
		Negotiation: svc,
		Estimator:   estimator,
		Index:       index,
		Source:      source,
	}
}
