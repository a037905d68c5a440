package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/carverlabs/dealpilot/internal/analytics"
	"github.com/carverlabs/dealpilot/internal/config"
	"github.com/carverlabs/dealpilot/internal/db"
	"github.com/carverlabs/dealpilot/internal/deal"
	"github.com/carverlabs/dealpilot/internal/negotiation"
	"github.com/carverlabs/dealpilot/internal/similarity"
	"github.com/carverlabs/dealpilot/internal/store/redisstore"
)

type jobMsg struct {
	JobID string `json:"job_id"`
}

// analyticsResult is the cached report written to redis under the job's
// result key.
type analyticsResult struct {
	SessionID   string                       `json:"session_id"`
	Prediction  *analytics.SuccessPrediction `json:"prediction"`
	Patterns    *analytics.PatternReport     `json:"patterns"`
	GeneratedAt time.Time                    `json:"generated_at"`
}

const resultTTL = 6 * time.Hour

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	repo := negotiation.NewRepo(gdb)
	dealRepo := deal.NewRepo(gdb)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	embedder := similarity.NewOllamaEmbedder(cfg.EmbedBaseURL, cfg.EmbedModel)
	index := similarity.NewIndex(rds.Client, embedder)
	source := negotiation.NewEstimatorSource(repo, dealRepo)
	estimator := analytics.NewEstimator(source, index)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	// must match the publisher's declarations
	mainQ := cfg.RabbitQueue
	retryQ := mainQ + ".retry"
	dlqQ := mainQ + ".dlq"

	if _, err := ch.QueueDeclare(dlqQ, true, false, false, false, nil); err != nil {
		log.Fatalf("queue declare %s: %v", dlqQ, err)
	}
	if _, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": mainQ,
	}); err != nil {
		log.Fatalf("queue declare %s: %v", retryQ, err)
	}
	if _, err := ch.QueueDeclare(mainQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqQ,
	}); err != nil {
		log.Fatalf("queue declare %s: %v", mainQ, err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(mainQ, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", mainQ, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m jobMsg
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, repo, source, estimator, rds, m.JobID); err != nil {
					log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleJob(ctx context.Context, repo *negotiation.Repo, source *negotiation.EstimatorSource, estimator *analytics.Estimator, rds *redisstore.Store, jobID string) error {
	_ = repo.MarkJobRunning(ctx, jobID)

	j, err := repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	sessionID := j.SessionID

	current, target, asking, err := sessionPrices(ctx, repo, source, sessionID)
	if err != nil {
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	pred, err := estimator.CalculateSuccessProbability(ctx, sessionID, current, target, asking)
	if err != nil {
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}
	patterns, err := estimator.AnalyzeNegotiationPatterns(ctx, sessionID)
	if err != nil {
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	resultKey := "analytics:session:" + sessionID
	if err := rds.SetJSON(ctx, resultKey, analyticsResult{
		SessionID:   sessionID,
		Prediction:  pred,
		Patterns:    patterns,
		GeneratedAt: time.Now().UTC(),
	}, resultTTL); err != nil {
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	if err := repo.MarkJobSucceeded(ctx, jobID, resultKey); err != nil {
		return err
	}
	return nil
}

// sessionPrices resolves the session's price position the same way the API
// does, via the session facts and the recent ledger.
func sessionPrices(ctx context.Context, repo *negotiation.Repo, source *negotiation.EstimatorSource, sessionID string) (current, target, asking float64, err error) {
	facts, err := source.Facts(ctx, sessionID)
	if err != nil {
		return 0, 0, 0, err
	}
	recent, err := repo.ListRecentMessagesDesc(ctx, sessionID, 10)
	if err != nil {
		return 0, 0, 0, err
	}
	return negotiation.LatestSuggestedPrice(recent, facts.AskingPrice), facts.UserTarget, facts.AskingPrice, nil
}
