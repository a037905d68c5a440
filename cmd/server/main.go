package main

import (
	"log"
	"os"

	"github.com/carverlabs/dealpilot/internal/config"
	"github.com/carverlabs/dealpilot/internal/db"
	"github.com/carverlabs/dealpilot/internal/deal"
	"github.com/carverlabs/dealpilot/internal/httpapi"
	"github.com/carverlabs/dealpilot/internal/httpapi/ws"
	"github.com/carverlabs/dealpilot/internal/negotiation"
	"github.com/carverlabs/dealpilot/internal/store/rabbitmq"
	"github.com/carverlabs/dealpilot/internal/store/redisstore"
	"github.com/carverlabs/dealpilot/internal/user"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := gdb.AutoMigrate(
		&user.User{},
		&deal.Deal{},
		&negotiation.Session{},
		&negotiation.Message{},
		&negotiation.AnalyticsJob{},
	); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	// The API stays up without the broker; background analytics jobs are
	// simply not enqueued.
	var pub *rabbitmq.Publisher
	if p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue); err != nil {
		log.Printf("rabbit unavailable, analytics jobs disabled: %v", err)
	} else {
		pub = p
		defer pub.Close()
	}

	hub := ws.NewHub()

	r := httpapi.NewRouter(gdb, cfg, rds, pub, hub)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("server listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
