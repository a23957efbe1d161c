package main

import (
	"context"
	"log"
	"net/http"

	"severok-bot/internal/bot"
	"severok-bot/internal/broadcast"
	"severok-bot/internal/config"
	"severok-bot/internal/database"
	"severok-bot/internal/notify"
	"severok-bot/internal/payment"
	"severok-bot/internal/queue"
	"severok-bot/internal/referral"
	"severok-bot/internal/settlement"
	"severok-bot/internal/store"
	"severok-bot/internal/subscription"
	"severok-bot/internal/worker"
	"severok-bot/internal/xui"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()

	// Connect to Database
	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}

	ledger := store.NewGormStore(db)
	tasks := queue.NewRedisQueue(rdb)

	panelClient := xui.NewClient(cfg.XUIURL, cfg.XUIUsername, cfg.XUIPassword, cfg.XUIInboundID)
	paymentClient := payment.NewClient(cfg.YookassaShopID, cfg.YookassaKey)

	engine := subscription.NewEngine(ledger, tasks, cfg.TrialDays)
	coordinator := settlement.NewCoordinator(ledger, tasks, paymentClient, cfg.ReturnURL, cfg.Currency)
	cascade := referral.NewCascade(ledger, tasks)

	tgBot, err := bot.NewBot(cfg.BotToken, ledger, engine, coordinator, paymentClient)
	if err != nil {
		log.Fatalf("Could not create bot: %v", err)
	}

	notifier := notify.NewTelegramNotifier(tgBot.Instance)
	broadcasts := broadcast.NewRunner(ledger, notifier)

	ctx := context.Background()

	// Task workers
	w := worker.NewWorker(tasks, ledger, panelClient, cascade, notifier, broadcasts)
	go w.Start(ctx, 4)

	// Expiry/reminder sweep
	sweep := worker.NewSweep(ledger, tasks, cfg.SweepInterval)
	go sweep.Start(ctx)

	// Payment webhook
	webhook := payment.NewWebhookHandler(coordinator, cfg.AllowedYooIp)
	mux := http.NewServeMux()
	mux.Handle("/webhook/yookassa", webhook)
	go func() {
		log.Printf("Payment webhook listening on %s", cfg.WebhookAddr)
		if err := http.ListenAndServe(cfg.WebhookAddr, mux); err != nil {
			log.Fatalf("Webhook server failed: %v", err)
		}
	}()

	log.Println("Service started successfully")

	tgBot.Start()
}
