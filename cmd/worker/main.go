package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mwelliot/tcmail/internal/ai"
	"github.com/mwelliot/tcmail/internal/config"
	"github.com/mwelliot/tcmail/internal/db"
	"github.com/mwelliot/tcmail/internal/mail"
	"github.com/mwelliot/tcmail/internal/monitor"
	"github.com/mwelliot/tcmail/internal/policy"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.IMAPHost == "" || cfg.SMTPHost == "" || cfg.FromAddress == "" {
		log.Fatalf("TCMAIL_IMAP_HOST, TCMAIL_SMTP_HOST and TCMAIL_FROM_ADDRESS are required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	useTLS := cfg.Environment != "test"
	fetcher := mail.NewFetcher(pool, cfg.IMAPHost, cfg.IMAPUsername, cfg.IMAPPassword, cfg.IMAPMailbox, useTLS)
	sender := mail.NewSender(cfg.SMTPHost, cfg.SMTPUsername, cfg.SMTPPassword, cfg.FromAddress, useTLS)
	drafter := ai.NewGenerator(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.AITimeout, cfg.AssistantName)
	pol := policy.New(cfg.HighThreshold, cfg.LowThreshold)

	loop := monitor.NewLoop(fetcher, sender, drafter, monitor.NewDBStore(pool), pol, monitor.Config{
		PollInterval:       cfg.PollInterval,
		HistoryLimit:       cfg.HistoryLimit,
		InactivityDuration: cfg.InactivityDuration,
	})

	log.Printf("tcmail worker starting (environment: %s, mailbox: %s)", cfg.Environment, cfg.IMAPMailbox)
	loop.Run(ctx)
}
