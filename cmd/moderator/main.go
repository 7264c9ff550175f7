package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedoz/abuseguard/internal/config"
	"github.com/jedoz/abuseguard/internal/messaging"
	"github.com/jedoz/abuseguard/internal/metrics"
	"github.com/jedoz/abuseguard/internal/moderation"
)

func main() {
	log.Println("Starting abuse signal moderator...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "abuseguard-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Subscribe to every signal kind and hand it to the review queue log.
	err = natsClient.SubscribeSignals(func(sig moderation.Signal) {
		metrics.Signal(sig.Kind, metrics.SignalReceived)
		logSignal(sig)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to signals: %v", err)
	}

	log.Printf("Abuse signal moderator running")
	log.Printf("  nats_url: %s", natsConfig.URL)
	log.Printf("  subject:  %s", messaging.SubjectSignalAll)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	if err := natsClient.UnsubscribeSignals(); err != nil {
		log.Printf("[moderator] unsubscribe: %v", err)
	}
	natsClient.Close()
}

func logSignal(sig moderation.Signal) {
	switch sig.Kind {
	case moderation.SignalBlacklistHit:
		log.Printf("[moderator] BLACKLIST user=%s ip=%s types=%s reason=%q",
			sig.UserID, sig.IP, strings.Join(sig.Types, ","), sig.Reason)
	case moderation.SignalSpamBlock, moderation.SignalSpamReview:
		log.Printf("[moderator] SPAM %s user=%s ad=%s ip=%s score=%d",
			sig.Kind, sig.UserID, sig.AdID, sig.IP, sig.Score)
	case moderation.SignalDuplicateBlock, moderation.SignalDuplicateReview:
		log.Printf("[moderator] DUPLICATE %s user=%s ad=%s similarity=%.3f threshold=%.2f",
			sig.Kind, sig.UserID, sig.AdID, sig.Similarity, sig.Threshold)
	default:
		log.Printf("[moderator] UNKNOWN kind=%q user=%s", sig.Kind, sig.UserID)
	}
}
