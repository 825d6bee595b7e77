package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"presensi/internal/audit"
	"presensi/internal/config"
	"presensi/internal/queue"
	"presensi/internal/reconcile"
	"presensi/internal/store"
)

// Worker consumes attendance events and archives them to the audit table.
// The ledger keeps only the latest record per key; this archive is where
// overwritten statuses survive for reports and disputes.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presensi:attendance")
	}

	repo := audit.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("audit worker started, waiting for attendance events...")
	for msg := range messages {
		if msg.Type != "attendance" {
			continue
		}

		var evt reconcile.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("malformed attendance event: %v", err)
			continue
		}

		entry := audit.Entry{
			AttendeeID: evt.Record.AttendeeID,
			ScheduleID: evt.Record.ScheduleID,
			Date:       evt.Record.Date,
			Status:     string(evt.Record.Status),
			Source:     string(evt.Record.Source),
			Reason:     evt.Record.Reason,
			ProofRef:   evt.Record.ProofRef,
			RecordedBy: evt.Record.UpdatedBy,
			RecordedAt: evt.RecordedAt,
		}
		if evt.Prior != nil {
			priorStatus := string(evt.Prior.Status)
			priorSource := string(evt.Prior.Source)
			entry.PriorStatus = &priorStatus
			entry.PriorSource = &priorSource
		}

		if err := repo.Insert(ctx, entry); err != nil {
			log.Printf("audit insert failed for %s/%s/%s: %v",
				entry.AttendeeID, entry.ScheduleID, entry.Date, err)
			continue
		}
	}

	log.Println("audit worker stopped")
}
