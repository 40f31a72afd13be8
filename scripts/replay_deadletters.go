package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avivamar/palm-sub009/internal/models"
	"github.com/avivamar/palm-sub009/internal/store"
)

// Lists dead-lettered tasks and optionally re-journals them as pending so
// the daemon picks them up on its next recovery pass.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		dbPath  = flag.String("db", "./data/pipeline.db", "path to sqlite db")
		limit   = flag.Int("limit", 100, "max dead letters to inspect")
		requeue = flag.Bool("requeue", false, "re-journal dead letters as pending tasks")
		retries = flag.Int("retries", 2, "retry budget for requeued tasks")
	)
	flag.Parse()

	st, err := store.New(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := st.ListDeadLetters(ctx, *limit)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("no dead letters")
		return nil
	}

	requeued := 0
	for _, entry := range entries {
		fmt.Printf("[%d] task=%s type=%s retries=%d cause=%s at=%s\n",
			entry.ID, entry.TaskID, entry.TaskType, entry.RetryCount, entry.Cause,
			entry.CreatedAt.Format(time.RFC3339))

		if !*requeue {
			continue
		}

		task := &models.AsyncTask{
			ID:         uuid.NewString(),
			Type:       models.TaskType(entry.TaskType),
			Payload:    json.RawMessage(entry.Payload),
			EnqueuedAt: time.Now(),
			MaxRetries: *retries,
		}
		if err := st.AppendTask(ctx, task); err != nil {
			return fmt.Errorf("requeue %s: %w", entry.TaskID, err)
		}
		if err := st.ResolveDeadLetter(ctx, entry.ID); err != nil {
			return fmt.Errorf("resolve %d: %w", entry.ID, err)
		}
		requeued++
	}

	if *requeue {
		fmt.Printf("requeued %d task(s)\n", requeued)
	}
	return nil
}
