package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	go superviseWorker(ctx, cancel, name, time.Second, fn)
}

// superviseWorker is SafeGo's loop, with the first retry delay injectable
func superviseWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	initialDelay time.Duration,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	retries := 0
	delay := initialDelay

	for {
		startTime := time.Now()
		var panicValue any

		func() {
			defer func() {
				panicValue = recover()
			}()
			fn(ctx)
		}()

		// Returned normally: either ctx was cancelled or the worker is done
		if panicValue == nil {
			return
		}

		if time.Since(startTime) >= resetAfter {
			retries = 0
			delay = initialDelay
		}

		retries++
		log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

		if retries >= maxRetries {
			log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
			cancel()
			return
		}

		log.Printf("%s will retry in %v\n", name, delay)
		select {
		case <-time.After(delay):
			delay = min(delay*2, maxDelay)
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	log.Println("Starting agate2mqtt...")

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create context for lifecycle management
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if cfg.DumpJSON {
		go func() {
			<-sigChan
			cancel()
		}()
		if err := writeDump(ctx, cfg); err != nil {
			log.Fatalf("Dump failed (%s): %v", errorKind(err), err)
		}
		return
	}

	var snapshots chan Snapshot
	if cfg.Console {
		snapshots = make(chan Snapshot, 1)
	}

	publisher := NewPublisher(cfg.Broker)
	poller := NewPoller(cfg, publisher, snapshots)

	SafeGo(ctx, cancel, "poll-worker", func(ctx context.Context) {
		pollWorker(ctx, poller)
	})

	if cfg.Console {
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, snapshots)
		})
	}

	// Wait for interrupt signal or context cancellation (from panic or console)
	select {
	case <-sigChan:
		log.Println("\nShutting down...")
	case <-ctx.Done():
		log.Println("\nShutting down due to error...")
	}
	cancel()
}
