// Command duplex-pingpong runs the ping-pong counter example from two
// nodes sharing one in-memory overlaytest.Network: A sends {count: 0}
// to B, B's handler increments and sends back to A, and so on until
// the counter reaches Rounds.
//
// A real deployment supplies its own overlay.Engine backed by an
// actual anonymous-overlay SDK in place of overlaytest.Network; this
// example exists to exercise the duplex core end to end without one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cvsouth/duplex-go"
	"github.com/cvsouth/duplex-go/overlay"
	"github.com/cvsouth/duplex-go/overlay/overlaytest"
)

// Rounds is how high the shared counter climbs before the exchange
// stops.
const Rounds = 5

type chatMessage struct {
	Count uint64 `json:"count"`
}

func main() {
	logger := setupLogging()

	fmt.Println("=== duplex ping-pong ===")

	net := overlaytest.NewNetwork()
	// Both nodes join the network before either starts: startup waits
	// until the overlay reports at least one peer.
	engineA, engineB := net.NewEngine(), net.NewEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	var trace []uint64
	var mu sync.Mutex

	var nodeA, nodeB *duplex.Node[chatMessage]

	bHandler := func(ctx context.Context, data chatMessage, origin overlay.TypedKey) {
		mu.Lock()
		trace = append(trace, data.Count)
		mu.Unlock()
		fmt.Printf("B received count=%d\n", data.Count)
		if data.Count >= Rounds {
			wg.Done()
			return
		}
		if err := nodeB.Send(ctx, chatMessage{Count: data.Count + 1}, nodeA.OwnKey()); err != nil {
			logger.Error("B failed to send", "err", err)
		}
	}

	aHandler := func(ctx context.Context, data chatMessage, origin overlay.TypedKey) {
		mu.Lock()
		trace = append(trace, data.Count)
		mu.Unlock()
		fmt.Printf("A received count=%d\n", data.Count)
		if data.Count >= Rounds {
			wg.Done()
			return
		}
		if err := nodeA.Send(ctx, chatMessage{Count: data.Count + 1}, nodeB.OwnKey()); err != nil {
			logger.Error("A failed to send", "err", err)
		}
	}

	var err error
	nodeA, err = duplex.New[chatMessage](ctx, duplex.Config{Engine: engineA, Logger: logger}, aHandler)
	if err != nil {
		logger.Error("failed to start node A", "err", err)
		os.Exit(1)
	}
	defer nodeA.Close(context.Background())

	nodeB, err = duplex.New[chatMessage](ctx, duplex.Config{Engine: engineB, Logger: logger}, bHandler)
	if err != nil {
		logger.Error("failed to start node B", "err", err)
		os.Exit(1)
	}
	defer nodeB.Close(context.Background())

	fmt.Println("Starting exchange...")
	if err := nodeA.Send(ctx, chatMessage{Count: 0}, nodeB.OwnKey()); err != nil {
		logger.Error("initial send failed", "err", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		mu.Lock()
		fmt.Printf("Exchange complete, trace: %v\n", trace)
		mu.Unlock()
	case <-ctx.Done():
		fmt.Println("timed out waiting for exchange to finish")
		os.Exit(1)
	}
}

func setupLogging() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
