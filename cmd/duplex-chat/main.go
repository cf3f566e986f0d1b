// Command duplex-chat runs an interactive console chat between two
// nodes sharing one in-memory overlaytest.Network: lines typed at the
// prompt are sent from the local node to the remote node, which prints
// them and echoes an acknowledgment back.
//
// A real deployment supplies its own overlay.Engine in place of
// overlaytest.Network, and the two participants run in separate
// processes exchanging their OwnKey() out of band (e.g. pasted into
// each other's command line).
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cvsouth/duplex-go"
	"github.com/cvsouth/duplex-go/overlay"
	"github.com/cvsouth/duplex-go/overlay/overlaytest"
)

type chatMessage struct {
	Text string `json:"text"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	fmt.Println("=== duplex chat ===")
	fmt.Println("Type a line and press enter to send it to the remote peer. Ctrl-D to quit.")

	net := overlaytest.NewNetwork()
	// Both nodes join the network before either starts: startup waits
	// until the overlay reports at least one peer.
	localEngine, remoteEngine := net.NewEngine(), net.NewEngine()
	ctx := context.Background()

	var remote *duplex.Node[chatMessage]

	local, err := duplex.New[chatMessage](ctx, duplex.Config{Engine: localEngine, Logger: logger}, func(ctx context.Context, data chatMessage, origin overlay.TypedKey) {
		fmt.Printf("\n%s\n> ", data.Text)
	})
	if err != nil {
		logger.Error("failed to start local node", "err", err)
		os.Exit(1)
	}
	defer local.Close(context.Background())

	remote, err = duplex.New[chatMessage](ctx, duplex.Config{Engine: remoteEngine, Logger: logger}, func(ctx context.Context, data chatMessage, origin overlay.TypedKey) {
		fmt.Printf("\n(remote received) %s\n> ", data.Text)
		if err := remote.Send(ctx, chatMessage{Text: "ack: " + data.Text}, origin); err != nil {
			logger.Error("failed to send ack", "err", err)
		}
	})
	if err != nil {
		logger.Error("failed to start remote node", "err", err)
		os.Exit(1)
	}
	defer remote.Close(context.Background())

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if err := local.Send(ctx, chatMessage{Text: line}, remote.OwnKey()); err != nil {
			logger.Error("send failed", "err", err)
		}
		fmt.Print("> ")
	}
}
