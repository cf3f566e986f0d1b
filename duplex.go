// Package duplex wires the envelope, route cache, rendezvous registry,
// local route manager, dedup log, sender and receive dispatcher into a
// single typed node: generate or load an identity, bring the overlay
// up, publish a rendezvous record, and exchange typed messages with
// other nodes by their stable DHT key.
package duplex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cvsouth/duplex-go/dedup"
	"github.com/cvsouth/duplex-go/dispatch"
	"github.com/cvsouth/duplex-go/localroute"
	"github.com/cvsouth/duplex-go/overlay"
	"github.com/cvsouth/duplex-go/rendezvous"
	"github.com/cvsouth/duplex-go/routecache"
	"github.com/cvsouth/duplex-go/sender"
	"github.com/cvsouth/duplex-go/state"
)

const (
	networkStartPollInterval      = 100 * time.Millisecond
	attachmentPollInterval        = 100 * time.Millisecond
	publicInternetReadyPollPeriod = 5 * time.Second
)

// Config configures a Node. Engine is the only required field.
type Config struct {
	Engine overlay.Engine

	// CryptoKind is the crypto system used for this node's identity and
	// DHT records. Defaults to overlay.VLD0.
	CryptoKind overlay.CryptoKind

	// StateDir, if non-empty, persists this node's identity and
	// rendezvous record across restarts. Empty means an ephemeral
	// identity is generated every time New is called.
	StateDir string

	// DedupCapacity bounds the receive dispatcher's content-hash log.
	// Defaults to dedup.DefaultCapacity.
	DedupCapacity int

	Logger *slog.Logger
}

// Node is one participant in the overlay, exchanging typed payloads T
// with peers identified by their stable rendezvous DHT key.
type Node[T any] struct {
	engine     overlay.Engine
	rctx       overlay.RoutingContext
	local      *localroute.Manager
	routes     *routecache.Cache
	rendezvous *rendezvous.Registry
	send       *sender.Sender
	dispatcher *dispatch.Dispatcher[T]
	store      state.Store
	identity   state.Identity
	logger     *slog.Logger

	cancel context.CancelFunc
}

// New brings up the overlay, loads or creates this node's identity,
// publishes its rendezvous record, and starts the receive dispatcher.
// handler is invoked once per fresh inbound message, on a detached
// goroutine per call.
func New[T any](ctx context.Context, cfg Config, handler dispatch.Handler[T]) (*Node[T], error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("duplex: Config.Engine is required")
	}
	kind := cfg.CryptoKind
	if kind == 0 {
		kind = overlay.VLD0
	}
	dedupCapacity := cfg.DedupCapacity
	if dedupCapacity == 0 {
		dedupCapacity = dedup.DefaultCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := state.Store{Dir: cfg.StateDir}
	identity, hadIdentity := store.Load()
	if !hadIdentity {
		kp, err := cfg.Engine.GenerateKeyPair(kind)
		if err != nil {
			return nil, fmt.Errorf("duplex: generate identity keypair: %w", err)
		}
		identity = state.Identity{NodeKeyPair: kp}
	}

	if err := cfg.Engine.Attach(ctx); err != nil {
		return nil, fmt.Errorf("duplex: attach: %w", err)
	}
	if err := waitForNetworkStart(ctx, cfg.Engine); err != nil {
		return nil, err
	}
	if err := waitForAttached(ctx, cfg.Engine); err != nil {
		return nil, err
	}
	if err := waitForPublicInternetReady(ctx, cfg.Engine); err != nil {
		return nil, err
	}

	rctx := cfg.Engine.RoutingContext(true, overlay.PreferOrdered)
	registry := rendezvous.New(rctx)
	routes := routecache.New(registry, cfg.Engine)
	local := localroute.New(cfg.Engine, registry, kind, identity.NodeKeyPair.Public)
	if identity.DHTKey != nil && identity.DHTOwnerKey != nil {
		local.Restore(localroute.Rendezvous{DHTKey: *identity.DHTKey, Owner: *identity.DHTOwnerKey})
	}

	if _, rdv, err := local.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("duplex: initialize local route: %w", err)
	} else {
		identity.DHTKey = &rdv.DHTKey
		identity.DHTOwnerKey = &rdv.Owner
	}
	if err := store.Save(identity); err != nil {
		logger.Warn("duplex: failed to persist identity", "err", err)
	}

	dedupLog, err := dedup.New(dedupCapacity)
	if err != nil {
		return nil, fmt.Errorf("duplex: construct dedup log: %w", err)
	}

	n := &Node[T]{
		engine:     cfg.Engine,
		rctx:       rctx,
		local:      local,
		routes:     routes,
		rendezvous: registry,
		send:       sender.New(routes, rctx),
		store:      store,
		identity:   identity,
		logger:     logger,
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.dispatcher = dispatch.New[T](cfg.Engine.Updates(), cfg.Engine, routes, local, dedupLog, handler, logger)
	go n.dispatcher.Run(runCtx)

	return n, nil
}

// OwnKey returns this node's stable rendezvous DHT key, the value
// other nodes address messages to it by.
func (n *Node[T]) OwnKey() overlay.TypedKey {
	_, rdv := n.local.Current()
	return rdv.DHTKey
}

// Send delivers data to the peer identified by peerDHTKey, retrying
// per sender.Send's bounded-retry semantics.
func (n *Node[T]) Send(ctx context.Context, data T, peerDHTKey overlay.TypedKey) error {
	return sender.Send(ctx, n.send, data, n.OwnKey(), peerDHTKey)
}

// Close stops the receive dispatcher, waits for in-flight handler
// goroutines to finish, and detaches from the overlay.
func (n *Node[T]) Close(ctx context.Context) error {
	n.cancel()
	if err := n.dispatcher.Wait(); err != nil {
		n.logger.Warn("duplex: handler goroutine returned an error", "err", err)
	}
	return n.engine.Detach(ctx)
}

func waitForNetworkStart(ctx context.Context, engine overlay.Engine) error {
	for {
		st, err := engine.GetState(ctx)
		if err != nil {
			return fmt.Errorf("duplex: get state while waiting for network start: %w", err)
		}
		if st.Network.Started && st.Network.Peers > 0 {
			return nil
		}
		if err := sleepOrDone(ctx, networkStartPollInterval); err != nil {
			return err
		}
	}
}

func waitForAttached(ctx context.Context, engine overlay.Engine) error {
	for {
		st, err := engine.GetState(ctx)
		if err != nil {
			return fmt.Errorf("duplex: get state while waiting for attachment: %w", err)
		}
		if st.Attachment.State.Attached() {
			return nil
		}
		if err := sleepOrDone(ctx, attachmentPollInterval); err != nil {
			return err
		}
	}
}

func waitForPublicInternetReady(ctx context.Context, engine overlay.Engine) error {
	for {
		st, err := engine.GetState(ctx)
		if err != nil {
			return fmt.Errorf("duplex: get state while waiting for public internet readiness: %w", err)
		}
		if st.Attachment.PublicInternetReady {
			return nil
		}
		if err := sleepOrDone(ctx, publicInternetReadyPollPeriod); err != nil {
			return err
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
