// Package dispatch runs the single cooperative loop that consumes an
// overlay's update stream: ACKing and decoding incoming calls,
// deduplicating them, invoking the user handler, and reacting to route
// change events by rotating the local route and trimming the route
// cache.
package dispatch

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/cvsouth/duplex-go/dedup"
	"github.com/cvsouth/duplex-go/envelope"
	"github.com/cvsouth/duplex-go/localroute"
	"github.com/cvsouth/duplex-go/overlay"
)

// ackPayload is sent back for every AppCall, regardless of decode
// outcome, so the overlay stops retrying the call.
const ackPayload = "ACK"

// RouteRotator rotates the node's current local route, implemented by
// localroute.Manager.
type RouteRotator interface {
	IsCurrent(routeKey overlay.TypedKey) bool
	Rotate(ctx context.Context) (localroute.Route, error)
}

// CacheInvalidator trims the route cache, implemented by
// routecache.Cache.
type CacheInvalidator interface {
	InvalidateByRouteKey(routeKey overlay.TypedKey)
}

// Replier sends an AppCall's ACK reply, implemented by the overlay
// engine.
type Replier interface {
	AppCallReply(ctx context.Context, id overlay.CallID, data []byte) error
}

// Handler processes one freshly decoded, deduplicated envelope.
type Handler[T any] func(ctx context.Context, data T, origin overlay.TypedKey)

// Dispatcher drains an overlay.Update channel until it closes or its
// context is canceled.
type Dispatcher[T any] struct {
	updates <-chan overlay.Update
	replier Replier
	routes  CacheInvalidator
	local   RouteRotator
	dedup   *dedup.Log
	handler Handler[T]
	logger  *slog.Logger

	group *errgroup.Group
}

// New constructs a Dispatcher over updates. dedupLog, routes and local
// may be shared with other components; handler is invoked once per
// fresh message, in a detached goroutine per call.
func New[T any](updates <-chan overlay.Update, replier Replier, routes CacheInvalidator, local RouteRotator, dedupLog *dedup.Log, handler Handler[T], logger *slog.Logger) *Dispatcher[T] {
	return &Dispatcher[T]{
		updates: updates,
		replier: replier,
		routes:  routes,
		local:   local,
		dedup:   dedupLog,
		handler: handler,
		logger:  logger,
		group:   &errgroup.Group{},
	}
}

// Run drains updates until ctx is canceled or the channel closes. Every
// fresh message's handler invocation is tracked by an internal
// errgroup; Run does not wait for them, but Wait can be called
// afterward to drain in-flight handlers.
func (d *Dispatcher[T]) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-d.updates:
			if !ok {
				return
			}
			d.handle(ctx, update)
		}
	}
}

// Wait blocks until every handler goroutine spawned by Run has
// returned. Call after Run returns, during graceful shutdown.
func (d *Dispatcher[T]) Wait() error {
	return d.group.Wait()
}

func (d *Dispatcher[T]) handle(ctx context.Context, update overlay.Update) {
	switch u := update.(type) {
	case overlay.AppCallUpdate:
		d.handleCall(ctx, u)
	case overlay.AppMessageUpdate:
		d.handleMessage(ctx, u)
	case overlay.RouteChangeUpdate:
		d.handleRouteChange(ctx, u)
	default:
		// StateChangeUpdate and any future variant are ignored here.
	}
}

func (d *Dispatcher[T]) handleCall(ctx context.Context, u overlay.AppCallUpdate) {
	if err := d.replier.AppCallReply(ctx, u.ID, []byte(ackPayload)); err != nil {
		d.logger.Warn("dispatch: ACK failed", "call_id", u.ID, "err", err)
	}
	d.deliver(ctx, u.Message)
}

func (d *Dispatcher[T]) handleMessage(ctx context.Context, u overlay.AppMessageUpdate) {
	d.deliver(ctx, u.Message)
}

func (d *Dispatcher[T]) deliver(ctx context.Context, raw []byte) {
	hash := dedup.HashBytes(raw)

	env, err := envelope.Decode[T](raw)
	if err != nil {
		d.logger.Warn("dispatch: malformed envelope, discarding", "err", err)
		return
	}

	origin, err := env.Origin()
	if err != nil {
		d.logger.Warn("dispatch: malformed origin key, discarding", "err", err)
		return
	}

	if d.dedup.SeenOrAdd(hash) {
		return
	}

	data := env.Data
	d.group.Go(func() error {
		d.handler(ctx, data, origin)
		return nil
	})
}

func (d *Dispatcher[T]) handleRouteChange(ctx context.Context, u overlay.RouteChangeUpdate) {
	for _, dead := range u.DeadRoutes {
		if d.local.IsCurrent(dead) {
			if _, err := d.local.Rotate(ctx); err != nil {
				d.logger.Error("dispatch: local route rotation failed", "err", err)
			}
			break
		}
	}
	for _, dead := range u.DeadRemoteRoutes {
		d.routes.InvalidateByRouteKey(dead)
	}
}
