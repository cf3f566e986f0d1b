// Package sender implements bounded-retry best-effort delivery of an
// envelope to a peer identified by its stable rendezvous DHT key.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cvsouth/duplex-go/envelope"
	"github.com/cvsouth/duplex-go/overlay"
)

// MaxAttempts bounds how many overlay calls Send makes (the first
// attempt plus MaxAttempts-1 retries) before giving up. 1024 suits a long-lived node holding many
// persistent peer connections; embedded profiles may prefer a smaller
// value such as 64.
const MaxAttempts = 1024

// RetryInterval is the fixed pause between overlay call attempts.
const RetryInterval = 500 * time.Millisecond

// ErrSendExhausted is returned once MaxAttempts overlay calls have all
// failed.
var ErrSendExhausted = errors.New("sender: exhausted retry budget")

// RouteResolver resolves a peer's stable DHT key to a live send Target,
// implemented by routecache.Cache.
type RouteResolver interface {
	GetOrFill(ctx context.Context, peerKey overlay.TypedKey) (overlay.Target, error)
	InvalidatePeer(peerKey overlay.TypedKey)
}

// Caller invokes the overlay's blocking app-call primitive, implemented
// by an overlay.RoutingContext.
type Caller interface {
	AppCall(ctx context.Context, target overlay.Target, data []byte) ([]byte, error)
}

// Sender resolves peers through a RouteResolver and delivers envelopes
// through a Caller.
type Sender struct {
	routes RouteResolver
	caller Caller
}

// New constructs a Sender.
func New(routes RouteResolver, caller Caller) *Sender {
	return &Sender{routes: routes, caller: caller}
}

// Send serializes data and delivers it to the peer identified by
// peerKey. The serialized-size check runs before any network activity;
// an oversize envelope never touches the route cache or the overlay.
//
// A DHT-resolve failure (the peer's route cannot currently be found)
// is reported immediately as ErrPeerUnavailable and consumes
// no retry budget — retrying an absent rendezvous value on a fixed
// interval would not make it appear sooner. Once a target is resolved,
// overlay call failures retry up to MaxAttempts before the peer entry
// is invalidated and ErrSendExhausted is returned.
func Send[T any](ctx context.Context, s *Sender, data T, origin overlay.TypedKey, peerKey overlay.TypedKey) error {
	env := envelope.New(data, origin)
	blob, err := env.Encode()
	if err != nil {
		return err
	}

	target, err := s.routes.GetOrFill(ctx, peerKey)
	if err != nil {
		return fmt.Errorf("sender: resolve %s: %w: %w", peerKey.String(), ErrPeerUnavailable, err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		_, err := s.caller.AppCall(ctx, target, blob)
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(RetryInterval), uint64(MaxAttempts-1))
	err = backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		s.routes.InvalidatePeer(peerKey)
		return fmt.Errorf("sender: %s after %d attempts: %w: %w", peerKey.String(), attempt, ErrSendExhausted, err)
	}
	return nil
}

// ErrPeerUnavailable is returned when a peer's rendezvous record could
// not be resolved to a live route. Distinct from
// rendezvous.ErrPeerUnavailable so callers can errors.Is against the
// sender package directly.
var ErrPeerUnavailable = errors.New("sender: peer unavailable")
