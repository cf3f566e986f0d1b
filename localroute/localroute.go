// Package localroute owns a node's single current outbound private
// route: creating it at startup, publishing it to the rendezvous
// registry, and rotating it when the overlay reports it dead.
package localroute

import (
	"context"
	"fmt"
	"sync"

	"github.com/cvsouth/duplex-go/overlay"
)

// Publisher is the subset of the rendezvous registry a Manager needs.
type Publisher interface {
	PublishNew(ctx context.Context, ownerKind overlay.CryptoKind, memberPublicKey overlay.CryptoKey, routeBlob overlay.RawRouteBlob) (overlay.TypedKey, overlay.KeyPair, error)
	Update(ctx context.Context, dhtKey overlay.TypedKey, owner overlay.KeyPair, routeBlob overlay.RawRouteBlob) error
}

// RouteCreator is the subset of the overlay engine a Manager needs to
// mint routes.
type RouteCreator interface {
	NewCustomPrivateRoute(ctx context.Context, kinds []overlay.CryptoKind, stability overlay.Stability, sequencing overlay.Sequencing) (overlay.TypedKey, overlay.RawRouteBlob, error)
}

// Route is the node's current outbound private route.
type Route struct {
	RouteKey overlay.TypedKey
	Blob     overlay.RawRouteBlob
}

// Rendezvous is the node's DHT record advertising Route, stable across
// rotations.
type Rendezvous struct {
	DHTKey overlay.TypedKey
	Owner  overlay.KeyPair
}

// Manager holds a node's current Route and the Rendezvous record
// advertising it. Exactly one Route is current at a time; Rotate
// replaces it and rewrites the rendezvous value in place.
type Manager struct {
	creator   RouteCreator
	publisher Publisher
	ownerKind overlay.CryptoKind
	memberKey overlay.CryptoKey

	mu         sync.Mutex
	route      Route
	rendezvous Rendezvous
}

// New constructs a Manager. memberKey is this node's own overlay
// identity public key, authorized as the sole DHT record member.
func New(creator RouteCreator, publisher Publisher, ownerKind overlay.CryptoKind, memberKey overlay.CryptoKey) *Manager {
	return &Manager{creator: creator, publisher: publisher, ownerKind: ownerKind, memberKey: memberKey}
}

// Restore installs a previously persisted Rendezvous record so
// Initialize republishes under the same DHT key and owner keypair
// rather than minting a fresh record.
func (m *Manager) Restore(rendezvous Rendezvous) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rendezvous = rendezvous
}

// Initialize creates a new private route and publishes it. If Restore
// was called first, it updates the existing rendezvous record instead
// of creating a new one.
func (m *Manager) Initialize(ctx context.Context) (Route, Rendezvous, error) {
	route, err := m.newRoute(ctx)
	if err != nil {
		return Route{}, Rendezvous{}, err
	}

	m.mu.Lock()
	hasRendezvous := m.rendezvous.DHTKey != (overlay.TypedKey{})
	rendezvous := m.rendezvous
	m.mu.Unlock()

	if hasRendezvous {
		if err := m.publisher.Update(ctx, rendezvous.DHTKey, rendezvous.Owner, route.Blob); err != nil {
			return Route{}, Rendezvous{}, fmt.Errorf("localroute: republish restored rendezvous: %w", err)
		}
	} else {
		dhtKey, owner, err := m.publisher.PublishNew(ctx, m.ownerKind, m.memberKey, route.Blob)
		if err != nil {
			return Route{}, Rendezvous{}, fmt.Errorf("localroute: publish new rendezvous: %w", err)
		}
		rendezvous = Rendezvous{DHTKey: dhtKey, Owner: owner}
	}

	m.mu.Lock()
	m.route = route
	m.rendezvous = rendezvous
	m.mu.Unlock()

	return route, rendezvous, nil
}

// Rotate creates a fresh private route, swaps it in as current, and
// rewrites the rendezvous record's subkey 0 to advertise it. Called by
// the receive dispatcher when the overlay reports the current route
// dead.
func (m *Manager) Rotate(ctx context.Context) (Route, error) {
	route, err := m.newRoute(ctx)
	if err != nil {
		return Route{}, err
	}

	m.mu.Lock()
	rendezvous := m.rendezvous
	m.route = route
	m.mu.Unlock()

	if err := m.publisher.Update(ctx, rendezvous.DHTKey, rendezvous.Owner, route.Blob); err != nil {
		return Route{}, fmt.Errorf("localroute: update rendezvous on rotation: %w", err)
	}

	return route, nil
}

func (m *Manager) newRoute(ctx context.Context) (Route, error) {
	routeKey, blob, err := m.creator.NewCustomPrivateRoute(ctx, []overlay.CryptoKind{m.ownerKind}, overlay.Reliable, overlay.PreferOrdered)
	if err != nil {
		return Route{}, fmt.Errorf("localroute: create private route: %w", err)
	}
	return Route{RouteKey: routeKey, Blob: blob}, nil
}

// Current returns the node's current route and rendezvous record.
func (m *Manager) Current() (Route, Rendezvous) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.route, m.rendezvous
}

// IsCurrent reports whether routeKey is the manager's current route
// key. Used by the receive dispatcher to recognize a dead_routes event
// referring to this node's own outbound route.
func (m *Manager) IsCurrent(routeKey overlay.TypedKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.route.RouteKey == routeKey
}
