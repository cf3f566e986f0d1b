// Package rendezvous wraps the overlay's DHT record primitives with
// the three operations this module needs: publishing a node's private
// route blob under a fresh DHT key, updating it in place when the
// route rotates, and resolving a peer's DHT key back to its current
// route blob.
//
// Every record uses the same schema shape: one owner subkey, one
// authorized member with one subkey, value written at subkey 0. A
// single subkey keeps the value idempotent over time (same semantic
// slot, overwritten on rotation) and avoids a versioning protocol.
package rendezvous

import (
	"context"
	"errors"
	"fmt"

	"github.com/cvsouth/duplex-go/overlay"
)

// subkey is the single subkey index this module ever reads or writes.
const subkey = 0

// ErrPeerUnavailable is returned by Resolve when a peer's DHT record
// has no value at subkey 0 (it was never published, or not yet
// visible to this node).
var ErrPeerUnavailable = errors.New("rendezvous: peer route unavailable")

// Registry publishes and resolves rendezvous DHT records over a
// RoutingContext.
type Registry struct {
	rctx overlay.RoutingContext
}

// New constructs a Registry over rctx.
func New(rctx overlay.RoutingContext) *Registry {
	return &Registry{rctx: rctx}
}

// PublishNew creates a new DHT record whose schema permits writes by
// memberPublicKey, writes routeBlob at subkey 0, and returns the
// record's key plus the owner keypair the overlay auto-generated for
// it. Callers retain the owner keypair to make subsequent Update
// calls.
func (r *Registry) PublishNew(ctx context.Context, ownerKind overlay.CryptoKind, memberPublicKey overlay.CryptoKey, routeBlob overlay.RawRouteBlob) (overlay.TypedKey, overlay.KeyPair, error) {
	schema := overlay.DHTSchema{
		OwnerSubkeyCount: 1,
		Members: []overlay.DHTSchemaMember{
			{MemberKey: memberPublicKey, Count: 1},
		},
	}

	rec, err := r.rctx.CreateDHTRecord(ctx, schema, ownerKind)
	if err != nil {
		return overlay.TypedKey{}, overlay.KeyPair{}, fmt.Errorf("rendezvous: create DHT record: %w", err)
	}
	dhtKey := rec.Key()
	owner := rec.Owner()

	if err := r.rctx.SetDHTValue(ctx, dhtKey, subkey, routeBlob); err != nil {
		return overlay.TypedKey{}, overlay.KeyPair{}, fmt.Errorf("rendezvous: set initial route blob: %w", err)
	}
	if err := r.rctx.CloseDHTRecord(ctx, dhtKey); err != nil {
		return overlay.TypedKey{}, overlay.KeyPair{}, fmt.Errorf("rendezvous: close DHT record: %w", err)
	}

	return dhtKey, owner, nil
}

// Update opens dhtKey using owner's credentials and overwrites subkey
// 0 with routeBlob.
func (r *Registry) Update(ctx context.Context, dhtKey overlay.TypedKey, owner overlay.KeyPair, routeBlob overlay.RawRouteBlob) error {
	rec, err := r.rctx.OpenDHTRecord(ctx, dhtKey, &owner)
	if err != nil {
		return fmt.Errorf("rendezvous: open DHT record: %w", err)
	}
	if err := r.rctx.SetDHTValue(ctx, rec.Key(), subkey, routeBlob); err != nil {
		return fmt.Errorf("rendezvous: update route blob: %w", err)
	}
	if err := r.rctx.CloseDHTRecord(ctx, dhtKey); err != nil {
		return fmt.Errorf("rendezvous: close DHT record: %w", err)
	}
	return nil
}

// Resolve opens peerDHTKey without credentials and reads subkey 0,
// always forcing a refresh since a cached DHT value may refer to a
// route that has since died.
func (r *Registry) Resolve(ctx context.Context, peerDHTKey overlay.TypedKey) (overlay.RawRouteBlob, error) {
	rec, err := r.rctx.OpenDHTRecord(ctx, peerDHTKey, nil)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: open peer DHT record: %w", err)
	}
	defer func() { _ = r.rctx.CloseDHTRecord(ctx, peerDHTKey) }()

	data, ok, err := r.rctx.GetDHTValue(ctx, rec.Key(), subkey, true)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: get route blob: %w", err)
	}
	if !ok {
		return nil, ErrPeerUnavailable
	}
	return overlay.RawRouteBlob(data), nil
}
