// Package routecache maps peer stable DHT keys to the current
// overlay Target and underlying route key, filling on first use via
// the rendezvous registry and invalidating entries when the overlay
// reports their route dead or a send gives up on a peer.
package routecache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/cvsouth/duplex-go/overlay"
)

// Resolver reads a peer's current route blob from the DHT. It is
// implemented by the rendezvous registry.
type Resolver interface {
	Resolve(ctx context.Context, peerKey overlay.TypedKey) (overlay.RawRouteBlob, error)
}

// Importer turns a resolved route blob into a send Target and the
// route's key. It is implemented by the overlay engine.
type Importer interface {
	ImportRemotePrivateRoute(blob overlay.RawRouteBlob) (overlay.Target, overlay.TypedKey, error)
}

// entry is a cached peer route.
type entry struct {
	target   overlay.Target
	routeKey overlay.TypedKey
}

// Cache maps peer DHT keys to their current route. The zero value is
// not usable; construct with New.
//
// Concurrent GetOrFill calls for the same cold peer key are coalesced
// through a singleflight.Group so only one DHT resolve is ever in
// flight per key at a time, without holding the map mutex across the
// blocking resolve.
type Cache struct {
	resolver Resolver
	importer Importer

	mu      sync.Mutex
	entries map[overlay.TypedKey]entry

	group singleflight.Group
}

// New constructs an empty route cache backed by resolver and importer.
func New(resolver Resolver, importer Importer) *Cache {
	return &Cache{
		resolver: resolver,
		importer: importer,
		entries:  make(map[overlay.TypedKey]entry),
	}
}

// GetOrFill returns the cached target for peerKey, resolving and
// importing it through the rendezvous registry on a cache miss.
func (c *Cache) GetOrFill(ctx context.Context, peerKey overlay.TypedKey) (overlay.Target, error) {
	c.mu.Lock()
	if e, ok := c.entries[peerKey]; ok {
		c.mu.Unlock()
		return e.target, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(peerKey.String(), func() (any, error) {
		// Re-check after winning the singleflight race: another
		// caller may have filled it while we were waiting to enter.
		c.mu.Lock()
		if e, ok := c.entries[peerKey]; ok {
			c.mu.Unlock()
			return e.target, nil
		}
		c.mu.Unlock()

		blob, err := c.resolver.Resolve(ctx, peerKey)
		if err != nil {
			return overlay.Target{}, fmt.Errorf("routecache: resolve %s: %w", peerKey.String(), err)
		}
		target, routeKey, err := c.importer.ImportRemotePrivateRoute(blob)
		if err != nil {
			return overlay.Target{}, fmt.Errorf("routecache: import route for %s: %w", peerKey.String(), err)
		}

		c.mu.Lock()
		c.entries[peerKey] = entry{target: target, routeKey: routeKey}
		c.mu.Unlock()
		return target, nil
	})
	if err != nil {
		return overlay.Target{}, err
	}
	return v.(overlay.Target), nil
}

// InvalidateByRouteKey removes any entry whose stored route key
// equals routeKey. No-op if none match. Used when the overlay reports
// a remote route dead.
func (c *Cache) InvalidateByRouteKey(routeKey overlay.TypedKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for peerKey, e := range c.entries {
		if e.routeKey == routeKey {
			delete(c.entries, peerKey)
		}
	}
}

// InvalidatePeer removes the entry for peerKey, if present. Used
// after a send exhausts its retry budget, so the next attempt
// re-resolves.
func (c *Cache) InvalidatePeer(peerKey overlay.TypedKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, peerKey)
}

// Len reports the number of cached peer entries. Exposed for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
