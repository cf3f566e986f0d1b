package localroute

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cvsouth/duplex-go/overlay"
)

type fakeCreator struct {
	mu   sync.Mutex
	next byte
}

func (f *fakeCreator) NewCustomPrivateRoute(ctx context.Context, kinds []overlay.CryptoKind, stability overlay.Stability, sequencing overlay.Sequencing) (overlay.TypedKey, overlay.RawRouteBlob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	key := overlay.TypedKey{Kind: overlay.VLD0, Key: overlay.CryptoKey{f.next}}
	blob := overlay.RawRouteBlob{0xF0, f.next}
	return key, blob, nil
}

type publishedRecord struct {
	owner overlay.KeyPair
	value overlay.RawRouteBlob
}

type fakePublisher struct {
	mu      sync.Mutex
	records map[overlay.TypedKey]*publishedRecord
	nextKey byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{records: make(map[overlay.TypedKey]*publishedRecord)}
}

func (f *fakePublisher) PublishNew(ctx context.Context, ownerKind overlay.CryptoKind, memberPublicKey overlay.CryptoKey, routeBlob overlay.RawRouteBlob) (overlay.TypedKey, overlay.KeyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextKey++
	dhtKey := overlay.TypedKey{Kind: ownerKind, Key: overlay.CryptoKey{0xD0, f.nextKey}}
	owner := overlay.KeyPair{Public: overlay.CryptoKey{0xAA, f.nextKey}, Secret: overlay.CryptoKey{0xBB, f.nextKey}}
	f.records[dhtKey] = &publishedRecord{owner: owner, value: routeBlob}
	return dhtKey, owner, nil
}

func (f *fakePublisher) Update(ctx context.Context, dhtKey overlay.TypedKey, owner overlay.KeyPair, routeBlob overlay.RawRouteBlob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[dhtKey]
	if !ok {
		return errors.New("no such record")
	}
	if rec.owner != owner {
		return errors.New("bad owner credentials")
	}
	rec.value = routeBlob
	return nil
}

func (f *fakePublisher) valueOf(dhtKey overlay.TypedKey) overlay.RawRouteBlob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[dhtKey].value
}

func TestInitializePublishesNewRoute(t *testing.T) {
	creator := &fakeCreator{}
	publisher := newFakePublisher()
	m := New(creator, publisher, overlay.VLD0, overlay.CryptoKey{0x01})

	route, rendezvous, err := m.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if route.RouteKey == (overlay.TypedKey{}) {
		t.Fatal("expected non-zero route key")
	}
	if string(publisher.valueOf(rendezvous.DHTKey)) != string(route.Blob) {
		t.Fatal("rendezvous value does not match published route blob")
	}

	gotRoute, gotRendezvous := m.Current()
	if gotRoute != route || gotRendezvous != rendezvous {
		t.Fatal("Current() does not match Initialize() result")
	}
}

func TestRotateSwapsRouteAndRewritesRendezvous(t *testing.T) {
	creator := &fakeCreator{}
	publisher := newFakePublisher()
	m := New(creator, publisher, overlay.VLD0, overlay.CryptoKey{0x02})

	first, rendezvous, err := m.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	second, err := m.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if second.RouteKey == first.RouteKey {
		t.Fatal("expected rotation to mint a new route key")
	}

	if string(publisher.valueOf(rendezvous.DHTKey)) != string(second.Blob) {
		t.Fatal("rendezvous value not updated to the rotated route blob")
	}

	gotRoute, gotRendezvous := m.Current()
	if gotRoute.RouteKey != second.RouteKey {
		t.Fatal("Current() route not updated after rotation")
	}
	if gotRendezvous.DHTKey != rendezvous.DHTKey {
		t.Fatal("rotation must not change the rendezvous DHT key")
	}
}

func TestIsCurrent(t *testing.T) {
	creator := &fakeCreator{}
	publisher := newFakePublisher()
	m := New(creator, publisher, overlay.VLD0, overlay.CryptoKey{0x03})

	route, _, err := m.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if !m.IsCurrent(route.RouteKey) {
		t.Fatal("expected IsCurrent to report true for the just-initialized route key")
	}
	if m.IsCurrent(overlay.TypedKey{Kind: overlay.VLD0, Key: overlay.CryptoKey{0xFF}}) {
		t.Fatal("expected IsCurrent to report false for an unrelated route key")
	}

	next, err := m.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if m.IsCurrent(route.RouteKey) {
		t.Fatal("expected old route key to no longer be current after rotation")
	}
	if !m.IsCurrent(next.RouteKey) {
		t.Fatal("expected rotated route key to be current")
	}
}

func TestRestorePreventsDuplicatePublish(t *testing.T) {
	creator := &fakeCreator{}
	publisher := newFakePublisher()
	m := New(creator, publisher, overlay.VLD0, overlay.CryptoKey{0x04})

	_, rendezvous, err := m.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	restored := New(creator, publisher, overlay.VLD0, overlay.CryptoKey{0x04})
	restored.Restore(rendezvous)

	route, gotRendezvous, err := restored.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize after restore: %v", err)
	}
	if gotRendezvous.DHTKey != rendezvous.DHTKey {
		t.Fatal("expected restored manager to keep the same DHT key")
	}
	if string(publisher.valueOf(rendezvous.DHTKey)) != string(route.Blob) {
		t.Fatal("expected restored manager to update the existing record, not publish a new one")
	}
}
