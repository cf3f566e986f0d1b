package state

import (
	"path/filepath"
	"testing"

	"github.com/cvsouth/duplex-go/overlay"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := &Store{Dir: filepath.Join(dir, "nested")}

	if _, ok := s.Load(); ok {
		t.Fatal("expected no identity before first save")
	}

	id := Identity{
		NodeKeyPair: overlay.KeyPair{Public: overlay.CryptoKey{1, 2, 3}, Secret: overlay.CryptoKey{4, 5, 6}},
	}
	if err := s.Save(id); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := s.Load()
	if !ok {
		t.Fatal("expected identity after save")
	}
	if got.NodeKeyPair != id.NodeKeyPair {
		t.Fatalf("got %+v, want %+v", got.NodeKeyPair, id.NodeKeyPair)
	}
	if got.DHTKey != nil {
		t.Fatalf("expected nil DHT key, got %+v", got.DHTKey)
	}
}

func TestStoreRoundTripWithDHTKey(t *testing.T) {
	dir := t.TempDir()
	s := &Store{Dir: dir}

	dhtKey := overlay.TypedKey{Kind: overlay.VLD0, Key: overlay.CryptoKey{9}}
	owner := overlay.KeyPair{Public: overlay.CryptoKey{7}, Secret: overlay.CryptoKey{8}}
	id := Identity{
		NodeKeyPair: overlay.KeyPair{Public: overlay.CryptoKey{1}},
		DHTKey:      &dhtKey,
		DHTOwnerKey: &owner,
	}
	if err := s.Save(id); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := s.Load()
	if !ok {
		t.Fatal("expected identity after save")
	}
	if got.DHTKey == nil || *got.DHTKey != dhtKey {
		t.Fatalf("got DHT key %+v, want %+v", got.DHTKey, dhtKey)
	}
	if got.DHTOwnerKey == nil || *got.DHTOwnerKey != owner {
		t.Fatalf("got owner key %+v, want %+v", got.DHTOwnerKey, owner)
	}
}

func TestStoreNoDirIsEphemeral(t *testing.T) {
	s := &Store{}
	if err := s.Save(Identity{}); err != nil {
		t.Fatalf("Save with no dir should be a no-op, got: %v", err)
	}
	if _, ok := s.Load(); ok {
		t.Fatal("expected no identity with no dir configured")
	}
}
