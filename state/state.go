// Package state persists a node's overlay identity and rendezvous DHT
// key across restarts, so its stable DHT key does not change every
// run. This is optional: a zero-value Store (no directory configured)
// makes every run ephemeral, matching the upstream behavior of always
// generating a fresh identity in a temp directory.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cvsouth/duplex-go/overlay"
)

// fileName is the on-disk file holding a node's persisted identity.
const fileName = "duplex-identity.json"

// Store loads and saves a node's identity to a directory on disk.
type Store struct {
	Dir string
}

// Identity is the persisted state of a node: its overlay keypair and,
// once published, its rendezvous DHT record's key and owner keypair.
type Identity struct {
	NodeKeyPair overlay.KeyPair `json:"node_key_pair"`

	DHTKey      *overlay.TypedKey `json:"dht_key,omitempty"`
	DHTOwnerKey *overlay.KeyPair  `json:"dht_owner_key,omitempty"`
}

// onDisk is the JSON wire shape; overlay.CryptoKey marshals as a JSON
// array of its fixed-size byte contents by default, so it round-trips
// without custom codecs.
type onDisk struct {
	Identity
}

// Load reads the persisted identity, if any. ok is false if the store
// has no directory configured or no identity has been saved yet.
func (s *Store) Load() (id Identity, ok bool) {
	if s == nil || s.Dir == "" {
		return Identity{}, false
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, fileName))
	if err != nil {
		return Identity{}, false
	}
	var d onDisk
	if err := json.Unmarshal(data, &d); err != nil {
		return Identity{}, false
	}
	return d.Identity, true
}

// Save writes the identity to disk, creating the store directory if
// needed. A no-op if the store has no directory configured.
func (s *Store) Save(id Identity) error {
	if s == nil || s.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return fmt.Errorf("state: create store dir: %w", err)
	}
	data, err := json.Marshal(onDisk{Identity: id})
	if err != nil {
		return fmt.Errorf("state: marshal identity: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, fileName), data, 0600); err != nil {
		return fmt.Errorf("state: write identity: %w", err)
	}
	return nil
}
