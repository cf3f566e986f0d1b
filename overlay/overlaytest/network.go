// Package overlaytest provides an in-memory implementation of the
// overlay.Engine / overlay.RoutingContext collaborator interfaces, for
// tests and example programs that need a small multi-node testnet
// without a real overlay SDK.
package overlaytest

import (
	"crypto/rand"
	"sync"

	"filippo.io/edwards25519"

	"github.com/cvsouth/duplex-go/overlay"
)

// dhtRecordData is the network-wide storage behind one DHT record,
// shared by every engine that opens the same key.
type dhtRecordData struct {
	owner  overlay.KeyPair
	values map[uint32][]byte
}

// routeEntry maps a minted route key back to the node that owns it, so
// Network.ExpireRoute can target the right engine's update stream.
type routeEntry struct {
	ownerNodeID string
}

// Network is shared state for a set of in-memory nodes: the DHT record
// store and the route-key → owner-node index. The zero value is not
// usable; construct with NewNetwork.
type Network struct {
	mu sync.Mutex

	nodes   map[string]*Engine
	records map[string]*dhtRecordData
	routes  map[string]routeEntry
}

// NewNetwork constructs an empty testnet.
func NewNetwork() *Network {
	return &Network{
		nodes:   make(map[string]*Engine),
		records: make(map[string]*dhtRecordData),
		routes:  make(map[string]routeEntry),
	}
}

// NewEngine creates a fresh node in the network with a freshly
// generated overlay identity keypair, and returns the overlay.Engine
// handle for it.
func (n *Network) NewEngine() *Engine {
	kp := randomKeyPair()
	e := &Engine{
		network: n,
		id:      kp.Public,
		keyPair: kp,
		updates: make(chan overlay.Update, 256),
		pending: make(map[overlay.CallID]chan []byte),
	}
	n.mu.Lock()
	n.nodes[string(e.id[:])] = e
	n.mu.Unlock()
	return e
}

// ExpireRoute simulates the overlay discovering that routeKey has
// died: the owning node receives a RouteChangeUpdate with
// DeadRoutes=[routeKey], and every other node in the network receives
// one with DeadRemoteRoutes=[routeKey] (the fake has no way to know
// which nodes specifically imported it, so it notifies all of them;
// real overlay behavior only notifies nodes that actually hold it
// cached, which is a superset-safe approximation for tests).
func (n *Network) ExpireRoute(routeKey overlay.TypedKey) {
	n.mu.Lock()
	entry, ok := n.routes[routeKey.String()]
	nodes := make([]*Engine, 0, len(n.nodes))
	for _, e := range n.nodes {
		nodes = append(nodes, e)
	}
	n.mu.Unlock()
	if !ok {
		return
	}

	for _, e := range nodes {
		if string(e.id[:]) == entry.ownerNodeID {
			e.pushUpdate(overlay.RouteChangeUpdate{DeadRoutes: []overlay.TypedKey{routeKey}})
		} else {
			e.pushUpdate(overlay.RouteChangeUpdate{DeadRemoteRoutes: []overlay.TypedKey{routeKey}})
		}
	}
}

func randomKeyPair() overlay.KeyPair {
	var kp overlay.KeyPair
	if _, err := rand.Read(kp.Public[:]); err != nil {
		panic(err)
	}
	if _, err := rand.Read(kp.Secret[:]); err != nil {
		panic(err)
	}
	return kp
}

func randomCryptoKey() overlay.CryptoKey {
	var k overlay.CryptoKey
	if _, err := rand.Read(k[:]); err != nil {
		panic(err)
	}
	return k
}

// randomCurvePoint returns the encoding of a random point on the curve
// backing VLD0, by scalar-multiplying the base point with a uniformly
// random scalar. DHT record keys must decode as valid curve points
// (overlay.ParseTypedKey checks this), unlike route keys, which never
// pass through ParseTypedKey and so stay plain random bytes.
func randomCurvePoint() overlay.CryptoKey {
	var seed [64]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(err)
	}
	scalar, err := edwards25519.NewScalar().SetUniformBytes(seed[:])
	if err != nil {
		panic(err)
	}
	point := new(edwards25519.Point).ScalarBaseMult(scalar)

	var k overlay.CryptoKey
	copy(k[:], point.Bytes())
	return k
}
