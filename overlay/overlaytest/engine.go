package overlaytest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cvsouth/duplex-go/overlay"
)

// Engine is one in-memory node's overlay.Engine implementation.
// Construct via Network.NewEngine.
type Engine struct {
	network *Network
	id      overlay.CryptoKey
	keyPair overlay.KeyPair

	attached atomic.Bool
	updates  chan overlay.Update

	mu         sync.Mutex
	pending    map[overlay.CallID]chan []byte
	nextCallID uint64
}

// OwnKey returns this node's overlay identity public key, the value
// other nodes authorize as a DHT record member.
func (e *Engine) OwnKey() overlay.CryptoKey { return e.keyPair.Public }

func (e *Engine) Attach(ctx context.Context) error {
	e.attached.Store(true)
	return nil
}

func (e *Engine) Detach(ctx context.Context) error {
	e.attached.Store(false)
	return nil
}

func (e *Engine) GetState(ctx context.Context) (overlay.State, error) {
	e.network.mu.Lock()
	peers := len(e.network.nodes) - 1
	e.network.mu.Unlock()
	if peers < 0 {
		peers = 0
	}
	if !e.attached.Load() {
		return overlay.State{
			Attachment: overlay.AttachmentStatus{State: overlay.Detached},
			Network:    overlay.NetworkState{Started: false},
		}, nil
	}
	return overlay.State{
		Attachment: overlay.AttachmentStatus{State: overlay.FullyAttached, PublicInternetReady: true},
		Network:    overlay.NetworkState{Started: true, Peers: peers},
	}, nil
}

func (e *Engine) GenerateKeyPair(kind overlay.CryptoKind) (overlay.KeyPair, error) {
	return randomKeyPair(), nil
}

// routeBlob is the opaque wire form of a minted route: enough for
// ImportRemotePrivateRoute on another node to find this engine and
// recognize the route key later in a RouteChangeUpdate.
type routeBlob struct {
	RouteKey overlay.TypedKey
	NodeID   overlay.CryptoKey
}

func (e *Engine) NewCustomPrivateRoute(ctx context.Context, kinds []overlay.CryptoKind, stability overlay.Stability, sequencing overlay.Sequencing) (overlay.TypedKey, overlay.RawRouteBlob, error) {
	kind := overlay.VLD0
	if len(kinds) > 0 {
		kind = kinds[0]
	}
	routeKey := overlay.TypedKey{Kind: kind, Key: randomCryptoKey()}

	e.network.mu.Lock()
	e.network.routes[routeKey.String()] = routeEntry{ownerNodeID: string(e.id[:])}
	e.network.mu.Unlock()

	blob := encodeRouteBlob(routeBlob{RouteKey: routeKey, NodeID: e.id})
	return routeKey, blob, nil
}

func (e *Engine) ImportRemotePrivateRoute(blob overlay.RawRouteBlob) (overlay.Target, overlay.TypedKey, error) {
	rb, err := decodeRouteBlob(blob)
	if err != nil {
		return overlay.Target{}, overlay.TypedKey{}, fmt.Errorf("overlaytest: decode route blob: %w", err)
	}
	return overlay.NewTarget(string(rb.NodeID[:])), rb.RouteKey, nil
}

func (e *Engine) RoutingContext(privacy bool, sequencing overlay.Sequencing) overlay.RoutingContext {
	return &routingContext{engine: e, open: make(map[string]bool)}
}

func (e *Engine) AppCallReply(ctx context.Context, id overlay.CallID, data []byte) error {
	e.mu.Lock()
	ch, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("overlaytest: no pending call %d", id)
	}
	select {
	case ch <- data:
	default:
	}
	return nil
}

func (e *Engine) Updates() <-chan overlay.Update { return e.updates }

func (e *Engine) pushUpdate(u overlay.Update) {
	select {
	case e.updates <- u:
	default:
		// Unbounded in spirit; a full buffer here means the consuming
		// test leaked a dispatcher. Drop rather than block the fake.
	}
}

func (e *Engine) lookupPeer(id string) (*Engine, bool) {
	e.network.mu.Lock()
	defer e.network.mu.Unlock()
	peer, ok := e.network.nodes[id]
	return peer, ok
}
