package overlaytest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cvsouth/duplex-go/overlay"
)

type record struct {
	key   overlay.TypedKey
	owner overlay.KeyPair
}

func (r *record) Key() overlay.TypedKey  { return r.key }
func (r *record) Owner() overlay.KeyPair { return r.owner }

// routingContext is one engine's view over the network, tracking which
// DHT keys this particular context has opened with write credentials.
type routingContext struct {
	engine *Engine

	mu   sync.Mutex
	open map[string]bool // key string -> writable
}

func (rc *routingContext) AppCall(ctx context.Context, target overlay.Target, data []byte) ([]byte, error) {
	peer, ok := rc.engine.lookupPeer(target.String())
	if !ok {
		return nil, errors.New("overlaytest: unknown target")
	}

	peer.mu.Lock()
	peer.nextCallID++
	id := overlay.CallID(peer.nextCallID)
	replyCh := make(chan []byte, 1)
	peer.pending[id] = replyCh
	peer.mu.Unlock()

	peer.pushUpdate(overlay.AppCallUpdate{ID: id, Message: data})

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (rc *routingContext) AppMessage(ctx context.Context, target overlay.Target, data []byte) error {
	peer, ok := rc.engine.lookupPeer(target.String())
	if !ok {
		return errors.New("overlaytest: unknown target")
	}
	peer.pushUpdate(overlay.AppMessageUpdate{Message: data})
	return nil
}

func (rc *routingContext) CreateDHTRecord(ctx context.Context, schema overlay.DHTSchema, kind overlay.CryptoKind) (overlay.DHTRecord, error) {
	key := overlay.TypedKey{Kind: kind, Key: randomCurvePoint()}
	owner := randomKeyPair()

	rc.engine.network.mu.Lock()
	rc.engine.network.records[key.String()] = &dhtRecordData{owner: owner, values: make(map[uint32][]byte)}
	rc.engine.network.mu.Unlock()

	rc.mu.Lock()
	rc.open[key.String()] = true
	rc.mu.Unlock()

	return &record{key: key, owner: owner}, nil
}

func (rc *routingContext) OpenDHTRecord(ctx context.Context, key overlay.TypedKey, owner *overlay.KeyPair) (overlay.DHTRecord, error) {
	rc.engine.network.mu.Lock()
	rec, ok := rc.engine.network.records[key.String()]
	rc.engine.network.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("overlaytest: no such DHT record %s", key.String())
	}

	writable := false
	if owner != nil {
		if *owner != rec.owner {
			return nil, errors.New("overlaytest: owner credentials do not match record")
		}
		writable = true
	}

	rc.mu.Lock()
	rc.open[key.String()] = writable
	rc.mu.Unlock()

	return &record{key: key}, nil
}

func (rc *routingContext) GetDHTValue(ctx context.Context, key overlay.TypedKey, subkey uint32, forceRefresh bool) ([]byte, bool, error) {
	rc.engine.network.mu.Lock()
	defer rc.engine.network.mu.Unlock()
	rec, ok := rc.engine.network.records[key.String()]
	if !ok {
		return nil, false, fmt.Errorf("overlaytest: no such DHT record %s", key.String())
	}
	data, ok := rec.values[subkey]
	return data, ok, nil
}

func (rc *routingContext) SetDHTValue(ctx context.Context, key overlay.TypedKey, subkey uint32, data []byte) error {
	rc.mu.Lock()
	writable := rc.open[key.String()]
	rc.mu.Unlock()
	if !writable {
		return fmt.Errorf("overlaytest: DHT record %s not opened for writing", key.String())
	}

	rc.engine.network.mu.Lock()
	defer rc.engine.network.mu.Unlock()
	rec, ok := rc.engine.network.records[key.String()]
	if !ok {
		return fmt.Errorf("overlaytest: no such DHT record %s", key.String())
	}
	rec.values[subkey] = append([]byte(nil), data...)
	return nil
}

func (rc *routingContext) CloseDHTRecord(ctx context.Context, key overlay.TypedKey) error {
	rc.mu.Lock()
	delete(rc.open, key.String())
	rc.mu.Unlock()
	return nil
}

func encodeRouteBlob(rb routeBlob) overlay.RawRouteBlob {
	data, err := json.Marshal(rb)
	if err != nil {
		panic(err)
	}
	return overlay.RawRouteBlob(data)
}

func decodeRouteBlob(blob overlay.RawRouteBlob) (routeBlob, error) {
	var rb routeBlob
	if err := json.Unmarshal(blob, &rb); err != nil {
		return routeBlob{}, err
	}
	return rb, nil
}
