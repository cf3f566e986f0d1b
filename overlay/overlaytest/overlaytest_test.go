package overlaytest

import (
	"context"
	"testing"

	"github.com/cvsouth/duplex-go/overlay"
)

func TestAppCallRoundTrip(t *testing.T) {
	net := NewNetwork()
	a := net.NewEngine()
	b := net.NewEngine()

	if err := a.Attach(context.Background()); err != nil {
		t.Fatalf("Attach a: %v", err)
	}
	if err := b.Attach(context.Background()); err != nil {
		t.Fatalf("Attach b: %v", err)
	}

	_, blob, err := b.NewCustomPrivateRoute(context.Background(), []overlay.CryptoKind{overlay.VLD0}, overlay.Reliable, overlay.PreferOrdered)
	if err != nil {
		t.Fatalf("NewCustomPrivateRoute: %v", err)
	}

	target, _, err := a.ImportRemotePrivateRoute(blob)
	if err != nil {
		t.Fatalf("ImportRemotePrivateRoute: %v", err)
	}

	go func() {
		update := <-b.Updates()
		call, ok := update.(overlay.AppCallUpdate)
		if !ok {
			t.Errorf("expected AppCallUpdate, got %T", update)
			return
		}
		if err := b.AppCallReply(context.Background(), call.ID, []byte("pong")); err != nil {
			t.Errorf("AppCallReply: %v", err)
		}
	}()

	rctx := a.RoutingContext(true, overlay.PreferOrdered)
	reply, err := rctx.AppCall(context.Background(), target, []byte("ping"))
	if err != nil {
		t.Fatalf("AppCall: %v", err)
	}
	if string(reply) != "pong" {
		t.Fatalf("got reply %q, want pong", reply)
	}
}

func TestDHTRecordCreateOpenSetGet(t *testing.T) {
	net := NewNetwork()
	a := net.NewEngine()
	rctx := a.RoutingContext(true, overlay.NoPreference)

	rec, err := rctx.CreateDHTRecord(context.Background(), overlay.DHTSchema{OwnerSubkeyCount: 1}, overlay.VLD0)
	if err != nil {
		t.Fatalf("CreateDHTRecord: %v", err)
	}

	if err := rctx.SetDHTValue(context.Background(), rec.Key(), 0, []byte("hello")); err != nil {
		t.Fatalf("SetDHTValue: %v", err)
	}

	data, ok, err := rctx.GetDHTValue(context.Background(), rec.Key(), 0, true)
	if err != nil {
		t.Fatalf("GetDHTValue: %v", err)
	}
	if !ok || string(data) != "hello" {
		t.Fatalf("got (%q, %v), want (hello, true)", data, ok)
	}
}

func TestDHTRecordSetRejectsWithoutOwnerCredentials(t *testing.T) {
	net := NewNetwork()
	a := net.NewEngine()
	b := net.NewEngine()

	ownerCtx := a.RoutingContext(true, overlay.NoPreference)
	rec, err := ownerCtx.CreateDHTRecord(context.Background(), overlay.DHTSchema{OwnerSubkeyCount: 1}, overlay.VLD0)
	if err != nil {
		t.Fatalf("CreateDHTRecord: %v", err)
	}

	readerCtx := b.RoutingContext(true, overlay.NoPreference)
	if _, err := readerCtx.OpenDHTRecord(context.Background(), rec.Key(), nil); err != nil {
		t.Fatalf("OpenDHTRecord: %v", err)
	}
	if err := readerCtx.SetDHTValue(context.Background(), rec.Key(), 0, []byte("nope")); err == nil {
		t.Fatal("expected SetDHTValue to fail without owner credentials")
	}
}

func TestExpireRouteNotifiesOwnerAndRemote(t *testing.T) {
	net := NewNetwork()
	a := net.NewEngine()
	b := net.NewEngine()

	routeKey, _, err := a.NewCustomPrivateRoute(context.Background(), []overlay.CryptoKind{overlay.VLD0}, overlay.Reliable, overlay.PreferOrdered)
	if err != nil {
		t.Fatalf("NewCustomPrivateRoute: %v", err)
	}

	net.ExpireRoute(routeKey)

	aUpdate := (<-a.Updates()).(overlay.RouteChangeUpdate)
	if len(aUpdate.DeadRoutes) != 1 || aUpdate.DeadRoutes[0] != routeKey {
		t.Fatalf("owner got %+v, want DeadRoutes=[%v]", aUpdate, routeKey)
	}

	bUpdate := (<-b.Updates()).(overlay.RouteChangeUpdate)
	if len(bUpdate.DeadRemoteRoutes) != 1 || bUpdate.DeadRemoteRoutes[0] != routeKey {
		t.Fatalf("peer got %+v, want DeadRemoteRoutes=[%v]", bUpdate, routeKey)
	}
}
