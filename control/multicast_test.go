package control

import (
	"context"
	"errors"
	"testing"

	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/entity"
	"p4ctl/util"
)

func TestMulticastOrdering(t *testing.T) {
	rc := newRecordingClient(t)
	mc := NewMulticastControl(rc)
	ctx := context.Background()

	if _, err := mc.CreateNode(1, nil); !errors.Is(err, util.ErrValueInvalid) {
		t.Errorf("node without ports: %v", err)
	}
	if _, err := mc.CreateNode(1, []uint32{2, 2}); !errors.Is(err, util.ErrValueInvalid) {
		t.Errorf("node with duplicate port: %v", err)
	}
	node, err := mc.CreateNode(1, []uint32{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if node != 1 {
		t.Errorf("first valid node id = %d, want 1", node)
	}
	if err := mc.Associate(ctx, 10, node); !errors.Is(err, util.ErrOrdering) {
		t.Errorf("associate before create: %v", err)
	}
	if rc.writeCount() != 0 {
		t.Fatal("ordering violation reached the device")
	}

	if err := mc.CreateGroup(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if err := mc.CreateGroup(ctx, 10); !errors.Is(err, util.ErrOrdering) {
		t.Errorf("duplicate create: %v", err)
	}
	if err := mc.Associate(ctx, 10, node); err != nil {
		t.Fatal(err)
	}
	mg := rc.lastWrite(t)[0].GetEntity().GetPacketReplicationEngineEntry().GetMulticastGroupEntry()
	if len(mg.Replicas) != 2 || mg.Replicas[1].EgressPort != 3 || mg.Replicas[1].Instance != 1 {
		t.Errorf("replicas = %v", mg.Replicas)
	}

	writes := rc.writeCount()
	if err := mc.DestroyNode(node); !errors.Is(err, util.ErrOrdering) {
		t.Errorf("destroy associated node: %v", err)
	}
	if err := mc.DestroyGroup(ctx, 10); !errors.Is(err, util.ErrOrdering) {
		t.Errorf("destroy group with nodes: %v", err)
	}
	if err := mc.Associate(ctx, 10, node); !errors.Is(err, util.ErrOrdering) {
		t.Errorf("double associate: %v", err)
	}
	if rc.writeCount() != writes {
		t.Fatal("rejected operations reached the device")
	}

	if err := mc.Dissociate(ctx, 10, node); err != nil {
		t.Fatal(err)
	}
	if err := mc.DestroyNode(node); err != nil {
		t.Fatal(err)
	}
	if err := mc.DestroyNode(node); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("destroy unknown node: %v", err)
	}
	if err := mc.DestroyGroup(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if u := rc.lastWrite(t)[0]; u.Type != v1.Update_DELETE {
		t.Errorf("last update %s", u.Type)
	}
}

func TestMulticastFailedWriteKeepsModel(t *testing.T) {
	rc := newRecordingClient(t)
	mc := NewMulticastControl(rc)
	ctx := context.Background()
	if err := mc.CreateGroup(ctx, 3); err != nil {
		t.Fatal(err)
	}
	rc.fail = func(*v1.Update) error { return util.ErrTransport }

	node, err := mc.CreateNode(0, []uint32{1})
	if err != nil {
		t.Fatal(err)
	}
	if err := mc.Associate(ctx, 3, node); err == nil {
		t.Fatal("want failure")
	}
	if nodes, _ := mc.Nodes(3); len(nodes) != 0 {
		t.Errorf("failed associate recorded: %v", nodes)
	}
	if err := mc.DestroyNode(node); err != nil {
		t.Errorf("node should still be free: %v", err)
	}
}

func TestMulticastSetGroupMembers(t *testing.T) {
	sc, srv := newTestController(t)
	ctx := context.Background()
	mc := sc.Multicast()
	if mc != sc.Multicast() {
		t.Fatal("Multicast() should return the session's instance")
	}

	if err := mc.SetGroupMembers(ctx, 1, 0, []uint32{1, 2, 3}); err != nil {
		t.Fatalf("SetGroupMembers: %v", err)
	}
	if got := srv.Group(1).GetReplicas(); len(got) != 3 {
		t.Fatalf("device group has %d replicas", len(got))
	}

	if err := mc.SetGroupMembers(ctx, 1, 5, []uint32{4}); err != nil {
		t.Fatalf("replace members: %v", err)
	}
	got := srv.Group(1).GetReplicas()
	if len(got) != 1 || got[0].EgressPort != 4 || got[0].Instance != 5 {
		t.Errorf("replicas after replace = %v", got)
	}

	groups, err := mc.Groups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := []entity.Replica{{Port: 4, Instance: 5}}; len(groups[1]) != 1 || groups[1][0] != want[0] {
		t.Errorf("Groups() = %v", groups)
	}

	if err := mc.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if srv.Group(1) != nil {
		t.Error("group still on device")
	}
	if _, ok := mc.Nodes(1); ok {
		t.Error("group still in local model")
	}
}

func TestMulticastTakesOverExistingGroup(t *testing.T) {
	sc, srv := newTestController(t)
	ctx := context.Background()

	other := NewMulticastControl(sc.Client)
	if err := other.CreateGroup(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if err := sc.Multicast().SetGroupMembers(ctx, 7, 1, []uint32{9}); err != nil {
		t.Fatalf("SetGroupMembers on an existing device group: %v", err)
	}
	if got := srv.Group(7).GetReplicas(); len(got) != 1 || got[0].EgressPort != 9 {
		t.Errorf("replicas = %v", got)
	}
}
