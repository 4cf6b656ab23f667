package control

import (
	"context"
	"errors"
	"testing"

	"p4ctl/p4rtest"
	"p4ctl/util"
)

func TestCounterReadSparse(t *testing.T) {
	sc, srv := newTestController(t)
	ctx := context.Background()
	srv.SetCounter(p4rtest.CounterStats, 1, 5040, 42)

	cc, err := sc.Counter("c_stats")
	if err != nil {
		t.Fatal(err)
	}
	reads := srv.Reads()
	got, err := cc.Read(ctx, []int64{0, 1, 5})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n := srv.Reads() - reads; n != 1 {
		t.Errorf("%d read RPCs, want one batched read", n)
	}
	want := map[int64]CounterData{
		0: {Index: 0},
		1: {Index: 1, ByteCount: 5040, PacketCount: 42},
		5: {Index: 5},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d cells: %v", len(got), got)
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("cell %d = %+v, want %+v", i, got[i], w)
		}
	}

	all, err := cc.Read(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(all)) != cc.Size() || all[1].PacketCount != 42 {
		t.Errorf("full read returned %d cells, cell 1 = %+v", len(all), all[1])
	}

	one, err := cc.ReadValueAtIndex(ctx, 1)
	if err != nil || one.ByteCount != 5040 {
		t.Errorf("ReadValueAtIndex = %+v, %v", one, err)
	}
	values, err := cc.ReadValues(ctx)
	if err != nil || len(values) != 1 {
		t.Errorf("ReadValues returned %d values, %v", len(values), err)
	}
}

func TestCounterReadRejectsOutOfRange(t *testing.T) {
	sc, srv := newTestController(t)
	cc, err := sc.Counter("c_drops")
	if err != nil {
		t.Fatal(err)
	}
	reads := srv.Reads()
	for _, idx := range []int64{-1, 8} {
		if _, err := cc.Read(context.Background(), []int64{0, idx}); !errors.Is(err, util.ErrValueInvalid) {
			t.Errorf("index %d: %v", idx, err)
		}
	}
	if srv.Reads() != reads {
		t.Error("invalid indices reached the device")
	}
}

func TestCounterWriteAndClear(t *testing.T) {
	sc, srv := newTestController(t)
	ctx := context.Background()
	cc, err := sc.Counter("c_stats")
	if err != nil {
		t.Fatal(err)
	}
	if err := cc.Write(ctx, 3, 100, 2); err != nil {
		t.Fatal(err)
	}
	if err := cc.Write(ctx, 511, 7, 1); err != nil {
		t.Fatal(err)
	}

	writes := srv.Writes()
	if err := cc.Clear(ctx, nil); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n := srv.Writes() - writes; n != 2 {
		t.Errorf("%d write RPCs for 512 cells, want 2 batches", n)
	}
	for _, i := range []int64{3, 511} {
		if d := srv.Counter(p4rtest.CounterStats, i); d.GetByteCount() != 0 || d.GetPacketCount() != 0 {
			t.Errorf("cell %d = %v after clear", i, d)
		}
	}

	if err := cc.Clear(ctx, []int64{512}); !errors.Is(err, util.ErrValueInvalid) {
		t.Errorf("out of range clear: %v", err)
	}
}

func TestCounterStreamValues(t *testing.T) {
	sc, srv := newTestController(t)
	srv.SetCounter(p4rtest.CounterDrops, 0, 0, 3)
	srv.SetCounter(p4rtest.CounterDrops, 4, 0, 9)

	cc, err := sc.Counter("Ingress.c_drops")
	if err != nil {
		t.Fatal(err)
	}
	ch, err := cc.StreamValues(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for d := range ch {
		total += d.PacketCount
	}
	if total != 12 {
		t.Errorf("streamed packet total = %d", total)
	}
}
