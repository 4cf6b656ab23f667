package control

import (
	"context"
	"errors"
	"testing"

	"p4ctl/util"
)

func TestRegisterReadWrite(t *testing.T) {
	sc, _ := newTestController(t)
	ctx := context.Background()
	rc, err := sc.Register("r_last_seen")
	if err != nil {
		t.Fatal(err)
	}

	got, err := rc.Read(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != 0 {
		t.Errorf("unwritten cell = %v, want [0]", got)
	}

	if err := rc.Write(ctx, 4, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	got, err = rc.Read(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != 0xdeadbeef {
		t.Errorf("cell = %v", got)
	}

	if err := rc.Write(ctx, 5, 1<<32); !errors.Is(err, util.ErrValueInvalid) {
		t.Errorf("value wider than the register: %v", err)
	}
	if _, err := rc.Read(ctx, rc.Size()); !errors.Is(err, util.ErrValueInvalid) {
		t.Errorf("index out of range: %v", err)
	}
}

func TestRegisterClear(t *testing.T) {
	sc, _ := newTestController(t)
	ctx := context.Background()
	rc, err := sc.Register("r_pair")
	if err != nil {
		t.Fatal(err)
	}
	if err := rc.Write(ctx, 1, 3, 4); err != nil {
		t.Fatal(err)
	}
	if err := rc.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	cells, err := rc.ReadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(cells)) != rc.Size() {
		t.Errorf("%d cells after clear", len(cells))
	}
	for i, v := range cells {
		if Sum(v) != 0 {
			t.Errorf("cell %d = %v", i, v)
		}
	}
}
